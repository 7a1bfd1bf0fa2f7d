package models

import (
	"time"

	"gorm.io/gorm"
)

// InvoiceStatus represents the payment state of an invoice
type InvoiceStatus string

const (
	InvoiceStatusUnpaid  InvoiceStatus = "unpaid"
	InvoiceStatusPartial InvoiceStatus = "partial"
	InvoiceStatusPaid    InvoiceStatus = "paid"
	InvoiceStatusVoid    InvoiceStatus = "void"
)

// PaymentMethod represents how money was received
type PaymentMethod string

const (
	PaymentMethodCash     PaymentMethod = "cash"
	PaymentMethodTransfer PaymentMethod = "transfer"
	PaymentMethodOther    PaymentMethod = "other"
)

// Valid reports whether m is a known payment method
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCash, PaymentMethodTransfer, PaymentMethodOther:
		return true
	}
	return false
}

// Invoice represents a monthly bill for a subscription
type Invoice struct {
	ID             uint          `gorm:"column:id;primaryKey" json:"id"`
	InvoiceNumber  string        `gorm:"column:invoice_number;size:50;uniqueIndex;not null" json:"invoice_number"`
	CustomerID     uint          `gorm:"column:customer_id;not null;index" json:"customer_id"`
	Customer       *Customer     `gorm:"foreignKey:CustomerID" json:"customer,omitempty"`
	SubscriptionID uint          `gorm:"column:subscription_id;not null;uniqueIndex:idx_invoice_subscription_period" json:"subscription_id"`
	Subscription   *Subscription `gorm:"foreignKey:SubscriptionID" json:"subscription,omitempty"`
	Period         string        `gorm:"column:period;size:7;not null;uniqueIndex:idx_invoice_subscription_period" json:"period"` // YYYY-MM

	// Amounts
	Amount     float64 `gorm:"column:amount;type:decimal(15,2);not null" json:"amount"`
	Discount   float64 `gorm:"column:discount;type:decimal(15,2);default:0" json:"discount"`
	Tax        float64 `gorm:"column:tax;type:decimal(15,2);default:0" json:"tax"`
	Total      float64 `gorm:"column:total;type:decimal(15,2);not null" json:"total"`
	AmountPaid float64 `gorm:"column:amount_paid;type:decimal(15,2);default:0" json:"amount_paid"`

	// Status
	Status  InvoiceStatus `gorm:"column:status;size:20;not null;index" json:"status"`
	IssueAt time.Time     `gorm:"column:issue_at" json:"issue_at"`
	DueDate time.Time     `gorm:"column:due_date;index" json:"due_date"`
	PaidAt  *time.Time    `gorm:"column:paid_at" json:"paid_at"`
	Notes   string        `gorm:"column:notes;type:text" json:"notes"`

	CreatedAt time.Time      `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time      `gorm:"column:updated_at" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;index" json:"-"`
}

func (Invoice) TableName() string {
	return "invoices"
}

// Outstanding returns the amount still owed
func (i *Invoice) Outstanding() float64 {
	if i.Status == InvoiceStatusVoid {
		return 0
	}
	return i.Total - i.AmountPaid
}

// Payment represents received money: an invoice payment or a vendor settlement
type Payment struct {
	ID         uint      `gorm:"column:id;primaryKey" json:"id"`
	InvoiceID  *uint     `gorm:"column:invoice_id;index" json:"invoice_id"`
	Invoice    *Invoice  `gorm:"foreignKey:InvoiceID" json:"invoice,omitempty"`
	CustomerID *uint     `gorm:"column:customer_id;index" json:"customer_id"`
	Customer   *Customer `gorm:"foreignKey:CustomerID" json:"customer,omitempty"`
	BatchID    *string   `gorm:"column:batch_id;size:36;index" json:"batch_id"`
	VendorID   *uint     `gorm:"column:vendor_id;index" json:"vendor_id"`

	Amount     float64       `gorm:"column:amount;type:decimal(15,2);not null" json:"amount"`
	Method     PaymentMethod `gorm:"column:method;size:20;not null" json:"method"`
	Reference  string        `gorm:"column:reference;size:100" json:"reference"`
	Notes      string        `gorm:"column:notes;type:text" json:"notes"`
	ReceivedBy uint          `gorm:"column:received_by" json:"received_by"`
	PaidAt     time.Time     `gorm:"column:paid_at;index" json:"paid_at"`

	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
}

func (Payment) TableName() string {
	return "payments"
}
