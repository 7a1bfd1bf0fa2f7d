package models

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// SubscriptionStatus represents the state of a PPPoE subscription
type SubscriptionStatus string

const (
	SubscriptionStatusActive     SubscriptionStatus = "active"
	SubscriptionStatusSuspended  SubscriptionStatus = "suspended"
	SubscriptionStatusTerminated SubscriptionStatus = "terminated"
)

// Subscription is a PPPoE account billed monthly
type Subscription struct {
	ID         uint      `gorm:"column:id;primaryKey" json:"id"`
	CustomerID uint      `gorm:"column:customer_id;not null;index" json:"customer_id"`
	Customer   *Customer `gorm:"foreignKey:CustomerID" json:"customer,omitempty"`
	ProfileID  uint      `gorm:"column:profile_id;not null;index" json:"profile_id"`
	Profile    *Profile  `gorm:"foreignKey:ProfileID" json:"profile,omitempty"`
	RouterID   uint      `gorm:"column:router_id;not null;index" json:"router_id"`

	// PPP secret
	Username      string `gorm:"column:username;size:100;not null;uniqueIndex:idx_subscription_username" json:"username"`
	Password      string `gorm:"column:password;size:100;not null" json:"password"`
	Service       string `gorm:"column:service;size:20;default:pppoe" json:"service"`
	RemoteAddress string `gorm:"column:remote_address;size:50" json:"remote_address"`

	// Billing
	Status        SubscriptionStatus `gorm:"column:status;size:20;not null;index" json:"status"`
	BillingDay    int                `gorm:"column:billing_day;not null" json:"billing_day"` // 1-28
	Price         float64            `gorm:"column:price;type:decimal(15,2)" json:"price"`
	NextDueDate   time.Time          `gorm:"column:next_due_date;index" json:"next_due_date"`
	LastInvoiceAt *time.Time         `gorm:"column:last_invoice_at" json:"last_invoice_at"`
	AutoSuspend   bool               `gorm:"column:auto_suspend" json:"auto_suspend"`
	SuspendReason string             `gorm:"column:suspend_reason;size:255" json:"suspend_reason"`
	SuspendedAt   *time.Time         `gorm:"column:suspended_at" json:"suspended_at"`

	Synced    bool   `gorm:"column:synced" json:"synced"`
	SyncError string `gorm:"-" json:"sync_error,omitempty"`

	CreatedAt time.Time      `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time      `gorm:"column:updated_at" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;index;uniqueIndex:idx_subscription_username" json:"-"`
}

func (Subscription) TableName() string {
	return "subscriptions"
}

// Comment returns the router comment identifying the owning customer
func (s *Subscription) Comment() string {
	return fmt.Sprintf("%scust:%d", CommentPrefix, s.CustomerID)
}
