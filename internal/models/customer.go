package models

import (
	"time"

	"gorm.io/gorm"
)

// CustomerStatus represents whether a customer is still served
type CustomerStatus string

const (
	CustomerStatusActive   CustomerStatus = "active"
	CustomerStatusInactive CustomerStatus = "inactive"
)

// Customer is a billed person or company
type Customer struct {
	ID             uint           `gorm:"column:id;primaryKey" json:"id"`
	Name           string         `gorm:"column:name;size:255;not null;index" json:"name"`
	Phone          string         `gorm:"column:phone;size:50;index" json:"phone"`
	Email          string         `gorm:"column:email;size:255" json:"email"`
	Address        string         `gorm:"column:address;size:500" json:"address"`
	IdentityNumber string         `gorm:"column:identity_number;size:50" json:"identity_number"`
	Latitude       float64        `gorm:"column:latitude;type:decimal(10,8)" json:"latitude"`
	Longitude      float64        `gorm:"column:longitude;type:decimal(11,8)" json:"longitude"`
	Note           string         `gorm:"column:note;type:text" json:"note"`
	Status         CustomerStatus `gorm:"column:status;size:20;not null;index" json:"status"`

	Subscriptions []Subscription `gorm:"foreignKey:CustomerID" json:"subscriptions,omitempty"`

	CreatedAt time.Time      `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time      `gorm:"column:updated_at" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;index" json:"-"`
}

func (Customer) TableName() string {
	return "customers"
}
