package models

import (
	"time"

	"gorm.io/gorm"
)

// UserRole represents the role of an admin panel user
type UserRole string

const (
	RoleAdmin    UserRole = "admin"
	RoleOperator UserRole = "operator"
	RoleCashier  UserRole = "cashier"
)

// Valid reports whether r is one of the known roles
func (r UserRole) Valid() bool {
	switch r {
	case RoleAdmin, RoleOperator, RoleCashier:
		return true
	}
	return false
}

// User represents a panel user (admin, operator or cashier)
type User struct {
	ID        uint           `gorm:"column:id;primaryKey" json:"id"`
	Username  string         `gorm:"column:username;uniqueIndex:idx_user_username;size:100;not null" json:"username"`
	Password  string         `gorm:"column:password;size:255;not null" json:"-"`
	Email     string         `gorm:"column:email;size:255" json:"email"`
	FullName  string         `gorm:"column:full_name;size:255" json:"full_name"`
	Role      UserRole       `gorm:"column:role;size:20;not null;index" json:"role"`
	IsActive  bool           `gorm:"column:is_active" json:"is_active"`
	LastLogin *time.Time     `gorm:"column:last_login" json:"last_login"`
	CreatedAt time.Time      `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time      `gorm:"column:updated_at" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;index;uniqueIndex:idx_user_username" json:"-"`

	// 2FA fields
	TwoFactorEnabled bool   `gorm:"column:two_factor_enabled" json:"two_factor_enabled"`
	TwoFactorSecret  string `gorm:"column:two_factor_secret;size:255" json:"-"`

	// Force password change on first login
	ForcePasswordChange bool `gorm:"column:force_password_change" json:"force_password_change"`
}

func (User) TableName() string {
	return "users"
}
