package models

import (
	"time"

	"gorm.io/gorm"
)

// ProfileType says which RouterOS profile table a profile lives in
type ProfileType string

const (
	ProfileTypeHotspot ProfileType = "hotspot"
	ProfileTypePPPoE   ProfileType = "pppoe"
)

// Profile represents a hotspot user profile or a PPP profile
type Profile struct {
	ID          uint        `gorm:"column:id;primaryKey" json:"id"`
	Name        string      `gorm:"column:name;size:100;not null;uniqueIndex:idx_profile_router_type_name" json:"name"`
	Type        ProfileType `gorm:"column:type;size:20;not null;uniqueIndex:idx_profile_router_type_name" json:"type"`
	RouterID    uint        `gorm:"column:router_id;not null;uniqueIndex:idx_profile_router_type_name" json:"router_id"`
	Router      *Router     `gorm:"foreignKey:RouterID" json:"router,omitempty"`
	Description string      `gorm:"column:description;size:255" json:"description"`

	// Limits pushed to the router
	RateLimit      string `gorm:"column:rate_limit;size:100" json:"rate_limit"` // RouterOS format, e.g. "2M/2M"
	SharedUsers    int    `gorm:"column:shared_users;default:1" json:"shared_users"`
	SessionTimeout string `gorm:"column:session_timeout;size:50" json:"session_timeout"`
	Validity       string `gorm:"column:validity;size:50" json:"validity"` // e.g. "1d", "30d"
	QuotaBytes     int64  `gorm:"column:quota_bytes;default:0" json:"quota_bytes"`

	// PPPoE
	LocalAddress  string `gorm:"column:local_address;size:100" json:"local_address"`
	RemoteAddress string `gorm:"column:remote_address;size:100" json:"remote_address"`
	AddressList   string `gorm:"column:address_list;size:100" json:"address_list"`

	// Pricing
	Price        float64 `gorm:"column:price;type:decimal(15,2);default:0" json:"price"`
	SellingPrice float64 `gorm:"column:selling_price;type:decimal(15,2);default:0" json:"selling_price"`

	Synced    bool   `gorm:"column:synced" json:"synced"`
	SyncError string `gorm:"-" json:"sync_error,omitempty"`
	IsActive  bool   `gorm:"column:is_active" json:"is_active"`

	CreatedAt time.Time      `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time      `gorm:"column:updated_at" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;index;uniqueIndex:idx_profile_router_type_name" json:"-"`
}

func (Profile) TableName() string {
	return "profiles"
}
