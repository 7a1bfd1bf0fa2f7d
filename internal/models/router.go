package models

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Router represents a Mikrotik RouterOS device managed over the API
type Router struct {
	ID          uint   `gorm:"column:id;primaryKey" json:"id"`
	Name        string `gorm:"column:name;size:100;not null;uniqueIndex:idx_router_name" json:"name"`
	Host        string `gorm:"column:host;size:255;not null" json:"host"`
	Description string `gorm:"column:description;size:255" json:"description"`

	// Mikrotik API
	APIUsername    string `gorm:"column:api_username;size:100;not null" json:"api_username"`
	APIPassword    string `gorm:"column:api_password;size:255" json:"-"`
	HasAPIPassword bool   `gorm:"-" json:"has_api_password"`
	APIPort        int    `gorm:"column:api_port;default:8728" json:"api_port"`
	APISSLPort     int    `gorm:"column:api_ssl_port;default:8729" json:"api_ssl_port"`
	UseSSL         bool   `gorm:"column:use_ssl" json:"use_ssl"`

	// Hotspot
	HotspotServer string `gorm:"column:hotspot_server;size:100" json:"hotspot_server"`

	// RADIUS disconnect (CoA)
	RadiusEnabled bool   `gorm:"column:radius_enabled" json:"radius_enabled"`
	RadiusSecret  string `gorm:"column:radius_secret;size:100" json:"-"`
	CoAPort       int    `gorm:"column:coa_port;default:3799" json:"coa_port"`

	// Status, maintained by the health monitor
	IsActive  bool       `gorm:"column:is_active" json:"is_active"`
	IsOnline  bool       `gorm:"column:is_online" json:"is_online"`
	LastSeen  *time.Time `gorm:"column:last_seen" json:"last_seen"`
	LatencyMs int64      `gorm:"column:latency_ms" json:"latency_ms"`
	Version   string     `gorm:"column:version;size:50" json:"version"`
	Identity  string     `gorm:"column:identity;size:100" json:"identity"`
	BoardName string     `gorm:"column:board_name;size:100" json:"board_name"`
	LastError string     `gorm:"column:last_error;size:500" json:"last_error"`

	CreatedAt time.Time      `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time      `gorm:"column:updated_at" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;index;uniqueIndex:idx_router_name" json:"-"`
}

func (Router) TableName() string {
	return "routers"
}

// Port returns the API port in use, the SSL one when UseSSL is set
func (r *Router) Port() int {
	if r.UseSSL {
		if r.APISSLPort == 0 {
			return 8729
		}
		return r.APISSLPort
	}
	if r.APIPort == 0 {
		return 8728
	}
	return r.APIPort
}

// Address returns host:port of the RouterOS API endpoint
func (r *Router) Address() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port())
}

// AfterFind fills computed fields
func (r *Router) AfterFind(tx *gorm.DB) error {
	r.HasAPIPassword = r.APIPassword != ""
	return nil
}
