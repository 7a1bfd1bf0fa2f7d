package models

import (
	"time"
)

// VoucherStatus represents the lifecycle state of a voucher
type VoucherStatus string

const (
	VoucherStatusUnused   VoucherStatus = "unused"
	VoucherStatusActive   VoucherStatus = "active"
	VoucherStatusUsed     VoucherStatus = "used"
	VoucherStatusExpired  VoucherStatus = "expired"
	VoucherStatusDisabled VoucherStatus = "disabled"
)

// UserMode decides whether a voucher's password equals its code
type UserMode string

const (
	UserModeVoucher  UserMode = "voucher"
	UserModeUserPass UserMode = "userpass"
)

// Charset names the alphabet voucher codes are drawn from
type Charset string

const (
	CharsetNumeric Charset = "numeric"
	CharsetAlpha   Charset = "alpha"
	CharsetAlnum   Charset = "alnum"
	CharsetLower   Charset = "lower"
)

// CommentPrefix tags router entries created by this system
const CommentPrefix = "hb:"

// Vendor is a voucher reseller or outlet
type Vendor struct {
	ID         uint      `gorm:"column:id;primaryKey" json:"id"`
	Name       string    `gorm:"column:name;size:100;not null;uniqueIndex" json:"name"`
	Phone      string    `gorm:"column:phone;size:50" json:"phone"`
	Address    string    `gorm:"column:address;size:500" json:"address"`
	Commission float64   `gorm:"column:commission;type:decimal(5,2);default:0" json:"commission"` // percent
	IsActive   bool      `gorm:"column:is_active" json:"is_active"`
	CreatedAt  time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt  time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (Vendor) TableName() string {
	return "vendors"
}

// VoucherBatch groups vouchers generated together
type VoucherBatch struct {
	ID         string   `gorm:"column:id;primaryKey;size:36" json:"id"`
	ProfileID  uint     `gorm:"column:profile_id;not null;index" json:"profile_id"`
	Profile    *Profile `gorm:"foreignKey:ProfileID" json:"profile,omitempty"`
	RouterID   uint     `gorm:"column:router_id;not null;index" json:"router_id"`
	VendorID   *uint    `gorm:"column:vendor_id;index" json:"vendor_id"`
	Vendor     *Vendor  `gorm:"foreignKey:VendorID" json:"vendor,omitempty"`
	Count      int      `gorm:"column:count;not null" json:"count"`
	Prefix     string   `gorm:"column:prefix;size:20" json:"prefix"`
	CodeLength int      `gorm:"column:code_length;not null" json:"code_length"`
	Charset    Charset  `gorm:"column:charset;size:20;not null" json:"charset"`
	UserMode   UserMode `gorm:"column:user_mode;size:20;not null" json:"user_mode"`
	PriceBuy   float64  `gorm:"column:price_buy;type:decimal(15,2);default:0" json:"price_buy"`
	PriceSell  float64  `gorm:"column:price_sell;type:decimal(15,2);default:0" json:"price_sell"`
	Note       string   `gorm:"column:note;size:255" json:"note"`
	CreatedBy  uint     `gorm:"column:created_by" json:"created_by"`

	CreatedAt time.Time `gorm:"column:created_at;index" json:"created_at"`
}

func (VoucherBatch) TableName() string {
	return "voucher_batches"
}

// Comment returns the router comment shared by every voucher of the batch
func (b *VoucherBatch) Comment() string {
	return CommentPrefix + b.ID
}

// Voucher is a hotspot user sold as a prepaid code
type Voucher struct {
	ID        uint          `gorm:"column:id;primaryKey" json:"id"`
	Code      string        `gorm:"column:code;size:50;not null;uniqueIndex" json:"code"`
	Password  string        `gorm:"column:password;size:50;not null" json:"password"`
	BatchID   string        `gorm:"column:batch_id;size:36;not null;index" json:"batch_id"`
	ProfileID uint          `gorm:"column:profile_id;not null;index" json:"profile_id"`
	Profile   *Profile      `gorm:"foreignKey:ProfileID" json:"profile,omitempty"`
	RouterID  uint          `gorm:"column:router_id;not null;index" json:"router_id"`
	VendorID  *uint         `gorm:"column:vendor_id;index" json:"vendor_id"`
	Vendor    *Vendor       `gorm:"foreignKey:VendorID" json:"vendor,omitempty"`
	PriceBuy  float64       `gorm:"column:price_buy;type:decimal(15,2);default:0" json:"price_buy"`
	PriceSell float64       `gorm:"column:price_sell;type:decimal(15,2);default:0" json:"price_sell"`
	Status    VoucherStatus `gorm:"column:status;size:20;not null;index" json:"status"`
	Synced    bool          `gorm:"column:synced" json:"synced"`

	// Usage, filled from the router
	FirstLogin *time.Time `gorm:"column:first_login" json:"first_login"`
	ExpiresAt  *time.Time `gorm:"column:expires_at;index" json:"expires_at"`
	UsedByMAC  string     `gorm:"column:used_by_mac;size:50" json:"used_by_mac"`
	BytesUsed  int64      `gorm:"column:bytes_used;default:0" json:"bytes_used"`
	UptimeUsed int64      `gorm:"column:uptime_used;default:0" json:"uptime_used"` // seconds

	CreatedAt time.Time `gorm:"column:created_at;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (Voucher) TableName() string {
	return "vouchers"
}

// Comment returns the router comment for this voucher
func (v *Voucher) Comment() string {
	return CommentPrefix + v.BatchID
}
