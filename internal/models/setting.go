package models

// Well-known setting keys
const (
	SettingCompanyName          = "company_name"
	SettingCompanyAddress       = "company_address"
	SettingCompanyPhone         = "company_phone"
	SettingCurrencyPrefix       = "currency_prefix"
	SettingLocale               = "locale"
	SettingTemplateName         = "template_name"
	SettingVoucherDefaultLength = "voucher_default_length"
	SettingVoucherCharset       = "voucher_charset"
	SettingInvoiceDueDays       = "invoice_due_days"
	SettingSuspendGraceDays     = "suspend_grace_days"
	SettingAPIRateLimit         = "api_rate_limit"
	SettingJWTSecret            = "jwt_secret"
	SettingMaxLoginAttempts     = "max_login_attempts"
	SettingAllowedAdminIPs      = "allowed_ips"
)

// Setting represents one system-wide key/value preference
type Setting struct {
	ID        uint   `gorm:"column:id;primaryKey" json:"id"`
	Key       string `gorm:"column:key;size:100;uniqueIndex;not null" json:"key"`
	Value     string `gorm:"column:value;type:text" json:"value"`
	ValueType string `gorm:"column:value_type;size:20;default:string" json:"value_type"` // string, int, bool
}

func (Setting) TableName() string {
	return "settings"
}

// DefaultSettings are written on first start when missing
var DefaultSettings = []Setting{
	{Key: SettingCompanyName, Value: "WiFi Hotspot", ValueType: "string"},
	{Key: SettingCompanyAddress, Value: "", ValueType: "string"},
	{Key: SettingCompanyPhone, Value: "", ValueType: "string"},
	{Key: SettingCurrencyPrefix, Value: "Rp", ValueType: "string"},
	{Key: SettingLocale, Value: "id-ID", ValueType: "string"},
	{Key: SettingTemplateName, Value: "a4", ValueType: "string"},
	{Key: SettingVoucherDefaultLength, Value: "6", ValueType: "int"},
	{Key: SettingVoucherCharset, Value: "alnum", ValueType: "string"},
	{Key: SettingInvoiceDueDays, Value: "7", ValueType: "int"},
	{Key: SettingSuspendGraceDays, Value: "3", ValueType: "int"},
	{Key: SettingAPIRateLimit, Value: "0", ValueType: "int"},
	{Key: SettingMaxLoginAttempts, Value: "5", ValueType: "int"},
	{Key: SettingAllowedAdminIPs, Value: "", ValueType: "string"},
}
