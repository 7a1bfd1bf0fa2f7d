package services

import (
	"context"
	"sort"
	"time"

	"github.com/hotspotbill/backend/internal/database"
	"github.com/hotspotbill/backend/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// RevenueRow is the income of one day or month
type RevenueRow struct {
	Period       string  `json:"period" msgpack:"period"`
	Payments     float64 `json:"payments" msgpack:"payments"`
	VoucherSales float64 `json:"voucher_sales" msgpack:"voucher_sales"`
	Vouchers     int     `json:"vouchers" msgpack:"vouchers"`
	Total        float64 `json:"total" msgpack:"total"`
}

// SalesRow groups sold vouchers by profile and vendor
type SalesRow struct {
	ProfileID   uint    `json:"profile_id"`
	ProfileName string  `json:"profile_name"`
	VendorID    *uint   `json:"vendor_id"`
	VendorName  string  `json:"vendor_name"`
	Count       int64   `json:"count"`
	Revenue     float64 `json:"revenue"`
	Cost        float64 `json:"cost"`
}

// OutstandingReport summarises open invoices
type OutstandingReport struct {
	Count    int64            `json:"count"`
	Amount   float64          `json:"amount"`
	Overdue  int64            `json:"overdue"`
	Invoices []models.Invoice `json:"invoices"`
}

// DashboardStats are the counters shown on the dashboard
type DashboardStats struct {
	Customers             int64            `json:"customers" msgpack:"customers"`
	ActiveSubscriptions   int64            `json:"active_subscriptions" msgpack:"active_subscriptions"`
	SuspendedSubscription int64            `json:"suspended_subscriptions" msgpack:"suspended_subscriptions"`
	Vouchers              map[string]int64 `json:"vouchers" msgpack:"vouchers"`
	RoutersOnline         int64            `json:"routers_online" msgpack:"routers_online"`
	RoutersTotal          int64            `json:"routers_total" msgpack:"routers_total"`
	RevenueToday          float64          `json:"revenue_today" msgpack:"revenue_today"`
	RevenueMonth          float64          `json:"revenue_month" msgpack:"revenue_month"`
	Outstanding           float64          `json:"outstanding" msgpack:"outstanding"`
	OverdueInvoices       int64            `json:"overdue_invoices" msgpack:"overdue_invoices"`
	GeneratedAt           time.Time        `json:"generated_at" msgpack:"generated_at"`
}

// ReportService computes revenue and sales reports
type ReportService struct {
	db  *gorm.DB
	now func() time.Time
}

// NewReportService creates a new report service
func NewReportService(db *gorm.DB) *ReportService {
	return &ReportService{db: db, now: time.Now}
}

// Revenue buckets invoice payments and voucher sales per day or month.
// Vendor settlements are left out since the vouchers they pay for are
// already counted when first used.
func (s *ReportService) Revenue(ctx context.Context, from, to time.Time, groupBy string) ([]RevenueRow, error) {
	layout := "2006-01-02"
	switch groupBy {
	case "", "day":
	case "month":
		layout = periodLayout
	default:
		return nil, invalid("group_by must be day or month")
	}
	if to.IsZero() {
		to = s.now()
	}
	if from.IsZero() {
		from = to.AddDate(0, 0, -30)
	}
	if !from.Before(to) {
		return nil, invalid("from must be before to")
	}

	var payments []struct {
		PaidAt time.Time
		Amount float64
	}
	err := s.db.WithContext(ctx).Model(&models.Payment{}).
		Select("paid_at, amount").
		Where("vendor_id IS NULL AND paid_at >= ? AND paid_at < ?", from, to).
		Scan(&payments).Error
	if err != nil {
		return nil, err
	}

	var sales []struct {
		FirstLogin time.Time
		PriceSell  float64
	}
	err = s.db.WithContext(ctx).Model(&models.Voucher{}).
		Select("first_login, price_sell").
		Where("first_login >= ? AND first_login < ?", from, to).
		Scan(&sales).Error
	if err != nil {
		return nil, err
	}

	rows := make(map[string]*RevenueRow)
	bucket := func(t time.Time) *RevenueRow {
		key := t.In(from.Location()).Format(layout)
		r, ok := rows[key]
		if !ok {
			r = &RevenueRow{Period: key}
			rows[key] = r
		}
		return r
	}
	for _, p := range payments {
		bucket(p.PaidAt).Payments += p.Amount
	}
	for _, v := range sales {
		r := bucket(v.FirstLogin)
		r.VoucherSales += v.PriceSell
		r.Vouchers++
	}

	out := make([]RevenueRow, 0, len(rows))
	for _, r := range rows {
		r.Total = roundMoney(r.Payments + r.VoucherSales)
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period < out[j].Period })
	return out, nil
}

// VoucherSales groups vouchers first used between from and to by profile
// and vendor
func (s *ReportService) VoucherSales(ctx context.Context, from, to time.Time) ([]SalesRow, error) {
	if to.IsZero() {
		to = s.now()
	}
	var rows []SalesRow
	err := s.db.WithContext(ctx).Model(&models.Voucher{}).
		Select("profile_id, vendor_id, COUNT(*) AS count, COALESCE(SUM(price_sell), 0) AS revenue, COALESCE(SUM(price_buy), 0) AS cost").
		Where("first_login >= ? AND first_login < ?", from, to).
		Group("profile_id, vendor_id").
		Scan(&rows).Error
	if err != nil || len(rows) == 0 {
		return rows, err
	}

	var profiles []models.Profile
	var vendors []models.Vendor
	s.db.WithContext(ctx).Unscoped().Find(&profiles)
	s.db.WithContext(ctx).Find(&vendors)
	profileNames := make(map[uint]string, len(profiles))
	for _, p := range profiles {
		profileNames[p.ID] = p.Name
	}
	vendorNames := make(map[uint]string, len(vendors))
	for _, v := range vendors {
		vendorNames[v.ID] = v.Name
	}

	for i := range rows {
		rows[i].ProfileName = profileNames[rows[i].ProfileID]
		rows[i].VendorName = fallbackVendor
		if rows[i].VendorID != nil {
			rows[i].VendorName = vendorNames[*rows[i].VendorID]
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Revenue > rows[j].Revenue })
	return rows, nil
}

// Outstanding lists open invoices, oldest due first
func (s *ReportService) Outstanding(ctx context.Context) (*OutstandingReport, error) {
	var invoices []models.Invoice
	err := s.db.WithContext(ctx).Preload("Customer").
		Where("status IN ?", openStatuses).
		Order("due_date").Find(&invoices).Error
	if err != nil {
		return nil, err
	}
	now := s.now()
	rep := &OutstandingReport{Invoices: invoices, Count: int64(len(invoices))}
	for i := range invoices {
		rep.Amount += invoices[i].Outstanding()
		if invoices[i].DueDate.Before(now) {
			rep.Overdue++
		}
	}
	rep.Amount = roundMoney(rep.Amount)
	return rep, nil
}

// Dashboard returns the dashboard counters, cached for a short while
func (s *ReportService) Dashboard(ctx context.Context) (*DashboardStats, error) {
	var cached DashboardStats
	if err := database.CacheGet(database.CacheKeyDashboard, &cached); err == nil {
		return &cached, nil
	}

	now := s.now()
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	month := time.Date(y, m, 1, 0, 0, 0, 0, now.Location())

	st := &DashboardStats{Vouchers: make(map[string]int64), GeneratedAt: now}
	db := s.db.WithContext(ctx)
	db.Model(&models.Customer{}).Count(&st.Customers)
	db.Model(&models.Subscription{}).Where("status = ?", models.SubscriptionStatusActive).Count(&st.ActiveSubscriptions)
	db.Model(&models.Subscription{}).Where("status = ?", models.SubscriptionStatusSuspended).Count(&st.SuspendedSubscription)
	db.Model(&models.Router{}).Where("is_active = ?", true).Count(&st.RoutersTotal)
	db.Model(&models.Router{}).Where("is_active = ? AND is_online = ?", true, true).Count(&st.RoutersOnline)
	db.Model(&models.Invoice{}).Where("status IN ? AND due_date < ?", openStatuses, now).Count(&st.OverdueInvoices)

	var statuses []struct {
		Status string
		Count  int64
	}
	if err := db.Model(&models.Voucher{}).Select("status, COUNT(*) AS count").Group("status").Scan(&statuses).Error; err != nil {
		return nil, err
	}
	for _, row := range statuses {
		st.Vouchers[row.Status] = row.Count
	}

	revenue, err := s.Revenue(ctx, month, now.Add(time.Second), "day")
	if err != nil {
		return nil, err
	}
	todayKey := today.Format("2006-01-02")
	for _, r := range revenue {
		st.RevenueMonth += r.Total
		if r.Period == todayKey {
			st.RevenueToday = r.Total
		}
	}
	st.RevenueMonth = roundMoney(st.RevenueMonth)

	var outstanding struct{ Total, Paid float64 }
	db.Model(&models.Invoice{}).
		Select("COALESCE(SUM(total), 0) AS total, COALESCE(SUM(amount_paid), 0) AS paid").
		Where("status IN ?", openStatuses).Scan(&outstanding)
	st.Outstanding = roundMoney(outstanding.Total - outstanding.Paid)

	if err := database.CacheSet(database.CacheKeyDashboard, st, database.CacheTTLDashboard); err != nil {
		log.WithError(err).Debug("Failed to cache dashboard")
	}
	return st, nil
}
