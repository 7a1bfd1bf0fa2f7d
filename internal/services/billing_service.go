package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hotspotbill/backend/internal/database"
	"github.com/hotspotbill/backend/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const periodLayout = "2006-01"

// PaymentRequest records money received against an invoice
type PaymentRequest struct {
	InvoiceID  uint                 `json:"invoice_id"`
	Amount     float64              `json:"amount"`
	Method     models.PaymentMethod `json:"method"`
	Reference  string               `json:"reference"`
	Notes      string               `json:"notes"`
	ReceivedBy uint                 `json:"-"`
}

// InvoiceFilter narrows ListInvoices
type InvoiceFilter struct {
	CustomerID     uint
	SubscriptionID uint
	Status         models.InvoiceStatus
	Period         string
	Overdue        bool
	Page           int
	Limit          int
}

// PaymentFilter narrows ListPayments
type PaymentFilter struct {
	CustomerID uint
	InvoiceID  uint
	VendorID   uint
	From       time.Time
	To         time.Time
	Page       int
	Limit      int
}

// BillingService issues invoices, records payments and isolates late payers
type BillingService struct {
	db            *gorm.DB
	settings      *SettingsService
	subscriptions *SubscriptionService
	now           func() time.Time
}

// NewBillingService creates a new billing service
func NewBillingService(db *gorm.DB, settings *SettingsService, subs *SubscriptionService) *BillingService {
	return &BillingService{db: db, settings: settings, subscriptions: subs, now: time.Now}
}

// ParsePeriod parses "YYYY-MM"; an empty period is the current month
func (s *BillingService) ParsePeriod(period string) (time.Time, error) {
	if period == "" {
		y, m, _ := s.now().Date()
		return time.Date(y, m, 1, 0, 0, 0, 0, s.now().Location()), nil
	}
	t, err := time.ParseInLocation(periodLayout, period, s.now().Location())
	if err != nil {
		return time.Time{}, invalid("period must look like 2006-01")
	}
	return t, nil
}

// GenerateMonthlyInvoices creates one invoice per active subscription whose
// billing day has been reached in period. Subscriptions that already have an
// invoice for the period are skipped, so running it again is harmless.
func (s *BillingService) GenerateMonthlyInvoices(ctx context.Context, period string) (int, error) {
	start, err := s.ParsePeriod(period)
	if err != nil {
		return 0, err
	}
	now := s.now()
	if start.After(now) {
		return 0, invalid("period %s is in the future", start.Format(periodLayout))
	}
	period = start.Format(periodLayout)
	currentMonth := start.Year() == now.Year() && start.Month() == now.Month()

	var subs []models.Subscription
	q := s.db.WithContext(ctx).Where("status = ?", models.SubscriptionStatusActive)
	if currentMonth {
		q = q.Where("billing_day <= ?", now.Day())
	}
	if err := q.Order("id").Find(&subs).Error; err != nil {
		return 0, err
	}
	if len(subs) == 0 {
		return 0, nil
	}

	var billed []uint
	err = s.db.WithContext(ctx).Unscoped().Model(&models.Invoice{}).
		Where("period = ?", period).Pluck("subscription_id", &billed).Error
	if err != nil {
		return 0, err
	}
	done := make(map[uint]bool, len(billed))
	for _, id := range billed {
		done[id] = true
	}

	dueDays := s.settings.Int(ctx, models.SettingInvoiceDueDays, 7)
	created := 0
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seq, err := lastInvoiceSeq(tx, start)
		if err != nil {
			return err
		}
		for _, sub := range subs {
			if done[sub.ID] {
				continue
			}
			issue := time.Date(start.Year(), start.Month(), sub.BillingDay, 0, 0, 0, 0, start.Location())
			// the first bill of a new subscription is its first billing day after creation
			if sub.CreatedAt.After(issue) {
				continue
			}
			seq++
			inv := models.Invoice{
				InvoiceNumber:  invoiceNumber(start, seq),
				CustomerID:     sub.CustomerID,
				SubscriptionID: sub.ID,
				Period:         period,
				Amount:         sub.Price,
				Total:          sub.Price,
				Status:         models.InvoiceStatusUnpaid,
				IssueAt:        issue,
				DueDate:        issue.AddDate(0, 0, dueDays),
			}
			if inv.Total == 0 {
				inv.Status = models.InvoiceStatusPaid
				inv.PaidAt = &now
			}
			if err := tx.Create(&inv).Error; err != nil {
				return fmt.Errorf("invoice for %s: %w", sub.Username, err)
			}
			if err := tx.Model(&sub).Update("last_invoice_at", now).Error; err != nil {
				return err
			}
			created++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if created > 0 {
		database.InvalidateDashboardCache()
		log.WithFields(log.Fields{"period": period, "created": created}).Info("Monthly invoices generated")
	}
	return created, nil
}

func invoiceNumber(period time.Time, seq int) string {
	return fmt.Sprintf("INV-%s-%05d", period.Format("200601"), seq)
}

// lastInvoiceSeq returns the highest sequence used for the period
func lastInvoiceSeq(tx *gorm.DB, period time.Time) (int, error) {
	prefix := fmt.Sprintf("INV-%s-", period.Format("200601"))
	var last string
	err := tx.Unscoped().Model(&models.Invoice{}).
		Select("COALESCE(MAX(invoice_number), '')").
		Where("invoice_number LIKE ?", prefix+"%").
		Scan(&last).Error
	if err != nil || last == "" {
		return 0, err
	}
	seq, err := strconv.Atoi(strings.TrimPrefix(last, prefix))
	if err != nil {
		return 0, fmt.Errorf("malformed invoice number %q", last)
	}
	return seq, nil
}

// RecordPayment applies a payment to an invoice. A payment that settles the
// invoice moves the subscription's due date forward and resumes it when it
// was suspended.
func (s *BillingService) RecordPayment(ctx context.Context, req PaymentRequest) (*models.Payment, *models.Invoice, error) {
	if req.Amount <= 0 {
		return nil, nil, invalid("amount must be greater than zero")
	}
	if req.Method == "" {
		req.Method = models.PaymentMethodCash
	}
	if !req.Method.Valid() {
		return nil, nil, invalid("unknown payment method %q", req.Method)
	}

	now := s.now()
	var (
		inv     models.Invoice
		payment *models.Payment
		sub     models.Subscription
		settled bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// concurrent payments on the same invoice queue up here
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&inv, req.InvoiceID).Error
		if err != nil {
			return notFound(err, "invoice")
		}
		switch inv.Status {
		case models.InvoiceStatusVoid:
			return invalid("invoice %s is void", inv.InvoiceNumber)
		case models.InvoiceStatusPaid:
			return invalid("invoice %s is already paid", inv.InvoiceNumber)
		}
		outstanding := roundMoney(inv.Outstanding())
		if roundMoney(req.Amount) > outstanding {
			return invalid("amount exceeds the outstanding %.2f", outstanding)
		}

		payment = &models.Payment{
			InvoiceID:  &inv.ID,
			CustomerID: &inv.CustomerID,
			Amount:     req.Amount,
			Method:     req.Method,
			Reference:  req.Reference,
			Notes:      req.Notes,
			ReceivedBy: req.ReceivedBy,
			PaidAt:     now,
		}
		inv.AmountPaid = roundMoney(inv.AmountPaid + req.Amount)
		inv.Status = models.InvoiceStatusPartial
		settled = inv.AmountPaid >= roundMoney(inv.Total)
		if settled {
			inv.Status = models.InvoiceStatusPaid
			inv.PaidAt = &now
		}

		if err := tx.Create(payment).Error; err != nil {
			return err
		}
		err = tx.Model(&inv).Updates(map[string]interface{}{
			"amount_paid": inv.AmountPaid,
			"status":      inv.Status,
			"paid_at":     inv.PaidAt,
		}).Error
		if err != nil || !settled {
			return err
		}

		if err := tx.First(&sub, inv.SubscriptionID).Error; err != nil {
			return notFound(err, "subscription")
		}
		next := AddMonths(inv.IssueAt, 1, sub.BillingDay)
		if next.After(sub.NextDueDate) {
			sub.NextDueDate = next
			return tx.Model(&sub).Update("next_due_date", next).Error
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	if settled && sub.Status == models.SubscriptionStatusSuspended && !s.hasOverdue(ctx, sub.ID) {
		if err := s.subscriptions.resume(ctx, &sub); err != nil {
			log.WithError(err).WithField("username", sub.Username).Error("Failed to resume paid subscription")
		}
	}

	database.InvalidateDashboardCache()
	log.WithFields(log.Fields{
		"invoice": inv.InvoiceNumber,
		"amount":  req.Amount,
		"status":  inv.Status,
	}).Info("Payment recorded")
	return payment, &inv, nil
}

// hasOverdue reports whether a subscription still has an open invoice past due
func (s *BillingService) hasOverdue(ctx context.Context, subID uint) bool {
	var count int64
	s.db.WithContext(ctx).Model(&models.Invoice{}).
		Where("subscription_id = ? AND status IN ? AND due_date < ?", subID, openStatuses, s.now()).
		Count(&count)
	return count > 0
}

var openStatuses = []models.InvoiceStatus{models.InvoiceStatusUnpaid, models.InvoiceStatusPartial}

// SuspendOverdue suspends auto-suspend subscriptions with an open invoice
// more than suspend_grace_days past due
func (s *BillingService) SuspendOverdue(ctx context.Context) (int, error) {
	grace := s.settings.Int(ctx, models.SettingSuspendGraceDays, 3)
	cutoff := s.now().AddDate(0, 0, -grace)

	var invoices []models.Invoice
	err := s.db.WithContext(ctx).
		Where("status IN ? AND due_date < ?", openStatuses, cutoff).
		Order("due_date").Find(&invoices).Error
	if err != nil || len(invoices) == 0 {
		return 0, err
	}

	overdue := make(map[uint]string)
	ids := make([]uint, 0, len(invoices))
	for _, inv := range invoices {
		if _, ok := overdue[inv.SubscriptionID]; !ok {
			overdue[inv.SubscriptionID] = inv.InvoiceNumber
			ids = append(ids, inv.SubscriptionID)
		}
	}

	var subs []models.Subscription
	err = s.db.WithContext(ctx).
		Where("id IN ? AND status = ? AND auto_suspend = ?", ids, models.SubscriptionStatusActive, true).
		Find(&subs).Error
	if err != nil {
		return 0, err
	}

	suspended := 0
	for i := range subs {
		sub := &subs[i]
		reason := "overdue invoice " + overdue[sub.ID]
		if err := s.subscriptions.suspend(ctx, sub, reason); err != nil {
			log.WithError(err).WithField("username", sub.Username).Error("Failed to suspend overdue subscription")
			continue
		}
		suspended++
	}
	return suspended, nil
}

// VoidInvoice cancels an invoice that has not received any payment
func (s *BillingService) VoidInvoice(ctx context.Context, id uint, reason string) (*models.Invoice, error) {
	var inv models.Invoice
	if err := s.db.WithContext(ctx).First(&inv, id).Error; err != nil {
		return nil, notFound(err, "invoice")
	}
	if inv.Status == models.InvoiceStatusVoid {
		return nil, invalid("invoice is already void")
	}
	if inv.AmountPaid > 0 {
		return nil, fmt.Errorf("invoice has payments: %w", ErrInUse)
	}
	inv.Status = models.InvoiceStatusVoid
	if reason != "" {
		inv.Notes = strings.TrimSpace(inv.Notes + "\nvoid: " + reason)
	}
	err := s.db.WithContext(ctx).Model(&inv).Updates(map[string]interface{}{
		"status": inv.Status,
		"notes":  inv.Notes,
	}).Error
	if err != nil {
		return nil, err
	}
	database.InvalidateDashboardCache()
	return &inv, nil
}

// GetInvoice returns an invoice with its customer, subscription and payments
func (s *BillingService) GetInvoice(ctx context.Context, id uint) (*models.Invoice, []models.Payment, error) {
	var inv models.Invoice
	err := s.db.WithContext(ctx).Preload("Customer").Preload("Subscription").First(&inv, id).Error
	if err != nil {
		return nil, nil, notFound(err, "invoice")
	}
	var payments []models.Payment
	err = s.db.WithContext(ctx).Where("invoice_id = ?", id).Order("paid_at").Find(&payments).Error
	return &inv, payments, err
}

// ListInvoices returns a page of invoices matching the filter
func (s *BillingService) ListInvoices(ctx context.Context, f InvoiceFilter) ([]models.Invoice, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.Invoice{})
	if f.CustomerID > 0 {
		q = q.Where("customer_id = ?", f.CustomerID)
	}
	if f.SubscriptionID > 0 {
		q = q.Where("subscription_id = ?", f.SubscriptionID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Period != "" {
		q = q.Where("period = ?", f.Period)
	}
	if f.Overdue {
		q = q.Where("status IN ? AND due_date < ?", openStatuses, s.now())
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	page, limit := pageBounds(f.Page, f.Limit)
	var invoices []models.Invoice
	err := q.Preload("Customer").Order("issue_at DESC, id DESC").
		Offset((page - 1) * limit).Limit(limit).Find(&invoices).Error
	return invoices, total, err
}

// ListPayments returns a page of payments matching the filter
func (s *BillingService) ListPayments(ctx context.Context, f PaymentFilter) ([]models.Payment, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.Payment{})
	if f.CustomerID > 0 {
		q = q.Where("customer_id = ?", f.CustomerID)
	}
	if f.InvoiceID > 0 {
		q = q.Where("invoice_id = ?", f.InvoiceID)
	}
	if f.VendorID > 0 {
		q = q.Where("vendor_id = ?", f.VendorID)
	}
	if !f.From.IsZero() {
		q = q.Where("paid_at >= ?", f.From)
	}
	if !f.To.IsZero() {
		q = q.Where("paid_at < ?", f.To)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	page, limit := pageBounds(f.Page, f.Limit)
	var payments []models.Payment
	err := q.Preload("Invoice").Preload("Customer").Order("paid_at DESC").
		Offset((page - 1) * limit).Limit(limit).Find(&payments).Error
	return payments, total, err
}
