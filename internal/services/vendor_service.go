package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hotspotbill/backend/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// VendorInput is the writable part of a vendor
type VendorInput struct {
	Name       string  `json:"name"`
	Phone      string  `json:"phone"`
	Address    string  `json:"address"`
	Commission float64 `json:"commission"`
	IsActive   *bool   `json:"is_active"`
}

func (in *VendorInput) validate() error {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return invalid("name is required")
	}
	if in.Commission < 0 || in.Commission > 100 {
		return invalid("commission must be between 0 and 100 percent")
	}
	return nil
}

// Settlement is what a vendor owes for vouchers sold in a period
type Settlement struct {
	Vendor      *models.Vendor `json:"vendor"`
	From        time.Time      `json:"from"`
	To          time.Time      `json:"to"`
	Sold        int64          `json:"sold"`
	Gross       float64        `json:"gross"`
	Commission  float64        `json:"commission"`
	Net         float64        `json:"net"`
	Paid        float64        `json:"paid"`
	Outstanding float64        `json:"outstanding"`
}

// SettlementPayment records money handed over by a vendor
type SettlementPayment struct {
	Amount     float64              `json:"amount"`
	Method     models.PaymentMethod `json:"method"`
	Reference  string               `json:"reference"`
	Notes      string               `json:"notes"`
	BatchID    string               `json:"batch_id"`
	ReceivedBy uint                 `json:"-"`
}

// VendorService manages voucher resellers and their settlements
type VendorService struct {
	db  *gorm.DB
	now func() time.Time
}

// NewVendorService creates a new vendor service
func NewVendorService(db *gorm.DB) *VendorService {
	return &VendorService{db: db, now: time.Now}
}

func (s *VendorService) List(ctx context.Context) ([]models.Vendor, error) {
	var vendors []models.Vendor
	err := s.db.WithContext(ctx).Order("name").Find(&vendors).Error
	return vendors, err
}

func (s *VendorService) Get(ctx context.Context, id uint) (*models.Vendor, error) {
	var v models.Vendor
	if err := s.db.WithContext(ctx).First(&v, id).Error; err != nil {
		return nil, notFound(err, "vendor")
	}
	return &v, nil
}

func (s *VendorService) Create(ctx context.Context, in VendorInput) (*models.Vendor, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	if err := s.unique(ctx, in.Name, 0); err != nil {
		return nil, err
	}
	v := &models.Vendor{
		Name:       in.Name,
		Phone:      in.Phone,
		Address:    in.Address,
		Commission: in.Commission,
		IsActive:   in.IsActive == nil || *in.IsActive,
	}
	if err := s.db.WithContext(ctx).Create(v).Error; err != nil {
		return nil, err
	}
	return v, nil
}

func (s *VendorService) Update(ctx context.Context, id uint, in VendorInput) (*models.Vendor, error) {
	v, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	if err := s.unique(ctx, in.Name, id); err != nil {
		return nil, err
	}
	v.Name = in.Name
	v.Phone = in.Phone
	v.Address = in.Address
	v.Commission = in.Commission
	if in.IsActive != nil {
		v.IsActive = *in.IsActive
	}
	if err := s.db.WithContext(ctx).Save(v).Error; err != nil {
		return nil, err
	}
	return v, nil
}

// Delete removes a vendor that has no vouchers
func (s *VendorService) Delete(ctx context.Context, id uint) error {
	v, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	var count int64
	s.db.WithContext(ctx).Model(&models.Voucher{}).Where("vendor_id = ?", id).Count(&count)
	if count > 0 {
		return fmt.Errorf("vendor has %d vouchers: %w", count, ErrInUse)
	}
	return s.db.WithContext(ctx).Delete(v).Error
}

// Settlement totals the vouchers a vendor sold between from and to. A
// voucher counts as sold once it was first used.
func (s *VendorService) Settlement(ctx context.Context, id uint, from, to time.Time) (*Settlement, error) {
	v, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if to.IsZero() {
		to = s.now()
	}
	if !from.Before(to) {
		return nil, invalid("from must be before to")
	}

	var sold struct {
		Count int64
		Gross float64
	}
	err = s.db.WithContext(ctx).Model(&models.Voucher{}).
		Select("COUNT(*) AS count, COALESCE(SUM(price_sell), 0) AS gross").
		Where("vendor_id = ? AND first_login >= ? AND first_login < ?", id, from, to).
		Where("status IN ?", []models.VoucherStatus{
			models.VoucherStatusActive, models.VoucherStatusUsed, models.VoucherStatusExpired,
		}).
		Scan(&sold).Error
	if err != nil {
		return nil, err
	}

	var paid float64
	err = s.db.WithContext(ctx).Model(&models.Payment{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("vendor_id = ? AND paid_at >= ? AND paid_at < ?", id, from, to).
		Scan(&paid).Error
	if err != nil {
		return nil, err
	}

	st := &Settlement{
		Vendor: v,
		From:   from,
		To:     to,
		Sold:   sold.Count,
		Gross:  sold.Gross,
		Paid:   paid,
	}
	st.Commission = roundMoney(st.Gross * v.Commission / 100)
	st.Net = st.Gross - st.Commission
	st.Outstanding = st.Net - st.Paid
	return st, nil
}

// RecordSettlement stores a payment received from a vendor
func (s *VendorService) RecordSettlement(ctx context.Context, id uint, in SettlementPayment) (*models.Payment, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	if in.Amount <= 0 {
		return nil, invalid("amount must be greater than zero")
	}
	if in.Method == "" {
		in.Method = models.PaymentMethodCash
	}
	if !in.Method.Valid() {
		return nil, invalid("unknown payment method %q", in.Method)
	}

	p := &models.Payment{
		VendorID:   &id,
		Amount:     in.Amount,
		Method:     in.Method,
		Reference:  in.Reference,
		Notes:      in.Notes,
		ReceivedBy: in.ReceivedBy,
		PaidAt:     s.now(),
	}
	if in.BatchID != "" {
		var count int64
		s.db.WithContext(ctx).Model(&models.VoucherBatch{}).
			Where("id = ? AND vendor_id = ?", in.BatchID, id).Count(&count)
		if count == 0 {
			return nil, fmt.Errorf("batch of this vendor %w", ErrNotFound)
		}
		p.BatchID = &in.BatchID
	}
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"vendor_id": id, "amount": in.Amount}).Info("Vendor settlement recorded")
	return p, nil
}

func (s *VendorService) unique(ctx context.Context, name string, exceptID uint) error {
	var count int64
	q := s.db.WithContext(ctx).Model(&models.Vendor{}).Where("name = ?", name)
	if exceptID > 0 {
		q = q.Where("id <> ?", exceptID)
	}
	if err := q.Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("vendor %q %w", name, ErrConflict)
	}
	return nil
}

func roundMoney(v float64) float64 {
	if v < 0 {
		return -roundMoney(-v)
	}
	return float64(int64(v*100+0.5)) / 100
}
