package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/hotspotbill/backend/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// CustomerInput is the writable part of a customer
type CustomerInput struct {
	Name           string                `json:"name"`
	Phone          string                `json:"phone"`
	Email          string                `json:"email"`
	Address        string                `json:"address"`
	IdentityNumber string                `json:"identity_number"`
	Latitude       float64               `json:"latitude"`
	Longitude      float64               `json:"longitude"`
	Note           string                `json:"note"`
	Status         models.CustomerStatus `json:"status"`
}

func (in *CustomerInput) validate() error {
	in.Name = strings.TrimSpace(in.Name)
	in.Phone = strings.TrimSpace(in.Phone)
	in.Email = strings.TrimSpace(in.Email)
	if in.Name == "" {
		return invalid("name is required")
	}
	if in.Email != "" && !strings.Contains(in.Email, "@") {
		return invalid("email is invalid")
	}
	if in.Status == "" {
		in.Status = models.CustomerStatusActive
	}
	if in.Status != models.CustomerStatusActive && in.Status != models.CustomerStatusInactive {
		return invalid("status must be active or inactive")
	}
	if in.Latitude < -90 || in.Latitude > 90 || in.Longitude < -180 || in.Longitude > 180 {
		return invalid("coordinates are out of range")
	}
	return nil
}

func (in *CustomerInput) apply(c *models.Customer) {
	c.Name = in.Name
	c.Phone = in.Phone
	c.Email = in.Email
	c.Address = in.Address
	c.IdentityNumber = in.IdentityNumber
	c.Latitude = in.Latitude
	c.Longitude = in.Longitude
	c.Note = in.Note
	c.Status = in.Status
}

// CustomerFilter narrows List
type CustomerFilter struct {
	Search string
	Status models.CustomerStatus
	Page   int
	Limit  int
}

// CustomerService manages billed customers
type CustomerService struct {
	db            *gorm.DB
	subscriptions *SubscriptionService
}

// NewCustomerService creates a new customer service. Subscriptions are
// terminated through subs when a customer is force deleted.
func NewCustomerService(db *gorm.DB, subs *SubscriptionService) *CustomerService {
	return &CustomerService{db: db, subscriptions: subs}
}

// List returns a page of customers matching the filter
func (s *CustomerService) List(ctx context.Context, f CustomerFilter) ([]models.Customer, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.Customer{})
	if f.Search != "" {
		like := "%" + strings.ToLower(f.Search) + "%"
		q = q.Where("LOWER(name) LIKE ? OR phone LIKE ? OR LOWER(email) LIKE ?", like, like, like)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	page, limit := pageBounds(f.Page, f.Limit)
	var customers []models.Customer
	err := q.Order("name").Offset((page - 1) * limit).Limit(limit).Find(&customers).Error
	return customers, total, err
}

// Get returns a customer with its subscriptions
func (s *CustomerService) Get(ctx context.Context, id uint) (*models.Customer, error) {
	var c models.Customer
	err := s.db.WithContext(ctx).Preload("Subscriptions").Preload("Subscriptions.Profile").First(&c, id).Error
	if err != nil {
		return nil, notFound(err, "customer")
	}
	return &c, nil
}

func (s *CustomerService) Create(ctx context.Context, in CustomerInput) (*models.Customer, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	c := &models.Customer{}
	in.apply(c)
	if err := s.db.WithContext(ctx).Create(c).Error; err != nil {
		return nil, err
	}
	return c, nil
}

func (s *CustomerService) Update(ctx context.Context, id uint, in CustomerInput) (*models.Customer, error) {
	var c models.Customer
	if err := s.db.WithContext(ctx).First(&c, id).Error; err != nil {
		return nil, notFound(err, "customer")
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	in.apply(&c)
	if err := s.db.WithContext(ctx).Save(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// Delete soft-deletes a customer. Customers with live subscriptions are
// refused unless force is set, in which case the subscriptions are deleted
// from their routers first.
func (s *CustomerService) Delete(ctx context.Context, id uint, force bool) error {
	var c models.Customer
	if err := s.db.WithContext(ctx).First(&c, id).Error; err != nil {
		return notFound(err, "customer")
	}

	var subs []models.Subscription
	err := s.db.WithContext(ctx).
		Where("customer_id = ? AND status <> ?", id, models.SubscriptionStatusTerminated).
		Find(&subs).Error
	if err != nil {
		return err
	}
	if len(subs) > 0 && !force {
		return fmt.Errorf("customer has %d subscriptions: %w", len(subs), ErrInUse)
	}
	for _, sub := range subs {
		if err := s.subscriptions.Delete(ctx, sub.ID); err != nil {
			return fmt.Errorf("delete subscription %s: %w", sub.Username, err)
		}
	}

	if err := s.db.WithContext(ctx).Delete(&c).Error; err != nil {
		return err
	}
	log.WithFields(log.Fields{"customer_id": id, "subscriptions": len(subs)}).Info("Customer deleted")
	return nil
}
