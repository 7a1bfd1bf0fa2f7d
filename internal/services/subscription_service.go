package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hotspotbill/backend/internal/database"
	"github.com/hotspotbill/backend/internal/models"
	"github.com/hotspotbill/backend/internal/provision"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const maxRenewMonths = 24

// SubscriptionInput creates a PPPoE subscription
type SubscriptionInput struct {
	CustomerID    uint     `json:"customer_id"`
	ProfileID     uint     `json:"profile_id"`
	Username      string   `json:"username"`
	Password      string   `json:"password"`
	RemoteAddress string   `json:"remote_address"`
	BillingDay    int      `json:"billing_day"`
	Price         *float64 `json:"price"`
	AutoSuspend   *bool    `json:"auto_suspend"`
}

// SubscriptionUpdate changes a subscription; nil fields are left alone
type SubscriptionUpdate struct {
	Password      *string  `json:"password"`
	ProfileID     *uint    `json:"profile_id"`
	RemoteAddress *string  `json:"remote_address"`
	BillingDay    *int     `json:"billing_day"`
	Price         *float64 `json:"price"`
	AutoSuspend   *bool    `json:"auto_suspend"`
}

// SubscriptionFilter narrows List
type SubscriptionFilter struct {
	CustomerID uint
	RouterID   uint
	Status     models.SubscriptionStatus
	Search     string
	Page       int
	Limit      int
}

// Session is one logged-in hotspot or PPP user on a router
type Session struct {
	Kind     provision.SessionKind `json:"kind"`
	Username string                `json:"username"`
	Address  string                `json:"address"`
	MAC      string                `json:"mac"`
	Uptime   string                `json:"uptime"`
	BytesIn  int64                 `json:"bytes_in"`
	BytesOut int64                 `json:"bytes_out"`
}

// SubscriptionService manages PPPoE subscribers
type SubscriptionService struct {
	db   *gorm.DB
	prov *provision.Provisioner
	now  func() time.Time
}

// NewSubscriptionService creates a new subscription service
func NewSubscriptionService(db *gorm.DB, prov *provision.Provisioner) *SubscriptionService {
	return &SubscriptionService{db: db, prov: prov, now: time.Now}
}

// NextDueDate returns the first billing day strictly after from
func NextDueDate(from time.Time, billingDay int) time.Time {
	y, m, d := from.Date()
	due := time.Date(y, m, billingDay, 0, 0, 0, 0, from.Location())
	if billingDay <= d {
		due = due.AddDate(0, 1, 0)
	}
	return due
}

// AddMonths moves a due date forward keeping the billing day
func AddMonths(due time.Time, months, billingDay int) time.Time {
	y, m, _ := due.Date()
	return time.Date(y, m+time.Month(months), billingDay, 0, 0, 0, 0, due.Location())
}

func validUsername(name string) bool {
	if name == "" || len(name) > 100 {
		return false
	}
	return !strings.ContainsAny(name, " =?\t\n")
}

// List returns a page of subscriptions with customer and profile
func (s *SubscriptionService) List(ctx context.Context, f SubscriptionFilter) ([]models.Subscription, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.Subscription{})
	if f.CustomerID > 0 {
		q = q.Where("customer_id = ?", f.CustomerID)
	}
	if f.RouterID > 0 {
		q = q.Where("router_id = ?", f.RouterID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Search != "" {
		q = q.Where("username LIKE ?", "%"+f.Search+"%")
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	page, limit := pageBounds(f.Page, f.Limit)
	var subs []models.Subscription
	err := q.Preload("Customer").Preload("Profile").
		Order("username").Offset((page - 1) * limit).Limit(limit).
		Find(&subs).Error
	return subs, total, err
}

// Get returns one subscription with customer and profile
func (s *SubscriptionService) Get(ctx context.Context, id uint) (*models.Subscription, error) {
	var sub models.Subscription
	if err := s.db.WithContext(ctx).Preload("Customer").Preload("Profile").First(&sub, id).Error; err != nil {
		return nil, notFound(err, "subscription")
	}
	return &sub, nil
}

func (s *SubscriptionService) pppProfile(ctx context.Context, id uint) (*models.Profile, error) {
	var p models.Profile
	if err := s.db.WithContext(ctx).First(&p, id).Error; err != nil {
		return nil, notFound(err, "profile")
	}
	if p.Type != models.ProfileTypePPPoE {
		return nil, invalid("subscriptions need a pppoe profile")
	}
	return &p, nil
}

// Create stores a subscription and pushes its PPP secret. A router failure
// leaves the subscription unsynced with the error in SyncError.
func (s *SubscriptionService) Create(ctx context.Context, in SubscriptionInput) (*models.Subscription, error) {
	in.Username = strings.TrimSpace(in.Username)
	if !validUsername(in.Username) {
		return nil, invalid("username is required and must not contain spaces, '=' or '?'")
	}
	now := s.now()
	if in.BillingDay == 0 {
		in.BillingDay = now.Day()
		if in.BillingDay > 28 {
			in.BillingDay = 28
		}
	}
	if in.BillingDay < 1 || in.BillingDay > 28 {
		return nil, invalid("billing_day must be between 1 and 28")
	}
	if in.Price != nil && *in.Price < 0 {
		return nil, invalid("price must not be negative")
	}

	var customer models.Customer
	if err := s.db.WithContext(ctx).First(&customer, in.CustomerID).Error; err != nil {
		return nil, notFound(err, "customer")
	}
	profile, err := s.pppProfile(ctx, in.ProfileID)
	if err != nil {
		return nil, err
	}
	if err := s.unique(ctx, in.Username); err != nil {
		return nil, err
	}

	if in.Password == "" {
		if in.Password, err = RandomString(charsets[models.CharsetLower], 8); err != nil {
			return nil, err
		}
	}
	price := profile.SellingPrice
	if price == 0 {
		price = profile.Price
	}
	if in.Price != nil {
		price = *in.Price
	}

	sub := &models.Subscription{
		CustomerID:    customer.ID,
		ProfileID:     profile.ID,
		RouterID:      profile.RouterID,
		Username:      in.Username,
		Password:      in.Password,
		Service:       "pppoe",
		RemoteAddress: strings.TrimSpace(in.RemoteAddress),
		Status:        models.SubscriptionStatusActive,
		BillingDay:    in.BillingDay,
		Price:         price,
		NextDueDate:   NextDueDate(now, in.BillingDay),
		AutoSuspend:   in.AutoSuspend == nil || *in.AutoSuspend,
	}
	if err := s.db.WithContext(ctx).Create(sub).Error; err != nil {
		return nil, err
	}
	sub.Customer = &customer
	sub.Profile = profile

	s.sync(ctx, sub)
	database.InvalidateDashboardCache()
	log.WithFields(log.Fields{"username": sub.Username, "customer_id": customer.ID}).Info("Subscription created")
	return sub, nil
}

// Update changes credentials, profile or billing terms and re-pushes the
// secret. A profile change ends the running session so the new rate applies.
func (s *SubscriptionService) Update(ctx context.Context, id uint, in SubscriptionUpdate) (*models.Subscription, error) {
	sub, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Status == models.SubscriptionStatusTerminated {
		return nil, invalid("subscription is terminated")
	}

	oldRouter := sub.RouterID
	profileChanged := false
	if in.ProfileID != nil && *in.ProfileID != sub.ProfileID {
		profile, err := s.pppProfile(ctx, *in.ProfileID)
		if err != nil {
			return nil, err
		}
		sub.ProfileID = profile.ID
		sub.Profile = profile
		sub.RouterID = profile.RouterID
		profileChanged = true
	}
	if in.Password != nil {
		if *in.Password == "" {
			return nil, invalid("password must not be empty")
		}
		sub.Password = *in.Password
	}
	if in.RemoteAddress != nil {
		sub.RemoteAddress = strings.TrimSpace(*in.RemoteAddress)
	}
	if in.BillingDay != nil {
		if *in.BillingDay < 1 || *in.BillingDay > 28 {
			return nil, invalid("billing_day must be between 1 and 28")
		}
		if *in.BillingDay != sub.BillingDay {
			y, m, _ := sub.NextDueDate.Date()
			sub.BillingDay = *in.BillingDay
			sub.NextDueDate = time.Date(y, m, sub.BillingDay, 0, 0, 0, 0, sub.NextDueDate.Location())
		}
	}
	if in.Price != nil {
		if *in.Price < 0 {
			return nil, invalid("price must not be negative")
		}
		sub.Price = *in.Price
	}
	if in.AutoSuspend != nil {
		sub.AutoSuspend = *in.AutoSuspend
	}

	if err := s.db.WithContext(ctx).Omit("Customer", "Profile").Save(sub).Error; err != nil {
		return nil, err
	}

	if oldRouter != sub.RouterID {
		moved := *sub
		moved.RouterID = oldRouter
		if err := s.prov.DeleteSubscription(ctx, &moved); err != nil {
			log.WithError(err).WithField("username", sub.Username).Warn("Failed to remove secret from previous router")
		}
	}
	s.sync(ctx, sub)
	if profileChanged && sub.SyncError == "" && sub.Status == models.SubscriptionStatusActive {
		if _, err := s.prov.KickSession(ctx, sub.RouterID, provision.SessionPPP, sub.Username); err != nil {
			log.WithError(err).WithField("username", sub.Username).Debug("Kick after profile change failed")
		}
	}
	return sub, nil
}

// Delete removes the PPP secret and soft-deletes the subscription
func (s *SubscriptionService) Delete(ctx context.Context, id uint) error {
	sub, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.prov.DeleteSubscription(ctx, sub); err != nil && !isQueued(err) {
		log.WithError(err).WithField("username", sub.Username).Warn("Failed to remove secret from router")
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(sub).Update("status", models.SubscriptionStatusTerminated).Error; err != nil {
			return err
		}
		return tx.Delete(sub).Error
	})
	if err != nil {
		return err
	}
	database.InvalidateDashboardCache()
	log.WithField("username", sub.Username).Info("Subscription deleted")
	return nil
}

// Suspend isolates a subscriber: the secret is disabled and the session kicked
func (s *SubscriptionService) Suspend(ctx context.Context, id uint, reason string) (*models.Subscription, error) {
	sub, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Status != models.SubscriptionStatusActive {
		return nil, invalid("subscription is %s", sub.Status)
	}
	if err := s.suspend(ctx, sub, reason); err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *SubscriptionService) suspend(ctx context.Context, sub *models.Subscription, reason string) error {
	now := s.now()
	sub.Status = models.SubscriptionStatusSuspended
	sub.SuspendReason = reason
	sub.SuspendedAt = &now
	err := s.db.WithContext(ctx).Model(sub).Updates(map[string]interface{}{
		"status":         sub.Status,
		"suspend_reason": reason,
		"suspended_at":   now,
	}).Error
	if err != nil {
		return err
	}
	if err := s.prov.SuspendSubscription(ctx, sub); err != nil {
		sub.SyncError = err.Error()
	}
	database.InvalidateDashboardCache()
	log.WithFields(log.Fields{"username": sub.Username, "reason": reason}).Info("Subscription suspended")
	return nil
}

// Resume re-enables a suspended subscriber
func (s *SubscriptionService) Resume(ctx context.Context, id uint) (*models.Subscription, error) {
	sub, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Status != models.SubscriptionStatusSuspended {
		return nil, invalid("subscription is %s", sub.Status)
	}
	if err := s.resume(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *SubscriptionService) resume(ctx context.Context, sub *models.Subscription) error {
	sub.Status = models.SubscriptionStatusActive
	sub.SuspendReason = ""
	sub.SuspendedAt = nil
	err := s.db.WithContext(ctx).Model(sub).Updates(map[string]interface{}{
		"status":         sub.Status,
		"suspend_reason": "",
		"suspended_at":   nil,
	}).Error
	if err != nil {
		return err
	}
	if err := s.prov.ResumeSubscription(ctx, sub); err != nil {
		sub.SyncError = err.Error()
	}
	database.InvalidateDashboardCache()
	log.WithField("username", sub.Username).Info("Subscription resumed")
	return nil
}

// Renew moves the next due date forward by months
func (s *SubscriptionService) Renew(ctx context.Context, id uint, months int) (*models.Subscription, error) {
	if months < 1 || months > maxRenewMonths {
		return nil, invalid("months must be between 1 and %d", maxRenewMonths)
	}
	sub, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Status == models.SubscriptionStatusTerminated {
		return nil, invalid("subscription is terminated")
	}
	sub.NextDueDate = AddMonths(sub.NextDueDate, months, sub.BillingDay)
	if err := s.db.WithContext(ctx).Model(sub).Update("next_due_date", sub.NextDueDate).Error; err != nil {
		return nil, err
	}
	return sub, nil
}

// Sync pushes the subscription's secret again
func (s *SubscriptionService) Sync(ctx context.Context, id uint) (*models.Subscription, error) {
	sub, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.sync(ctx, sub)
	return sub, nil
}

// ListSessions merges the PPP and hotspot sessions of a router
func (s *SubscriptionService) ListSessions(ctx context.Context, routerID uint) ([]Session, error) {
	rc, err := s.prov.Client(ctx, routerID)
	if err != nil {
		return nil, err
	}
	ppp, err := rc.ListPPPActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list ppp active: %w", err)
	}
	hotspot, err := rc.ListHotspotActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list hotspot active: %w", err)
	}

	sessions := make([]Session, 0, len(ppp)+len(hotspot))
	for _, a := range ppp {
		sessions = append(sessions, Session{
			Kind:     provision.SessionPPP,
			Username: a.Name,
			Address:  a.Address,
			MAC:      a.CallerID,
			Uptime:   a.Uptime,
		})
	}
	for _, a := range hotspot {
		sessions = append(sessions, Session{
			Kind:     provision.SessionHotspot,
			Username: a.User,
			Address:  a.Address,
			MAC:      a.MACAddress,
			Uptime:   a.Uptime,
			BytesIn:  a.BytesIn,
			BytesOut: a.BytesOut,
		})
	}
	return sessions, nil
}

// Kick ends a user's session on a router
func (s *SubscriptionService) Kick(ctx context.Context, routerID uint, kind provision.SessionKind, username string) (int, error) {
	if kind != provision.SessionPPP && kind != provision.SessionHotspot {
		return 0, invalid("kind must be ppp or hotspot")
	}
	if username == "" {
		return 0, invalid("username is required")
	}
	return s.prov.KickSession(ctx, routerID, kind, username)
}

func (s *SubscriptionService) sync(ctx context.Context, sub *models.Subscription) {
	if err := s.prov.SyncSubscription(ctx, sub); err != nil {
		sub.SyncError = err.Error()
	}
}

func (s *SubscriptionService) unique(ctx context.Context, username string) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Subscription{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("username %q %w", username, ErrConflict)
	}
	return nil
}
