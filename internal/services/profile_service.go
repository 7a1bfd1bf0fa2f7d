package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/hotspotbill/backend/internal/mikrotik"
	"github.com/hotspotbill/backend/internal/models"
	"github.com/hotspotbill/backend/internal/provision"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ProfileInput is the writable part of a profile
type ProfileInput struct {
	Name           string             `json:"name"`
	Type           models.ProfileType `json:"type"`
	RouterID       uint               `json:"router_id"`
	Description    string             `json:"description"`
	RateLimit      string             `json:"rate_limit"`
	SharedUsers    int                `json:"shared_users"`
	SessionTimeout string             `json:"session_timeout"`
	Validity       string             `json:"validity"`
	QuotaBytes     int64              `json:"quota_bytes"`
	LocalAddress   string             `json:"local_address"`
	RemoteAddress  string             `json:"remote_address"`
	AddressList    string             `json:"address_list"`
	Price          float64            `json:"price"`
	SellingPrice   float64            `json:"selling_price"`
	IsActive       *bool              `json:"is_active"`
}

func (in *ProfileInput) validate() error {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return invalid("name is required")
	}
	if strings.ContainsAny(in.Name, "=?") {
		return invalid("name must not contain '=' or '?'")
	}
	if in.Type != models.ProfileTypeHotspot && in.Type != models.ProfileTypePPPoE {
		return invalid("type must be hotspot or pppoe")
	}
	if in.RouterID == 0 {
		return invalid("router_id is required")
	}
	if in.SharedUsers < 0 || in.QuotaBytes < 0 {
		return invalid("shared_users and quota_bytes must not be negative")
	}
	if in.Price < 0 || in.SellingPrice < 0 {
		return invalid("prices must not be negative")
	}
	if _, err := mikrotik.ParseDuration(in.SessionTimeout); err != nil {
		return invalid("session_timeout: %v", err)
	}
	if _, err := mikrotik.ParseDuration(in.Validity); err != nil {
		return invalid("validity: %v", err)
	}
	return nil
}

func (in *ProfileInput) apply(p *models.Profile) {
	p.Name = in.Name
	p.Type = in.Type
	p.RouterID = in.RouterID
	p.Description = in.Description
	p.RateLimit = strings.TrimSpace(in.RateLimit)
	p.SharedUsers = in.SharedUsers
	if p.SharedUsers == 0 {
		p.SharedUsers = 1
	}
	p.SessionTimeout = in.SessionTimeout
	p.Validity = in.Validity
	p.QuotaBytes = in.QuotaBytes
	p.LocalAddress = in.LocalAddress
	p.RemoteAddress = in.RemoteAddress
	p.AddressList = in.AddressList
	p.Price = in.Price
	p.SellingPrice = in.SellingPrice
	if in.IsActive != nil {
		p.IsActive = *in.IsActive
	}
}

// ProfileFilter narrows List
type ProfileFilter struct {
	RouterID uint
	Type     models.ProfileType
}

// ProfileService manages hotspot and PPP profiles
type ProfileService struct {
	db   *gorm.DB
	prov *provision.Provisioner
}

// NewProfileService creates a new profile service
func NewProfileService(db *gorm.DB, prov *provision.Provisioner) *ProfileService {
	return &ProfileService{db: db, prov: prov}
}

// List returns profiles ordered by type and name
func (s *ProfileService) List(ctx context.Context, f ProfileFilter) ([]models.Profile, error) {
	q := s.db.WithContext(ctx).Model(&models.Profile{})
	if f.RouterID > 0 {
		q = q.Where("router_id = ?", f.RouterID)
	}
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	var profiles []models.Profile
	err := q.Order("type, name").Find(&profiles).Error
	return profiles, err
}

// Get returns one profile
func (s *ProfileService) Get(ctx context.Context, id uint) (*models.Profile, error) {
	var p models.Profile
	if err := s.db.WithContext(ctx).First(&p, id).Error; err != nil {
		return nil, notFound(err, "profile")
	}
	return &p, nil
}

// Create stores a profile and pushes it to its router
func (s *ProfileService) Create(ctx context.Context, in ProfileInput) (*models.Profile, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	if err := s.checkRouter(ctx, in.RouterID); err != nil {
		return nil, err
	}
	if err := s.unique(ctx, in.Name, in.Type, in.RouterID, 0); err != nil {
		return nil, err
	}

	p := &models.Profile{IsActive: true}
	in.apply(p)
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return nil, err
	}
	s.sync(ctx, p)
	return p, nil
}

// Update changes a profile and re-pushes it. Type and router are fixed, and
// a profile in use cannot be renamed.
func (s *ProfileService) Update(ctx context.Context, id uint, in ProfileInput) (*models.Profile, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Type == "" {
		in.Type = p.Type
	}
	if in.RouterID == 0 {
		in.RouterID = p.RouterID
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	if in.Type != p.Type || in.RouterID != p.RouterID {
		return nil, invalid("type and router_id cannot be changed")
	}

	oldName := p.Name
	if in.Name != oldName {
		if n := s.usage(ctx, id); n > 0 {
			return nil, fmt.Errorf("profile is used by %d vouchers or subscriptions and cannot be renamed: %w", n, ErrInUse)
		}
		if err := s.unique(ctx, in.Name, in.Type, in.RouterID, id); err != nil {
			return nil, err
		}
	}

	in.apply(p)
	if err := s.db.WithContext(ctx).Save(p).Error; err != nil {
		return nil, err
	}

	if oldName != p.Name {
		old := *p
		old.Name = oldName
		if err := s.prov.DeleteProfile(ctx, &old); err != nil {
			log.WithError(err).WithField("profile", oldName).Warn("Failed to remove renamed profile from router")
		}
	}
	s.sync(ctx, p)
	return p, nil
}

// Delete removes an unused profile from the router and the database
func (s *ProfileService) Delete(ctx context.Context, id uint) error {
	p, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if n := s.usage(ctx, id); n > 0 {
		return fmt.Errorf("profile is used by %d vouchers or subscriptions: %w", n, ErrInUse)
	}

	if err := s.prov.DeleteProfile(ctx, p); err != nil && !isQueued(err) {
		return fmt.Errorf("remove from router: %w", err)
	}
	return s.db.WithContext(ctx).Delete(p).Error
}

// Sync pushes one profile again
func (s *ProfileService) Sync(ctx context.Context, id uint) (*models.Profile, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.sync(ctx, p)
	return p, nil
}

// ImportFromRouter creates the router's hotspot and PPP profiles that are
// not stored yet. RouterOS built-in "default*" profiles are skipped.
func (s *ProfileService) ImportFromRouter(ctx context.Context, routerID uint) (int, error) {
	if err := s.checkRouter(ctx, routerID); err != nil {
		return 0, err
	}
	rc, err := s.prov.Client(ctx, routerID)
	if err != nil {
		return 0, err
	}

	hotspot, err := rc.ListHotspotProfiles(ctx)
	if err != nil {
		return 0, fmt.Errorf("list hotspot profiles: %w", err)
	}
	ppp, err := rc.ListPPPProfiles(ctx)
	if err != nil {
		return 0, fmt.Errorf("list ppp profiles: %w", err)
	}

	var found []models.Profile
	for _, hp := range hotspot {
		found = append(found, models.Profile{
			Name:           hp.Name,
			Type:           models.ProfileTypeHotspot,
			RateLimit:      hp.RateLimit,
			SharedUsers:    hp.SharedUsers,
			SessionTimeout: hp.SessionTimeout,
			AddressList:    hp.AddressList,
		})
	}
	for _, pp := range ppp {
		found = append(found, models.Profile{
			Name:          pp.Name,
			Type:          models.ProfileTypePPPoE,
			RateLimit:     pp.RateLimit,
			LocalAddress:  pp.LocalAddress,
			RemoteAddress: pp.RemoteAddress,
			AddressList:   pp.AddressList,
		})
	}

	created := 0
	for i := range found {
		p := &found[i]
		if strings.HasPrefix(p.Name, "default") {
			continue
		}
		var count int64
		s.db.WithContext(ctx).Model(&models.Profile{}).
			Where("router_id = ? AND type = ? AND name = ?", routerID, p.Type, p.Name).
			Count(&count)
		if count > 0 {
			continue
		}
		p.RouterID = routerID
		p.Synced = true
		p.IsActive = true
		if p.SharedUsers == 0 {
			p.SharedUsers = 1
		}
		if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
			return created, err
		}
		created++
	}

	log.WithFields(log.Fields{"router_id": routerID, "created": created}).Info("Profiles imported from router")
	return created, nil
}

func (s *ProfileService) sync(ctx context.Context, p *models.Profile) {
	if err := s.prov.SyncProfile(ctx, p); err != nil {
		p.SyncError = err.Error()
	}
}

func (s *ProfileService) usage(ctx context.Context, id uint) int64 {
	var vouchers, subs int64
	s.db.WithContext(ctx).Model(&models.Voucher{}).
		Where("profile_id = ? AND status IN ?", id, []models.VoucherStatus{
			models.VoucherStatusUnused, models.VoucherStatusActive, models.VoucherStatusDisabled,
		}).Count(&vouchers)
	s.db.WithContext(ctx).Model(&models.Subscription{}).Where("profile_id = ?", id).Count(&subs)
	return vouchers + subs
}

func (s *ProfileService) unique(ctx context.Context, name string, typ models.ProfileType, routerID, exceptID uint) error {
	var count int64
	q := s.db.WithContext(ctx).Model(&models.Profile{}).
		Where("router_id = ? AND type = ? AND name = ?", routerID, typ, name)
	if exceptID > 0 {
		q = q.Where("id <> ?", exceptID)
	}
	if err := q.Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("%s profile %q %w", typ, name, ErrConflict)
	}
	return nil
}

func (s *ProfileService) checkRouter(ctx context.Context, id uint) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Router{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("router %w", ErrNotFound)
	}
	return nil
}
