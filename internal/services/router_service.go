package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/hotspotbill/backend/internal/database"
	"github.com/hotspotbill/backend/internal/mikrotik"
	"github.com/hotspotbill/backend/internal/models"
	"github.com/hotspotbill/backend/internal/provision"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// RouterStore feeds the health monitor from the routers table
type RouterStore struct {
	db *gorm.DB
}

// NewRouterStore creates a monitor store on db
func NewRouterStore(db *gorm.DB) *RouterStore {
	return &RouterStore{db: db}
}

// ActiveRouters lists the routers the monitor should probe
func (s *RouterStore) ActiveRouters(ctx context.Context) ([]mikrotik.RouterConfig, error) {
	var routers []models.Router
	if err := s.db.WithContext(ctx).Where("is_active = ?", true).Order("id").Find(&routers).Error; err != nil {
		return nil, err
	}
	out := make([]mikrotik.RouterConfig, 0, len(routers))
	for i := range routers {
		out = append(out, apiConfig(&routers[i]))
	}
	return out, nil
}

// RouterConfig returns the API settings of one router
func (s *RouterStore) RouterConfig(ctx context.Context, id uint) (mikrotik.RouterConfig, error) {
	r, err := database.GetRouter(s.db.WithContext(ctx), id)
	if err != nil {
		return mikrotik.RouterConfig{}, notFound(err, "router")
	}
	return r.APIConfig(), nil
}

// SaveStatus persists the outcome of a probe
func (s *RouterStore) SaveStatus(ctx context.Context, st mikrotik.RouterStatus) error {
	updates := map[string]interface{}{
		"is_online":  st.Online,
		"last_error": truncate(st.LastError, 500),
	}
	if st.Online {
		updates["last_seen"] = st.LastSeen
		updates["latency_ms"] = st.LatencyMs
		updates["version"] = st.Version
		updates["identity"] = st.Identity
		updates["board_name"] = st.BoardName
	}
	return s.db.WithContext(ctx).Model(&models.Router{}).Where("id = ?", st.RouterID).Updates(updates).Error
}

func apiConfig(r *models.Router) mikrotik.RouterConfig {
	return mikrotik.RouterConfig{
		ID:       r.ID,
		Name:     r.Name,
		Address:  r.Address(),
		Username: r.APIUsername,
		Password: r.APIPassword,
		UseSSL:   r.UseSSL,
	}
}

// RouterInput is the writable part of a router. An empty APIPassword on
// update keeps the stored one.
type RouterInput struct {
	Name          string `json:"name"`
	Host          string `json:"host"`
	Description   string `json:"description"`
	APIUsername   string `json:"api_username"`
	APIPassword   string `json:"api_password"`
	APIPort       int    `json:"api_port"`
	APISSLPort    int    `json:"api_ssl_port"`
	UseSSL        bool   `json:"use_ssl"`
	HotspotServer string `json:"hotspot_server"`
	RadiusEnabled bool   `json:"radius_enabled"`
	RadiusSecret  string `json:"radius_secret"`
	CoAPort       int    `json:"coa_port"`
	IsActive      *bool  `json:"is_active"`
}

func (in *RouterInput) validate() error {
	in.Name = strings.TrimSpace(in.Name)
	in.Host = strings.TrimSpace(in.Host)
	in.APIUsername = strings.TrimSpace(in.APIUsername)
	if in.Name == "" {
		return invalid("name is required")
	}
	if in.Host == "" {
		return invalid("host is required")
	}
	if in.APIUsername == "" {
		return invalid("api_username is required")
	}
	for _, p := range []int{in.APIPort, in.APISSLPort, in.CoAPort} {
		if p < 0 || p > 65535 {
			return invalid("port %d out of range", p)
		}
	}
	if in.RadiusEnabled && in.RadiusSecret == "" {
		return invalid("radius_secret is required when RADIUS is enabled")
	}
	return nil
}

func (in *RouterInput) apply(r *models.Router) {
	r.Name = in.Name
	r.Host = in.Host
	r.Description = in.Description
	r.APIUsername = in.APIUsername
	if in.APIPassword != "" {
		r.APIPassword = in.APIPassword
	}
	r.APIPort = orDefault(in.APIPort, 8728)
	r.APISSLPort = orDefault(in.APISSLPort, 8729)
	r.UseSSL = in.UseSSL
	r.HotspotServer = in.HotspotServer
	r.RadiusEnabled = in.RadiusEnabled
	if in.RadiusSecret != "" {
		r.RadiusSecret = in.RadiusSecret
	}
	r.CoAPort = orDefault(in.CoAPort, 3799)
	if in.IsActive != nil {
		r.IsActive = *in.IsActive
	}
}

// SyncReport counts what SyncAll pushed
type SyncReport struct {
	Profiles      int `json:"profiles"`
	Vouchers      int `json:"vouchers"`
	Subscriptions int `json:"subscriptions"`
	Failed        int `json:"failed"`
}

// RouterService manages routers and their API connections
type RouterService struct {
	db      *gorm.DB
	pool    *mikrotik.Pool
	monitor *mikrotik.Monitor
	prov    *provision.Provisioner
}

// NewRouterService creates a new router service
func NewRouterService(db *gorm.DB, pool *mikrotik.Pool, monitor *mikrotik.Monitor, prov *provision.Provisioner) *RouterService {
	return &RouterService{db: db, pool: pool, monitor: monitor, prov: prov}
}

// List returns every router ordered by name
func (s *RouterService) List(ctx context.Context) ([]models.Router, error) {
	var routers []models.Router
	err := s.db.WithContext(ctx).Order("name").Find(&routers).Error
	return routers, err
}

// Get returns one router
func (s *RouterService) Get(ctx context.Context, id uint) (*models.Router, error) {
	var r models.Router
	if err := s.db.WithContext(ctx).First(&r, id).Error; err != nil {
		return nil, notFound(err, "router")
	}
	return &r, nil
}

// Create stores a new router
func (s *RouterService) Create(ctx context.Context, in RouterInput) (*models.Router, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	if in.APIPassword == "" {
		return nil, invalid("api_password is required")
	}
	if err := s.uniqueName(ctx, in.Name, 0); err != nil {
		return nil, err
	}

	r := &models.Router{IsActive: true}
	in.apply(r)
	if err := s.db.WithContext(ctx).Create(r).Error; err != nil {
		return nil, err
	}
	r.HasAPIPassword = true

	log.WithFields(log.Fields{"router": r.Name, "address": r.Address()}).Info("Router added")
	return r, nil
}

// Update changes a router and drops pooled connections made with the old settings
func (s *RouterService) Update(ctx context.Context, id uint, in RouterInput) (*models.Router, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	r, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.uniqueName(ctx, in.Name, id); err != nil {
		return nil, err
	}

	oldAddress := r.Address()
	in.apply(r)
	if err := s.db.WithContext(ctx).Save(r).Error; err != nil {
		return nil, err
	}
	r.HasAPIPassword = r.APIPassword != ""

	database.InvalidateRouter(id)
	s.pool.Evict(oldAddress)
	if oldAddress != r.Address() {
		s.pool.Evict(r.Address())
	}
	if !r.IsActive && s.monitor != nil {
		s.monitor.Forget(id)
	}
	return r, nil
}

// Delete removes a router that no profile or subscription references
func (s *RouterService) Delete(ctx context.Context, id uint) error {
	r, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	var profiles, subs int64
	s.db.WithContext(ctx).Model(&models.Profile{}).Where("router_id = ?", id).Count(&profiles)
	s.db.WithContext(ctx).Model(&models.Subscription{}).Where("router_id = ?", id).Count(&subs)
	if profiles > 0 || subs > 0 {
		return fmt.Errorf("router has %d profiles and %d subscriptions: %w", profiles, subs, ErrInUse)
	}

	if err := s.db.WithContext(ctx).Delete(r).Error; err != nil {
		return err
	}
	database.InvalidateRouter(id)
	s.pool.Evict(r.Address())
	if s.monitor != nil {
		s.monitor.Forget(id)
	}
	return nil
}

func (s *RouterService) uniqueName(ctx context.Context, name string, exceptID uint) error {
	var count int64
	q := s.db.WithContext(ctx).Model(&models.Router{}).Where("name = ?", name)
	if exceptID > 0 {
		q = q.Where("id <> ?", exceptID)
	}
	if err := q.Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("router %q %w", name, ErrConflict)
	}
	return nil
}

// Test probes a stored router now and returns the fresh status
func (s *RouterService) Test(ctx context.Context, id uint) (mikrotik.RouterStatus, error) {
	r, err := s.Get(ctx, id)
	if err != nil {
		return mikrotik.RouterStatus{}, err
	}
	if s.monitor != nil {
		return s.monitor.CheckNow(ctx, id)
	}
	return mikrotik.Probe(ctx, s.pool, apiConfig(r), 10*time.Second), nil
}

// TestConnection logs in with unsaved settings without touching the pool
func (s *RouterService) TestConnection(ctx context.Context, in RouterInput) (mikrotik.RouterStatus, error) {
	if err := in.validate(); err != nil {
		return mikrotik.RouterStatus{}, err
	}
	r := &models.Router{}
	in.apply(r)

	cfg := apiConfig(r)
	status := mikrotik.RouterStatus{Name: r.Name, Address: cfg.Address, CheckedAt: time.Now()}

	start := time.Now()
	poolCfg := s.pool.Config()
	client, err := mikrotik.Dial(ctx, cfg, poolCfg.ConnectTimeout, poolCfg.CommandTimeout)
	if err != nil {
		status.LastError = err.Error()
		return status, nil
	}
	defer client.Close()

	rows, err := client.Run(ctx, "/system/identity/print")
	if err != nil {
		status.LastError = err.Error()
		return status, nil
	}
	status.Online = true
	status.LatencyMs = time.Since(start).Milliseconds()
	if len(rows) > 0 {
		status.Identity = rows[0]["name"]
	}
	return status, nil
}

// Status returns the monitor snapshot of every router
func (s *RouterService) Status() []mikrotik.RouterStatus {
	if s.monitor == nil {
		return nil
	}
	return s.monitor.Status()
}

// PoolStats returns connection pool usage per router
func (s *RouterService) PoolStats() []mikrotik.PoolStats {
	return s.pool.Stats()
}

// SyncAll pushes every profile, every non-terminated subscription and the
// unsynced vouchers of a router. Failures are collected, not fatal.
func (s *RouterService) SyncAll(ctx context.Context, id uint) (*SyncReport, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	report := &SyncReport{}
	var result *multierror.Error

	var profiles []models.Profile
	if err := s.db.WithContext(ctx).Where("router_id = ?", id).Find(&profiles).Error; err != nil {
		return nil, err
	}
	for i := range profiles {
		if err := s.prov.SyncProfile(ctx, &profiles[i]); err != nil {
			report.Failed++
			result = multierror.Append(result, fmt.Errorf("profile %s: %w", profiles[i].Name, err))
			continue
		}
		report.Profiles++
	}

	var vouchers []models.Voucher
	err := s.db.WithContext(ctx).
		Where("router_id = ? AND synced = ? AND status IN ?", id, false, []models.VoucherStatus{
			models.VoucherStatusUnused, models.VoucherStatusActive, models.VoucherStatusDisabled,
		}).
		Find(&vouchers).Error
	if err != nil {
		return nil, err
	}
	n, err := s.prov.SyncVouchers(ctx, vouchers)
	report.Vouchers = n
	if err != nil {
		report.Failed += len(vouchers) - n
		result = multierror.Append(result, fmt.Errorf("vouchers: %w", err))
	}

	var subs []models.Subscription
	err = s.db.WithContext(ctx).Preload("Profile").
		Where("router_id = ? AND status <> ?", id, models.SubscriptionStatusTerminated).
		Find(&subs).Error
	if err != nil {
		return nil, err
	}
	for i := range subs {
		if err := s.prov.SyncSubscription(ctx, &subs[i]); err != nil {
			report.Failed++
			result = multierror.Append(result, fmt.Errorf("subscription %s: %w", subs[i].Username, err))
			continue
		}
		report.Subscriptions++
	}

	log.WithFields(log.Fields{
		"router_id":     id,
		"profiles":      report.Profiles,
		"vouchers":      report.Vouchers,
		"subscriptions": report.Subscriptions,
		"failed":        report.Failed,
	}).Info("Router sync finished")

	return report, result.ErrorOrNil()
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
