// Package provision pushes profiles, vouchers and PPPoE subscriptions to
// RouterOS and keeps failed changes in a durable retry queue.
package provision

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
	"github.com/hotspotbill/backend/internal/database"
	"github.com/hotspotbill/backend/internal/metrics"
	"github.com/hotspotbill/backend/internal/mikrotik"
	"github.com/hotspotbill/backend/internal/models"
	"github.com/hotspotbill/backend/internal/radius"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// ErrQueued wraps router failures that were stored for a later retry
var ErrQueued = errors.New("router unreachable, change queued for retry")

// ErrRouterDisabled is returned for changes on a router switched off in the panel
var ErrRouterDisabled = errors.New("router is disabled")

// SessionKind selects the active session table a kick acts on
type SessionKind string

const (
	SessionHotspot SessionKind = "hotspot"
	SessionPPP     SessionKind = "ppp"
)

// Provisioner applies domain changes to routers
type Provisioner struct {
	db    *gorm.DB
	pool  *mikrotik.Pool
	queue *Queue
}

// New creates a provisioner. A nil queue returns router failures to the
// caller instead of storing them.
func New(db *gorm.DB, pool *mikrotik.Pool, queue *Queue) *Provisioner {
	return &Provisioner{db: db, pool: pool, queue: queue}
}

// Queue returns the retry queue, nil when disabled
func (p *Provisioner) Queue() *Queue {
	return p.queue
}

// Client returns a pooled API client for a router
func (p *Provisioner) Client(ctx context.Context, routerID uint) (*mikrotik.RouterClient, error) {
	rc, _, err := p.client(ctx, routerID)
	return rc, err
}

func (p *Provisioner) client(ctx context.Context, routerID uint) (*mikrotik.RouterClient, *database.CachedRouter, error) {
	router, err := database.GetRouter(p.db.WithContext(ctx), routerID)
	if err != nil {
		return nil, nil, fmt.Errorf("load router %d: %w", routerID, err)
	}
	if !router.IsActive {
		return nil, router, fmt.Errorf("router %s: %w", router.Name, ErrRouterDisabled)
	}
	return mikrotik.NewRouterClient(p.pool, router.APIConfig()), router, nil
}

// permanent reports whether retrying err can never succeed
func permanent(err error) bool {
	return mikrotik.IsTrap(err) || errors.Is(err, gorm.ErrRecordNotFound) || errors.Is(err, ErrRouterDisabled)
}

func isDuplicate(err error) bool {
	var trap *mikrotik.TrapError
	return errors.As(err, &trap) && strings.Contains(trap.Message, "already have")
}

func isNotFound(err error) bool {
	var nf *mikrotik.NotFoundError
	return errors.As(err, &nf)
}

// settle drops a superseded job on success and queues job on a retryable failure
func (p *Provisioner) settle(job Job, err error) error {
	if err == nil {
		if p.queue != nil {
			if rmErr := p.queue.Remove(job.Key()); rmErr != nil {
				log.WithError(rmErr).Warn("Failed to clear provisioning job")
			}
		}
		return nil
	}

	entry := log.WithFields(log.Fields{
		"kind":      job.Kind,
		"entity_id": job.EntityID,
		"router_id": job.RouterID,
		"name":      job.Name,
	})

	if permanent(err) || p.queue == nil {
		metrics.ProvisionFailures.WithLabelValues(string(job.Kind), "rejected").Inc()
		entry.WithError(err).Warn("Router rejected change")
		return err
	}

	job.LastError = err.Error()
	if qErr := p.queue.Enqueue(job); qErr != nil {
		entry.WithError(qErr).Error("Failed to queue provisioning job")
		return err
	}
	metrics.ProvisionFailures.WithLabelValues(string(job.Kind), "queued").Inc()
	entry.WithError(err).Warn("Router change queued for retry")
	return fmt.Errorf("%w: %v", ErrQueued, err)
}

func (p *Provisioner) markSynced(model interface{}, synced bool, ids ...uint) {
	if len(ids) == 0 {
		return
	}
	const chunk = 500
	for start := 0; start < len(ids); start += chunk {
		end := start + chunk
		if end > len(ids) {
			end = len(ids)
		}
		if err := p.db.Model(model).Where("id IN ?", ids[start:end]).Update("synced", synced).Error; err != nil {
			log.WithError(err).Error("Failed to update sync flag")
		}
	}
}

// ---- profiles ----

// SyncProfile creates or updates the hotspot user profile or PPP profile
func (p *Provisioner) SyncProfile(ctx context.Context, prof *models.Profile) error {
	err := p.pushProfile(ctx, prof)
	p.markSynced(&models.Profile{}, err == nil, prof.ID)
	if err == nil {
		prof.Synced = true
	}
	return p.settle(profileJob(KindProfileSync, prof), err)
}

// DeleteProfile removes the profile from its router
func (p *Provisioner) DeleteProfile(ctx context.Context, prof *models.Profile) error {
	err := p.removeProfile(ctx, prof.RouterID, prof.Type, prof.Name)
	return p.settle(profileJob(KindProfileDelete, prof), err)
}

func profileJob(kind Kind, prof *models.Profile) Job {
	return Job{
		Kind:        kind,
		EntityID:    prof.ID,
		RouterID:    prof.RouterID,
		Name:        prof.Name,
		ProfileType: string(prof.Type),
	}
}

func (p *Provisioner) pushProfile(ctx context.Context, prof *models.Profile) error {
	rc, _, err := p.client(ctx, prof.RouterID)
	if err != nil {
		return err
	}
	if prof.Type == models.ProfileTypePPPoE {
		return rc.UpsertPPPProfile(ctx, mikrotik.PPPProfile{
			Name:          prof.Name,
			RateLimit:     prof.RateLimit,
			LocalAddress:  prof.LocalAddress,
			RemoteAddress: prof.RemoteAddress,
			AddressList:   prof.AddressList,
			OnlyOne:       true,
		})
	}
	return rc.UpsertHotspotProfile(ctx, mikrotik.HotspotProfile{
		Name:           prof.Name,
		RateLimit:      prof.RateLimit,
		SharedUsers:    prof.SharedUsers,
		SessionTimeout: prof.SessionTimeout,
		AddressList:    prof.AddressList,
	})
}

func (p *Provisioner) removeProfile(ctx context.Context, routerID uint, typ models.ProfileType, name string) error {
	rc, _, err := p.client(ctx, routerID)
	if err != nil {
		return err
	}
	if typ == models.ProfileTypePPPoE {
		err = rc.RemovePPPProfile(ctx, name)
	} else {
		err = rc.RemoveHotspotProfile(ctx, name)
	}
	if isNotFound(err) {
		return nil
	}
	return err
}

// ---- vouchers ----

func hotspotUser(v *models.Voucher, prof *models.Profile, server string) mikrotik.HotspotUser {
	return mikrotik.HotspotUser{
		Name:            v.Code,
		Password:        v.Password,
		Profile:         prof.Name,
		Server:          server,
		LimitUptime:     prof.SessionTimeout,
		LimitBytesTotal: prof.QuotaBytes,
		Comment:         v.Comment(),
		Disabled:        v.Status == models.VoucherStatusDisabled,
	}
}

func pushHotspotUser(ctx context.Context, rc *mikrotik.RouterClient, u mikrotik.HotspotUser) error {
	_, err := rc.AddHotspotUser(ctx, u)
	if isDuplicate(err) {
		return rc.SetHotspotUser(ctx, u)
	}
	return err
}

// SyncVoucher pushes one voucher to its router
func (p *Provisioner) SyncVoucher(ctx context.Context, v *models.Voucher) error {
	_, err := p.SyncVouchers(ctx, []models.Voucher{*v})
	if err == nil {
		v.Synced = true
	}
	return err
}

// SyncVouchers pushes vouchers as hotspot users, several at a time per
// router. Once a router fails with a connection error its remaining vouchers
// are queued without being tried. Returns the number pushed.
func (p *Provisioner) SyncVouchers(ctx context.Context, vouchers []models.Voucher) (int, error) {
	if len(vouchers) == 0 {
		return 0, nil
	}

	profiles, err := p.loadProfiles(ctx, vouchers)
	if err != nil {
		return 0, err
	}

	byRouter := make(map[uint][]models.Voucher)
	for _, v := range vouchers {
		byRouter[v.RouterID] = append(byRouter[v.RouterID], v)
	}

	var (
		result  *multierror.Error
		synced  []uint
		failed  []uint
		queued  []Job
		rejects int
	)
	for routerID, group := range byRouter {
		res := p.syncVoucherGroup(ctx, routerID, group, profiles)
		synced = append(synced, res.synced...)
		failed = append(failed, res.failed...)
		queued = append(queued, res.retry...)
		rejects += res.rejected
		if res.firstReject != nil {
			result = multierror.Append(result, fmt.Errorf("%d vouchers rejected by router %d: %w", res.rejected, routerID, res.firstReject))
		}
		if res.firstRetry != nil {
			result = multierror.Append(result, res.firstRetry)
		}
	}

	p.markSynced(&models.Voucher{}, true, synced...)
	p.markSynced(&models.Voucher{}, false, failed...)
	if p.queue != nil && len(synced) > 0 && p.queue.Len() > 0 {
		keys := make([]string, 0, len(synced))
		for _, id := range synced {
			keys = append(keys, Job{Kind: KindVoucherSync, EntityID: id}.Key())
		}
		if err := p.queue.Remove(keys...); err != nil {
			log.WithError(err).Warn("Failed to clear voucher jobs")
		}
	}

	if rejects > 0 {
		metrics.ProvisionFailures.WithLabelValues(string(KindVoucherSync), "rejected").Add(float64(rejects))
	}
	if len(queued) > 0 {
		if p.queue == nil {
			return len(synced), result.ErrorOrNil()
		}
		if err := p.queue.Enqueue(queued...); err != nil {
			log.WithError(err).Error("Failed to queue voucher jobs")
			return len(synced), result.ErrorOrNil()
		}
		metrics.ProvisionFailures.WithLabelValues(string(KindVoucherSync), "queued").Add(float64(len(queued)))
		log.WithField("count", len(queued)).Warn("Voucher sync queued for retry")
		result = multierror.Append(result, fmt.Errorf("%w: %d vouchers", ErrQueued, len(queued)))
	}
	return len(synced), result.ErrorOrNil()
}

type groupResult struct {
	synced      []uint
	failed      []uint
	retry       []Job
	rejected    int
	firstReject error
	firstRetry  error
}

func (p *Provisioner) syncVoucherGroup(ctx context.Context, routerID uint, group []models.Voucher, profiles map[uint]*models.Profile) groupResult {
	var res groupResult
	var mu sync.Mutex

	retry := func(v models.Voucher, err error) {
		mu.Lock()
		defer mu.Unlock()
		res.failed = append(res.failed, v.ID)
		res.retry = append(res.retry, Job{
			Kind:      KindVoucherSync,
			EntityID:  v.ID,
			RouterID:  routerID,
			Name:      v.Code,
			LastError: err.Error(),
		})
		if res.firstRetry == nil {
			res.firstRetry = err
		}
	}

	rc, router, err := p.client(ctx, routerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			res.rejected = len(group)
			res.firstReject = err
			for _, v := range group {
				res.failed = append(res.failed, v.ID)
			}
			return res
		}
		for _, v := range group {
			retry(v, err)
		}
		return res
	}

	// profiles must exist on the router before users reference them
	for _, prof := range profiles {
		if prof.RouterID == routerID && !prof.Synced {
			if err := p.SyncProfile(ctx, prof); err != nil {
				log.WithError(err).WithField("profile", prof.Name).Warn("Profile sync before vouchers failed")
			}
		}
	}

	var down atomic.Bool
	g := new(errgroup.Group)
	g.SetLimit(p.pool.Config().MaxConnections)
	for _, v := range group {
		v := v
		g.Go(func() error {
			if down.Load() {
				retry(v, errors.New("router unreachable"))
				return nil
			}
			prof := profiles[v.ProfileID]
			if prof == nil {
				mu.Lock()
				res.rejected++
				res.failed = append(res.failed, v.ID)
				if res.firstReject == nil {
					res.firstReject = fmt.Errorf("voucher %s: profile %d not found", v.Code, v.ProfileID)
				}
				mu.Unlock()
				return nil
			}

			err := pushHotspotUser(ctx, rc, hotspotUser(&v, prof, router.HotspotServer))
			switch {
			case err == nil:
				mu.Lock()
				res.synced = append(res.synced, v.ID)
				mu.Unlock()
			case permanent(err):
				mu.Lock()
				res.rejected++
				res.failed = append(res.failed, v.ID)
				if res.firstReject == nil {
					res.firstReject = err
				}
				mu.Unlock()
			default:
				down.Store(true)
				retry(v, err)
			}
			return nil
		})
	}
	g.Wait()
	return res
}

func (p *Provisioner) loadProfiles(ctx context.Context, vouchers []models.Voucher) (map[uint]*models.Profile, error) {
	out := make(map[uint]*models.Profile)
	var missing []uint
	for i := range vouchers {
		v := &vouchers[i]
		if v.Profile != nil {
			out[v.ProfileID] = v.Profile
			continue
		}
		if _, ok := out[v.ProfileID]; !ok {
			out[v.ProfileID] = nil
			missing = append(missing, v.ProfileID)
		}
	}
	if len(missing) > 0 {
		var profiles []models.Profile
		if err := p.db.WithContext(ctx).Unscoped().Where("id IN ?", missing).Find(&profiles).Error; err != nil {
			return nil, fmt.Errorf("load profiles: %w", err)
		}
		for i := range profiles {
			out[profiles[i].ID] = &profiles[i]
		}
	}
	return out, nil
}

// DeleteVoucher ends the voucher's sessions and removes its hotspot user
func (p *Provisioner) DeleteVoucher(ctx context.Context, v *models.Voucher) error {
	return p.DeleteVouchers(ctx, []models.Voucher{*v})
}

// DeleteVouchers removes the hotspot users of vouchers, queueing failures
func (p *Provisioner) DeleteVouchers(ctx context.Context, vouchers []models.Voucher) error {
	var result *multierror.Error
	down := make(map[uint]error)
	for _, v := range vouchers {
		job := Job{Kind: KindVoucherDelete, EntityID: v.ID, RouterID: v.RouterID, Name: v.Code}
		err, skip := down[v.RouterID]
		if !skip {
			err = p.removeHotspotUser(ctx, v.RouterID, v.Code)
			if err != nil && !permanent(err) {
				down[v.RouterID] = err
			}
		}
		if err := p.settle(job, err); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// DeleteBatch removes every hotspot user tagged with the batch comment in one
// pass. On a connection failure each voucher is queued individually.
func (p *Provisioner) DeleteBatch(ctx context.Context, batch *models.VoucherBatch, vouchers []models.Voucher) (int, error) {
	rc, _, err := p.client(ctx, batch.RouterID)
	if err == nil {
		for _, v := range vouchers {
			if v.Status != models.VoucherStatusActive {
				continue
			}
			if _, err = rc.KickHotspotActive(ctx, v.Code); err != nil {
				break
			}
		}
	}
	var removed int
	if err == nil {
		removed, err = rc.RemoveHotspotUsersByComment(ctx, batch.Comment())
	}
	if err == nil {
		if p.queue != nil {
			keys := make([]string, 0, len(vouchers))
			for _, v := range vouchers {
				keys = append(keys, Job{Kind: KindVoucherDelete, EntityID: v.ID}.Key())
			}
			p.queue.Remove(keys...)
		}
		return removed, nil
	}
	if permanent(err) {
		return 0, err
	}
	return 0, p.DeleteVouchers(ctx, vouchers)
}

func (p *Provisioner) removeHotspotUser(ctx context.Context, routerID uint, name string) error {
	rc, _, err := p.client(ctx, routerID)
	if err != nil {
		return err
	}
	if _, err := rc.KickHotspotActive(ctx, name); err != nil {
		return err
	}
	if err := rc.RemoveHotspotUser(ctx, name); err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

// ---- subscriptions ----

func (p *Provisioner) subscriptionProfile(ctx context.Context, s *models.Subscription) (*models.Profile, error) {
	if s.Profile != nil && s.Profile.ID == s.ProfileID {
		return s.Profile, nil
	}
	var prof models.Profile
	if err := p.db.WithContext(ctx).Unscoped().First(&prof, s.ProfileID).Error; err != nil {
		return nil, fmt.Errorf("load profile %d: %w", s.ProfileID, err)
	}
	s.Profile = &prof
	return &prof, nil
}

func (p *Provisioner) pushSecret(ctx context.Context, s *models.Subscription) error {
	prof, err := p.subscriptionProfile(ctx, s)
	if err != nil {
		return err
	}
	rc, _, err := p.client(ctx, s.RouterID)
	if err != nil {
		return err
	}
	if !prof.Synced {
		if err := p.pushProfile(ctx, prof); err != nil {
			return err
		}
		p.markSynced(&models.Profile{}, true, prof.ID)
		prof.Synced = true
	}

	secret := mikrotik.PPPSecret{
		Name:          s.Username,
		Password:      s.Password,
		Service:       s.Service,
		Profile:       prof.Name,
		RemoteAddress: s.RemoteAddress,
		Comment:       s.Comment(),
		Disabled:      s.Status != models.SubscriptionStatusActive,
	}
	_, err = rc.AddPPPSecret(ctx, secret)
	if isDuplicate(err) {
		return rc.SetPPPSecret(ctx, secret)
	}
	return err
}

func subscriptionJob(kind Kind, s *models.Subscription) Job {
	return Job{Kind: kind, EntityID: s.ID, RouterID: s.RouterID, Name: s.Username}
}

// SyncSubscription creates or updates the PPP secret. Subscriptions that are
// not active are pushed disabled.
func (p *Provisioner) SyncSubscription(ctx context.Context, s *models.Subscription) error {
	err := p.pushSecret(ctx, s)
	p.markSynced(&models.Subscription{}, err == nil, s.ID)
	if err == nil {
		s.Synced = true
	}
	return p.settle(subscriptionJob(KindSubscriptionSync, s), err)
}

// SuspendSubscription disables the secret and ends the running session
func (p *Provisioner) SuspendSubscription(ctx context.Context, s *models.Subscription) error {
	if err := p.SyncSubscription(ctx, s); err != nil {
		if !errors.Is(err, ErrQueued) {
			return err
		}
		p.queueKick(SessionPPP, s.RouterID, s.Username)
		return err
	}
	_, err := p.KickSession(ctx, s.RouterID, SessionPPP, s.Username)
	return err
}

// ResumeSubscription re-enables the secret
func (p *Provisioner) ResumeSubscription(ctx context.Context, s *models.Subscription) error {
	return p.SyncSubscription(ctx, s)
}

// DeleteSubscription ends the session and removes the secret
func (p *Provisioner) DeleteSubscription(ctx context.Context, s *models.Subscription) error {
	err := p.removeSecret(ctx, s.RouterID, s.Username)
	return p.settle(subscriptionJob(KindSubscriptionDelete, s), err)
}

func (p *Provisioner) removeSecret(ctx context.Context, routerID uint, name string) error {
	rc, _, err := p.client(ctx, routerID)
	if err != nil {
		return err
	}
	if _, err := rc.KickPPPActive(ctx, name); err != nil {
		return err
	}
	if err := rc.RemovePPPSecret(ctx, name); err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

// ---- sessions ----

func kickKind(kind SessionKind) Kind {
	if kind == SessionPPP {
		return KindKickPPP
	}
	return KindKickHotspot
}

func (p *Provisioner) queueKick(kind SessionKind, routerID uint, username string) {
	if p.queue == nil {
		return
	}
	if err := p.queue.Enqueue(Job{Kind: kickKind(kind), RouterID: routerID, Name: username}); err != nil {
		log.WithError(err).Error("Failed to queue session kick")
	}
}

// KickSession ends the active sessions of username. Routers with RADIUS
// enabled get a Disconnect-Request first and fall back to the API.
func (p *Provisioner) KickSession(ctx context.Context, routerID uint, kind SessionKind, username string) (int, error) {
	n, err := p.kick(ctx, routerID, kind, username)
	return n, p.settle(Job{Kind: kickKind(kind), RouterID: routerID, Name: username}, err)
}

func (p *Provisioner) kick(ctx context.Context, routerID uint, kind SessionKind, username string) (int, error) {
	rc, router, err := p.client(ctx, routerID)
	if err != nil {
		return 0, err
	}

	if router.RadiusEnabled && router.RadiusSecret != "" {
		coa := radius.NewCOAClient(router.Host, router.CoAPort, router.RadiusSecret)
		err := coa.Disconnect(ctx, username, "")
		if err == nil {
			return 1, nil
		}
		log.WithError(err).WithFields(log.Fields{"router": router.Name, "user": username}).
			Debug("CoA disconnect failed, falling back to API")
	}

	if kind == SessionPPP {
		return rc.KickPPPActive(ctx, username)
	}
	return rc.KickHotspotActive(ctx, username)
}

// ---- replay ----

// Replay retries a queued job. It returns nil when the job is done or no
// longer applies.
func (p *Provisioner) Replay(ctx context.Context, job Job) error {
	switch job.Kind {
	case KindProfileSync:
		var prof models.Profile
		if err := p.db.WithContext(ctx).First(&prof, job.EntityID).Error; err != nil {
			return dropMissing(err)
		}
		err := p.pushProfile(ctx, &prof)
		if err == nil {
			p.markSynced(&models.Profile{}, true, prof.ID)
		}
		return err

	case KindProfileDelete:
		return p.removeProfile(ctx, job.RouterID, models.ProfileType(job.ProfileType), job.Name)

	case KindVoucherSync:
		var v models.Voucher
		if err := p.db.WithContext(ctx).Preload("Profile").First(&v, job.EntityID).Error; err != nil {
			return dropMissing(err)
		}
		if v.Profile == nil {
			return nil
		}
		rc, router, err := p.client(ctx, v.RouterID)
		if err != nil {
			return err
		}
		if err := pushHotspotUser(ctx, rc, hotspotUser(&v, v.Profile, router.HotspotServer)); err != nil {
			return err
		}
		p.markSynced(&models.Voucher{}, true, v.ID)
		return nil

	case KindVoucherDelete:
		return p.removeHotspotUser(ctx, job.RouterID, job.Name)

	case KindSubscriptionSync:
		var s models.Subscription
		if err := p.db.WithContext(ctx).First(&s, job.EntityID).Error; err != nil {
			return dropMissing(err)
		}
		if err := p.pushSecret(ctx, &s); err != nil {
			return err
		}
		p.markSynced(&models.Subscription{}, true, s.ID)
		return nil

	case KindSubscriptionDelete:
		return p.removeSecret(ctx, job.RouterID, job.Name)

	case KindKickHotspot:
		_, err := p.kick(ctx, job.RouterID, SessionHotspot, job.Name)
		return err

	case KindKickPPP:
		_, err := p.kick(ctx, job.RouterID, SessionPPP, job.Name)
		return err
	}
	return fmt.Errorf("unknown job kind %q", job.Kind)
}

func dropMissing(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	return err
}
