package services

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hotspotbill/backend/internal/database"
	"github.com/hotspotbill/backend/internal/metrics"
	"github.com/hotspotbill/backend/internal/mikrotik"
	"github.com/hotspotbill/backend/internal/models"
	"github.com/hotspotbill/backend/internal/provision"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	MaxBatchSize  = 5000
	MinCodeLength = 4
	MaxCodeLength = 16
	maxPrefixLen  = 10
	codeRetries   = 10
)

var charsets = map[models.Charset]string{
	models.CharsetNumeric: "0123456789",
	models.CharsetAlpha:   "ABCDEFGHJKLMNPQRSTUVWXYZ",
	models.CharsetAlnum:   "ABCDEFGHJKLMNPQRSTUVWXYZ23456789",
	models.CharsetLower:   "abcdefghjkmnpqrstuvwxyz23456789",
}

// GenerateRequest describes a voucher batch
type GenerateRequest struct {
	ProfileID uint            `json:"profile_id"`
	VendorID  *uint           `json:"vendor_id"`
	Count     int             `json:"count"`
	Prefix    string          `json:"prefix"`
	Length    int             `json:"length"`
	Charset   models.Charset  `json:"charset"`
	UserMode  models.UserMode `json:"user_mode"`
	PriceSell *float64        `json:"price_sell"`
	Note      string          `json:"note"`
	CreatedBy uint            `json:"-"`
}

// BatchResult is the outcome of GenerateBatch
type BatchResult struct {
	Batch     *models.VoucherBatch `json:"batch"`
	Vouchers  []models.Voucher     `json:"vouchers"`
	Synced    int                  `json:"synced"`
	SyncError string               `json:"sync_error,omitempty"`
}

// VoucherFilter narrows List
type VoucherFilter struct {
	BatchID   string
	Status    models.VoucherStatus
	ProfileID uint
	RouterID  uint
	VendorID  uint
	Search    string
	Page      int
	Limit     int
}

// BatchSummary counts the vouchers of one batch by status
type BatchSummary struct {
	BatchID     string    `json:"batch_id"`
	ProfileID   uint      `json:"profile_id"`
	ProfileName string    `json:"profile_name"`
	VendorID    *uint     `json:"vendor_id"`
	VendorName  string    `json:"vendor_name"`
	CreatedAt   time.Time `json:"created_at"`
	Total       int64     `json:"total"`
	Unused      int64     `json:"unused"`
	Active      int64     `json:"active"`
	Used        int64     `json:"used"`
	Expired     int64     `json:"expired"`
	Disabled    int64     `json:"disabled"`
	Revenue     float64   `json:"revenue"`
}

// UsageReport counts what SyncUsage changed
type UsageReport struct {
	Activated int `json:"activated"`
	Updated   int `json:"updated"`
	Used      int `json:"used"`
}

// VoucherService generates, tracks and removes hotspot vouchers
type VoucherService struct {
	db       *gorm.DB
	prov     *provision.Provisioner
	settings *SettingsService
	now      func() time.Time
}

// NewVoucherService creates a new voucher service
func NewVoucherService(db *gorm.DB, prov *provision.Provisioner, settings *SettingsService) *VoucherService {
	return &VoucherService{db: db, prov: prov, settings: settings, now: time.Now}
}

// RandomString draws n characters from charset with crypto/rand
func RandomString(charset string, n int) (string, error) {
	max := big.NewInt(int64(len(charset)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = charset[idx.Int64()]
	}
	return string(b), nil
}

func (s *VoucherService) normalize(ctx context.Context, req *GenerateRequest) error {
	if req.Count < 1 || req.Count > MaxBatchSize {
		return invalid("count must be between 1 and %d", MaxBatchSize)
	}
	if req.Length == 0 {
		req.Length = s.settings.Int(ctx, models.SettingVoucherDefaultLength, 6)
	}
	if req.Length < MinCodeLength || req.Length > MaxCodeLength {
		return invalid("length must be between %d and %d", MinCodeLength, MaxCodeLength)
	}
	if req.Charset == "" {
		req.Charset = models.Charset(s.settings.String(ctx, models.SettingVoucherCharset, string(models.CharsetAlnum)))
	}
	alphabet, ok := charsets[req.Charset]
	if !ok {
		return invalid("unknown charset %q", req.Charset)
	}
	if req.UserMode == "" {
		req.UserMode = models.UserModeVoucher
	}
	if req.UserMode != models.UserModeVoucher && req.UserMode != models.UserModeUserPass {
		return invalid("user_mode must be voucher or userpass")
	}
	req.Prefix = strings.TrimSpace(req.Prefix)
	if len(req.Prefix) > maxPrefixLen {
		return invalid("prefix is longer than %d characters", maxPrefixLen)
	}
	for _, r := range req.Prefix {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_') {
			return invalid("prefix may only contain letters, digits, '-' and '_'")
		}
	}
	// leave room so collision retries converge
	space := math.Pow(float64(len(alphabet)), float64(req.Length))
	if float64(req.Count)*4 > space {
		return invalid("length %d with charset %s is too short for %d vouchers", req.Length, req.Charset, req.Count)
	}
	if req.PriceSell != nil && *req.PriceSell < 0 {
		return invalid("price_sell must not be negative")
	}
	return nil
}

// GenerateBatch creates count vouchers with unique codes, stores them in one
// transaction and pushes them to the profile's router. Router failures do
// not fail the batch: the vouchers stay unsynced and are retried.
func (s *VoucherService) GenerateBatch(ctx context.Context, req GenerateRequest) (*BatchResult, error) {
	if err := s.normalize(ctx, &req); err != nil {
		return nil, err
	}

	var profile models.Profile
	if err := s.db.WithContext(ctx).First(&profile, req.ProfileID).Error; err != nil {
		return nil, notFound(err, "profile")
	}
	if profile.Type != models.ProfileTypeHotspot {
		return nil, invalid("vouchers need a hotspot profile")
	}
	if !profile.IsActive {
		return nil, invalid("profile %s is inactive", profile.Name)
	}
	var vendor *models.Vendor
	if req.VendorID != nil && *req.VendorID > 0 {
		vendor = &models.Vendor{}
		if err := s.db.WithContext(ctx).First(vendor, *req.VendorID).Error; err != nil {
			return nil, notFound(err, "vendor")
		}
	} else {
		req.VendorID = nil
	}

	codes, err := s.uniqueCodes(ctx, req)
	if err != nil {
		return nil, err
	}

	priceSell := profile.SellingPrice
	if req.PriceSell != nil {
		priceSell = *req.PriceSell
	}

	batch := &models.VoucherBatch{
		ID:         uuid.NewString(),
		ProfileID:  profile.ID,
		RouterID:   profile.RouterID,
		VendorID:   req.VendorID,
		Count:      req.Count,
		Prefix:     req.Prefix,
		CodeLength: req.Length,
		Charset:    req.Charset,
		UserMode:   req.UserMode,
		PriceBuy:   profile.Price,
		PriceSell:  priceSell,
		Note:       req.Note,
		CreatedBy:  req.CreatedBy,
	}

	vouchers := make([]models.Voucher, len(codes))
	for i, code := range codes {
		password := code
		if req.UserMode == models.UserModeUserPass {
			if password, err = RandomString(charsets[req.Charset], req.Length); err != nil {
				return nil, err
			}
		}
		vouchers[i] = models.Voucher{
			Code:      code,
			Password:  password,
			BatchID:   batch.ID,
			ProfileID: profile.ID,
			RouterID:  profile.RouterID,
			VendorID:  req.VendorID,
			PriceBuy:  profile.Price,
			PriceSell: priceSell,
			Status:    models.VoucherStatusUnused,
		}
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(batch).Error; err != nil {
			return err
		}
		return tx.CreateInBatches(&vouchers, 500).Error
	})
	if err != nil {
		return nil, fmt.Errorf("save batch: %w", err)
	}

	metrics.VouchersGenerated.Add(float64(len(vouchers)))
	database.InvalidateDashboardCache()

	for i := range vouchers {
		vouchers[i].Profile = &profile
	}
	batch.Profile = &profile
	batch.Vendor = vendor

	result := &BatchResult{Batch: batch, Vouchers: vouchers}
	n, syncErr := s.prov.SyncVouchers(ctx, vouchers)
	result.Synced = n
	if syncErr != nil {
		result.SyncError = syncErr.Error()
	}
	for i := range vouchers {
		vouchers[i].Synced = syncErr == nil
	}

	log.WithFields(log.Fields{
		"batch":   batch.ID,
		"profile": profile.Name,
		"count":   len(vouchers),
		"synced":  n,
	}).Info("Voucher batch generated")
	return result, nil
}

// uniqueCodes draws codes until count are unique within the batch and not
// present in the table
func (s *VoucherService) uniqueCodes(ctx context.Context, req GenerateRequest) ([]string, error) {
	alphabet := charsets[req.Charset]
	codes := make([]string, 0, req.Count)
	seen := make(map[string]bool, req.Count)

	for round := 0; round < codeRetries && len(codes) < req.Count; round++ {
		var candidates []string
		for len(codes)+len(candidates) < req.Count {
			body, err := RandomString(alphabet, req.Length)
			if err != nil {
				return nil, err
			}
			code := req.Prefix + body
			if seen[code] {
				continue
			}
			seen[code] = true
			candidates = append(candidates, code)
		}

		taken := make(map[string]bool)
		for start := 0; start < len(candidates); start += 500 {
			end := start + 500
			if end > len(candidates) {
				end = len(candidates)
			}
			var existing []string
			err := s.db.WithContext(ctx).Model(&models.Voucher{}).
				Where("code IN ?", candidates[start:end]).
				Pluck("code", &existing).Error
			if err != nil {
				return nil, err
			}
			for _, c := range existing {
				taken[c] = true
			}
		}
		for _, c := range candidates {
			if !taken[c] {
				codes = append(codes, c)
			}
		}
	}

	if len(codes) < req.Count {
		return nil, fmt.Errorf("could not draw %d unique codes: %w", req.Count, ErrConflict)
	}
	return codes, nil
}

// List returns a page of vouchers and the total matching count
func (s *VoucherService) List(ctx context.Context, f VoucherFilter) ([]models.Voucher, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.Voucher{})
	if f.BatchID != "" {
		q = q.Where("batch_id = ?", f.BatchID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.ProfileID > 0 {
		q = q.Where("profile_id = ?", f.ProfileID)
	}
	if f.RouterID > 0 {
		q = q.Where("router_id = ?", f.RouterID)
	}
	if f.VendorID > 0 {
		q = q.Where("vendor_id = ?", f.VendorID)
	}
	if f.Search != "" {
		q = q.Where("code LIKE ?", "%"+f.Search+"%")
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page, limit := pageBounds(f.Page, f.Limit)
	var vouchers []models.Voucher
	err := q.Preload("Profile").Preload("Vendor").
		Order("id DESC").Offset((page - 1) * limit).Limit(limit).
		Find(&vouchers).Error
	return vouchers, total, err
}

// Get returns one voucher with its profile and vendor
func (s *VoucherService) Get(ctx context.Context, id uint) (*models.Voucher, error) {
	var v models.Voucher
	if err := s.db.WithContext(ctx).Preload("Profile").Preload("Vendor").First(&v, id).Error; err != nil {
		return nil, notFound(err, "voucher")
	}
	return &v, nil
}

// GetByCode returns the voucher with code
func (s *VoucherService) GetByCode(ctx context.Context, code string) (*models.Voucher, error) {
	var v models.Voucher
	if err := s.db.WithContext(ctx).Preload("Profile").Where("code = ?", code).First(&v).Error; err != nil {
		return nil, notFound(err, "voucher")
	}
	return &v, nil
}

// Disable blocks an unused or active voucher and ends its session
func (s *VoucherService) Disable(ctx context.Context, id uint) (*models.Voucher, error) {
	v, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if v.Status != models.VoucherStatusUnused && v.Status != models.VoucherStatusActive {
		return nil, invalid("voucher is %s", v.Status)
	}

	v.Status = models.VoucherStatusDisabled
	if err := s.db.WithContext(ctx).Model(v).Update("status", v.Status).Error; err != nil {
		return nil, err
	}
	if err := s.prov.SyncVoucher(ctx, v); err != nil {
		log.WithError(err).WithField("voucher", v.Code).Warn("Failed to disable voucher on router")
	} else if _, err := s.prov.KickSession(ctx, v.RouterID, provision.SessionHotspot, v.Code); err != nil {
		log.WithError(err).WithField("voucher", v.Code).Warn("Failed to end voucher session")
	}
	return v, nil
}

// Enable reverts Disable; the voucher is active again if it was ever used
func (s *VoucherService) Enable(ctx context.Context, id uint) (*models.Voucher, error) {
	v, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if v.Status != models.VoucherStatusDisabled {
		return nil, invalid("voucher is %s", v.Status)
	}
	if v.ExpiresAt != nil && v.ExpiresAt.Before(s.now()) {
		return nil, ErrVoucherExpired
	}

	v.Status = models.VoucherStatusUnused
	if v.FirstLogin != nil {
		v.Status = models.VoucherStatusActive
	}
	if err := s.db.WithContext(ctx).Model(v).Update("status", v.Status).Error; err != nil {
		return nil, err
	}
	if err := s.prov.SyncVoucher(ctx, v); err != nil {
		log.WithError(err).WithField("voucher", v.Code).Warn("Failed to enable voucher on router")
	}
	return v, nil
}

// Delete removes a voucher from its router and the database
func (s *VoucherService) Delete(ctx context.Context, id uint) error {
	_, err := s.DeleteMany(ctx, []uint{id})
	return err
}

// DeleteMany removes vouchers by id and returns how many were deleted
func (s *VoucherService) DeleteMany(ctx context.Context, ids []uint) (int, error) {
	if len(ids) == 0 {
		return 0, invalid("no voucher ids given")
	}
	var vouchers []models.Voucher
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&vouchers).Error; err != nil {
		return 0, err
	}
	if len(vouchers) == 0 {
		return 0, fmt.Errorf("voucher %w", ErrNotFound)
	}

	if err := s.prov.DeleteVouchers(ctx, vouchers); err != nil && !isQueued(err) {
		log.WithError(err).Warn("Some vouchers could not be removed from the router")
	}

	found := make([]uint, len(vouchers))
	for i, v := range vouchers {
		found[i] = v.ID
	}
	if err := s.db.WithContext(ctx).Where("id IN ?", found).Delete(&models.Voucher{}).Error; err != nil {
		return 0, err
	}
	database.InvalidateDashboardCache()
	return len(found), nil
}

// DeleteBatch removes a batch. Unless force is set it refuses batches that
// have vouchers other than unused ones.
func (s *VoucherService) DeleteBatch(ctx context.Context, batchID string, force bool) (int, error) {
	var batch models.VoucherBatch
	if err := s.db.WithContext(ctx).First(&batch, "id = ?", batchID).Error; err != nil {
		return 0, notFound(err, "batch")
	}

	var vouchers []models.Voucher
	if err := s.db.WithContext(ctx).Where("batch_id = ?", batchID).Find(&vouchers).Error; err != nil {
		return 0, err
	}
	if !force {
		for _, v := range vouchers {
			if v.Status != models.VoucherStatusUnused {
				return 0, fmt.Errorf("batch has %s vouchers, use force: %w", v.Status, ErrInUse)
			}
		}
	}

	if _, err := s.prov.DeleteBatch(ctx, &batch, vouchers); err != nil && !isQueued(err) {
		log.WithError(err).WithField("batch", batchID).Warn("Batch could not be removed from the router")
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("batch_id = ?", batchID).Delete(&models.Voucher{}).Error; err != nil {
			return err
		}
		return tx.Delete(&batch).Error
	})
	if err != nil {
		return 0, err
	}
	database.InvalidateDashboardCache()
	log.WithFields(log.Fields{"batch": batchID, "count": len(vouchers)}).Info("Voucher batch deleted")
	return len(vouchers), nil
}

// Redeem activates an unused voucher and starts its validity period
func (s *VoucherService) Redeem(ctx context.Context, code string) (*models.Voucher, error) {
	v, err := s.GetByCode(ctx, strings.TrimSpace(code))
	if err != nil {
		return nil, err
	}
	now := s.now()
	switch v.Status {
	case models.VoucherStatusUnused:
	case models.VoucherStatusActive, models.VoucherStatusUsed:
		return nil, ErrVoucherUsed
	case models.VoucherStatusExpired:
		return nil, ErrVoucherExpired
	case models.VoucherStatusDisabled:
		return nil, ErrVoucherBlocked
	}

	activate(v, v.Profile, now)
	err = s.db.WithContext(ctx).Model(v).Updates(map[string]interface{}{
		"status":      v.Status,
		"first_login": v.FirstLogin,
		"expires_at":  v.ExpiresAt,
	}).Error
	if err != nil {
		return nil, err
	}
	return v, nil
}

// activate marks v active as of now and computes its expiry from validity
func activate(v *models.Voucher, profile *models.Profile, now time.Time) {
	v.Status = models.VoucherStatusActive
	v.FirstLogin = &now
	if profile == nil {
		return
	}
	if validity, err := mikrotik.ParseDuration(profile.Validity); err == nil && validity > 0 {
		exp := now.Add(validity)
		v.ExpiresAt = &exp
	}
}

// SyncUsage reads hotspot users and sessions from a router. Vouchers seen
// for the first time become active, counters are copied and vouchers that
// hit their quota or uptime limit become used.
func (s *VoucherService) SyncUsage(ctx context.Context, routerID uint) (*UsageReport, error) {
	var vouchers []models.Voucher
	err := s.db.WithContext(ctx).Preload("Profile").
		Where("router_id = ? AND status IN ?", routerID, []models.VoucherStatus{
			models.VoucherStatusUnused, models.VoucherStatusActive,
		}).
		Find(&vouchers).Error
	if err != nil {
		return nil, err
	}
	report := &UsageReport{}
	if len(vouchers) == 0 {
		return report, nil
	}

	rc, err := s.prov.Client(ctx, routerID)
	if err != nil {
		return nil, err
	}
	users, err := rc.ListHotspotUsers(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list hotspot users: %w", err)
	}
	active, err := rc.ListHotspotActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list hotspot active: %w", err)
	}

	userByName := make(map[string]mikrotik.HotspotUser, len(users))
	for _, u := range users {
		userByName[u.Name] = u
	}
	sessionByUser := make(map[string]mikrotik.HotspotActive, len(active))
	for _, a := range active {
		sessionByUser[a.User] = a
	}

	now := s.now()
	for i := range vouchers {
		v := &vouchers[i]
		u, known := userByName[v.Code]
		sess, online := sessionByUser[v.Code]
		if !known && !online {
			continue
		}

		uptime, _ := mikrotik.ParseDuration(u.Uptime)
		bytes := u.BytesIn + u.BytesOut
		if online {
			if d, _ := mikrotik.ParseDuration(sess.Uptime); d > uptime {
				uptime = d
			}
			if b := sess.BytesIn + sess.BytesOut; b > bytes {
				bytes = b
			}
		}

		updates := map[string]interface{}{}
		if v.Status == models.VoucherStatusUnused && (online || uptime > 0 || bytes > 0) {
			activate(v, v.Profile, now)
			updates["status"] = v.Status
			updates["first_login"] = v.FirstLogin
			updates["expires_at"] = v.ExpiresAt
			report.Activated++
		}
		if online && sess.MACAddress != "" && sess.MACAddress != v.UsedByMAC {
			updates["used_by_mac"] = sess.MACAddress
		}
		if secs := int64(uptime / time.Second); secs != v.UptimeUsed {
			updates["uptime_used"] = secs
		}
		if bytes != v.BytesUsed {
			updates["bytes_used"] = bytes
		}
		if exhausted(v.Profile, bytes, uptime) && !online {
			updates["status"] = models.VoucherStatusUsed
			report.Used++
		}
		if len(updates) == 0 {
			continue
		}
		if err := s.db.WithContext(ctx).Model(v).Updates(updates).Error; err != nil {
			return report, err
		}
		report.Updated++
	}

	if report.Activated > 0 || report.Used > 0 {
		database.InvalidateDashboardCache()
	}
	return report, nil
}

// exhausted reports whether a voucher reached its quota or uptime limit
func exhausted(p *models.Profile, bytes int64, uptime time.Duration) bool {
	if p == nil {
		return false
	}
	if p.QuotaBytes > 0 && bytes >= p.QuotaBytes {
		return true
	}
	limit, err := mikrotik.ParseDuration(p.SessionTimeout)
	return err == nil && limit > 0 && uptime >= limit
}

// ExpireDue marks active vouchers past their expiry as expired and removes
// them from their routers
func (s *VoucherService) ExpireDue(ctx context.Context) (int, error) {
	var vouchers []models.Voucher
	err := s.db.WithContext(ctx).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at < ?", models.VoucherStatusActive, s.now()).
		Find(&vouchers).Error
	if err != nil || len(vouchers) == 0 {
		return 0, err
	}

	if err := s.prov.DeleteVouchers(ctx, vouchers); err != nil && !isQueued(err) {
		log.WithError(err).Warn("Some expired vouchers could not be removed from the router")
	}

	ids := make([]uint, len(vouchers))
	for i, v := range vouchers {
		ids[i] = v.ID
	}
	err = s.db.WithContext(ctx).Model(&models.Voucher{}).Where("id IN ?", ids).
		Updates(map[string]interface{}{"status": models.VoucherStatusExpired, "synced": false}).Error
	if err != nil {
		return 0, err
	}

	database.InvalidateDashboardCache()
	log.WithField("count", len(ids)).Info("Expired vouchers removed")
	return len(ids), nil
}

// ListBatches returns batch summaries, newest first
func (s *VoucherService) ListBatches(ctx context.Context, profileID, vendorID uint) ([]BatchSummary, error) {
	q := s.db.WithContext(ctx).Preload("Profile").Preload("Vendor").Order("created_at DESC")
	if profileID > 0 {
		q = q.Where("profile_id = ?", profileID)
	}
	if vendorID > 0 {
		q = q.Where("vendor_id = ?", vendorID)
	}
	var batches []models.VoucherBatch
	if err := q.Find(&batches).Error; err != nil {
		return nil, err
	}
	if len(batches) == 0 {
		return []BatchSummary{}, nil
	}

	ids := make([]string, len(batches))
	for i, b := range batches {
		ids[i] = b.ID
	}
	counts, err := s.statusCounts(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]BatchSummary, len(batches))
	for i := range batches {
		out[i] = summarize(&batches[i], counts[batches[i].ID])
	}
	return out, nil
}

// BatchSummary returns the counts of one batch
func (s *VoucherService) BatchSummary(ctx context.Context, batchID string) (*BatchSummary, error) {
	var batch models.VoucherBatch
	if err := s.db.WithContext(ctx).Preload("Profile").Preload("Vendor").First(&batch, "id = ?", batchID).Error; err != nil {
		return nil, notFound(err, "batch")
	}
	counts, err := s.statusCounts(ctx, []string{batchID})
	if err != nil {
		return nil, err
	}
	sum := summarize(&batch, counts[batchID])
	return &sum, nil
}

type statusRow struct {
	BatchID string
	Status  models.VoucherStatus
	Count   int64
	Revenue float64
}

func (s *VoucherService) statusCounts(ctx context.Context, batchIDs []string) (map[string][]statusRow, error) {
	var rows []statusRow
	err := s.db.WithContext(ctx).Model(&models.Voucher{}).
		Select("batch_id, status, COUNT(*) AS count, COALESCE(SUM(price_sell), 0) AS revenue").
		Where("batch_id IN ?", batchIDs).
		Group("batch_id, status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string][]statusRow)
	for _, r := range rows {
		out[r.BatchID] = append(out[r.BatchID], r)
	}
	return out, nil
}

func summarize(b *models.VoucherBatch, rows []statusRow) BatchSummary {
	sum := BatchSummary{
		BatchID:   b.ID,
		ProfileID: b.ProfileID,
		VendorID:  b.VendorID,
		CreatedAt: b.CreatedAt,
	}
	if b.Profile != nil {
		sum.ProfileName = b.Profile.Name
	}
	if b.Vendor != nil {
		sum.VendorName = b.Vendor.Name
	}
	for _, r := range rows {
		sum.Total += r.Count
		switch r.Status {
		case models.VoucherStatusUnused:
			sum.Unused = r.Count
		case models.VoucherStatusActive:
			sum.Active = r.Count
		case models.VoucherStatusUsed:
			sum.Used = r.Count
		case models.VoucherStatusExpired:
			sum.Expired = r.Count
		case models.VoucherStatusDisabled:
			sum.Disabled = r.Count
		}
		if r.Status != models.VoucherStatusUnused {
			sum.Revenue += r.Revenue
		}
	}
	return sum
}

func pageBounds(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 25
	}
	if limit > 500 {
		limit = 500
	}
	return page, limit
}
