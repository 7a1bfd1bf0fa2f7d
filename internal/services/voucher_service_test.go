package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hotspotbill/backend/internal/models"
	"github.com/hotspotbill/backend/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newVoucherService(e *env) *VoucherService {
	return NewVoucherService(e.db, e.prov, e.settings)
}

func TestGenerateBatch(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	prof := testutil.SeedProfile(t, e.db, e.router.ID, models.ProfileTypeHotspot, "1day")
	svc := newVoucherService(e)

	res, err := svc.GenerateBatch(ctx, GenerateRequest{
		ProfileID: prof.ID,
		Count:     20,
		Prefix:    "HS",
		Length:    6,
		Charset:   models.CharsetNumeric,
		CreatedBy: 7,
	})
	require.NoError(t, err)
	require.Len(t, res.Vouchers, 20)
	assert.Equal(t, 20, res.Synced)
	assert.Empty(t, res.SyncError)
	assert.Equal(t, 5000.0, res.Batch.PriceSell)
	assert.Equal(t, 4000.0, res.Batch.PriceBuy)
	assert.Equal(t, uint(7), res.Batch.CreatedBy)

	seen := map[string]bool{}
	for _, v := range res.Vouchers {
		assert.True(t, strings.HasPrefix(v.Code, "HS"), v.Code)
		assert.Len(t, v.Code, 8)
		assert.Equal(t, v.Code, v.Password)
		assert.Equal(t, models.VoucherStatusUnused, v.Status)
		assert.False(t, seen[v.Code], "duplicate code %s", v.Code)
		seen[v.Code] = true
	}
	assert.Len(t, e.srv.Rows("/ip/hotspot/user"), 20)

	var stored int64
	e.db.Model(&models.Voucher{}).Where("batch_id = ? AND synced = ?", res.Batch.ID, true).Count(&stored)
	assert.Equal(t, int64(20), stored)
}

func TestGenerateBatchDefaultsFromSettings(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	prof := testutil.SeedProfile(t, e.db, e.router.ID, models.ProfileTypeHotspot, "1day")
	require.NoError(t, e.settings.SetMany(ctx, map[string]string{
		models.SettingVoucherDefaultLength: "9",
		models.SettingVoucherCharset:       string(models.CharsetLower),
	}))
	price := 3000.0

	res, err := newVoucherService(e).GenerateBatch(ctx, GenerateRequest{
		ProfileID: prof.ID,
		Count:     3,
		UserMode:  models.UserModeUserPass,
		PriceSell: &price,
	})
	require.NoError(t, err)
	assert.Equal(t, 9, res.Batch.CodeLength)
	assert.Equal(t, models.CharsetLower, res.Batch.Charset)
	for _, v := range res.Vouchers {
		assert.Len(t, v.Code, 9)
		assert.Equal(t, strings.ToLower(v.Code), v.Code)
		assert.NotEqual(t, v.Code, v.Password)
		assert.Equal(t, 3000.0, v.PriceSell)
	}
}

func TestGenerateBatchValidation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	hs := testutil.SeedProfile(t, e.db, e.router.ID, models.ProfileTypeHotspot, "1day")
	ppp := testutil.SeedProfile(t, e.db, e.router.ID, models.ProfileTypePPPoE, "10mbps")
	svc := newVoucherService(e)

	tests := []struct {
		name string
		req  GenerateRequest
	}{
		{"zero count", GenerateRequest{ProfileID: hs.ID}},
		{"too many", GenerateRequest{ProfileID: hs.ID, Count: MaxBatchSize + 1}},
		{"short code", GenerateRequest{ProfileID: hs.ID, Count: 1, Length: 3}},
		{"long code", GenerateRequest{ProfileID: hs.ID, Count: 1, Length: 17}},
		{"unknown charset", GenerateRequest{ProfileID: hs.ID, Count: 1, Charset: "emoji"}},
		{"bad prefix", GenerateRequest{ProfileID: hs.ID, Count: 1, Prefix: "a b"}},
		{"code space too small", GenerateRequest{ProfileID: hs.ID, Count: 5000, Length: 4, Charset: models.CharsetNumeric}},
		{"bad user mode", GenerateRequest{ProfileID: hs.ID, Count: 1, UserMode: "mac"}},
		{"pppoe profile", GenerateRequest{ProfileID: ppp.ID, Count: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.GenerateBatch(ctx, tt.req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidInput), err.Error())
		})
	}

	_, err := svc.GenerateBatch(ctx, GenerateRequest{ProfileID: 999, Count: 1})
	assert.True(t, errors.Is(err, ErrNotFound))

	var count int64
	e.db.Model(&models.Voucher{}).Count(&count)
	assert.Zero(t, count)
}

func TestGenerateBatchRouterDown(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	prof := testutil.SeedProfile(t, e.db, e.router.ID, models.ProfileTypeHotspot, "1day")
	e.routerDown(t)

	res, err := newVoucherService(e).GenerateBatch(ctx, GenerateRequest{ProfileID: prof.ID, Count: 5})
	require.NoError(t, err)
	assert.Zero(t, res.Synced)
	assert.NotEmpty(t, res.SyncError)
	assert.Positive(t, e.queue.Len())

	var stored int64
	e.db.Model(&models.Voucher{}).Where("synced = ?", false).Count(&stored)
	assert.Equal(t, int64(5), stored)
}

func TestRedeem(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	prof := testutil.SeedProfile(t, e.db, e.router.ID, models.ProfileTypeHotspot, "1day")
	svc := newVoucherService(e)
	now, _ := clock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	svc.now = now

	res, err := svc.GenerateBatch(ctx, GenerateRequest{ProfileID: prof.ID, Count: 3})
	require.NoError(t, err)
	code := res.Vouchers[0].Code

	v, err := svc.Redeem(ctx, " "+code+" ")
	require.NoError(t, err)
	assert.Equal(t, models.VoucherStatusActive, v.Status)
	require.NotNil(t, v.ExpiresAt)
	assert.Equal(t, now().Add(24*time.Hour), *v.ExpiresAt)

	_, err = svc.Redeem(ctx, code)
	assert.ErrorIs(t, err, ErrVoucherUsed)

	_, err = svc.Disable(ctx, res.Vouchers[1].ID)
	require.NoError(t, err)
	_, err = svc.Redeem(ctx, res.Vouchers[1].Code)
	assert.ErrorIs(t, err, ErrVoucherBlocked)

	_, err = svc.Redeem(ctx, "NOPE")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDisableEnable(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	prof := testutil.SeedProfile(t, e.db, e.router.ID, models.ProfileTypeHotspot, "1day")
	svc := newVoucherService(e)

	res, err := svc.GenerateBatch(ctx, GenerateRequest{ProfileID: prof.ID, Count: 1})
	require.NoError(t, err)
	v := res.Vouchers[0]
	e.srv.Seed("/ip/hotspot/active", map[string]string{"user": v.Code, "address": "10.5.50.9"})

	disabled, err := svc.Disable(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VoucherStatusDisabled, disabled.Status)
	assert.Equal(t, "true", e.srv.Find("/ip/hotspot/user", v.Code)["disabled"])
	assert.Empty(t, e.srv.Rows("/ip/hotspot/active"))

	_, err = svc.Disable(ctx, v.ID)
	assert.ErrorIs(t, err, ErrInvalidInput)

	enabled, err := svc.Enable(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VoucherStatusUnused, enabled.Status)
	assert.Equal(t, "false", e.srv.Find("/ip/hotspot/user", v.Code)["disabled"])
}

func TestDeleteBatch(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	prof := testutil.SeedProfile(t, e.db, e.router.ID, models.ProfileTypeHotspot, "1day")
	svc := newVoucherService(e)

	res, err := svc.GenerateBatch(ctx, GenerateRequest{ProfileID: prof.ID, Count: 4})
	require.NoError(t, err)
	_, err = svc.Redeem(ctx, res.Vouchers[0].Code)
	require.NoError(t, err)

	_, err = svc.DeleteBatch(ctx, res.Batch.ID, false)
	assert.ErrorIs(t, err, ErrInUse)

	n, err := svc.DeleteBatch(ctx, res.Batch.ID, true)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Empty(t, e.srv.Rows("/ip/hotspot/user"))

	var left int64
	e.db.Model(&models.Voucher{}).Count(&left)
	assert.Zero(t, left)
	_, err = svc.BatchSummary(ctx, res.Batch.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteMany(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	prof := testutil.SeedProfile(t, e.db, e.router.ID, models.ProfileTypeHotspot, "1day")
	svc := newVoucherService(e)

	res, err := svc.GenerateBatch(ctx, GenerateRequest{ProfileID: prof.ID, Count: 3})
	require.NoError(t, err)

	n, err := svc.DeleteMany(ctx, []uint{res.Vouchers[0].ID, res.Vouchers[1].ID, 9999})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, e.srv.Rows("/ip/hotspot/user"), 1)

	_, err = svc.DeleteMany(ctx, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.DeleteMany(ctx, []uint{9999})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSyncUsage(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	prof := testutil.SeedProfile(t, e.db, e.router.ID, models.ProfileTypeHotspot, "1day")
	svc := newVoucherService(e)
	now, _ := clock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	svc.now = now

	vouchers := []models.Voucher{
		{Code: "IDLE01", Password: "IDLE01", BatchID: "b", ProfileID: prof.ID, RouterID: e.router.ID, Status: models.VoucherStatusUnused},
		{Code: "ONLINE", Password: "ONLINE", BatchID: "b", ProfileID: prof.ID, RouterID: e.router.ID, Status: models.VoucherStatusUnused},
		{Code: "SPENT1", Password: "SPENT1", BatchID: "b", ProfileID: prof.ID, RouterID: e.router.ID, Status: models.VoucherStatusUnused},
	}
	require.NoError(t, e.db.Create(&vouchers).Error)

	e.srv.Seed("/ip/hotspot/user", map[string]string{"name": "IDLE01", "profile": "1day"})
	e.srv.Seed("/ip/hotspot/user", map[string]string{"name": "ONLINE", "profile": "1day", "uptime": "10m", "bytes-in": "100", "bytes-out": "50"})
	e.srv.Seed("/ip/hotspot/active", map[string]string{"user": "ONLINE", "uptime": "20m", "bytes-in": "1000", "bytes-out": "500", "mac-address": "AA:BB:CC:DD:EE:FF"})
	e.srv.Seed("/ip/hotspot/user", map[string]string{"name": "SPENT1", "profile": "1day", "uptime": "1h", "bytes-in": "1073741824", "bytes-out": "0"})

	rep, err := svc.SyncUsage(ctx, e.router.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Activated)
	assert.Equal(t, 1, rep.Used)

	var idle, online, spent models.Voucher
	require.NoError(t, e.db.Where("code = ?", "IDLE01").First(&idle).Error)
	require.NoError(t, e.db.Where("code = ?", "ONLINE").First(&online).Error)
	require.NoError(t, e.db.Where("code = ?", "SPENT1").First(&spent).Error)

	assert.Equal(t, models.VoucherStatusUnused, idle.Status)
	assert.Equal(t, models.VoucherStatusActive, online.Status)
	assert.Equal(t, int64(1500), online.BytesUsed)
	assert.Equal(t, int64(1200), online.UptimeUsed)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", online.UsedByMAC)
	require.NotNil(t, online.ExpiresAt)
	assert.Equal(t, models.VoucherStatusUsed, spent.Status)
}

func TestExpireDue(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	prof := testutil.SeedProfile(t, e.db, e.router.ID, models.ProfileTypeHotspot, "1day")
	svc := newVoucherService(e)
	now, advance := clock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	svc.now = now

	res, err := svc.GenerateBatch(ctx, GenerateRequest{ProfileID: prof.ID, Count: 2})
	require.NoError(t, err)
	_, err = svc.Redeem(ctx, res.Vouchers[0].Code)
	require.NoError(t, err)

	n, err := svc.ExpireDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	advance(25 * time.Hour)
	n, err = svc.ExpireDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Nil(t, e.srv.Find("/ip/hotspot/user", res.Vouchers[0].Code))
	assert.NotNil(t, e.srv.Find("/ip/hotspot/user", res.Vouchers[1].Code))

	v, err := svc.Get(ctx, res.Vouchers[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.VoucherStatusExpired, v.Status)

	_, err = svc.Enable(ctx, v.ID)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestListAndBatchSummary(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	prof := testutil.SeedProfile(t, e.db, e.router.ID, models.ProfileTypeHotspot, "1day")
	svc := newVoucherService(e)

	first, err := svc.GenerateBatch(ctx, GenerateRequest{ProfileID: prof.ID, Count: 5, Prefix: "A"})
	require.NoError(t, err)
	_, err = svc.GenerateBatch(ctx, GenerateRequest{ProfileID: prof.ID, Count: 3, Prefix: "B"})
	require.NoError(t, err)
	_, err = svc.Redeem(ctx, first.Vouchers[0].Code)
	require.NoError(t, err)

	page, total, err := svc.List(ctx, VoucherFilter{BatchID: first.Batch.ID, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Len(t, page, 2)

	_, total, err = svc.List(ctx, VoucherFilter{Status: models.VoucherStatusActive})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)

	sum, err := svc.BatchSummary(ctx, first.Batch.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), sum.Total)
	assert.Equal(t, int64(4), sum.Unused)
	assert.Equal(t, int64(1), sum.Active)
	assert.Equal(t, 5000.0, sum.Revenue)
	assert.Equal(t, "1day", sum.ProfileName)

	batches, err := svc.ListBatches(ctx, prof.ID, 0)
	require.NoError(t, err)
	assert.Len(t, batches, 2)
}
