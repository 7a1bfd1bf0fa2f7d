package provision

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/hotspotbill/backend/internal/mikrotik"
	"github.com/hotspotbill/backend/internal/mikrotik/routerostest"
	"github.com/hotspotbill/backend/internal/models"
	"github.com/hotspotbill/backend/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"layeh.com/radius"
	"layeh.com/radius/rfc2865"
)

type fixture struct {
	db     *gorm.DB
	srv    *routerostest.Server
	prov   *Provisioner
	queue  *Queue
	router *models.Router
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	srv := routerostest.NewServer()
	pool := mikrotik.NewPool(mikrotik.PoolConfig{
		MaxConnections: 2,
		ConnectTimeout: time.Second,
		CommandTimeout: time.Second,
	})
	t.Cleanup(func() {
		pool.Stop()
		srv.Close()
	})

	db := testutil.NewDB(t)
	q := openTestQueue(t)
	return &fixture{
		db:     db,
		srv:    srv,
		prov:   New(db, pool, q),
		queue:  q,
		router: testutil.SeedRouter(t, db, srv.Host(), srv.Port()),
	}
}

// deadPort returns a loopback port nothing listens on
func deadPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func seedVouchers(t *testing.T, db *gorm.DB, prof *models.Profile, n int) []models.Voucher {
	t.Helper()
	vouchers := make([]models.Voucher, n)
	for i := range vouchers {
		code := fmt.Sprintf("V%05d", i)
		vouchers[i] = models.Voucher{
			Code:      code,
			Password:  code,
			BatchID:   "batch-1",
			ProfileID: prof.ID,
			RouterID:  prof.RouterID,
			Status:    models.VoucherStatusUnused,
		}
	}
	require.NoError(t, db.Create(&vouchers).Error)
	return vouchers
}

func TestSyncProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	hs := testutil.SeedProfile(t, f.db, f.router.ID, models.ProfileTypeHotspot, "1day")
	require.NoError(t, f.prov.SyncProfile(ctx, hs))

	row := f.srv.Find("/ip/hotspot/user/profile", "1day")
	require.NotNil(t, row)
	assert.Equal(t, "2M/2M", row["rate-limit"])
	assert.Equal(t, "3h", row["session-timeout"])

	var stored models.Profile
	require.NoError(t, f.db.First(&stored, hs.ID).Error)
	assert.True(t, stored.Synced)

	ppp := testutil.SeedProfile(t, f.db, f.router.ID, models.ProfileTypePPPoE, "10mbps")
	ppp.LocalAddress = "10.10.0.1"
	ppp.RemoteAddress = "pool-pppoe"
	require.NoError(t, f.prov.SyncProfile(ctx, ppp))
	row = f.srv.Find("/ppp/profile", "10mbps")
	require.NotNil(t, row)
	assert.Equal(t, "pool-pppoe", row["remote-address"])
	assert.Equal(t, "true", row["only-one"])

	require.NoError(t, f.prov.DeleteProfile(ctx, ppp))
	assert.Nil(t, f.srv.Find("/ppp/profile", "10mbps"))
	// deleting twice is not an error
	require.NoError(t, f.prov.DeleteProfile(ctx, ppp))
}

func TestSyncVouchers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	prof := testutil.SeedProfile(t, f.db, f.router.ID, models.ProfileTypeHotspot, "1day")
	vouchers := seedVouchers(t, f.db, prof, 25)

	n, err := f.prov.SyncVouchers(ctx, vouchers)
	require.NoError(t, err)
	assert.Equal(t, 25, n)

	users := f.srv.Rows("/ip/hotspot/user")
	assert.Len(t, users, 25)
	row := f.srv.Find("/ip/hotspot/user", "V00003")
	require.NotNil(t, row)
	assert.Equal(t, "hb:batch-1", row["comment"])
	assert.Equal(t, "1day", row["profile"])
	assert.Equal(t, "1073741824", row["limit-bytes-total"])

	// the profile was pushed first
	assert.NotNil(t, f.srv.Find("/ip/hotspot/user/profile", "1day"))

	var unsynced int64
	f.db.Model(&models.Voucher{}).Where("synced = ?", false).Count(&unsynced)
	assert.Zero(t, unsynced)

	// pushing again updates instead of failing on the duplicate name
	vouchers[0].Password = "other"
	require.NoError(t, f.prov.SyncVoucher(ctx, &vouchers[0]))
	assert.Equal(t, "other", f.srv.Find("/ip/hotspot/user", "V00000")["password"])
	assert.Len(t, f.srv.Rows("/ip/hotspot/user"), 25)
}

func TestSyncVouchersQueuesWhenRouterDown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.db.Model(f.router).Update("api_port", deadPort(t)).Error)
	prof := testutil.SeedProfile(t, f.db, f.router.ID, models.ProfileTypeHotspot, "1day")
	vouchers := seedVouchers(t, f.db, prof, 10)

	n, err := f.prov.SyncVouchers(ctx, vouchers)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrQueued))
	assert.Zero(t, n)
	// ten vouchers plus the profile
	assert.Equal(t, 11, f.queue.Len())

	// router comes back
	require.NoError(t, f.db.Model(f.router).Update("api_port", f.srv.Port()).Error)
	w := NewWorker(f.prov, time.Second, 5)
	done := w.Drain(ctx)
	assert.Equal(t, 11, done)
	assert.Zero(t, f.queue.Len())
	assert.Len(t, f.srv.Rows("/ip/hotspot/user"), 10)

	var synced int64
	f.db.Model(&models.Voucher{}).Where("synced = ?", true).Count(&synced)
	assert.Equal(t, int64(10), synced)
}

func TestSyncVouchersTrapIsNotQueued(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	prof := testutil.SeedProfile(t, f.db, f.router.ID, models.ProfileTypeHotspot, "1day")
	vouchers := seedVouchers(t, f.db, prof, 3)
	f.srv.Fail("/ip/hotspot/user/add", "input does not match any value of profile")

	_, err := f.prov.SyncVouchers(ctx, vouchers)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrQueued))
	assert.True(t, mikrotik.IsTrap(err))
	assert.Zero(t, f.queue.Len())
}

func TestDisabledRouterIsNotQueued(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	prof := testutil.SeedProfile(t, f.db, f.router.ID, models.ProfileTypeHotspot, "1day")
	require.NoError(t, f.db.Model(f.router).Update("is_active", false).Error)

	err := f.prov.SyncProfile(ctx, prof)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRouterDisabled)
	assert.False(t, errors.Is(err, ErrQueued))
	assert.Zero(t, f.queue.Len())

	// a change queued before the router was switched off is dropped on replay
	require.NoError(t, f.queue.Enqueue(Job{Kind: KindProfileSync, EntityID: prof.ID, RouterID: f.router.ID, Name: prof.Name}))
	w := NewWorker(f.prov, time.Minute, 5)
	assert.Zero(t, w.Drain(ctx))
	assert.Zero(t, f.queue.Len())
}

func TestDeleteVouchersAndBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	prof := testutil.SeedProfile(t, f.db, f.router.ID, models.ProfileTypeHotspot, "1day")
	vouchers := seedVouchers(t, f.db, prof, 4)
	_, err := f.prov.SyncVouchers(ctx, vouchers)
	require.NoError(t, err)
	f.srv.Seed("/ip/hotspot/active", map[string]string{"user": "V00000", "address": "10.5.50.2"})

	require.NoError(t, f.prov.DeleteVoucher(ctx, &vouchers[0]))
	assert.Nil(t, f.srv.Find("/ip/hotspot/user", "V00000"))
	assert.Empty(t, f.srv.Rows("/ip/hotspot/active"))

	batch := &models.VoucherBatch{ID: "batch-1", RouterID: f.router.ID}
	removed, err := f.prov.DeleteBatch(ctx, batch, vouchers[1:])
	require.NoError(t, err)
	assert.Equal(t, 3, removed)
	assert.Empty(t, f.srv.Rows("/ip/hotspot/user"))
}

func seedSubscription(t *testing.T, db *gorm.DB, prof *models.Profile) *models.Subscription {
	t.Helper()
	cust := &models.Customer{Name: "Budi", Phone: "0812", Status: models.CustomerStatusActive}
	require.NoError(t, db.Create(cust).Error)
	s := &models.Subscription{
		CustomerID:  cust.ID,
		ProfileID:   prof.ID,
		RouterID:    prof.RouterID,
		Username:    "budi",
		Password:    "rahasia",
		Service:     "pppoe",
		Status:      models.SubscriptionStatusActive,
		BillingDay:  5,
		Price:       150000,
		NextDueDate: time.Now().AddDate(0, 1, 0),
	}
	require.NoError(t, db.Create(s).Error)
	return s
}

func TestSubscriptionLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	prof := testutil.SeedProfile(t, f.db, f.router.ID, models.ProfileTypePPPoE, "10mbps")
	sub := seedSubscription(t, f.db, prof)

	require.NoError(t, f.prov.SyncSubscription(ctx, sub))
	row := f.srv.Find("/ppp/secret", "budi")
	require.NotNil(t, row)
	assert.Equal(t, "10mbps", row["profile"])
	assert.Equal(t, "pppoe", row["service"])
	assert.Equal(t, fmt.Sprintf("hb:cust:%d", sub.CustomerID), row["comment"])
	assert.Equal(t, "false", row["disabled"])
	assert.NotNil(t, f.srv.Find("/ppp/profile", "10mbps"))

	f.srv.Seed("/ppp/active", map[string]string{"name": "budi", "address": "10.10.0.20"})
	sub.Status = models.SubscriptionStatusSuspended
	require.NoError(t, f.prov.SuspendSubscription(ctx, sub))
	assert.Equal(t, "true", f.srv.Find("/ppp/secret", "budi")["disabled"])
	assert.Empty(t, f.srv.Rows("/ppp/active"))

	sub.Status = models.SubscriptionStatusActive
	require.NoError(t, f.prov.ResumeSubscription(ctx, sub))
	assert.Equal(t, "false", f.srv.Find("/ppp/secret", "budi")["disabled"])

	require.NoError(t, f.prov.DeleteSubscription(ctx, sub))
	assert.Nil(t, f.srv.Find("/ppp/secret", "budi"))
}

func TestSuspendQueuesKickWhenRouterDown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	prof := testutil.SeedProfile(t, f.db, f.router.ID, models.ProfileTypePPPoE, "10mbps")
	sub := seedSubscription(t, f.db, prof)
	require.NoError(t, f.db.Model(f.router).Update("api_port", deadPort(t)).Error)

	sub.Status = models.SubscriptionStatusSuspended
	err := f.prov.SuspendSubscription(ctx, sub)
	require.ErrorIs(t, err, ErrQueued)

	jobs, err := f.queue.List()
	require.NoError(t, err)
	kinds := make([]Kind, 0, len(jobs))
	for _, j := range jobs {
		kinds = append(kinds, j.Kind)
	}
	assert.ElementsMatch(t, []Kind{KindSubscriptionSync, KindKickPPP}, kinds)
}

func TestKickSessionUsesRadiusDisconnect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	var kicked string
	nas := &radius.PacketServer{
		SecretSource: radius.StaticSecretSource([]byte("coa-secret")),
		Handler: radius.HandlerFunc(func(w radius.ResponseWriter, r *radius.Request) {
			kicked = rfc2865.UserName_GetString(r.Packet)
			w.Write(r.Response(radius.CodeDisconnectACK))
		}),
	}
	go nas.Serve(conn)
	defer nas.Shutdown(ctx)

	_, port, _ := net.SplitHostPort(conn.LocalAddr().String())
	coaPort, _ := strconv.Atoi(port)
	require.NoError(t, f.db.Model(f.router).Updates(map[string]interface{}{
		"radius_enabled": true,
		"radius_secret":  "coa-secret",
		"coa_port":       coaPort,
	}).Error)

	f.srv.Seed("/ip/hotspot/active", map[string]string{"user": "V1"})
	n, err := f.prov.KickSession(ctx, f.router.ID, SessionHotspot, "V1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "V1", kicked)
	// the API path was not used
	assert.Len(t, f.srv.Rows("/ip/hotspot/active"), 1)
}

func TestKickSessionFallsBackToAPI(t *testing.T) {
	f := newFixture(t)
	f.srv.Seed("/ip/hotspot/active", map[string]string{"user": "V1"})
	f.srv.Seed("/ip/hotspot/active", map[string]string{"user": "V1"})

	n, err := f.prov.KickSession(context.Background(), f.router.ID, SessionHotspot, "V1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Empty(t, f.srv.Rows("/ip/hotspot/active"))
}
