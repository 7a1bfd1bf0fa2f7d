package services

import (
	"context"
	"testing"
	"time"

	"github.com/hotspotbill/backend/internal/mikrotik"
	"github.com/hotspotbill/backend/internal/models"
	"github.com/hotspotbill/backend/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouterService(e *env) *RouterService {
	monitor := mikrotik.NewMonitor(e.pool, NewRouterStore(e.db), time.Minute)
	return NewRouterService(e.db, e.pool, monitor, e.prov)
}

func TestRouterCreateValidation(t *testing.T) {
	e := newEnv(t)
	svc := newRouterService(e)

	valid := RouterInput{Name: "tower-2", Host: "10.0.0.2", APIUsername: "api", APIPassword: "pw"}
	tests := []struct {
		name   string
		mutate func(in *RouterInput)
	}{
		{"missing name", func(in *RouterInput) { in.Name = "  " }},
		{"missing host", func(in *RouterInput) { in.Host = "" }},
		{"missing api user", func(in *RouterInput) { in.APIUsername = "" }},
		{"missing password", func(in *RouterInput) { in.APIPassword = "" }},
		{"port out of range", func(in *RouterInput) { in.APIPort = 70000 }},
		{"radius without secret", func(in *RouterInput) { in.RadiusEnabled = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := valid
			tt.mutate(&in)
			_, err := svc.Create(context.Background(), in)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}

	r, err := svc.Create(context.Background(), valid)
	require.NoError(t, err)
	assert.Equal(t, 8728, r.APIPort)
	assert.Equal(t, 8729, r.APISSLPort)
	assert.Equal(t, 3799, r.CoAPort)
	assert.True(t, r.IsActive)
	assert.True(t, r.HasAPIPassword)

	_, err = svc.Create(context.Background(), valid)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestRouterUpdateDelete(t *testing.T) {
	e := newEnv(t)
	svc := newRouterService(e)
	ctx := context.Background()

	r, err := svc.Create(ctx, RouterInput{Name: "tower-2", Host: "10.0.0.2", APIUsername: "api", APIPassword: "pw"})
	require.NoError(t, err)

	updated, err := svc.Update(ctx, r.ID, RouterInput{Name: "tower-2b", Host: "10.0.0.3", APIUsername: "api", APIPort: 8000})
	require.NoError(t, err)
	assert.Equal(t, "pw", updated.APIPassword)
	assert.Equal(t, "10.0.0.3:8000", updated.Address())

	_, err = svc.Update(ctx, r.ID, RouterInput{Name: e.router.Name, Host: "10.0.0.3", APIUsername: "api"})
	assert.ErrorIs(t, err, ErrConflict)
	_, err = svc.Update(ctx, 999, RouterInput{Name: "x", Host: "x", APIUsername: "x"})
	assert.ErrorIs(t, err, ErrNotFound)

	testutil.SeedProfile(t, e.db, e.router.ID, models.ProfileTypeHotspot, "3jam")
	assert.ErrorIs(t, svc.Delete(ctx, e.router.ID), ErrInUse)

	require.NoError(t, svc.Delete(ctx, r.ID))
	_, err = svc.Get(ctx, r.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	routers, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, routers, 1)
}

func TestRouterConnectivity(t *testing.T) {
	e := newEnv(t)
	svc := newRouterService(e)
	ctx := context.Background()

	st, err := svc.TestConnection(ctx, RouterInput{
		Name: "probe", Host: e.srv.Host(), APIPort: e.srv.Port(), APIUsername: "admin", APIPassword: "secret",
	})
	require.NoError(t, err)
	assert.True(t, st.Online)
	assert.Equal(t, "MikroTik", st.Identity)

	st, err = svc.TestConnection(ctx, RouterInput{
		Name: "probe", Host: e.srv.Host(), APIPort: e.srv.Port(), APIUsername: "admin", APIPassword: "wrong",
	})
	require.NoError(t, err)
	assert.False(t, st.Online)
	assert.NotEmpty(t, st.LastError)

	st, err = svc.Test(ctx, e.router.ID)
	require.NoError(t, err)
	assert.True(t, st.Online)

	stored, err := svc.Get(ctx, e.router.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsOnline)
	assert.Equal(t, "7.14.3 (stable)", stored.Version)
	require.Len(t, svc.Status(), 1)
	assert.Equal(t, e.router.ID, svc.Status()[0].RouterID)
	assert.NotEmpty(t, svc.PoolStats())

	_, err = svc.Test(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSyncAll(t *testing.T) {
	e := newEnv(t)
	svc := newRouterService(e)
	ctx := context.Background()

	hotspot := testutil.SeedProfile(t, e.db, e.router.ID, models.ProfileTypeHotspot, "3jam")
	pppoe := testutil.SeedProfile(t, e.db, e.router.ID, models.ProfileTypePPPoE, "10mbps")
	require.NoError(t, e.db.Create(&models.Voucher{
		Code: "SYNC01", Password: "SYNC01", BatchID: "batch-1", ProfileID: hotspot.ID, RouterID: e.router.ID,
		Status: models.VoucherStatusUnused,
	}).Error)
	cust := &models.Customer{Name: "Budi", Status: models.CustomerStatusActive}
	require.NoError(t, e.db.Create(cust).Error)
	require.NoError(t, e.db.Create(&models.Subscription{
		CustomerID: cust.ID, ProfileID: pppoe.ID, RouterID: e.router.ID, Username: "budi", Password: "pw",
		Status: models.SubscriptionStatusActive, BillingDay: 5,
	}).Error)

	rep, err := svc.SyncAll(ctx, e.router.ID)
	require.NoError(t, err)
	assert.Equal(t, &SyncReport{Profiles: 2, Vouchers: 1, Subscriptions: 1}, rep)
	assert.NotNil(t, e.srv.Find("/ip/hotspot/user/profile", "3jam"))
	assert.NotNil(t, e.srv.Find("/ppp/profile", "10mbps"))
	assert.Equal(t, "hb:batch-1", e.srv.Find("/ip/hotspot/user", "SYNC01")["comment"])
	assert.Equal(t, "10mbps", e.srv.Find("/ppp/secret", "budi")["profile"])

	e.routerDown(t)
	rep, err = svc.SyncAll(ctx, e.router.ID)
	require.Error(t, err)
	assert.Equal(t, 3, rep.Failed)
	assert.Zero(t, rep.Vouchers)

	_, err = svc.SyncAll(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}
