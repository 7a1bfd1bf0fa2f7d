package mikrotik_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/hotspotbill/backend/internal/mikrotik"
	"github.com/hotspotbill/backend/internal/mikrotik/routerostest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouterClient(t *testing.T) (*mikrotik.RouterClient, *routerostest.Server) {
	t.Helper()
	srv := routerostest.NewServer()
	pool := newPool(2)
	t.Cleanup(func() {
		pool.Stop()
		srv.Close()
	})
	return mikrotik.NewRouterClient(pool, srv.Config()), srv
}

func TestHotspotUserLifecycle(t *testing.T) {
	rc, srv := newRouterClient(t)
	ctx := context.Background()

	id, err := rc.AddHotspotUser(ctx, mikrotik.HotspotUser{
		Name:            "ABC123",
		Password:        "ABC123",
		Profile:         "1day",
		LimitUptime:     "3h",
		LimitBytesTotal: 1 << 30,
		Comment:         "hb:batch-1",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	row := srv.Find("/ip/hotspot/user", "ABC123")
	require.NotNil(t, row)
	assert.Equal(t, "1day", row["profile"])
	assert.Equal(t, "3h", row["limit-uptime"])
	assert.Equal(t, "1073741824", row["limit-bytes-total"])
	assert.Equal(t, "false", row["disabled"])

	require.NoError(t, rc.DisableHotspotUser(ctx, "ABC123"))
	u, err := rc.FindHotspotUser(ctx, "ABC123")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.True(t, u.Disabled)

	require.NoError(t, rc.EnableHotspotUser(ctx, "ABC123"))
	u.Password = "changed"
	u.Disabled = false
	require.NoError(t, rc.SetHotspotUser(ctx, *u))
	assert.Equal(t, "changed", srv.Find("/ip/hotspot/user", "ABC123")["password"])

	require.NoError(t, rc.RemoveHotspotUser(ctx, "ABC123"))
	u, err = rc.FindHotspotUser(ctx, "ABC123")
	require.NoError(t, err)
	assert.Nil(t, u)

	err = rc.RemoveHotspotUser(ctx, "ABC123")
	var nf *mikrotik.NotFoundError
	assert.True(t, errors.As(err, &nf))
}

func TestRemoveHotspotUsersByComment(t *testing.T) {
	rc, srv := newRouterClient(t)
	ctx := context.Background()

	for i := 0; i < 150; i++ {
		srv.Seed("/ip/hotspot/user", map[string]string{"name": fmt.Sprintf("u%d", i), "comment": "hb:a"})
	}
	srv.Seed("/ip/hotspot/user", map[string]string{"name": "other", "comment": "hb:b"})

	users, err := rc.ListHotspotUsers(ctx, "hb:a")
	require.NoError(t, err)
	assert.Len(t, users, 150)

	n, err := rc.RemoveHotspotUsersByComment(ctx, "hb:a")
	require.NoError(t, err)
	assert.Equal(t, 150, n)

	all, err := rc.ListHotspotUsers(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "other", all[0].Name)
}

func TestHotspotActiveKick(t *testing.T) {
	rc, srv := newRouterClient(t)
	ctx := context.Background()

	srv.Seed("/ip/hotspot/active", map[string]string{"user": "v1", "address": "10.5.50.2", "mac-address": "AA:BB:CC:DD:EE:FF", "bytes-in": "100", "bytes-out": "200", "uptime": "5m"})
	srv.Seed("/ip/hotspot/active", map[string]string{"user": "v2"})

	active, err := rc.ListHotspotActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, int64(200), active[0].BytesOut)

	n, err := rc.KickHotspotActive(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, srv.Rows("/ip/hotspot/active"), 1)

	n, err = rc.KickHotspotActive(ctx, "nobody")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUpsertHotspotProfile(t *testing.T) {
	rc, srv := newRouterClient(t)
	ctx := context.Background()

	p := mikrotik.HotspotProfile{Name: "1day", RateLimit: "2M/2M", SharedUsers: 1, SessionTimeout: "1d"}
	require.NoError(t, rc.UpsertHotspotProfile(ctx, p))

	p.RateLimit = "5M/5M"
	require.NoError(t, rc.UpsertHotspotProfile(ctx, p))

	rows := srv.Rows("/ip/hotspot/user/profile")
	require.Len(t, rows, 1)
	assert.Equal(t, "5M/5M", rows[0]["rate-limit"])

	profiles, err := rc.ListHotspotProfiles(ctx)
	require.NoError(t, err)
	require.Len(t, profiles, 1)
	assert.Equal(t, 1, profiles[0].SharedUsers)

	require.NoError(t, rc.RemoveHotspotProfile(ctx, "1day"))
	assert.Empty(t, srv.Rows("/ip/hotspot/user/profile"))
}

func TestPPPSecretLifecycle(t *testing.T) {
	rc, srv := newRouterClient(t)
	ctx := context.Background()

	_, err := rc.AddPPPSecret(ctx, mikrotik.PPPSecret{
		Name:          "cust1",
		Password:      "pw",
		Profile:       "10M",
		RemoteAddress: "10.10.0.5",
		Comment:       "hb:cust:1",
	})
	require.NoError(t, err)

	row := srv.Find("/ppp/secret", "cust1")
	assert.Equal(t, "pppoe", row["service"])
	assert.Equal(t, "10.10.0.5", row["remote-address"])

	require.NoError(t, rc.DisablePPPSecret(ctx, "cust1"))
	s, err := rc.FindPPPSecret(ctx, "cust1")
	require.NoError(t, err)
	assert.True(t, s.Disabled)

	require.NoError(t, rc.EnablePPPSecret(ctx, "cust1"))
	s.Profile = "20M"
	s.Disabled = false
	require.NoError(t, rc.SetPPPSecret(ctx, *s))
	assert.Equal(t, "20M", srv.Find("/ppp/secret", "cust1")["profile"])

	srv.Seed("/ppp/active", map[string]string{"name": "cust1", "address": "10.10.0.5", "service": "pppoe"})
	sessions, err := rc.ListPPPActive(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	n, err := rc.KickPPPActive(ctx, "cust1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, rc.RemovePPPSecret(ctx, "cust1"))
	s, err = rc.FindPPPSecret(ctx, "cust1")
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestSetClearsFields(t *testing.T) {
	rc, srv := newRouterClient(t)
	ctx := context.Background()

	secret := mikrotik.PPPSecret{Name: "static1", Password: "pw", Profile: "10M", RemoteAddress: "10.10.10.5", Comment: "hb:cust:1"}
	_, err := rc.AddPPPSecret(ctx, secret)
	require.NoError(t, err)
	secret.RemoteAddress = ""
	require.NoError(t, rc.SetPPPSecret(ctx, secret))
	row := srv.Find("/ppp/secret", "static1")
	assert.Equal(t, "", row["remote-address"])
	assert.Equal(t, "pw", row["password"])
	assert.Equal(t, "10M", row["profile"])

	p := mikrotik.HotspotProfile{Name: "1day", RateLimit: "2M/2M", SessionTimeout: "1d"}
	require.NoError(t, rc.UpsertHotspotProfile(ctx, p))
	p.RateLimit, p.SessionTimeout = "", ""
	require.NoError(t, rc.UpsertHotspotProfile(ctx, p))
	row = srv.Find("/ip/hotspot/user/profile", "1day")
	assert.Equal(t, "", row["rate-limit"])
	assert.Equal(t, "", row["session-timeout"])

	// add still leaves empty fields out
	_, err = rc.AddPPPSecret(ctx, mikrotik.PPPSecret{Name: "dynamic1", Password: "pw", Profile: "10M"})
	require.NoError(t, err)
	_, present := srv.Find("/ppp/secret", "dynamic1")["remote-address"]
	assert.False(t, present)
}

func TestUpsertPPPProfile(t *testing.T) {
	rc, srv := newRouterClient(t)
	ctx := context.Background()

	p := mikrotik.PPPProfile{Name: "10M", RateLimit: "10M/10M", LocalAddress: "10.10.0.1", RemoteAddress: "pool-10M", OnlyOne: true}
	require.NoError(t, rc.UpsertPPPProfile(ctx, p))
	require.NoError(t, rc.UpsertPPPProfile(ctx, p))

	profiles, err := rc.ListPPPProfiles(ctx)
	require.NoError(t, err)
	require.Len(t, profiles, 1)
	assert.True(t, profiles[0].OnlyOne)
	assert.Equal(t, "pool-10M", profiles[0].RemoteAddress)

	require.NoError(t, rc.RemovePPPProfile(ctx, "10M"))
	assert.Empty(t, srv.Rows("/ppp/profile"))
}

func TestSystemInfo(t *testing.T) {
	rc, srv := newRouterClient(t)
	srv.Identity = "core-01"
	ctx := context.Background()

	id, err := rc.Identity(ctx)
	require.NoError(t, err)
	assert.Equal(t, "core-01", id)

	res, err := rc.Resource(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, res.CPULoad)
	assert.Equal(t, "hEX", res.BoardName)
	assert.Equal(t, int64(268435456), res.TotalMemory)
}
