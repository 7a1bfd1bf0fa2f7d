package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/hotspotbill/backend/internal/models"
	"github.com/hotspotbill/backend/internal/provision"
	"github.com/hotspotbill/backend/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextDueDate(t *testing.T) {
	tests := []struct {
		from time.Time
		day  int
		want time.Time
	}{
		{time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC), 5, time.Date(2026, 4, 5, 0, 0, 0, 0, time.UTC)},
		{time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC), 20, time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC)},
		{time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC), 10, time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC)},
		{time.Date(2026, 12, 28, 0, 0, 0, 0, time.UTC), 1, time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s day %d", tt.from.Format("2006-01-02"), tt.day), func(t *testing.T) {
			assert.Equal(t, tt.want, NextDueDate(tt.from, tt.day))
		})
	}

	assert.Equal(t, time.Date(2027, 2, 28, 0, 0, 0, 0, time.UTC),
		AddMonths(time.Date(2026, 11, 28, 0, 0, 0, 0, time.UTC), 3, 28))
}

type subFixture struct {
	*env
	svc      *SubscriptionService
	customer *models.Customer
	profile  *models.Profile
}

func newSubFixture(t *testing.T) *subFixture {
	t.Helper()
	e := newEnv(t)
	svc := NewSubscriptionService(e.db, e.prov)
	svc.now, _ = clock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))

	c := &models.Customer{Name: "Budi", Phone: "0812", Status: models.CustomerStatusActive}
	require.NoError(t, e.db.Create(c).Error)
	return &subFixture{
		env:      e,
		svc:      svc,
		customer: c,
		profile:  testutil.SeedProfile(t, e.db, e.router.ID, models.ProfileTypePPPoE, "10mbps"),
	}
}

func (f *subFixture) create(t *testing.T, username string) *models.Subscription {
	t.Helper()
	sub, err := f.svc.Create(context.Background(), SubscriptionInput{
		CustomerID: f.customer.ID,
		ProfileID:  f.profile.ID,
		Username:   username,
		Password:   "pw-" + username,
		BillingDay: 5,
	})
	require.NoError(t, err)
	return sub
}

func TestCreateSubscription(t *testing.T) {
	f := newSubFixture(t)
	ctx := context.Background()

	sub := f.create(t, "budi")
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, time.Date(2026, 4, 5, 0, 0, 0, 0, time.UTC), sub.NextDueDate)
	assert.Equal(t, 5000.0, sub.Price)
	assert.True(t, sub.AutoSuspend)
	assert.True(t, sub.Synced)
	assert.Empty(t, sub.SyncError)

	secret := f.srv.Find("/ppp/secret", "budi")
	require.NotNil(t, secret)
	assert.Equal(t, "pw-budi", secret["password"])
	assert.Equal(t, "10mbps", secret["profile"])
	assert.Equal(t, fmt.Sprintf("hb:cust:%d", f.customer.ID), secret["comment"])
	assert.Equal(t, "false", secret["disabled"])

	price := 150000.0
	generated, err := f.svc.Create(ctx, SubscriptionInput{
		CustomerID: f.customer.ID, ProfileID: f.profile.ID, Username: "auto", Price: &price,
	})
	require.NoError(t, err)
	assert.Len(t, generated.Password, 8)
	assert.Equal(t, 10, generated.BillingDay)
	assert.Equal(t, price, generated.Price)

	hs := testutil.SeedProfile(t, f.db, f.router.ID, models.ProfileTypeHotspot, "1day")
	tests := []struct {
		name string
		in   SubscriptionInput
		want error
	}{
		{"duplicate", SubscriptionInput{CustomerID: f.customer.ID, ProfileID: f.profile.ID, Username: "budi"}, ErrConflict},
		{"space in username", SubscriptionInput{CustomerID: f.customer.ID, ProfileID: f.profile.ID, Username: "a b"}, ErrInvalidInput},
		{"billing day", SubscriptionInput{CustomerID: f.customer.ID, ProfileID: f.profile.ID, Username: "x", BillingDay: 29}, ErrInvalidInput},
		{"hotspot profile", SubscriptionInput{CustomerID: f.customer.ID, ProfileID: hs.ID, Username: "x"}, ErrInvalidInput},
		{"no customer", SubscriptionInput{CustomerID: 999, ProfileID: f.profile.ID, Username: "x"}, ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Create(ctx, tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCreateSubscriptionRouterDown(t *testing.T) {
	f := newSubFixture(t)
	f.routerDown(t)

	sub := f.create(t, "offline")
	assert.False(t, sub.Synced)
	assert.NotEmpty(t, sub.SyncError)
	assert.Positive(t, f.queue.Len())

	stored, err := f.svc.Get(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.False(t, stored.Synced)
}

func TestSuspendResume(t *testing.T) {
	f := newSubFixture(t)
	ctx := context.Background()
	sub := f.create(t, "budi")
	f.srv.Seed("/ppp/active", map[string]string{"name": "budi", "address": "10.10.0.2", "service": "pppoe"})

	suspended, err := f.svc.Suspend(ctx, sub.ID, "overdue")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusSuspended, suspended.Status)
	assert.Equal(t, "overdue", suspended.SuspendReason)
	require.NotNil(t, suspended.SuspendedAt)
	assert.Equal(t, "true", f.srv.Find("/ppp/secret", "budi")["disabled"])
	assert.Empty(t, f.srv.Rows("/ppp/active"))

	_, err = f.svc.Suspend(ctx, sub.ID, "again")
	assert.ErrorIs(t, err, ErrInvalidInput)

	resumed, err := f.svc.Resume(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusActive, resumed.Status)
	assert.Nil(t, resumed.SuspendedAt)
	assert.Equal(t, "false", f.srv.Find("/ppp/secret", "budi")["disabled"])

	_, err = f.svc.Resume(ctx, sub.ID)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestUpdateRenewDelete(t *testing.T) {
	f := newSubFixture(t)
	ctx := context.Background()
	sub := f.create(t, "budi")
	faster := testutil.SeedProfile(t, f.db, f.router.ID, models.ProfileTypePPPoE, "20mbps")

	pw := "new-secret"
	day := 12
	updated, err := f.svc.Update(ctx, sub.ID, SubscriptionUpdate{ProfileID: &faster.ID, Password: &pw, BillingDay: &day})
	require.NoError(t, err)
	assert.Equal(t, faster.ID, updated.ProfileID)
	assert.Equal(t, time.Date(2026, 4, 12, 0, 0, 0, 0, time.UTC), updated.NextDueDate)
	secret := f.srv.Find("/ppp/secret", "budi")
	assert.Equal(t, "20mbps", secret["profile"])
	assert.Equal(t, "new-secret", secret["password"])

	empty := ""
	_, err = f.svc.Update(ctx, sub.ID, SubscriptionUpdate{Password: &empty})
	assert.ErrorIs(t, err, ErrInvalidInput)

	renewed, err := f.svc.Renew(ctx, sub.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 6, 12, 0, 0, 0, 0, time.UTC), renewed.NextDueDate)
	_, err = f.svc.Renew(ctx, sub.ID, 0)
	assert.ErrorIs(t, err, ErrInvalidInput)

	require.NoError(t, f.svc.Delete(ctx, sub.ID))
	assert.Nil(t, f.srv.Find("/ppp/secret", "budi"))
	_, err = f.svc.Get(ctx, sub.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	// the username is free again once the old row is soft deleted
	var count int64
	f.db.Unscoped().Model(&models.Subscription{}).Where("username = ? AND status = ?", "budi", models.SubscriptionStatusTerminated).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestUpdateClearsRemoteAddress(t *testing.T) {
	f := newSubFixture(t)
	ctx := context.Background()

	sub, err := f.svc.Create(ctx, SubscriptionInput{
		CustomerID:    f.customer.ID,
		ProfileID:     f.profile.ID,
		Username:      "static1",
		Password:      "pw-static1",
		RemoteAddress: "10.10.10.5",
		BillingDay:    5,
	})
	require.NoError(t, err)
	assert.Equal(t, "10.10.10.5", f.srv.Find("/ppp/secret", "static1")["remote-address"])

	none := ""
	updated, err := f.svc.Update(ctx, sub.ID, SubscriptionUpdate{RemoteAddress: &none})
	require.NoError(t, err)
	assert.Empty(t, updated.RemoteAddress)
	assert.Equal(t, "", f.srv.Find("/ppp/secret", "static1")["remote-address"])
}

func TestSessionsAndKick(t *testing.T) {
	f := newSubFixture(t)
	ctx := context.Background()
	f.srv.Seed("/ppp/active", map[string]string{"name": "budi", "address": "10.10.0.2", "caller-id": "AA:AA:AA:AA:AA:01", "uptime": "1h"})
	f.srv.Seed("/ip/hotspot/active", map[string]string{"user": "HS1234", "address": "10.5.50.3", "mac-address": "AA:AA:AA:AA:AA:02", "bytes-in": "10"})

	sessions, err := f.svc.ListSessions(ctx, f.router.ID)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, provision.SessionPPP, sessions[0].Kind)
	assert.Equal(t, "AA:AA:AA:AA:AA:01", sessions[0].MAC)
	assert.Equal(t, provision.SessionHotspot, sessions[1].Kind)
	assert.Equal(t, int64(10), sessions[1].BytesIn)

	n, err := f.svc.Kick(ctx, f.router.ID, provision.SessionHotspot, "HS1234")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, f.srv.Rows("/ip/hotspot/active"))

	_, err = f.svc.Kick(ctx, f.router.ID, "telnet", "x")
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.svc.Kick(ctx, f.router.ID, provision.SessionPPP, "")
	assert.ErrorIs(t, err, ErrInvalidInput)
}
