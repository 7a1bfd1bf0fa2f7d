package handlers

import (
	"bytes"
	"io"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/hotspotbill/backend/internal/config"
	"github.com/hotspotbill/backend/internal/database"
	"github.com/hotspotbill/backend/internal/middleware"
	"github.com/hotspotbill/backend/internal/mikrotik"
	"github.com/hotspotbill/backend/internal/mikrotik/routerostest"
	"github.com/hotspotbill/backend/internal/models"
	"github.com/hotspotbill/backend/internal/provision"
	"github.com/hotspotbill/backend/internal/services"
	"github.com/hotspotbill/backend/internal/testutil"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testSecret = "handler-test-secret"

type harness struct {
	app    *fiber.App
	db     *gorm.DB
	srv    *routerostest.Server
	router *models.Router
	users  *services.UserService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	srv := routerostest.NewServer()
	pool := mikrotik.NewPool(mikrotik.PoolConfig{MaxConnections: 2, ConnectTimeout: time.Second, CommandTimeout: time.Second})
	queue, err := provision.OpenQueue(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		pool.Stop()
		srv.Close()
		queue.Close()
	})

	db := testutil.NewDB(t)
	prov := provision.New(db, pool, queue)
	settings := services.NewSettingsService(db)
	subs := services.NewSubscriptionService(db, prov)
	users := services.NewUserService(db)
	cfg := &config.Config{
		BodyLimitMB:     1,
		RateLimit:       1000,
		RateLimitWindow: time.Minute,
		JWTExpireHours:  1,
		Backup:          config.BackupConfig{Dir: t.TempDir()},
	}

	app := NewApp(Deps{
		Config:        cfg,
		DB:            db,
		JWTSecret:     testSecret,
		Queue:         queue,
		RateStore:     middleware.NewMemoryStore(),
		Users:         users,
		Settings:      settings,
		Routers:       services.NewRouterService(db, pool, nil, prov),
		Profiles:      services.NewProfileService(db, prov),
		Vouchers:      services.NewVoucherService(db, prov, settings),
		Vendors:       services.NewVendorService(db),
		Printer:       services.NewPrintService(db, settings, t.TempDir()),
		Customers:     services.NewCustomerService(db, subs),
		Subscriptions: subs,
		Billing:       services.NewBillingService(db, settings, subs),
		Reports:       services.NewReportService(db),
		Backups:       services.NewBackupService(db, cfg.Backup),
	})

	testutil.SeedUser(t, db, "admin", "admin123", models.RoleAdmin)
	testutil.SeedUser(t, db, "operator", "operator1", models.RoleOperator)
	testutil.SeedUser(t, db, "kasir", "kasir123", models.RoleCashier)

	return &harness{
		app:    app,
		db:     db,
		srv:    srv,
		router: testutil.SeedRouter(t, db, srv.Host(), srv.Port()),
		users:  users,
	}
}

// do sends a JSON request and decodes the JSON envelope of the response
func (h *harness) do(t *testing.T, method, path, token string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	resp, err := h.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]interface{}{}
	if strings.HasPrefix(resp.Header.Get(fiber.HeaderContentType), fiber.MIMEApplicationJSON) {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	} else {
		out["body"] = string(raw)
	}
	return resp.StatusCode, out
}

func (h *harness) login(t *testing.T, username, password string) string {
	t.Helper()
	status, body := h.do(t, fiber.MethodPost, "/api/auth/login", "", LoginRequest{Username: username, Password: password})
	require.Equal(t, fiber.StatusOK, status, body)
	token, _ := body["token"].(string)
	require.NotEmpty(t, token)
	return token
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	prev := database.DB
	database.DB = h.db
	t.Cleanup(func() { database.DB = prev })

	status, body := h.do(t, fiber.MethodGet, "/health", "", nil)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "disabled", body["redis"])
	assert.EqualValues(t, 0, body["queue_depth"])
}

func TestLogin(t *testing.T) {
	h := newHarness(t)

	status, body := h.do(t, fiber.MethodPost, "/api/auth/login", "", LoginRequest{Username: "admin", Password: "nope"})
	assert.Equal(t, fiber.StatusUnauthorized, status)
	assert.Contains(t, body["message"], "4 attempts remaining")

	status, _ = h.do(t, fiber.MethodPost, "/api/auth/login", "", LoginRequest{Username: "admin"})
	assert.Equal(t, fiber.StatusBadRequest, status)

	token := h.login(t, "admin", "admin123")
	status, body = h.do(t, fiber.MethodGet, "/api/auth/me", token, nil)
	require.Equal(t, fiber.StatusOK, status)
	me := body["data"].(map[string]interface{})
	assert.Equal(t, "admin", me["username"])
	assert.Equal(t, "admin", me["role"])

	status, _ = h.do(t, fiber.MethodPost, "/api/auth/logout", token, nil)
	assert.Equal(t, fiber.StatusOK, status)
	status, _ = h.do(t, fiber.MethodGet, "/api/auth/me", token, nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)
}

func TestLoginTwoFactor(t *testing.T) {
	h := newHarness(t)
	key, err := totp.Generate(totp.GenerateOpts{Issuer: "HotspotBill", AccountName: "operator"})
	require.NoError(t, err)
	require.NoError(t, h.db.Model(&models.User{}).Where("username = ?", "operator").Updates(map[string]interface{}{
		"two_factor_enabled": true,
		"two_factor_secret":  key.Secret(),
	}).Error)

	status, body := h.do(t, fiber.MethodPost, "/api/auth/login", "", LoginRequest{Username: "operator", Password: "operator1"})
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["requires_2fa"])
	assert.Nil(t, body["token"])

	status, _ = h.do(t, fiber.MethodPost, "/api/auth/login", "", LoginRequest{Username: "operator", Password: "operator1", TwoFACode: "123"})
	assert.Equal(t, fiber.StatusUnauthorized, status)

	code, err := totp.GenerateCode(key.Secret(), time.Now())
	require.NoError(t, err)
	status, body = h.do(t, fiber.MethodPost, "/api/auth/login", "", LoginRequest{Username: "operator", Password: "operator1", TwoFACode: code})
	assert.Equal(t, fiber.StatusOK, status)
	assert.NotEmpty(t, body["token"])
}

func TestLoginBlockedAfterFailures(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.db.Model(&models.Setting{}).Where("key = ?", models.SettingMaxLoginAttempts).Update("value", "2").Error)

	for i := 0; i < 2; i++ {
		status, _ := h.do(t, fiber.MethodPost, "/api/auth/login", "", LoginRequest{Username: "kasir", Password: "bad"})
		assert.Equal(t, fiber.StatusUnauthorized, status)
	}
	status, body := h.do(t, fiber.MethodPost, "/api/auth/login", "", LoginRequest{Username: "kasir", Password: "kasir123"})
	assert.Equal(t, fiber.StatusTooManyRequests, status)
	assert.Contains(t, body["message"], "15 minutes")
}

func TestLoginGuardExpiry(t *testing.T) {
	g := NewLoginGuard()
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }

	assert.Equal(t, 2, g.Fail("10.0.0.9", 3))
	assert.Equal(t, 1, g.Fail("10.0.0.9", 3))
	assert.Equal(t, 0, g.Fail("10.0.0.9", 3))
	blocked, minutes := g.Blocked("10.0.0.9")
	assert.True(t, blocked)
	assert.Equal(t, 15, minutes)

	now = now.Add(10*time.Minute + time.Second)
	blocked, minutes = g.Blocked("10.0.0.9")
	assert.True(t, blocked)
	assert.Equal(t, 5, minutes)

	now = now.Add(5 * time.Minute)
	blocked, _ = g.Blocked("10.0.0.9")
	assert.False(t, blocked)

	g.Fail("10.0.0.8", 3)
	g.Clear("10.0.0.8")
	blocked, _ = g.Blocked("10.0.0.8")
	assert.False(t, blocked)
}

func TestRoleAccess(t *testing.T) {
	h := newHarness(t)
	admin := h.login(t, "admin", "admin123")
	operator := h.login(t, "operator", "operator1")
	cashier := h.login(t, "kasir", "kasir123")

	tests := []struct {
		token  string
		method string
		path   string
		want   int
	}{
		{cashier, fiber.MethodGet, "/api/vouchers", fiber.StatusOK},
		{cashier, fiber.MethodGet, "/api/profiles", fiber.StatusOK},
		{cashier, fiber.MethodGet, "/api/routers", fiber.StatusForbidden},
		{cashier, fiber.MethodGet, "/api/reports/outstanding", fiber.StatusForbidden},
		{cashier, fiber.MethodPost, "/api/customers", fiber.StatusForbidden},
		{cashier, fiber.MethodGet, "/api/users", fiber.StatusForbidden},
		{operator, fiber.MethodGet, "/api/routers", fiber.StatusOK},
		{operator, fiber.MethodGet, "/api/reports/outstanding", fiber.StatusOK},
		{operator, fiber.MethodGet, "/api/settings", fiber.StatusForbidden},
		{admin, fiber.MethodGet, "/api/users", fiber.StatusOK},
		{admin, fiber.MethodGet, "/api/backups", fiber.StatusOK},
		{"", fiber.MethodGet, "/api/vouchers", fiber.StatusUnauthorized},
	}
	for _, tt := range tests {
		status, body := h.do(t, tt.method, tt.path, tt.token, nil)
		assert.Equal(t, tt.want, status, "%s %s: %v", tt.method, tt.path, body)
	}

	status, body := h.do(t, fiber.MethodGet, "/api/settings", admin, nil)
	require.Equal(t, fiber.StatusOK, status)
	for _, s := range body["data"].([]interface{}) {
		assert.NotEqual(t, models.SettingJWTSecret, s.(map[string]interface{})["key"])
	}
	status, _ = h.do(t, fiber.MethodGet, "/api/settings/"+models.SettingJWTSecret, admin, nil)
	assert.Equal(t, fiber.StatusForbidden, status)
}

func TestVoucherGenerateRedeemPrint(t *testing.T) {
	h := newHarness(t)
	profile := testutil.SeedProfile(t, h.db, h.router.ID, models.ProfileTypeHotspot, "3jam")
	cashier := h.login(t, "kasir", "kasir123")

	status, body := h.do(t, fiber.MethodPost, "/api/vouchers/generate", cashier, map[string]interface{}{
		"profile_id": profile.ID,
		"count":      3,
		"length":     6,
		"charset":    "numeric",
	})
	require.Equal(t, fiber.StatusCreated, status, body)
	assert.Equal(t, "3 vouchers generated", body["message"])
	data := body["data"].(map[string]interface{})
	batchID := data["batch"].(map[string]interface{})["id"].(string)
	vouchers := data["vouchers"].([]interface{})
	require.Len(t, vouchers, 3)
	code := vouchers[0].(map[string]interface{})["code"].(string)
	assert.Len(t, h.srv.Rows("/ip/hotspot/user"), 3)

	status, body = h.do(t, fiber.MethodGet, "/api/print/batch/"+batchID+"?autoprint=true", cashier, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Contains(t, body["body"], code)
	assert.Contains(t, body["body"], "window.print()")

	status, _ = h.do(t, fiber.MethodPost, "/api/vouchers/redeem", cashier, map[string]string{"code": code})
	assert.Equal(t, fiber.StatusOK, status)
	status, _ = h.do(t, fiber.MethodPost, "/api/vouchers/redeem", cashier, map[string]string{"code": code})
	assert.Equal(t, fiber.StatusConflict, status)
	status, _ = h.do(t, fiber.MethodPost, "/api/vouchers/redeem", cashier, map[string]string{"code": "NOPE99"})
	assert.Equal(t, fiber.StatusNotFound, status)

	// deleting a batch is staff work
	status, _ = h.do(t, fiber.MethodDelete, "/api/vouchers/batches/"+batchID, cashier, nil)
	assert.Equal(t, fiber.StatusForbidden, status)
}

func TestErrorMapping(t *testing.T) {
	h := newHarness(t)
	operator := h.login(t, "operator", "operator1")

	req := httptest.NewRequest(fiber.MethodPost, "/api/customers", strings.NewReader("{not json"))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+operator)
	resp, err := h.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	status, body := h.do(t, fiber.MethodGet, "/api/customers/abc", operator, nil)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "Invalid ID", body["message"])

	status, body = h.do(t, fiber.MethodGet, "/api/customers/999", operator, nil)
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, false, body["success"])

	status, _ = h.do(t, fiber.MethodPost, "/api/customers", operator, services.CustomerInput{})
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, body = h.do(t, fiber.MethodPost, "/api/customers", operator, services.CustomerInput{Name: "Budi", Phone: "0812"})
	require.Equal(t, fiber.StatusCreated, status, body)

	status, _ = h.do(t, fiber.MethodPost, "/api/routers", operator, services.RouterInput{
		Name: h.router.Name, Host: "10.0.0.9", APIUsername: "api", APIPassword: "pw",
	})
	assert.Equal(t, fiber.StatusConflict, status)

	admin := h.login(t, "admin", "admin123")
	status, _ = h.do(t, fiber.MethodGet, "/api/nowhere", admin, nil)
	assert.Equal(t, fiber.StatusNotFound, status)
}
