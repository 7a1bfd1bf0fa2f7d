package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hotspotbill/backend/internal/config"
	"github.com/hotspotbill/backend/internal/middleware"
	"github.com/hotspotbill/backend/internal/models"
	"github.com/hotspotbill/backend/internal/provision"
	"github.com/hotspotbill/backend/internal/services"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Deps is everything the HTTP layer needs
type Deps struct {
	Config    *config.Config
	DB        *gorm.DB
	JWTSecret string
	Queue     *provision.Queue
	RateStore middleware.RateLimitStore

	Users         *services.UserService
	Settings      *services.SettingsService
	Routers       *services.RouterService
	Profiles      *services.ProfileService
	Vouchers      *services.VoucherService
	Vendors       *services.VendorService
	Printer       *services.PrintService
	Customers     *services.CustomerService
	Subscriptions *services.SubscriptionService
	Billing       *services.BillingService
	Reports       *services.ReportService
	Backups       *services.BackupService
}

// NewApp builds the Fiber app with middleware and every route
func NewApp(d Deps) *fiber.App {
	cfg := d.Config
	app := fiber.New(fiber.Config{
		AppName:      "HotspotBill API",
		BodyLimit:    cfg.BodyLimitMB * 1024 * 1024,
		JSONEncoder:  json.Marshal,
		JSONDecoder:  json.Unmarshal,
		ErrorHandler: ErrorHandler,
	})

	app.Use(recover.New())
	app.Use(helmet.New())
	app.Use(compress.New())
	app.Use(cors.New(cors.Config{
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Requested-With",
		MaxAge:       86400,
	}))
	app.Use(middleware.Logger())
	if cfg.MetricsEnabled {
		app.Use(middleware.Metrics())
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	}

	health := NewHealthHandler(d.Queue)
	app.Get("/health", health.Check)

	limit := func(c *fiber.Ctx) int {
		if n := d.Settings.Int(c.UserContext(), models.SettingAPIRateLimit, 0); n > 0 {
			return n
		}
		return cfg.RateLimit
	}
	rateLimit := middleware.RateLimiter(middleware.RateLimitConfig{
		Store:  d.RateStore,
		Window: cfg.RateLimitWindow,
		Limit:  limit,
	})
	cached := middleware.ResponseCache(cfg.ResponseCacheTTL)
	staff := middleware.Staff()
	admin := middleware.AdminOnly()

	auth := NewAuthHandler(d.Users, d.Settings, d.JWTSecret, cfg.JWTExpireHours)
	twoFA := NewTwoFAHandler(d.Users, d.Settings)
	users := NewUserHandler(d.Users)
	routers := NewRouterHandler(d.Routers, d.Profiles, d.Queue)
	profiles := NewProfileHandler(d.Profiles)
	vouchers := NewVoucherHandler(d.Vouchers)
	vendors := NewVendorHandler(d.Vendors)
	printing := NewPrintHandler(d.Printer)
	customers := NewCustomerHandler(d.Customers)
	subs := NewSubscriptionHandler(d.Subscriptions)
	invoices := NewInvoiceHandler(d.Billing)
	reports := NewReportHandler(d.Reports)
	settings := NewSettingsHandler(d.Settings)
	backups := NewBackupHandler(d.Backups)
	audit := NewAuditHandler(d.DB)

	api := app.Group("/api")

	// Public routes
	api.Post("/auth/login", rateLimit, auth.Login)

	p := api.Group("", middleware.AuthRequired(d.DB, d.JWTSecret), rateLimit, middleware.AuditLogger(d.DB))

	p.Post("/auth/logout", auth.Logout)
	p.Get("/auth/me", auth.Me)
	p.Post("/auth/refresh", auth.RefreshToken)
	p.Put("/auth/password", auth.ChangePassword)
	p.Post("/auth/2fa/setup", twoFA.Setup)
	p.Post("/auth/2fa/verify", twoFA.Verify)
	p.Post("/auth/2fa/disable", twoFA.Disable)
	p.Get("/auth/2fa/status", twoFA.Status)

	p.Get("/dashboard", cached, reports.Dashboard)

	// Vouchers: cashiers generate, redeem and print
	p.Get("/vouchers", vouchers.List)
	p.Post("/vouchers/generate", vouchers.Generate)
	p.Post("/vouchers/redeem", vouchers.Redeem)
	p.Get("/vouchers/batches", vouchers.ListBatches)
	p.Get("/vouchers/batches/:batch", vouchers.GetBatch)
	p.Delete("/vouchers/batches/:batch", staff, vouchers.DeleteBatch)
	p.Post("/vouchers/bulk-delete", staff, vouchers.BulkDelete)
	p.Get("/vouchers/:id", vouchers.Get)
	p.Post("/vouchers/:id/disable", staff, vouchers.Disable)
	p.Post("/vouchers/:id/enable", staff, vouchers.Enable)
	p.Delete("/vouchers/:id", staff, vouchers.Delete)

	p.Get("/print/batch/:batch", printing.Batch)
	p.Get("/print/vouchers", printing.Vouchers)
	p.Get("/print/templates", printing.ListTemplates)
	p.Get("/print/templates/:name", printing.GetTemplate)
	p.Get("/print/templates/:name/preview", printing.PreviewTemplate)
	p.Put("/print/templates/:name", staff, printing.UpdateTemplate)

	p.Get("/vendors", vendors.List)
	p.Get("/vendors/:id", vendors.Get)
	p.Post("/vendors", staff, vendors.Create)
	p.Put("/vendors/:id", staff, vendors.Update)
	p.Delete("/vendors/:id", staff, vendors.Delete)
	p.Get("/vendors/:id/settlement", staff, vendors.Settlement)
	p.Post("/vendors/:id/settlement", staff, vendors.RecordSettlement)

	p.Get("/profiles", profiles.List)
	p.Get("/profiles/:id", profiles.Get)
	p.Post("/profiles", staff, profiles.Create)
	p.Put("/profiles/:id", staff, profiles.Update)
	p.Delete("/profiles/:id", staff, profiles.Delete)
	p.Post("/profiles/:id/sync", staff, profiles.Sync)

	p.Get("/customers", customers.List)
	p.Get("/customers/:id", customers.Get)
	p.Post("/customers", staff, customers.Create)
	p.Put("/customers/:id", staff, customers.Update)
	p.Delete("/customers/:id", staff, customers.Delete)

	p.Get("/invoices", invoices.List)
	p.Get("/invoices/:id", invoices.Get)
	p.Post("/invoices/generate", staff, invoices.Generate)
	p.Post("/invoices/suspend-overdue", staff, invoices.SuspendOverdue)
	p.Post("/invoices/:id/void", staff, invoices.Void)
	p.Get("/payments", invoices.ListPayments)
	p.Post("/payments", invoices.RecordPayment)

	// Network and subscriber management
	s := p.Group("", staff)
	s.Get("/routers", routers.List)
	s.Get("/routers/status", routers.Status)
	s.Get("/routers/pool", routers.PoolStats)
	s.Get("/routers/queue", routers.Queue)
	s.Delete("/routers/queue/:key", routers.DropJob)
	s.Post("/routers/test", routers.TestConnection)
	s.Get("/routers/:id", routers.Get)
	s.Post("/routers", routers.Create)
	s.Put("/routers/:id", routers.Update)
	s.Delete("/routers/:id", routers.Delete)
	s.Post("/routers/:id/test", routers.Test)
	s.Post("/routers/:id/sync-all", routers.SyncAll)
	s.Post("/routers/:id/import-profiles", routers.ImportProfiles)

	s.Get("/subscriptions", subs.List)
	s.Get("/subscriptions/:id", subs.Get)
	s.Post("/subscriptions", subs.Create)
	s.Put("/subscriptions/:id", subs.Update)
	s.Delete("/subscriptions/:id", subs.Delete)
	s.Post("/subscriptions/:id/suspend", subs.Suspend)
	s.Post("/subscriptions/:id/resume", subs.Resume)
	s.Post("/subscriptions/:id/renew", subs.Renew)
	s.Post("/subscriptions/:id/sync", subs.Sync)
	s.Get("/sessions", subs.Sessions)
	s.Post("/sessions/kick", subs.Kick)

	s.Get("/reports/revenue", cached, reports.Revenue)
	s.Get("/reports/voucher-sales", cached, reports.VoucherSales)
	s.Get("/reports/outstanding", cached, reports.Outstanding)

	// Admin only
	a := p.Group("", admin)
	a.Get("/users", users.List)
	a.Get("/users/:id", users.Get)
	a.Post("/users", users.Create)
	a.Put("/users/:id", users.Update)
	a.Delete("/users/:id", users.Delete)
	a.Get("/settings", settings.List)
	a.Put("/settings", settings.BulkUpdate)
	a.Get("/settings/:key", settings.Get)
	a.Put("/settings/:key", settings.Update)
	a.Get("/backups", backups.List)
	a.Post("/backups", backups.Create)
	a.Get("/backups/:name", backups.Download)
	a.Delete("/backups/:name", backups.Delete)
	a.Get("/audit-logs", audit.List)

	return app
}
