package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/hotspotbill/backend/internal/config"
	"github.com/hotspotbill/backend/internal/database"
	"github.com/hotspotbill/backend/internal/handlers"
	"github.com/hotspotbill/backend/internal/middleware"
	"github.com/hotspotbill/backend/internal/mikrotik"
	"github.com/hotspotbill/backend/internal/provision"
	"github.com/hotspotbill/backend/internal/services"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 15 * time.Second

// runtime holds the long-lived components shared by serve and seed
type runtime struct {
	cfg     *config.Config
	pool    *mikrotik.Pool
	monitor *mikrotik.Monitor
	queue   *provision.Queue
	worker  *provision.Worker
	sched   *services.Scheduler
	deps    handlers.Deps
}

func newRuntime(cfg *config.Config) (*runtime, error) {
	db := database.DB

	queue, err := provision.OpenQueue(cfg.QueuePath)
	if err != nil {
		return nil, err
	}

	pool := mikrotik.NewPool(mikrotik.PoolConfig{
		MaxConnections: cfg.Router.MaxConnections,
		IdleTimeout:    cfg.Router.IdleTimeout,
		ConnectTimeout: cfg.Router.ConnectTimeout,
		CommandTimeout: cfg.Router.CommandTimeout,
		MaxAge:         cfg.Router.MaxAge,
		CommandsPerSec: cfg.Router.CommandsPerSec,
	})
	monitor := mikrotik.NewMonitor(pool, services.NewRouterStore(db), cfg.Router.MonitorInterval)
	prov := provision.New(db, pool, queue)

	settings := services.NewSettingsService(db)
	vouchers := services.NewVoucherService(db, prov, settings)
	subs := services.NewSubscriptionService(db, prov)
	billing := services.NewBillingService(db, settings, subs)
	backups := services.NewBackupService(db, cfg.Backup)

	var rateStore middleware.RateLimitStore = middleware.NewMemoryStore()
	if database.Redis != nil {
		rateStore = middleware.NewRedisStore(database.Redis)
	}

	rt := &runtime{
		cfg:     cfg,
		pool:    pool,
		monitor: monitor,
		queue:   queue,
		worker:  provision.NewWorker(prov, cfg.QueueRetryInterval, cfg.QueueMaxAttempts),
		sched:   services.NewScheduler(db, vouchers, billing, backups, cfg.Backup.Hour),
		deps: handlers.Deps{
			Config:        cfg,
			DB:            db,
			JWTSecret:     database.EnsureJWTSecret(db, cfg.JWTSecret),
			Queue:         queue,
			RateStore:     rateStore,
			Users:         services.NewUserService(db),
			Settings:      settings,
			Routers:       services.NewRouterService(db, pool, monitor, prov),
			Profiles:      services.NewProfileService(db, prov),
			Vouchers:      vouchers,
			Vendors:       services.NewVendorService(db),
			Printer:       services.NewPrintService(db, settings, cfg.TemplateDir),
			Customers:     services.NewCustomerService(db, subs),
			Subscriptions: subs,
			Billing:       billing,
			Reports:       services.NewReportService(db),
			Backups:       backups,
		},
	}
	pool.Start()
	return rt, nil
}

// close stops background work in reverse start order
func (rt *runtime) close() {
	rt.sched.Stop()
	rt.worker.Stop()
	rt.monitor.Stop()
	rt.pool.Stop()
	if err := rt.queue.Close(); err != nil {
		log.WithError(err).Warn("Failed to close provisioning queue")
	}
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with the router monitor, retry worker and scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := bootstrap(rootOpts, true)
			if err != nil {
				return err
			}
			defer database.Close()
			return runServe(cmd.Context(), cfg)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	rt, err := newRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.close()

	if err := rt.deps.Printer.EnsureTemplates(); err != nil {
		log.WithError(err).Warn("Failed to write default print templates")
	}

	rt.monitor.Start()
	rt.worker.Start()
	rt.sched.Start()

	app := handlers.NewApp(rt.deps)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.APIPort)
		log.WithField("addr", addr).Info("HotspotBill API listening")
		errCh <- app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down server...")
	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		log.WithError(err).Error("Server forced to shutdown")
	}
	log.Info("Server exited")
	return nil
}
