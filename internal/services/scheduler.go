package services

import (
	"context"
	"sync"
	"time"

	"github.com/hotspotbill/backend/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// task is one periodic job of the scheduler
type task struct {
	name     string
	interval time.Duration
	delay    time.Duration
	timeout  time.Duration
	run      func(ctx context.Context)
}

// Scheduler runs the periodic voucher, billing and backup jobs, each on its
// own ticker
type Scheduler struct {
	db       *gorm.DB
	vouchers *VoucherService
	billing  *BillingService
	backup   *BackupService
	tasks    []task
	now      func() time.Time

	backupHour int
	lastBackup string

	stopChan chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
}

// NewScheduler creates the scheduler. backup may be nil to disable
// scheduled backups.
func NewScheduler(db *gorm.DB, vouchers *VoucherService, billing *BillingService, backup *BackupService, backupHour int) *Scheduler {
	s := &Scheduler{
		db:         db,
		vouchers:   vouchers,
		billing:    billing,
		backup:     backup,
		backupHour: backupHour,
		now:        time.Now,
		stopChan:   make(chan struct{}),
	}
	s.tasks = []task{
		{name: "voucher-usage", interval: time.Minute, delay: 10 * time.Second, run: s.syncVouchers},
		{name: "billing", interval: time.Hour, delay: time.Minute, run: s.runBilling},
	}
	if backup != nil {
		s.tasks = append(s.tasks, task{name: "backup", interval: time.Minute, timeout: 30 * time.Minute, run: s.runBackup})
	}
	return s
}

// Start launches every task
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	for _, t := range s.tasks {
		s.wg.Add(1)
		go s.loop(t)
	}
	log.WithField("tasks", len(s.tasks)).Info("Scheduler started")
}

// Stop waits for running tasks to return
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopChan)
	s.wg.Wait()
	log.Info("Scheduler stopped")
}

func (s *Scheduler) loop(t task) {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-s.stopChan
		cancel()
	}()

	// let the routers and database settle before the first run
	select {
	case <-time.After(t.delay):
		s.runTask(ctx, t)
	case <-s.stopChan:
		return
	}

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.runTask(ctx, t)
		case <-s.stopChan:
			return
		}
	}
}

func (s *Scheduler) runTask(ctx context.Context, t task) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(log.Fields{"task": t.name, "panic": r}).Error("Scheduled task panicked")
		}
	}()
	timeout := t.timeout
	if timeout == 0 {
		timeout = t.interval
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	t.run(ctx)
}

// syncVouchers reads usage from every online router and expires vouchers
func (s *Scheduler) syncVouchers(ctx context.Context) {
	var routers []models.Router
	err := s.db.WithContext(ctx).
		Where("is_active = ? AND is_online = ?", true, true).
		Find(&routers).Error
	if err != nil {
		log.WithError(err).Error("Scheduler: failed to load routers")
		return
	}
	for _, r := range routers {
		rep, err := s.vouchers.SyncUsage(ctx, r.ID)
		if err != nil {
			log.WithError(err).WithField("router", r.Name).Warn("Voucher usage sync failed")
			continue
		}
		if rep.Activated > 0 || rep.Used > 0 {
			log.WithFields(log.Fields{
				"router":    r.Name,
				"activated": rep.Activated,
				"used":      rep.Used,
			}).Info("Voucher usage synced")
		}
	}

	if _, err := s.vouchers.ExpireDue(ctx); err != nil {
		log.WithError(err).Error("Voucher expiry failed")
	}
}

// runBilling issues this month's invoices and isolates overdue subscribers
func (s *Scheduler) runBilling(ctx context.Context) {
	if _, err := s.billing.GenerateMonthlyInvoices(ctx, ""); err != nil {
		log.WithError(err).Error("Invoice generation failed")
	}
	n, err := s.billing.SuspendOverdue(ctx)
	if err != nil {
		log.WithError(err).Error("Overdue suspension failed")
		return
	}
	if n > 0 {
		log.WithField("count", n).Info("Overdue subscriptions suspended")
	}
}

// runBackup creates the daily backup once the configured hour is reached
func (s *Scheduler) runBackup(ctx context.Context) {
	now := s.now()
	today := now.Format("2006-01-02")
	if now.Hour() != s.backupHour || s.lastBackup == today {
		return
	}
	s.lastBackup = today

	res, err := s.backup.Create(ctx)
	if err != nil {
		log.WithError(err).Error("Scheduled backup failed")
		return
	}
	log.WithFields(log.Fields{"file": res.File.Name, "uploaded": res.Uploaded}).Info("Scheduled backup done")
}
