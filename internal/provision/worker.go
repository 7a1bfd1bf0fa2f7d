package provision

import (
	"context"
	"sync"
	"time"

	"github.com/hotspotbill/backend/internal/metrics"
	log "github.com/sirupsen/logrus"
)

const (
	maxBackoff = time.Hour
	batchLimit = 200
)

// Worker replays queued router changes with exponential backoff
type Worker struct {
	prov        *Provisioner
	interval    time.Duration
	maxAttempts int
	now         func() time.Time

	stopChan chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
}

// NewWorker creates a retry worker polling every interval
func NewWorker(prov *Provisioner, interval time.Duration, maxAttempts int) *Worker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 20
	}
	return &Worker{
		prov:        prov,
		interval:    interval,
		maxAttempts: maxAttempts,
		now:         time.Now,
		stopChan:    make(chan struct{}),
	}
}

// Start begins draining the queue
func (w *Worker) Start() {
	w.mu.Lock()
	if w.running || w.prov.queue == nil {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	w.wg.Add(1)
	go w.run()
	log.WithField("interval", w.interval).Info("Provisioning retry worker started")
}

// Stop waits for the current pass to finish
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopChan)
	w.wg.Wait()
	log.Info("Provisioning retry worker stopped")
}

func (w *Worker) run() {
	defer w.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-w.stopChan
		cancel()
	}()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.Drain(ctx)
		case <-w.stopChan:
			return
		}
	}
}

// Drain replays every due job once and returns how many completed
func (w *Worker) Drain(ctx context.Context) int {
	q := w.prov.queue
	if q == nil {
		return 0
	}

	jobs, err := q.Due(w.now(), batchLimit)
	if err != nil {
		log.WithError(err).Error("Failed to read provisioning queue")
		return 0
	}

	// a router that failed once in this pass is skipped until the next one
	down := make(map[uint]bool)
	done := 0
	for _, job := range jobs {
		if ctx.Err() != nil {
			break
		}
		if down[job.RouterID] {
			continue
		}

		entry := log.WithFields(log.Fields{
			"kind":     job.Kind,
			"name":     job.Name,
			"router":   job.RouterID,
			"attempts": job.Attempts + 1,
		})

		err := w.prov.Replay(ctx, job)
		switch {
		case err == nil:
			w.finish(entry, job)
			metrics.ProvisionFailures.WithLabelValues(string(job.Kind), "recovered").Inc()
			entry.Info("Queued router change applied")
			done++

		case permanent(err):
			w.finish(entry, job)
			metrics.ProvisionFailures.WithLabelValues(string(job.Kind), "rejected").Inc()
			entry.WithError(err).Warn("Queued router change rejected, dropping")

		default:
			down[job.RouterID] = true
			job.Attempts++
			job.LastError = err.Error()
			if job.Attempts >= w.maxAttempts {
				w.finish(entry, job)
				metrics.ProvisionFailures.WithLabelValues(string(job.Kind), "abandoned").Inc()
				entry.WithError(err).Error("Router change abandoned after max attempts")
				continue
			}
			job.NextAttempt = w.now().Add(Backoff(w.interval, job.Attempts))
			current, err := w.prov.queue.Reschedule(job)
			if err != nil {
				entry.WithError(err).Error("Failed to reschedule provisioning job")
			} else if !current {
				entry.Debug("Provisioning job superseded during replay")
			}
		}
	}
	return done
}

func (w *Worker) finish(entry *log.Entry, job Job) {
	current, err := w.prov.queue.Finish(job)
	if err != nil {
		entry.WithError(err).Error("Failed to clear provisioning job")
	} else if !current {
		entry.Debug("Provisioning job superseded during replay")
	}
}

// Backoff returns base doubled per attempt, capped at one hour
func Backoff(base time.Duration, attempts int) time.Duration {
	d := base
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}
