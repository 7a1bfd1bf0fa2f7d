package mikrotik

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hotspotbill/backend/internal/metrics"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// RouterStatus is the result of one health probe
type RouterStatus struct {
	RouterID    uint       `json:"router_id"`
	Name        string     `json:"name"`
	Address     string     `json:"address"`
	Online      bool       `json:"online"`
	LatencyMs   int64      `json:"latency_ms"`
	Identity    string     `json:"identity,omitempty"`
	Version     string     `json:"version,omitempty"`
	BoardName   string     `json:"board_name,omitempty"`
	Uptime      string     `json:"uptime,omitempty"`
	CPULoad     int        `json:"cpu_load"`
	FreeMemory  int64      `json:"free_memory"`
	TotalMemory int64      `json:"total_memory"`
	LastSeen    *time.Time `json:"last_seen,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	CheckedAt   time.Time  `json:"checked_at"`
}

// RouterStore lists routers to probe and persists probe results
type RouterStore interface {
	ActiveRouters(ctx context.Context) ([]RouterConfig, error)
	RouterConfig(ctx context.Context, id uint) (RouterConfig, error)
	SaveStatus(ctx context.Context, status RouterStatus) error
}

// Monitor periodically probes every active router
type Monitor struct {
	pool         *Pool
	store        RouterStore
	interval     time.Duration
	probeTimeout time.Duration
	concurrency  int

	mu     sync.RWMutex
	status map[uint]RouterStatus

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewMonitor creates a health monitor; interval <= 0 means 30s
func NewMonitor(pool *Pool, store RouterStore, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{
		pool:         pool,
		store:        store,
		interval:     interval,
		probeTimeout: 10 * time.Second,
		concurrency:  8,
		status:       make(map[uint]RouterStatus),
		stopChan:     make(chan struct{}),
	}
}

// Start runs a probe round immediately and then every interval
func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.run()
	log.WithField("interval", m.interval).Info("Router health monitor started")
}

// Stop waits for the running round to finish
func (m *Monitor) Stop() {
	close(m.stopChan)
	m.wg.Wait()
	log.Info("Router health monitor stopped")
}

func (m *Monitor) run() {
	defer m.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-m.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		if err := m.CheckAll(ctx); err != nil && ctx.Err() == nil {
			log.WithError(err).Error("Router health check round failed")
		}
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
		}
	}
}

// CheckAll probes every active router with bounded concurrency
func (m *Monitor) CheckAll(ctx context.Context) error {
	routers, err := m.store.ActiveRouters(ctx)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for _, cfg := range routers {
		cfg := cfg
		g.Go(func() error {
			m.check(gctx, cfg)
			return nil
		})
	}
	return g.Wait()
}

// CheckNow probes one router immediately
func (m *Monitor) CheckNow(ctx context.Context, routerID uint) (RouterStatus, error) {
	cfg, err := m.store.RouterConfig(ctx, routerID)
	if err != nil {
		return RouterStatus{}, err
	}
	return m.check(ctx, cfg), nil
}

// Status returns the latest probe result of every router, ordered by id
func (m *Monitor) Status() []RouterStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]RouterStatus, 0, len(m.status))
	for _, s := range m.status {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RouterID < out[j].RouterID })
	return out
}

// RouterStatus returns the latest probe result of one router
func (m *Monitor) RouterStatus(routerID uint) (RouterStatus, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.status[routerID]
	return s, ok
}

// Forget drops a deleted router from the snapshot and metrics
func (m *Monitor) Forget(routerID uint) {
	m.mu.Lock()
	s, ok := m.status[routerID]
	delete(m.status, routerID)
	m.mu.Unlock()

	if ok {
		metrics.RouterUp.DeleteLabelValues(s.Name)
		metrics.RouterLatency.DeleteLabelValues(s.Name)
		metrics.RouterCPULoad.DeleteLabelValues(s.Name)
	}
}

func (m *Monitor) check(ctx context.Context, cfg RouterConfig) RouterStatus {
	status := Probe(ctx, m.pool, cfg, m.probeTimeout)

	m.mu.Lock()
	prev, seen := m.status[cfg.ID]
	if !status.Online && seen {
		status.LastSeen = prev.LastSeen
	}
	m.status[cfg.ID] = status
	m.mu.Unlock()

	entry := log.WithFields(log.Fields{"router": cfg.Name, "address": cfg.Address})
	switch {
	case status.Online && seen && !prev.Online:
		entry.Info("Router back online")
	case !status.Online && (!seen || prev.Online):
		entry.WithField("error", status.LastError).Warn("Router offline")
	}

	up := 0.0
	if status.Online {
		up = 1
		metrics.RouterCPULoad.WithLabelValues(cfg.Name).Set(float64(status.CPULoad))
	}
	metrics.RouterUp.WithLabelValues(cfg.Name).Set(up)
	metrics.RouterLatency.WithLabelValues(cfg.Name).Set(float64(status.LatencyMs) / 1000)
	m.exportPoolStats()

	if err := m.store.SaveStatus(ctx, status); err != nil && ctx.Err() == nil {
		entry.WithError(err).Error("Failed to save router status")
	}
	return status
}

func (m *Monitor) exportPoolStats() {
	for _, s := range m.pool.Stats() {
		metrics.PoolConnections.WithLabelValues(s.Address, "in_use").Set(float64(s.InUse))
		metrics.PoolConnections.WithLabelValues(s.Address, "idle").Set(float64(s.Idle))
	}
}

// Probe reads identity and resource from a router and times the round trip
func Probe(ctx context.Context, pool *Pool, cfg RouterConfig, timeout time.Duration) RouterStatus {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	status := RouterStatus{
		RouterID:  cfg.ID,
		Name:      cfg.Name,
		Address:   cfg.Address,
		CheckedAt: start,
	}

	rc := NewRouterClient(pool, cfg)
	identity, err := rc.Identity(ctx)
	if err != nil {
		status.LastError = err.Error()
		return status
	}
	res, err := rc.Resource(ctx)
	if err != nil {
		status.LastError = err.Error()
		return status
	}

	now := time.Now()
	status.Online = true
	status.LatencyMs = now.Sub(start).Milliseconds()
	status.Identity = identity
	status.Version = res.Version
	status.BoardName = res.BoardName
	status.Uptime = res.Uptime
	status.CPULoad = res.CPULoad
	status.FreeMemory = res.FreeMemory
	status.TotalMemory = res.TotalMemory
	status.LastSeen = &now
	return status
}
