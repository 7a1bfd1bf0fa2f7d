package mikrotik

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// PoolConfig holds configuration for the connection pool
type PoolConfig struct {
	MaxConnections  int           // Max connections per router
	IdleTimeout     time.Duration // Close idle connections after this
	ConnectTimeout  time.Duration // Timeout for new connections
	CommandTimeout  time.Duration // Deadline for one command round trip
	MaxAge          time.Duration // Max age of a connection before recycling
	CleanupInterval time.Duration // How often to cleanup dead connections
	CommandsPerSec  float64       // Per-router command rate, 0 disables throttling
}

// DefaultPoolConfig returns default pool configuration
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxConnections:  4,
		IdleTimeout:     5 * time.Minute,
		ConnectTimeout:  5 * time.Second,
		CommandTimeout:  10 * time.Second,
		MaxAge:          30 * time.Minute,
		CleanupInterval: 1 * time.Minute,
		CommandsPerSec:  20,
	}
}

// Pool manages connections to multiple routers
type Pool struct {
	config   PoolConfig
	pools    map[string]*routerPool // keyed by address
	mu       sync.RWMutex
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// routerPool is a pool for a single router. open counts idle plus busy
// connections and never exceeds MaxConnections.
type routerPool struct {
	address string
	limiter *rate.Limiter

	mu      sync.Mutex
	idle    []*Client
	open    int
	inUse   int
	waiting int
	dialed  int64
	ready   chan struct{} // closed and replaced whenever a slot or idle connection frees up
}

// PoolStats describes one router pool
type PoolStats struct {
	Address string `json:"address"`
	Open    int    `json:"open"`
	InUse   int    `json:"in_use"`
	Idle    int    `json:"idle"`
	Waiting int    `json:"waiting"`
	Dialed  int64  `json:"dialed"`
}

// NewPool creates a new connection pool
func NewPool(config PoolConfig) *Pool {
	def := DefaultPoolConfig()
	if config.MaxConnections <= 0 {
		config.MaxConnections = def.MaxConnections
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = def.IdleTimeout
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = def.ConnectTimeout
	}
	if config.CommandTimeout <= 0 {
		config.CommandTimeout = def.CommandTimeout
	}
	if config.MaxAge <= 0 {
		config.MaxAge = def.MaxAge
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = def.CleanupInterval
	}
	return &Pool{
		config:   config,
		pools:    make(map[string]*routerPool),
		stopChan: make(chan struct{}),
	}
}

// Start begins the cleanup goroutine
func (p *Pool) Start() {
	p.wg.Add(1)
	go p.cleanupLoop()
	log.WithFields(log.Fields{
		"max_conns":    p.config.MaxConnections,
		"idle_timeout": p.config.IdleTimeout,
	}).Info("MikroTik connection pool started")
}

// Stop shuts down the pool and closes all idle connections. Busy
// connections are closed when they are returned.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopChan)
	})
	p.wg.Wait()

	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, rp := range p.pools {
		rp.mu.Lock()
		for _, c := range rp.idle {
			c.Close()
			rp.open--
		}
		rp.idle = nil
		rp.signal()
		rp.mu.Unlock()
	}

	log.Info("MikroTik connection pool stopped")
}

func (p *Pool) closed() bool {
	select {
	case <-p.stopChan:
		return true
	default:
		return false
	}
}

// cleanupLoop periodically removes stale connections
func (p *Pool) cleanupLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopChan:
			return
		case <-ticker.C:
			p.cleanup()
		}
	}
}

// cleanup closes idle connections that sat unused too long or are too old
func (p *Pool) cleanup() {
	p.mu.RLock()
	pools := make([]*routerPool, 0, len(p.pools))
	for _, rp := range p.pools {
		pools = append(pools, rp)
	}
	p.mu.RUnlock()

	now := time.Now()
	for _, rp := range pools {
		rp.mu.Lock()
		kept := rp.idle[:0]
		for _, c := range rp.idle {
			if now.Sub(c.lastUsedAt) > p.config.IdleTimeout || now.Sub(c.createdAt) > p.config.MaxAge {
				c.Close()
				rp.open--
				continue
			}
			kept = append(kept, c)
		}
		if len(kept) != len(rp.idle) {
			rp.signal()
		}
		rp.idle = kept
		rp.mu.Unlock()
	}
}

// routerPool gets or creates the pool for one router
func (p *Pool) routerPool(address string) *routerPool {
	p.mu.RLock()
	rp, ok := p.pools[address]
	p.mu.RUnlock()
	if ok {
		return rp
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Double-check after acquiring write lock
	if rp, ok = p.pools[address]; ok {
		return rp
	}

	limit := rate.Inf
	burst := 1
	if p.config.CommandsPerSec > 0 {
		limit = rate.Limit(p.config.CommandsPerSec)
		burst = int(p.config.CommandsPerSec)
		if burst < 1 {
			burst = 1
		}
	}

	rp = &routerPool{
		address: address,
		limiter: rate.NewLimiter(limit, burst),
		ready:   make(chan struct{}),
	}
	p.pools[address] = rp
	return rp
}

// Get returns an idle live connection to the router or dials a new one. When
// MaxConnections are already open it waits until one is returned or ctx ends.
func (p *Pool) Get(ctx context.Context, cfg RouterConfig) (*Client, error) {
	rp := p.routerPool(cfg.Address)

	for {
		if p.closed() {
			return nil, ErrPoolClosed
		}

		rp.mu.Lock()
		if c := rp.takeIdle(); c != nil {
			rp.mu.Unlock()
			return c, nil
		}
		if rp.open < p.config.MaxConnections {
			rp.open++
			rp.mu.Unlock()
			return p.dial(ctx, rp, cfg)
		}
		ready := rp.ready
		rp.waiting++
		rp.mu.Unlock()

		select {
		case <-ready:
		case <-ctx.Done():
			rp.doneWaiting()
			return nil, fmt.Errorf("timeout waiting for connection to %s: %w", cfg.Address, ctx.Err())
		case <-p.stopChan:
			rp.doneWaiting()
			return nil, ErrPoolClosed
		}
		rp.doneWaiting()
	}
}

// dial opens a connection for a slot already reserved in rp.open
func (p *Pool) dial(ctx context.Context, rp *routerPool, cfg RouterConfig) (*Client, error) {
	c, err := Dial(ctx, cfg, p.config.ConnectTimeout, p.config.CommandTimeout)

	rp.mu.Lock()
	defer rp.mu.Unlock()
	if err != nil {
		rp.open--
		rp.signal()
		return nil, err
	}
	rp.inUse++
	rp.dialed++

	log.WithField("router", cfg.Address).Debug("MikroTik connection opened")
	return c, nil
}

func (rp *routerPool) doneWaiting() {
	rp.mu.Lock()
	rp.waiting--
	rp.mu.Unlock()
}

// signal wakes every waiter; callers hold rp.mu
func (rp *routerPool) signal() {
	close(rp.ready)
	rp.ready = make(chan struct{})
}

// takeIdle pops the most recently used live idle connection and closes dead
// ones; callers hold rp.mu
func (rp *routerPool) takeIdle() *Client {
	for len(rp.idle) > 0 {
		c := rp.idle[len(rp.idle)-1]
		rp.idle = rp.idle[:len(rp.idle)-1]
		if c.alive() {
			rp.inUse++
			return c
		}
		c.Close()
		rp.open--
	}
	return nil
}

// Put returns a healthy connection to the pool
func (p *Pool) Put(c *Client) {
	if c == nil {
		return
	}
	rp := p.routerPool(c.address)

	rp.mu.Lock()
	defer rp.mu.Unlock()
	rp.inUse--
	defer rp.signal()

	if p.closed() || time.Since(c.createdAt) > p.config.MaxAge {
		c.Close()
		rp.open--
		return
	}
	c.lastUsedAt = time.Now()
	rp.idle = append(rp.idle, c)
}

// Discard closes a broken connection and frees its slot
func (p *Pool) Discard(c *Client) {
	if c == nil {
		return
	}
	c.Close()

	rp := p.routerPool(c.address)
	rp.mu.Lock()
	rp.inUse--
	rp.open--
	rp.signal()
	rp.mu.Unlock()

	log.WithField("router", c.address).Debug("MikroTik connection discarded")
}

// Evict closes the idle connections of one router, e.g. after its
// credentials changed. Busy connections finish their command first.
func (p *Pool) Evict(address string) {
	p.mu.RLock()
	rp, ok := p.pools[address]
	p.mu.RUnlock()
	if !ok {
		return
	}

	rp.mu.Lock()
	for _, c := range rp.idle {
		c.Close()
		rp.open--
	}
	rp.idle = nil
	rp.signal()
	rp.mu.Unlock()
}

// Wait blocks until the router's command budget allows one more command
func (p *Pool) Wait(ctx context.Context, address string) error {
	return p.routerPool(address).limiter.Wait(ctx)
}

// Stats returns per-router pool statistics sorted by address
func (p *Pool) Stats() []PoolStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := make([]PoolStats, 0, len(p.pools))
	for addr, rp := range p.pools {
		rp.mu.Lock()
		stats = append(stats, PoolStats{
			Address: addr,
			Open:    rp.open,
			InUse:   rp.inUse,
			Idle:    len(rp.idle),
			Waiting: rp.waiting,
			Dialed:  rp.dialed,
		})
		rp.mu.Unlock()
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Address < stats[j].Address })
	return stats
}

// Config returns the effective pool configuration
func (p *Pool) Config() PoolConfig {
	return p.config
}
