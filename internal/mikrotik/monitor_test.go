package mikrotik_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/hotspotbill/backend/internal/mikrotik"
	"github.com/hotspotbill/backend/internal/mikrotik/routerostest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu      sync.Mutex
	routers []mikrotik.RouterConfig
	saved   map[uint]mikrotik.RouterStatus
}

func (s *memStore) ActiveRouters(ctx context.Context) ([]mikrotik.RouterConfig, error) {
	return s.routers, nil
}

func (s *memStore) RouterConfig(ctx context.Context, id uint) (mikrotik.RouterConfig, error) {
	for _, r := range s.routers {
		if r.ID == id {
			return r, nil
		}
	}
	return mikrotik.RouterConfig{}, fmt.Errorf("router %d not found", id)
}

func (s *memStore) SaveStatus(ctx context.Context, status mikrotik.RouterStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved[status.RouterID] = status
	return nil
}

func TestMonitorCheckAll(t *testing.T) {
	up := routerostest.NewServer()
	defer up.Close()
	down := routerostest.NewServer()
	downCfg := down.Config()
	down.Close()

	upCfg := up.Config()
	upCfg.ID, upCfg.Name = 1, "up"
	downCfg.ID, downCfg.Name = 2, "down"

	store := &memStore{routers: []mikrotik.RouterConfig{upCfg, downCfg}, saved: map[uint]mikrotik.RouterStatus{}}
	pool := newPool(2)
	defer pool.Stop()

	m := mikrotik.NewMonitor(pool, store, 0)
	require.NoError(t, m.CheckAll(context.Background()))

	status := m.Status()
	require.Len(t, status, 2)
	assert.True(t, status[0].Online)
	assert.Equal(t, "MikroTik", status[0].Identity)
	assert.Equal(t, "7.14.3 (stable)", status[0].Version)
	assert.NotNil(t, status[0].LastSeen)

	assert.False(t, status[1].Online)
	assert.NotEmpty(t, status[1].LastError)
	assert.Nil(t, status[1].LastSeen)

	assert.Len(t, store.saved, 2)
	assert.True(t, store.saved[1].Online)
}

func TestMonitorCheckNow(t *testing.T) {
	srv := routerostest.NewServer()
	defer srv.Close()

	cfg := srv.Config()
	store := &memStore{routers: []mikrotik.RouterConfig{cfg}, saved: map[uint]mikrotik.RouterStatus{}}
	pool := newPool(1)
	defer pool.Stop()
	m := mikrotik.NewMonitor(pool, store, 0)

	st, err := m.CheckNow(context.Background(), cfg.ID)
	require.NoError(t, err)
	assert.True(t, st.Online)

	got, ok := m.RouterStatus(cfg.ID)
	require.True(t, ok)
	assert.Equal(t, st.Identity, got.Identity)

	_, err = m.CheckNow(context.Background(), 99)
	assert.Error(t, err)

	m.Forget(cfg.ID)
	_, ok = m.RouterStatus(cfg.ID)
	assert.False(t, ok)
}
