package services

import (
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/hotspotbill/backend/internal/mikrotik"
	"github.com/hotspotbill/backend/internal/mikrotik/routerostest"
	"github.com/hotspotbill/backend/internal/models"
	"github.com/hotspotbill/backend/internal/provision"
	"github.com/hotspotbill/backend/internal/testutil"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// env is a database, a fake router and the provisioning stack in between
type env struct {
	db       *gorm.DB
	srv      *routerostest.Server
	pool     *mikrotik.Pool
	queue    *provision.Queue
	prov     *provision.Provisioner
	router   *models.Router
	settings *SettingsService
}

func newEnv(t *testing.T) *env {
	t.Helper()
	srv := routerostest.NewServer()
	pool := mikrotik.NewPool(mikrotik.PoolConfig{
		MaxConnections: 2,
		ConnectTimeout: time.Second,
		CommandTimeout: time.Second,
	})
	q, err := provision.OpenQueue(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		pool.Stop()
		srv.Close()
		q.Close()
	})

	db := testutil.NewDB(t)
	return &env{
		db:       db,
		srv:      srv,
		pool:     pool,
		queue:    q,
		prov:     provision.New(db, pool, q),
		router:   testutil.SeedRouter(t, db, srv.Host(), srv.Port()),
		settings: NewSettingsService(db),
	}
}

// routerDown points the env router at a port nothing listens on
func (e *env) routerDown(t *testing.T) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	require.NoError(t, e.db.Model(e.router).Update("api_port", port).Error)
}

// clock returns a settable time source
func clock(start time.Time) (func() time.Time, func(time.Duration)) {
	now := start
	return func() time.Time { return now }, func(d time.Duration) { now = now.Add(d) }
}
