// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/hotspotbill/backend/internal/database"
	"github.com/hotspotbill/backend/internal/models"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var dbSeq int64

// NewDB returns a migrated in-memory SQLite database private to the test.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:hb%d?mode=memory&cache=shared", atomic.AddInt64(&dbSeq, 1))
	db, err := gorm.Open(sqlite.Open(dsn), database.GormConfig())
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, models.AutoMigrate(db))
	return db
}

// SeedRouter inserts an active router pointing at addr ("host:port").
func SeedRouter(t testing.TB, db *gorm.DB, host string, port int) *models.Router {
	t.Helper()
	r := &models.Router{
		Name:        fmt.Sprintf("router-%d", atomic.AddInt64(&dbSeq, 1)),
		Host:        host,
		APIPort:     port,
		APIUsername: "admin",
		APIPassword: "secret",
		IsActive:    true,
	}
	require.NoError(t, db.Create(r).Error)
	return r
}

// SeedProfile inserts a profile of the given type on a router.
func SeedProfile(t testing.TB, db *gorm.DB, routerID uint, typ models.ProfileType, name string) *models.Profile {
	t.Helper()
	p := &models.Profile{
		Name:           name,
		Type:           typ,
		RouterID:       routerID,
		RateLimit:      "2M/2M",
		SharedUsers:    1,
		SessionTimeout: "3h",
		Validity:       "1d",
		QuotaBytes:     1 << 30,
		Price:          4000,
		SellingPrice:   5000,
		IsActive:       true,
	}
	require.NoError(t, db.Create(p).Error)
	return p
}

// SeedUser inserts an active panel user with a cheap bcrypt hash.
func SeedUser(t testing.TB, db *gorm.DB, username, password string, role models.UserRole) *models.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	u := &models.User{Username: username, Password: string(hash), Role: role, IsActive: true}
	require.NoError(t, db.Create(u).Error)
	return u
}
