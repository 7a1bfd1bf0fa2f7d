package database

import (
	"fmt"

	"github.com/hotspotbill/backend/internal/mikrotik"
	"github.com/hotspotbill/backend/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// CachedRouter contains the router fields needed to open an API connection
type CachedRouter struct {
	ID            uint   `msgpack:"id"`
	Name          string `msgpack:"name"`
	Host          string `msgpack:"host"`
	Port          int    `msgpack:"port"`
	UseSSL        bool   `msgpack:"use_ssl"`
	Username      string `msgpack:"username"`
	Password      string `msgpack:"password"`
	HotspotServer string `msgpack:"hotspot_server"`
	RadiusEnabled bool   `msgpack:"radius_enabled"`
	RadiusSecret  string `msgpack:"radius_secret"`
	CoAPort       int    `msgpack:"coa_port"`
	IsActive      bool   `msgpack:"is_active"`
}

// Address returns host:port of the API endpoint
func (r *CachedRouter) Address() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// APIConfig returns the pool key and credentials for this router
func (r *CachedRouter) APIConfig() mikrotik.RouterConfig {
	return mikrotik.RouterConfig{
		ID:       r.ID,
		Name:     r.Name,
		Address:  r.Address(),
		Username: r.Username,
		Password: r.Password,
		UseSSL:   r.UseSSL,
	}
}

func cacheRouterFromModel(r *models.Router) *CachedRouter {
	return &CachedRouter{
		ID:            r.ID,
		Name:          r.Name,
		Host:          r.Host,
		Port:          r.Port(),
		UseSSL:        r.UseSSL,
		Username:      r.APIUsername,
		Password:      r.APIPassword,
		HotspotServer: r.HotspotServer,
		RadiusEnabled: r.RadiusEnabled,
		RadiusSecret:  r.RadiusSecret,
		CoAPort:       r.CoAPort,
		IsActive:      r.IsActive,
	}
}

// GetRouter returns connection data for a router, from cache or the database
func GetRouter(db *gorm.DB, id uint) (*CachedRouter, error) {
	key := fmt.Sprintf("%s%d", CacheKeyRouter, id)

	var cached CachedRouter
	if err := CacheGet(key, &cached); err == nil {
		return &cached, nil
	}

	var router models.Router
	if err := db.First(&router, id).Error; err != nil {
		return nil, err
	}

	c := cacheRouterFromModel(&router)
	if err := CacheSet(key, c, CacheTTLRouter); err != nil {
		log.WithError(err).WithField("router_id", id).Debug("Failed to cache router")
	}
	return c, nil
}

// InvalidateRouter drops a router from the cache after it was changed
func InvalidateRouter(id uint) {
	CacheDelete(fmt.Sprintf("%s%d", CacheKeyRouter, id))
}

