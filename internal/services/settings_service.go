package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/hotspotbill/backend/internal/database"
	"github.com/hotspotbill/backend/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SettingsService reads and writes key/value settings through the cache
type SettingsService struct {
	db *gorm.DB
}

// NewSettingsService creates a new settings service
func NewSettingsService(db *gorm.DB) *SettingsService {
	return &SettingsService{db: db}
}

// All returns every setting but the JWT secret as a map, from cache when possible
func (s *SettingsService) All(ctx context.Context) (map[string]string, error) {
	values := make(map[string]string)
	if err := database.CacheGet(database.CacheKeySettings, &values); err == nil {
		return values, nil
	}

	var settings []models.Setting
	err := s.db.WithContext(ctx).Where("key <> ?", models.SettingJWTSecret).Order("key").Find(&settings).Error
	if err != nil {
		return nil, err
	}
	for _, st := range settings {
		values[st.Key] = st.Value
	}

	if err := database.CacheSet(database.CacheKeySettings, values, database.CacheTTLSettings); err != nil {
		log.WithError(err).Debug("Failed to cache settings")
	}
	return values, nil
}

// List returns the setting rows ordered by key, without the JWT secret
func (s *SettingsService) List(ctx context.Context) ([]models.Setting, error) {
	var settings []models.Setting
	err := s.db.WithContext(ctx).Where("key <> ?", models.SettingJWTSecret).Order("key").Find(&settings).Error
	return settings, err
}

// Get returns one setting row
func (s *SettingsService) Get(ctx context.Context, key string) (*models.Setting, error) {
	if key == models.SettingJWTSecret {
		return nil, fmt.Errorf("reading %s: %w", key, ErrNotAllowed)
	}
	var st models.Setting
	if err := s.db.WithContext(ctx).Where("key = ?", key).First(&st).Error; err != nil {
		return nil, notFound(err, "setting")
	}
	return &st, nil
}

// String returns a setting or def when it is missing or empty
func (s *SettingsService) String(ctx context.Context, key, def string) string {
	values, err := s.All(ctx)
	if err != nil {
		log.WithError(err).WithField("key", key).Warn("Failed to read settings")
		return def
	}
	if v := strings.TrimSpace(values[key]); v != "" {
		return v
	}
	return def
}

// Int returns an integer setting or def when missing or malformed
func (s *SettingsService) Int(ctx context.Context, key string, def int) int {
	v := s.String(ctx, key, "")
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

// Set writes one setting
func (s *SettingsService) Set(ctx context.Context, key, value string) error {
	return s.SetMany(ctx, map[string]string{key: value})
}

// SetMany writes several settings in one transaction. The JWT secret cannot
// be written through here.
func (s *SettingsService) SetMany(ctx context.Context, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	for key := range values {
		key = strings.TrimSpace(key)
		if key == "" {
			return invalid("setting key is required")
		}
		if key == models.SettingJWTSecret {
			return invalid("setting %s is read-only", key)
		}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for key, value := range values {
			st := models.Setting{Key: strings.TrimSpace(key), Value: value, ValueType: valueType(value)}
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "key"}},
				DoUpdates: clause.AssignmentColumns([]string{"value"}),
			}).Create(&st).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	database.InvalidateSettingsCache()
	return nil
}

func valueType(v string) string {
	if _, err := strconv.Atoi(v); err == nil {
		return "int"
	}
	if v == "true" || v == "false" {
		return "bool"
	}
	return "string"
}
