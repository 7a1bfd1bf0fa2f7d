package database

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/hotspotbill/backend/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// EnsureJWTSecret ensures JWT secret is persisted in database
// If not exists, saves fallback (or a fresh one). Returns the secret.
func EnsureJWTSecret(db *gorm.DB, fallback string) string {
	if db == nil {
		log.Warn("Database not connected, cannot persist JWT secret")
		return fallback
	}

	var setting models.Setting
	result := db.Where("key = ?", models.SettingJWTSecret).First(&setting)

	if result.Error == nil && setting.Value != "" {
		log.Info("JWT secret loaded from database - sessions will persist across restarts")
		return setting.Value
	}

	secret := fallback
	if secret == "" {
		secret = generateSecureSecret(32)
	}

	setting = models.Setting{
		Key:       models.SettingJWTSecret,
		Value:     secret,
		ValueType: "string",
	}

	if err := db.Create(&setting).Error; err != nil {
		// Row exists with an empty value, or another instance won the race
		db.Model(&models.Setting{}).Where("key = ?", models.SettingJWTSecret).Update("value", secret)
	}

	log.Info("JWT secret generated and persisted to database")
	return secret
}

// generateSecureSecret generates a cryptographically secure random secret
func generateSecureSecret(length int) string {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return hex.EncodeToString([]byte("fallback-secret-change-me"))
	}
	return hex.EncodeToString(bytes)
}
