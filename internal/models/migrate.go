package models

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// All returns every persisted model in migration order
func All() []interface{} {
	return []interface{}{
		&User{},
		&Router{},
		&Profile{},
		&Vendor{},
		&VoucherBatch{},
		&Voucher{},
		&Customer{},
		&Subscription{},
		&Invoice{},
		&Payment{},
		&Setting{},
		&AuditLog{},
	}
}

// AutoMigrate creates or updates all tables and seeds missing default settings
func AutoMigrate(db *gorm.DB) error {
	log.Info("Running database migrations...")

	if err := db.AutoMigrate(All()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	for _, s := range DefaultSettings {
		setting := s
		if err := db.Where("key = ?", setting.Key).FirstOrCreate(&setting).Error; err != nil {
			return fmt.Errorf("seed setting %s: %w", setting.Key, err)
		}
	}

	log.Info("Database migrations completed successfully")
	return nil
}
