package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hotspotbill/backend/internal/config"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	DB    *gorm.DB
	Redis *redis.Client
)

// GormConfig is shared by the Postgres connection and tests.
func GormConfig() *gorm.Config {
	return &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		DisableForeignKeyConstraintWhenMigrating: true,
	}
}

func Connect(cfg *config.Config) error {
	// PostgreSQL connection with retry logic
	var err error
	maxRetries := 30
	for i := 0; i < maxRetries; i++ {
		DB, err = gorm.Open(postgres.Open(cfg.DSN()), GormConfig())
		if err == nil {
			break
		}
		log.WithError(err).Warnf("Database connection attempt %d/%d failed, retrying in 2 seconds", i+1, maxRetries)
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return fmt.Errorf("failed to connect to database after %d attempts: %w", maxRetries, err)
	}

	// Configure connection pool
	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	log.Info("Database connected successfully")

	// Redis connection
	Redis = redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := Redis.Ping(ctx).Result(); err != nil {
		// Caches and the rate limiter fall back to in-process state.
		log.WithError(err).Warn("Redis unavailable, continuing without it")
		Redis.Close()
		Redis = nil
		return nil
	}

	log.Info("Redis connected successfully")

	return nil
}

// Ping checks that the database answers within the context deadline.
func Ping(ctx context.Context, sqlDB *sql.DB) error {
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping: %w", err)
	}
	return nil
}

// HealthStatus is reported by the /health endpoint.
type HealthStatus struct {
	Database string `json:"database"`
	Redis    string `json:"redis"`
}

// Health probes the global connections.
func Health(ctx context.Context) HealthStatus {
	status := HealthStatus{Database: "ok", Redis: "disabled"}

	if DB == nil {
		status.Database = "disconnected"
	} else if sqlDB, err := DB.DB(); err != nil {
		status.Database = err.Error()
	} else if err := Ping(ctx, sqlDB); err != nil {
		status.Database = err.Error()
	}

	if Redis != nil {
		status.Redis = "ok"
		if err := Redis.Ping(ctx).Err(); err != nil {
			status.Redis = err.Error()
		}
	}
	return status
}

// Healthy reports whether the database part of s is fine.
func (s HealthStatus) Healthy() bool {
	return s.Database == "ok"
}

func Close() {
	if DB != nil {
		if sqlDB, err := DB.DB(); err == nil {
			sqlDB.Close()
		}
	}
	if Redis != nil {
		Redis.Close()
	}
}
