package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	log "github.com/sirupsen/logrus"
)

type Config struct {
	// Database
	DBHost     string `env:"DB_HOST" envDefault:"localhost"`
	DBPort     int    `env:"DB_PORT" envDefault:"5432"`
	DBUser     string `env:"DB_USER" envDefault:"hotspotbill"`
	DBPassword string `env:"DB_PASSWORD"`
	DBName     string `env:"DB_NAME" envDefault:"hotspotbill"`
	DBSSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`

	// Redis
	RedisHost     string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// JWT
	JWTSecret      string `env:"JWT_SECRET"`
	JWTExpireHours int    `env:"JWT_EXPIRE_HOURS" envDefault:"24"`

	// API
	APIPort          int           `env:"API_PORT" envDefault:"8080"`
	BodyLimitMB      int           `env:"API_BODY_LIMIT_MB" envDefault:"10"`
	RateLimit        int           `env:"API_RATE_LIMIT" envDefault:"120"`
	RateLimitWindow  time.Duration `env:"API_RATE_WINDOW" envDefault:"1m"`
	ResponseCacheTTL time.Duration `env:"API_CACHE_TTL" envDefault:"15s"`
	MetricsEnabled   bool          `env:"METRICS_ENABLED" envDefault:"true"`

	// RouterOS
	Router RouterConfig `envPrefix:"ROUTER_"`

	// Provisioning retry queue
	QueuePath          string        `env:"QUEUE_PATH" envDefault:"/var/lib/hotspotbill/queue.db"`
	QueueRetryInterval time.Duration `env:"QUEUE_RETRY_INTERVAL" envDefault:"30s"`
	QueueMaxAttempts   int           `env:"QUEUE_MAX_ATTEMPTS" envDefault:"20"`

	// Printing
	TemplateDir string `env:"PRINT_TEMPLATE_DIR" envDefault:"/app/print-templates"`

	// Backup
	Backup BackupConfig `envPrefix:"BACKUP_"`

	// Logging
	LogDir       string `env:"LOG_DIR" envDefault:"/var/log/hotspotbill"`
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
	LogRetention int    `env:"LOG_RETENTION_DAYS" envDefault:"14"`
}

// RouterConfig tunes the RouterOS connection pool and health monitor.
type RouterConfig struct {
	MaxConnections  int           `env:"MAX_CONNECTIONS" envDefault:"4"`
	IdleTimeout     time.Duration `env:"IDLE_TIMEOUT" envDefault:"5m"`
	MaxAge          time.Duration `env:"MAX_AGE" envDefault:"30m"`
	ConnectTimeout  time.Duration `env:"CONNECT_TIMEOUT" envDefault:"5s"`
	CommandTimeout  time.Duration `env:"COMMAND_TIMEOUT" envDefault:"10s"`
	CommandsPerSec  float64       `env:"COMMANDS_PER_SEC" envDefault:"20"`
	MonitorInterval time.Duration `env:"MONITOR_INTERVAL" envDefault:"30s"`
}

// BackupConfig describes where backups are written and shipped.
type BackupConfig struct {
	Dir           string `env:"DIR" envDefault:"/var/backups/hotspotbill"`
	RetentionDays int    `env:"RETENTION_DAYS" envDefault:"14"`
	Hour          int    `env:"HOUR" envDefault:"2"`

	FTPHost     string `env:"FTP_HOST"`
	FTPPort     int    `env:"FTP_PORT" envDefault:"21"`
	FTPUser     string `env:"FTP_USER"`
	FTPPassword string `env:"FTP_PASSWORD"`
	FTPPath     string `env:"FTP_PATH" envDefault:"/"`

	SFTPHost     string `env:"SFTP_HOST"`
	SFTPPort     int    `env:"SFTP_PORT" envDefault:"22"`
	SFTPUser     string `env:"SFTP_USER"`
	SFTPPassword string `env:"SFTP_PASSWORD"`
	SFTPPath     string `env:"SFTP_PATH" envDefault:"."`
}

// generateSecureSecret generates a cryptographically secure random secret
func generateSecureSecret(length int) string {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return hex.EncodeToString([]byte(os.Getenv("HOSTNAME") + string(rune(length))))
	}
	return hex.EncodeToString(bytes)
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if cfg.JWTSecret == "" {
		cfg.JWTSecret = generateSecureSecret(32)
		log.Warn("JWT_SECRET not set - generated random secret, the persisted one will be used if present")
	}
	if cfg.DBPassword == "" {
		log.Warn("DB_PASSWORD not set - this is insecure for production!")
		cfg.DBPassword = "changeme"
	}
	if cfg.RedisPassword == "" {
		log.Warn("REDIS_PASSWORD not set - Redis is not secured!")
	}
	if cfg.Router.MaxConnections < 1 {
		cfg.Router.MaxConnections = 1
	}
	if cfg.Backup.Hour < 0 || cfg.Backup.Hour > 23 {
		cfg.Backup.Hour = 2
	}

	return cfg, nil
}

// DSN returns the Postgres connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode,
	)
}

// RedisAddr returns host:port of the Redis server.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// FTPEnabled reports whether backups are shipped over FTP.
func (b BackupConfig) FTPEnabled() bool {
	return b.FTPHost != ""
}

// SFTPEnabled reports whether backups are shipped over SFTP.
func (b BackupConfig) SFTPEnabled() bool {
	return b.SFTPHost != ""
}
