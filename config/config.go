// Package config はアプリケーション設定の読み込みを提供する。
package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// データベースドライバ名。
const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// ロットロックのバックエンド名。
const (
	LockBackendMemory = "memory"
	LockBackendRedis  = "redis"
)

// Config はアプリケーション設定を表す。
type Config struct {
	Port                string        `env:"PORT" env-default:"8080"`
	DatabaseDriver      string        `env:"DATABASE_DRIVER" env-default:"mysql"`
	DatabaseURL         string        `env:"DATABASE_URL"`
	DatabaseAutoMigrate bool          `env:"DATABASE_AUTO_MIGRATE" env-default:"false"`
	GoogleCloudProject  string        `env:"GOOGLE_CLOUD_PROJECT"`
	LogLevel            string        `env:"LOG_LEVEL" env-default:"INFO"`
	OtelEnabled         bool          `env:"OTEL_ENABLED" env-default:"false"`
	OtelEndpoint        string        `env:"OTEL_ENDPOINT" env-default:"localhost:4317"`
	OtelServiceName     string        `env:"OTEL_SERVICE_NAME" env-default:"rxverify-service"`
	OtelSamplingRate    float64       `env:"OTEL_SAMPLING_RATE" env-default:"1.0"`
	OtelInsecure        bool          `env:"OTEL_INSECURE" env-default:"false"`
	LockBackend         string        `env:"LOCK_BACKEND" env-default:"memory"`
	LockTimeout         time.Duration `env:"LOCK_TIMEOUT" env-default:"5s"`
	LockTTL             time.Duration `env:"LOCK_TTL" env-default:"30s"`
	RedisAddr           string        `env:"REDIS_ADDR"`
	RedisPassword       string        `env:"REDIS_PASSWORD"`
	RedisDB             int           `env:"REDIS_DB" env-default:"0"`
	VerifyConcurrency   int           `env:"VERIFY_CONCURRENCY" env-default:"8"`
}

// Load は環境変数から設定を読み込む。
func Load() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config: read env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return &cfg, nil
}

// Validate は設定値の整合性を検証する。
func (c *Config) Validate() error {
	switch c.DatabaseDriver {
	case DriverMySQL, DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q", c.DatabaseDriver)
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	switch c.LockBackend {
	case LockBackendMemory:
	case LockBackendRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required when LOCK_BACKEND=redis")
		}
	default:
		return fmt.Errorf("unsupported LOCK_BACKEND %q", c.LockBackend)
	}

	if c.LockTimeout <= 0 {
		return fmt.Errorf("LOCK_TIMEOUT must be positive")
	}
	if c.LockBackend == LockBackendRedis && c.LockTTL <= c.LockTimeout {
		return fmt.Errorf("LOCK_TTL must be longer than LOCK_TIMEOUT")
	}
	if c.OtelSamplingRate < 0 || c.OtelSamplingRate > 1 {
		return fmt.Errorf("OTEL_SAMPLING_RATE must be between 0 and 1")
	}
	if c.VerifyConcurrency < 1 {
		c.VerifyConcurrency = 1
	}
	return nil
}
