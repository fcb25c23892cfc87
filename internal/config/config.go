// Package config reads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/xtding233/gacha-pity/internal/logger"
	"github.com/xtding233/gacha-pity/internal/storage"
)

type Driver string

const (
	DriverMemory   Driver = "memory"
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

type Config struct {
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`
	GRPCAddr string `env:"GRPC_ADDR" envDefault:":9090"`

	StorageDriver Driver `env:"STORAGE_DRIVER" envDefault:"sqlite"`
	SQLitePath    string `env:"SQLITE_PATH" envDefault:"data/gacha.db"`
	PGDSN         string `env:"PG_DSN"`

	PityScope string `env:"PITY_SCOPE" envDefault:"banner"`

	CatalogDir      string        `env:"CATALOG_DIR"`
	CatalogInterval time.Duration `env:"CATALOG_POLL_INTERVAL" envDefault:"2s"`

	BannerCacheTTL time.Duration `env:"BANNER_CACHE_TTL" envDefault:"30s"`
	PityCacheTTL   time.Duration `env:"PITY_CACHE_TTL" envDefault:"2s"`

	SimMaxConcurrent int `env:"SIM_MAX_CONCURRENT" envDefault:"4"`

	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"*"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	LogMode string `env:"LOG_MODE" envDefault:"dev"`
}

// LoadDotEnv loads path into the environment when it exists. Variables already set win.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load parses the environment and checks cross-field constraints.
func Load() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Validate() error {
	switch c.StorageDriver {
	case DriverMemory:
	case DriverSQLite:
		if c.SQLitePath == "" {
			return errors.New("SQLITE_PATH is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.PGDSN == "" {
			return errors.New("PG_DSN is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver)
	}
	if _, err := storage.ParseScopeMode(c.PityScope); err != nil {
		return err
	}
	if _, err := logger.ParseMode(c.LogMode); err != nil {
		return err
	}
	if c.SimMaxConcurrent < 1 {
		return errors.New("SIM_MAX_CONCURRENT must be >= 1")
	}
	return nil
}

func (c Config) Scope() storage.ScopeMode {
	m, _ := storage.ParseScopeMode(c.PityScope)
	return m
}

func (c Config) Logger() logger.Mode {
	m, _ := logger.ParseMode(c.LogMode)
	return m
}
