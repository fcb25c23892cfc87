package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xtding233/gacha-pity/internal/logger"
	"github.com/xtding233/gacha-pity/internal/storage"
)

func TestLoadDefaults(t *testing.T) {
	c, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if c.HTTPAddr != ":8080" || c.StorageDriver != DriverSQLite || c.BannerCacheTTL != 30*time.Second {
		t.Fatalf("defaults: %+v", c)
	}
	if c.Scope() != storage.ScopeBanner || c.Logger() != logger.ModeDev {
		t.Fatalf("scope=%s mode=%v", c.Scope(), c.Logger())
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("PITY_SCOPE", "type")
	t.Setenv("CORS_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("SIM_MAX_CONCURRENT", "8")
	c, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if c.StorageDriver != DriverMemory || c.Scope() != storage.ScopeType || c.SimMaxConcurrent != 8 {
		t.Fatalf("overrides: %+v", c)
	}
	if len(c.CORSOrigins) != 2 {
		t.Fatalf("origins: %v", c.CORSOrigins)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]map[string]string{
		"postgres without dsn": {"STORAGE_DRIVER": "postgres"},
		"unknown driver":       {"STORAGE_DRIVER": "mongo"},
		"bad scope":            {"PITY_SCOPE": "global"},
		"bad log mode":         {"LOG_MODE": "loud"},
		"zero sim slots":       {"SIM_MAX_CONCURRENT": "0"},
	}
	for name, vars := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range vars {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("missing file should be ignored: %v", err)
	}
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("GACHA_TEST_DOTENV=from-file\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GACHA_TEST_DOTENV", "")
	os.Unsetenv("GACHA_TEST_DOTENV")
	if err := LoadDotEnv(path); err != nil {
		t.Fatal(err)
	}
	if got := os.Getenv("GACHA_TEST_DOTENV"); got != "from-file" {
		t.Fatalf("got %q", got)
	}
}
