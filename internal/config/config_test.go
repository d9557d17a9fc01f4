package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		Port:            "8081",
		DataBackend:     "memory",
		LogLevel:        "info",
		CacheSize:       64,
		CacheTTL:        5 * time.Minute,
		ShutdownTimeout: 30 * time.Second,
	}
}

func TestConfig_Validate(t *testing.T) {
	tmp := t.TempDir()

	tests := []struct {
		name        string
		mutate      func(*Config)
		wantErr     bool
		errorString string
	}{
		{
			name:    "valid memory backend config",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name: "valid sqlite backend config",
			mutate: func(c *Config) {
				c.DataBackend = "sqlite"
				c.SQLiteDBPath = filepath.Join(tmp, "db", "entregas.db")
			},
			wantErr: false,
		},
		{
			name:        "invalid port - non-numeric",
			mutate:      func(c *Config) { c.Port = "abc" },
			wantErr:     true,
			errorString: "invalid port 'abc': must be a number",
		},
		{
			name:        "invalid port - out of range high",
			mutate:      func(c *Config) { c.Port = "70000" },
			wantErr:     true,
			errorString: "invalid port 70000: must be between 1 and 65535",
		},
		{
			name:        "invalid backend",
			mutate:      func(c *Config) { c.DataBackend = "sheets" },
			wantErr:     true,
			errorString: "invalid data backend 'sheets'",
		},
		{
			name: "sqlite backend without path",
			mutate: func(c *Config) {
				c.DataBackend = "sqlite"
				c.SQLiteDBPath = ""
			},
			wantErr:     true,
			errorString: "SQLite database path cannot be empty",
		},
		{
			name:        "missing rates file",
			mutate:      func(c *Config) { c.RatesFile = filepath.Join(tmp, "nope.json") },
			wantErr:     true,
			errorString: "rates file does not exist",
		},
		{
			name:        "seed file is a directory",
			mutate:      func(c *Config) { c.DataSeedFile = tmp },
			wantErr:     true,
			errorString: "is a directory",
		},
		{
			name:        "invalid log level",
			mutate:      func(c *Config) { c.LogLevel = "loud" },
			wantErr:     true,
			errorString: "invalid log level 'loud'",
		},
		{
			name:        "cache size too small",
			mutate:      func(c *Config) { c.CacheSize = 0 },
			wantErr:     true,
			errorString: "invalid cache size 0",
		},
		{
			name:        "cache ttl too short",
			mutate:      func(c *Config) { c.CacheTTL = time.Millisecond },
			wantErr:     true,
			errorString: "invalid cache ttl",
		},
		{
			name:        "shutdown timeout too short",
			mutate:      func(c *Config) { c.ShutdownTimeout = 0 },
			wantErr:     true,
			errorString: "invalid shutdown timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Config.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !strings.Contains(err.Error(), tt.errorString) {
				t.Errorf("Config.Validate() error = %v, want substring %q", err, tt.errorString)
			}
		})
	}
}

func TestConfig_ValidateCollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Port = "abc"
	cfg.CacheSize = 0
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "invalid port") || !strings.Contains(err.Error(), "invalid cache size") {
		t.Errorf("expected both problems reported, got %v", err)
	}
}

func TestConfig_ValidateCreatesSQLiteDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")
	cfg := validConfig()
	cfg.DataBackend = "sqlite"
	cfg.SQLiteDBPath = filepath.Join(dir, "entregas.db")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("expected directory to be created: %v", err)
	}
}

func TestLoad(t *testing.T) {
	for _, key := range []string{"PORT", "DATA_BACKEND", "SQLITE_DB_PATH", "DATA_SEED_FILE", "RATES_FILE", "LOG_LEVEL", "CACHE_SIZE", "CACHE_TTL", "SHUTDOWN_TIMEOUT"} {
		t.Setenv(key, "")
	}

	t.Run("default values", func(t *testing.T) {
		cfg := Load()

		if cfg.Port != "8081" {
			t.Errorf("Load() Port = %v, want 8081", cfg.Port)
		}
		if cfg.DataBackend != "sqlite" {
			t.Errorf("Load() DataBackend = %v, want sqlite", cfg.DataBackend)
		}
		if cfg.SQLiteDBPath != "./data/entregas.db" {
			t.Errorf("Load() SQLiteDBPath = %v, want ./data/entregas.db", cfg.SQLiteDBPath)
		}
		if cfg.CacheSize != 64 {
			t.Errorf("Load() CacheSize = %v, want 64", cfg.CacheSize)
		}
		if cfg.CacheTTL != 5*time.Minute {
			t.Errorf("Load() CacheTTL = %v, want 5m", cfg.CacheTTL)
		}
	})

	t.Run("environment variables", func(t *testing.T) {
		t.Setenv("PORT", "9090")
		t.Setenv("DATA_BACKEND", "memory")
		t.Setenv("RATES_FILE", "/etc/entregas/rates.json")
		t.Setenv("CACHE_SIZE", "10")
		t.Setenv("CACHE_TTL", "45s")

		cfg := Load()

		if cfg.Port != "9090" {
			t.Errorf("Load() Port = %v, want 9090", cfg.Port)
		}
		if cfg.DataBackend != "memory" {
			t.Errorf("Load() DataBackend = %v, want memory", cfg.DataBackend)
		}
		if cfg.RatesFile != "/etc/entregas/rates.json" {
			t.Errorf("Load() RatesFile = %v", cfg.RatesFile)
		}
		if cfg.CacheSize != 10 {
			t.Errorf("Load() CacheSize = %v, want 10", cfg.CacheSize)
		}
		if cfg.CacheTTL != 45*time.Second {
			t.Errorf("Load() CacheTTL = %v, want 45s", cfg.CacheTTL)
		}
	})

	t.Run("invalid environment variables use defaults", func(t *testing.T) {
		t.Setenv("CACHE_SIZE", "invalid")
		t.Setenv("SHUTDOWN_TIMEOUT", "invalid")

		cfg := Load()

		if cfg.CacheSize != 64 {
			t.Errorf("Load() CacheSize = %v, want 64 (default for invalid input)", cfg.CacheSize)
		}
		if cfg.ShutdownTimeout != 30*time.Second {
			t.Errorf("Load() ShutdownTimeout = %v, want 30s (default for invalid input)", cfg.ShutdownTimeout)
		}
	})
}
