package config

import (
	"errors"
	"os"
	"strings"
	"testing"
	"time"
)

var allKeys = []string{
	"APP_ENV", "APP_HTTP_ADDR", "METRICS_ADDR", "ADMIN_API_KEY",
	"STORE_TYPE", "DB_DSN", "REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB",
	"LOG_LEVEL", "LOG_FORMAT", "GENERATOR_BACKEND", "GEMINI_API_KEY", "API_KEY",
	"GEMINI_MODEL", "OPENAI_API_KEY", "OPENAI_BASE_URL", "OPENAI_MODEL",
	"GENERATOR_TIMEOUT", "BENCH_INTERVAL", "BENCH_HISTORY", "SESSION_TTL",
	"RATE_LIMIT_GENERATE_PER_MIN",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range allKeys {
		if old, ok := os.LookupEnv(key); ok {
			os.Unsetenv(key)
			t.Cleanup(func() { os.Setenv(key, old) })
		}
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.AppEnv != "dev" {
		t.Errorf("Expected AppEnv='dev', got '%s'", cfg.AppEnv)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("Expected HTTPAddr=':8080', got '%s'", cfg.HTTPAddr)
	}
	if cfg.MetricsAddr != ":9090" {
		t.Errorf("Expected MetricsAddr=':9090', got '%s'", cfg.MetricsAddr)
	}
	if cfg.StoreType != "memory" {
		t.Errorf("Expected StoreType='memory', got '%s'", cfg.StoreType)
	}
	if cfg.GeneratorBackend != "gemini" {
		t.Errorf("Expected GeneratorBackend='gemini', got '%s'", cfg.GeneratorBackend)
	}
	if cfg.BenchInterval != 800*time.Millisecond {
		t.Errorf("Expected BenchInterval=800ms, got %v", cfg.BenchInterval)
	}
	if cfg.BenchHistory != 50 {
		t.Errorf("Expected BenchHistory=50, got %d", cfg.BenchHistory)
	}
	if cfg.SessionTTL != 30*time.Minute {
		t.Errorf("Expected SessionTTL=30m, got %v", cfg.SessionTTL)
	}
	if cfg.GeminiAPIKey != "" {
		t.Errorf("Expected empty GeminiAPIKey, got '%s'", cfg.GeminiAPIKey)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_HTTP_ADDR", ":9999")
	t.Setenv("STORE_TYPE", "redis")
	t.Setenv("REDIS_ADDR", "cache:6380")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("GENERATOR_BACKEND", "openai")
	t.Setenv("OPENAI_BASE_URL", "http://llm.local/v1")
	t.Setenv("BENCH_INTERVAL", "250ms")
	t.Setenv("BENCH_HISTORY", "10")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.HTTPAddr != ":9999" {
		t.Errorf("Expected HTTPAddr=':9999', got '%s'", cfg.HTTPAddr)
	}
	opts := cfg.StoreOptions()
	if opts.Type != "redis" || opts.RedisAddr != "cache:6380" || opts.RedisDB != 3 {
		t.Errorf("unexpected store options: %+v", opts)
	}
	if cfg.GeneratorBackend != "openai" || cfg.OpenAIBaseURL != "http://llm.local/v1" {
		t.Errorf("unexpected generator settings: %s %s", cfg.GeneratorBackend, cfg.OpenAIBaseURL)
	}
	if cfg.BenchInterval != 250*time.Millisecond {
		t.Errorf("Expected BenchInterval=250ms, got %v", cfg.BenchInterval)
	}
	if cfg.BenchHistory != 10 {
		t.Errorf("Expected BenchHistory=10, got %d", cfg.BenchHistory)
	}
}

func TestLoad_GeminiKeyFallback(t *testing.T) {
	clearEnv(t)
	t.Setenv("API_KEY", "legacy-key")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.GeminiAPIKey != "legacy-key" {
		t.Errorf("Expected API_KEY fallback, got '%s'", cfg.GeminiAPIKey)
	}

	t.Setenv("GEMINI_API_KEY", "primary-key")
	cfg, _ = Load()
	if cfg.GeminiAPIKey != "primary-key" {
		t.Errorf("Expected GEMINI_API_KEY to win, got '%s'", cfg.GeminiAPIKey)
	}
}

func validConfig() *Config {
	return &Config{
		AppEnv:                  "dev",
		HTTPAddr:                ":8080",
		MetricsAddr:             ":9090",
		AdminAPIKey:             "admin-123",
		StoreType:               "memory",
		LogFormat:               "json",
		GeneratorBackend:        "gemini",
		GeneratorTimeout:        30 * time.Second,
		BenchInterval:           800 * time.Millisecond,
		BenchHistory:            50,
		SessionTTL:              30 * time.Minute,
		RateLimitGeneratePerMin: 20,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		field   string
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "unknown store", mutate: func(c *Config) { c.StoreType = "sqlite" }, field: "STORE_TYPE", wantErr: true},
		{name: "postgres without dsn", mutate: func(c *Config) { c.StoreType = "postgres" }, field: "DB_DSN", wantErr: true},
		{name: "postgres with dsn", mutate: func(c *Config) { c.StoreType = "postgres"; c.DatabaseDSN = "postgres://x" }},
		{name: "redis without addr", mutate: func(c *Config) { c.StoreType = "redis" }, field: "REDIS_ADDR", wantErr: true},
		{name: "empty http addr", mutate: func(c *Config) { c.HTTPAddr = "" }, field: "APP_HTTP_ADDR", wantErr: true},
		{name: "bad log format", mutate: func(c *Config) { c.LogFormat = "xml" }, field: "LOG_FORMAT", wantErr: true},
		{name: "unknown backend", mutate: func(c *Config) { c.GeneratorBackend = "claude" }, field: "GENERATOR_BACKEND", wantErr: true},
		{name: "tiny bench interval", mutate: func(c *Config) { c.BenchInterval = time.Millisecond }, field: "BENCH_INTERVAL", wantErr: true},
		{name: "zero history", mutate: func(c *Config) { c.BenchHistory = 0 }, field: "BENCH_HISTORY", wantErr: true},
		{name: "zero ttl", mutate: func(c *Config) { c.SessionTTL = 0 }, field: "SESSION_TTL", wantErr: true},
		{name: "zero rate limit", mutate: func(c *Config) { c.RateLimitGeneratePerMin = 0 }, field: "RATE_LIMIT_GENERATE_PER_MIN", wantErr: true},
		{name: "empty admin key", mutate: func(c *Config) { c.AdminAPIKey = "" }, field: "ADMIN_API_KEY", wantErr: true},
		{name: "default key in prod", mutate: func(c *Config) { c.AppEnv = "prod" }, field: "ADMIN_API_KEY", wantErr: true},
		{name: "custom key in prod", mutate: func(c *Config) { c.AppEnv = "production"; c.AdminAPIKey = "s3cret" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr {
				return
			}
			var verr ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %T", err)
			}
			if verr.Field != tt.field {
				t.Errorf("Expected field %s, got %s", tt.field, verr.Field)
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("error message should name the field: %s", err.Error())
			}
		})
	}
}
