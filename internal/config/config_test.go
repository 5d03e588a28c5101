package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if cfg.Server.Host == "" {
		t.Error("expected Server.Host to be set")
	}
	if cfg.Server.Port == 0 {
		t.Error("expected Server.Port to be non-zero")
	}
	if cfg.Database.Name == "" {
		t.Error("expected Database.Name to be set")
	}
	if cfg.Log.Level == "" {
		t.Error("expected Log.Level to be set")
	}
}

func TestConfig_DatabaseSettings(t *testing.T) {
	cfg := GetDefaultConfig()

	if cfg.Database.MaxOpenConns == 0 {
		t.Error("expected MaxOpenConns to be set")
	}
	if cfg.Database.MaxIdleConns == 0 {
		t.Error("expected MaxIdleConns to be set")
	}
	if cfg.Database.ConnMaxLifetime < time.Minute {
		t.Error("connection max lifetime should be at least 1 minute")
	}
}

func TestConfig_AutomationDefaults(t *testing.T) {
	cfg := GetDefaultConfig()
	a := cfg.Automation

	if a.RowLimit != 100 {
		t.Errorf("expected row limit 100, got %d", a.RowLimit)
	}
	if a.DefaultCadence != "@every 1h" {
		t.Errorf("expected hourly default cadence, got %q", a.DefaultCadence)
	}
	if a.SweepInterval <= 0 {
		t.Error("expected sweep interval to be set")
	}
	if a.ActionTimeout <= 0 {
		t.Error("expected action timeout to be set")
	}
	if a.ReplaceAllTokens {
		t.Error("template substitution should replace first occurrence only by default")
	}
	if a.Retry.MaxAttempts < 1 || a.Retry.InitialInterval <= 0 || a.Retry.MaxInterval < a.Retry.InitialInterval {
		t.Errorf("unexpected retry defaults: %+v", a.Retry)
	}
}

func TestConfig_SecurityDefaults(t *testing.T) {
	cfg := GetDefaultConfig()

	if !cfg.Security.CORS.Enabled {
		t.Error("expected CORS to be enabled")
	}
	if len(cfg.Security.CORS.AllowedOrigins) == 0 {
		t.Error("expected allowed origins to be set")
	}
	if !cfg.Security.RateLimiting.Enabled {
		t.Error("expected rate limiting to be enabled")
	}
	if cfg.Security.RateLimiting.Burst == 0 {
		t.Error("expected burst to be set")
	}
}

func TestConfig_TracingDefaults(t *testing.T) {
	cfg := GetDefaultConfig()

	if cfg.Monitoring.Tracing.Enabled {
		t.Error("tracing should be disabled by default")
	}
	if cfg.Monitoring.Tracing.Endpoint == "" {
		t.Error("expected tracing endpoint to be set")
	}
	if cfg.Monitoring.Tracing.SampleRatio == 0 {
		t.Error("expected sample ratio to be set")
	}
}

func TestLoad_OverlaysViperOnDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	viper.Set("automation.row_limit", 25)
	viper.Set("server.port", 9090)

	cfg := Load()
	if cfg.Automation.RowLimit != 25 {
		t.Errorf("expected row limit 25, got %d", cfg.Automation.RowLimit)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	// 未覆盖的字段保持默认
	if cfg.Automation.DefaultCadence != "@every 1h" {
		t.Errorf("expected default cadence to survive overlay, got %q", cfg.Automation.DefaultCadence)
	}
	if cfg.Database.Name != "autoflow" {
		t.Errorf("expected default database name, got %q", cfg.Database.Name)
	}
}

func TestInitLogger_Variants(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"default", func(c *Config) {}},
		{"debug level", func(c *Config) { c.Log.Level = "debug" }},
		{"invalid level", func(c *Config) { c.Log.Level = "invalid" }},
		{"text format", func(c *Config) { c.Log.Format = "text" }},
		{"file output", func(c *Config) {
			c.Log.Output = "file"
			c.Log.FilePath = filepath.Join(dir, "file", "autoflow.log")
		}},
		{"both output", func(c *Config) {
			c.Log.Output = "both"
			c.Log.FilePath = filepath.Join(dir, "both", "autoflow.log")
		}},
		{"invalid output", func(c *Config) { c.Log.Output = "invalid" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mutate(cfg)
			if err := InitLogger(cfg); err != nil {
				t.Fatalf("InitLogger failed: %v", err)
			}
		})
	}
}
