package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultConfigValidates(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("DefaultConfig().Validate() = %v", err)
	}
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
publish_cap_per_run: 2
spacing_interval: 90m
age_decay_mode: linear
overlap_seconds: 45
retry:
  max_retries: 4
  initial_backoff: 1s
  max_backoff: 10s
  backoff_multiplier: 3
youtube:
  channel_id: UCabc
  privacy_status: unlisted
sources:
  - name: main
    broadcaster_login: streamer
    publish_cap_per_run: 0
    spacing_interval: 4h
  - name: second
    broadcaster_id: "1234"
    group_key: shared
    velocity_weight: 2.5
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.PublishCapPerRun != 2 {
		t.Errorf("PublishCapPerRun = %d, want 2", cfg.PublishCapPerRun)
	}
	if cfg.SpacingInterval != 90*time.Minute {
		t.Errorf("SpacingInterval = %v, want 90m", cfg.SpacingInterval)
	}
	if cfg.Overlap() != 45*time.Second {
		t.Errorf("Overlap() = %v, want 45s", cfg.Overlap())
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want default 3", cfg.MaxRetries)
	}
	if got := cfg.Retry.Retry(); got.MaxRetries != 4 || got.Multiplier != 3 {
		t.Errorf("Retry() = %+v", got)
	}
	if cfg.YouTube.PrivacyStatus != "unlisted" || cfg.YouTube.DailyQuota != 10000 {
		t.Errorf("YouTube = %+v, want overrides merged over defaults", cfg.YouTube)
	}

	main, _ := cfg.Source("main")
	if cfg.Cap(main) != 0 {
		t.Errorf("Cap(main) = %d, want explicit 0", cfg.Cap(main))
	}
	if cfg.Spacing(main) != 4*time.Hour {
		t.Errorf("Spacing(main) = %v, want 4h", cfg.Spacing(main))
	}
	if main.Group() != "main" {
		t.Errorf("Group() = %q, want name fallback", main.Group())
	}

	second, ok := cfg.Source("second")
	if !ok {
		t.Fatal("Source(second) not found")
	}
	if cfg.Cap(second) != 2 || second.Group() != "shared" {
		t.Errorf("second: cap %d group %q", cfg.Cap(second), second.Group())
	}
	if r := cfg.Ranking(second); r.VelocityWeight != 2.5 || r.AgeDecay != "linear" {
		t.Errorf("Ranking(second) = %+v", r)
	}
}

func TestLoad_ExplicitPathMustExist(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("Load() with a missing explicit path succeeded")
	}
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.PublishCapPerRun != DefaultConfig().PublishCapPerRun {
		t.Errorf("PublishCapPerRun = %d, want default", cfg.PublishCapPerRun)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "publish_cap_per_run: 2\n")
	t.Setenv("CLIPSYNC_PUBLISH_CAP", "5")
	t.Setenv("CLIPSYNC_DATABASE_PATH", "/tmp/x.db")
	t.Setenv("CLIPSYNC_DRY_RUN", "true")
	t.Setenv("CLIPSYNC_TWITCH_CLIENT_ID", "cid")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.PublishCapPerRun != 5 {
		t.Errorf("PublishCapPerRun = %d, want env 5", cfg.PublishCapPerRun)
	}
	if cfg.DatabasePath != "/tmp/x.db" || !cfg.DryRun || cfg.Twitch.ClientID != "cid" {
		t.Errorf("env overrides not applied: %+v", cfg)
	}
}

func TestLoad_BadEnv(t *testing.T) {
	path := writeConfig(t, "")
	t.Setenv("CLIPSYNC_MAX_RETRIES", "many")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "CLIPSYNC_MAX_RETRIES") {
		t.Errorf("Load() error = %v, want env parse error", err)
	}
}

func TestLoad_ParseError(t *testing.T) {
	path := writeConfig(t, "sources: [unterminated\n")
	if _, err := Load(path); err == nil {
		t.Fatal("Load() accepted malformed YAML")
	}
}

func TestValidate(t *testing.T) {
	one := 1
	neg := -1
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"decay mode", func(c *Config) { c.AgeDecayMode = "exp" }, "age_decay_mode"},
		{"max retries", func(c *Config) { c.MaxRetries = 0 }, "max_retries"},
		{"negative cap", func(c *Config) { c.PublishCapPerRun = -1 }, "publish_cap_per_run"},
		{"backoff order", func(c *Config) { c.Retry.MaxBackoff = time.Millisecond }, "retry.max_backoff"},
		{"multiplier", func(c *Config) { c.Retry.BackoffMultiplier = 1 }, "backoff_multiplier"},
		{"timeout", func(c *Config) { c.Timeouts.Publish = 0 }, "timeouts.publish"},
		{"privacy", func(c *Config) { c.YouTube.PrivacyStatus = "secret" }, "privacy_status"},
		{"quota state", func(c *Config) { c.YouTube.QuotaStatePath = " " }, "quota_state_path"},
		{"log level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"enrich key", func(c *Config) { c.Enrich.Enabled = true }, "enrich.api_key"},
		{"source name", func(c *Config) { c.Sources = []Source{{BroadcasterLogin: "x"}} }, "name is required"},
		{"source broadcaster", func(c *Config) { c.Sources = []Source{{Name: "a"}} }, "broadcaster_login"},
		{"duplicate source", func(c *Config) {
			c.Sources = []Source{{Name: "a", BroadcasterID: "1"}, {Name: "a", BroadcasterID: "2", PublishCapPerRun: &one}}
		}, "duplicate name"},
		{"source cap", func(c *Config) {
			c.Sources = []Source{{Name: "a", BroadcasterID: "1", PublishCapPerRun: &neg}}
		}, "sources[0]: publish_cap_per_run"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}
