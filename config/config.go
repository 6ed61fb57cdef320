// Package config manages application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"clipsync/internal/retry"
	"clipsync/ranking"
)

// FileName is the config file searched for when no path is given.
const FileName = "clipsync.yaml"

// Config holds all application configuration for publish runs.
type Config struct {
	// PublishCapPerRun is the default number of publishes per source per run.
	PublishCapPerRun int `yaml:"publish_cap_per_run"`
	// SpacingInterval is the minimum gap between publishes for one source group.
	SpacingInterval time.Duration `yaml:"spacing_interval"`
	// MaxRetries is the failed-attempt count after which a clip is excluded for good.
	MaxRetries int `yaml:"max_retries"`
	// LookbackWindow bounds how far back clips are fetched.
	LookbackWindow time.Duration `yaml:"lookback_window"`
	// VelocityWeight scales the views-per-hour term of the score.
	VelocityWeight float64 `yaml:"velocity_weight"`
	// AgeDecayMode is "linear" or "log".
	AgeDecayMode string `yaml:"age_decay_mode"`
	// OverlapSeconds is the window within which two clips show the same moment.
	OverlapSeconds float64 `yaml:"overlap_seconds"`
	// MinViewCount drops clips below this many views before ranking.
	MinViewCount int64 `yaml:"min_view_count"`
	// MaxResults caps clips fetched per source.
	MaxResults int `yaml:"max_results"`
	// DailyUploadLimit caps publishes over any 24h window. 0 disables it.
	DailyUploadLimit int `yaml:"daily_upload_limit"`
	// MinAgeHours floors clip age before the decay transform.
	MinAgeHours float64 `yaml:"min_age_hours"`
	// TitleBonus is the ceiling of the title quality multiplier.
	TitleBonus float64 `yaml:"title_bonus"`

	Performance PerformanceConfig `yaml:"performance"`
	Retry       RetryConfig       `yaml:"retry"`
	Timeouts    TimeoutConfig     `yaml:"timeouts"`

	DatabasePath  string `yaml:"database_path"`
	LockPath      string `yaml:"lock_path"`
	WorkDir       string `yaml:"work_dir"`
	BlocklistPath string `yaml:"blocklist_path"`
	LogLevel      string `yaml:"log_level"`
	// Retention prunes records older than this. 0 keeps everything.
	Retention time.Duration `yaml:"retention"`
	// DryRun ranks and deduplicates without publishing.
	DryRun bool `yaml:"dry_run"`

	Twitch   TwitchConfig   `yaml:"twitch"`
	YouTube  YouTubeConfig  `yaml:"youtube"`
	Media    MediaConfig    `yaml:"media"`
	Metadata MetadataConfig `yaml:"metadata"`
	Enrich   EnrichConfig   `yaml:"enrich"`

	Sources []Source `yaml:"sources"`
}

// PerformanceConfig controls the source performance multiplier.
type PerformanceConfig struct {
	Enabled bool `yaml:"enabled"`
	// MinSamples is the number of measured uploads before the multiplier applies.
	MinSamples int `yaml:"min_samples"`
	// Window is how many recent uploads are measured per source.
	Window int `yaml:"window"`
}

// RetryConfig controls local retries of transient failures.
type RetryConfig struct {
	MaxRetries        int           `yaml:"max_retries"`
	InitialBackoff    time.Duration `yaml:"initial_backoff"`
	MaxBackoff        time.Duration `yaml:"max_backoff"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// Retry converts to the retry package's config.
func (r RetryConfig) Retry() retry.Config {
	cfg := retry.DefaultConfig()
	cfg.MaxRetries = r.MaxRetries
	cfg.InitialBackoff = r.InitialBackoff
	cfg.MaxBackoff = r.MaxBackoff
	cfg.Multiplier = r.BackoffMultiplier
	return cfg
}

// TimeoutConfig bounds every external call.
type TimeoutConfig struct {
	Fetch     time.Duration `yaml:"fetch"`
	Probe     time.Duration `yaml:"probe"`
	Transform time.Duration `yaml:"transform"`
	Publish   time.Duration `yaml:"publish"`
	Verify    time.Duration `yaml:"verify"`
}

type TwitchConfig struct {
	ClientID     string  `yaml:"client_id"`
	ClientSecret string  `yaml:"client_secret"`
	RPS          float64 `yaml:"rps"`
}

type YouTubeConfig struct {
	ClientSecretsPath string `yaml:"client_secrets_path"`
	TokenPath         string `yaml:"token_path"`
	ChannelID         string `yaml:"channel_id"`
	DailyQuota        int    `yaml:"daily_quota"`
	QuotaStatePath    string `yaml:"quota_state_path"`
	PrivacyStatus     string `yaml:"privacy_status"`
	CategoryID        string `yaml:"category_id"`
	// FeedProbe checks the free public feed before the uploads playlist.
	FeedProbe  bool `yaml:"feed_probe"`
	ProbePages int  `yaml:"probe_pages"`
}

type MediaConfig struct {
	YtdlpPath      string `yaml:"ytdlp_path"`
	FfmpegPath     string `yaml:"ffmpeg_path"`
	NormalizeAudio bool   `yaml:"normalize_audio"`
}

// MetadataConfig holds text/template sources rendered per clip.
type MetadataConfig struct {
	TitleTemplate       string   `yaml:"title_template"`
	DescriptionTemplate string   `yaml:"description_template"`
	Tags                []string `yaml:"tags"`
}

type EnrichConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// Source is one tracked broadcaster. Pointer fields override the global
// value when set.
type Source struct {
	Name             string         `yaml:"name"`
	BroadcasterLogin string         `yaml:"broadcaster_login"`
	BroadcasterID    string         `yaml:"broadcaster_id"`
	GroupKey         string         `yaml:"group_key"`
	PublishCapPerRun *int           `yaml:"publish_cap_per_run"`
	SpacingInterval  *time.Duration `yaml:"spacing_interval"`
	VelocityWeight   *float64       `yaml:"velocity_weight"`
	MinViewCount     *int64         `yaml:"min_view_count"`
}

// Group returns the overlap and spacing group, defaulting to the name.
func (s Source) Group() string {
	if s.GroupKey != "" {
		return s.GroupKey
	}
	return s.Name
}

// Cap returns the source's publish cap.
func (c *Config) Cap(s Source) int {
	if s.PublishCapPerRun != nil {
		return *s.PublishCapPerRun
	}
	return c.PublishCapPerRun
}

// Spacing returns the source's spacing interval.
func (c *Config) Spacing(s Source) time.Duration {
	if s.SpacingInterval != nil {
		return *s.SpacingInterval
	}
	return c.SpacingInterval
}

// MinViews returns the source's minimum view count.
func (c *Config) MinViews(s Source) int64 {
	if s.MinViewCount != nil {
		return *s.MinViewCount
	}
	return c.MinViewCount
}

// Ranking returns the scoring config for a source.
func (c *Config) Ranking(s Source) ranking.Config {
	cfg := ranking.DefaultConfig()
	cfg.VelocityWeight = c.VelocityWeight
	if s.VelocityWeight != nil {
		cfg.VelocityWeight = *s.VelocityWeight
	}
	cfg.AgeDecay = ranking.DecayMode(c.AgeDecayMode)
	cfg.MinAgeHours = c.MinAgeHours
	cfg.TitleBonusMax = c.TitleBonus
	return cfg
}

// Overlap returns OverlapSeconds as a duration.
func (c *Config) Overlap() time.Duration {
	return time.Duration(c.OverlapSeconds * float64(time.Second))
}

// DefaultConfig returns configuration with safe defaults.
func DefaultConfig() *Config {
	dataDir := defaultDataDir()
	return &Config{
		PublishCapPerRun: 1,
		SpacingInterval:  2 * time.Hour,
		MaxRetries:       3,
		LookbackWindow:   48 * time.Hour,
		VelocityWeight:   1.0,
		AgeDecayMode:     string(ranking.DecayLog),
		OverlapSeconds:   30,
		MinViewCount:     10,
		MaxResults:       100,
		DailyUploadLimit: 6,
		MinAgeHours:      ranking.DefaultMinAgeHours,
		TitleBonus:       1.25,
		Performance: PerformanceConfig{
			MinSamples: 5,
			Window:     10,
		},
		Retry: RetryConfig{
			MaxRetries:        2,
			InitialBackoff:    2 * time.Second,
			MaxBackoff:        30 * time.Second,
			BackoffMultiplier: 2.0,
		},
		Timeouts: TimeoutConfig{
			Fetch:     30 * time.Second,
			Probe:     20 * time.Second,
			Transform: 5 * time.Minute,
			Publish:   15 * time.Minute,
			Verify:    30 * time.Second,
		},
		DatabasePath: filepath.Join(dataDir, "clipsync.db"),
		LockPath:     filepath.Join(dataDir, "clipsync.lock"),
		WorkDir:      filepath.Join(os.TempDir(), "clipsync"),
		LogLevel:     "info",
		Retention:    180 * 24 * time.Hour,
		Twitch:       TwitchConfig{RPS: 10},
		YouTube: YouTubeConfig{
			ClientSecretsPath: filepath.Join(dataDir, "client_secret.json"),
			TokenPath:         filepath.Join(dataDir, "token.json"),
			DailyQuota:        10000,
			QuotaStatePath:    filepath.Join(dataDir, "quota.json"),
			PrivacyStatus:     "public",
			CategoryID:        "20",
			FeedProbe:         true,
			ProbePages:        2,
		},
		Media: MediaConfig{
			YtdlpPath:  "yt-dlp",
			FfmpegPath: "ffmpeg",
		},
		Metadata: MetadataConfig{
			TitleTemplate:       "{{.Title}}",
			DescriptionTemplate: "{{.Title}}\n\nStreamer: {{.SourceName}}{{if .Creator}} | Clipped by {{.Creator}}{{end}}\n{{.URL}}",
		},
	}
}

func defaultDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "clipsync")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "clipsync")
	}
	return "."
}

// Load loads configuration from defaults, a config file and environment
// variables, in increasing priority. An explicit path must exist; without
// one, clipsync.yaml in the working directory and then
// ~/.config/clipsync/clipsync.yaml are tried and may both be absent.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if err := cfg.loadFromFile(path); err != nil {
		if path != "" || !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := cfg.loadFromEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	paths := []string{path}
	if path == "" {
		paths = []string{FileName}
		if home, err := os.UserHomeDir(); err == nil {
			paths = append(paths, filepath.Join(home, ".config", "clipsync", FileName))
		}
	}

	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return err
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse %s: %w", p, err)
		}
		return nil
	}
	return os.ErrNotExist
}

// loadFromEnv overrides config with CLIPSYNC_* environment variables.
func (c *Config) loadFromEnv() error {
	strs := map[string]*string{
		"CLIPSYNC_DATABASE_PATH":        &c.DatabasePath,
		"CLIPSYNC_LOCK_PATH":            &c.LockPath,
		"CLIPSYNC_QUOTA_STATE_PATH":     &c.YouTube.QuotaStatePath,
		"CLIPSYNC_WORK_DIR":             &c.WorkDir,
		"CLIPSYNC_LOG_LEVEL":            &c.LogLevel,
		"CLIPSYNC_TWITCH_CLIENT_ID":     &c.Twitch.ClientID,
		"CLIPSYNC_TWITCH_CLIENT_SECRET": &c.Twitch.ClientSecret,
		"CLIPSYNC_OPENAI_API_KEY":       &c.Enrich.APIKey,
	}
	for name, dst := range strs {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"CLIPSYNC_PUBLISH_CAP": &c.PublishCapPerRun,
		"CLIPSYNC_MAX_RETRIES": &c.MaxRetries,
	}
	for name, dst := range ints {
		if v := os.Getenv(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			*dst = n
		}
	}

	if v := os.Getenv("CLIPSYNC_DRY_RUN"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("CLIPSYNC_DRY_RUN: %w", err)
		}
		c.DryRun = b
	}
	return nil
}

// Validate checks that configuration values are valid and consistent.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.PublishCapPerRun >= 0, "publish_cap_per_run must be non-negative")
	check(c.SpacingInterval >= 0, "spacing_interval must be non-negative")
	check(c.MaxRetries >= 1, "max_retries must be at least 1")
	check(c.LookbackWindow > 0, "lookback_window must be positive")
	check(c.VelocityWeight >= 0, "velocity_weight must be non-negative")
	check(ranking.DecayMode(c.AgeDecayMode).Valid(), "age_decay_mode must be linear or log, got %q", c.AgeDecayMode)
	check(c.OverlapSeconds >= 0, "overlap_seconds must be non-negative")
	check(c.MinViewCount >= 0, "min_view_count must be non-negative")
	check(c.MaxResults > 0, "max_results must be positive")
	check(c.DailyUploadLimit >= 0, "daily_upload_limit must be non-negative")
	check(c.MinAgeHours > 0, "min_age_hours must be positive")
	check(c.TitleBonus >= 1, "title_bonus must be >= 1")
	check(c.Performance.MinSamples >= 1, "performance.min_samples must be at least 1")
	check(c.Performance.Window >= 1, "performance.window must be at least 1")

	check(c.Retry.MaxRetries >= 0, "retry.max_retries must be non-negative")
	check(c.Retry.InitialBackoff > 0, "retry.initial_backoff must be positive")
	check(c.Retry.MaxBackoff >= c.Retry.InitialBackoff, "retry.max_backoff must be >= retry.initial_backoff")
	check(c.Retry.BackoffMultiplier > 1, "retry.backoff_multiplier must be > 1")

	for name, d := range map[string]time.Duration{
		"fetch": c.Timeouts.Fetch, "probe": c.Timeouts.Probe, "transform": c.Timeouts.Transform,
		"publish": c.Timeouts.Publish, "verify": c.Timeouts.Verify,
	} {
		check(d > 0, "timeouts.%s must be positive", name)
	}

	check(strings.TrimSpace(c.DatabasePath) != "", "database_path is required")
	check(strings.TrimSpace(c.LockPath) != "", "lock_path is required")
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error", "critical":
	default:
		check(false, "log_level %q is not a level", c.LogLevel)
	}
	check(c.Retention >= 0, "retention must be non-negative")
	check(c.Twitch.RPS >= 0, "twitch.rps must be non-negative")
	switch c.YouTube.PrivacyStatus {
	case "public", "unlisted", "private":
	default:
		check(false, "youtube.privacy_status must be public, unlisted or private")
	}
	check(c.YouTube.DailyQuota > 0, "youtube.daily_quota must be positive")
	check(strings.TrimSpace(c.YouTube.QuotaStatePath) != "", "youtube.quota_state_path is required")
	check(!c.Enrich.Enabled || c.Enrich.APIKey != "", "enrich.api_key is required when enrich is enabled")

	seen := make(map[string]bool, len(c.Sources))
	for i, s := range c.Sources {
		check(s.Name != "", "sources[%d]: name is required", i)
		check(!seen[s.Name], "sources[%d]: duplicate name %q", i, s.Name)
		seen[s.Name] = true
		check(s.BroadcasterLogin != "" || s.BroadcasterID != "", "sources[%d]: broadcaster_login or broadcaster_id is required", i)
		check(s.PublishCapPerRun == nil || *s.PublishCapPerRun >= 0, "sources[%d]: publish_cap_per_run must be non-negative", i)
		check(s.VelocityWeight == nil || *s.VelocityWeight >= 0, "sources[%d]: velocity_weight must be non-negative", i)
	}
	return errors.Join(errs...)
}

// Source returns the named source.
func (c *Config) Source(name string) (Source, bool) {
	for _, s := range c.Sources {
		if s.Name == name {
			return s, true
		}
	}
	return Source{}, false
}
