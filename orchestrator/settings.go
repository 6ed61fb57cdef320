package orchestrator

import (
	"time"

	"clipsync/config"
	"clipsync/internal/retry"
	"clipsync/ranking"
	"clipsync/twitch"
)

// Settings is the resolved configuration of one run.
type Settings struct {
	Sources []Source

	// MaxRetries excludes a candidate once its fail count reaches it.
	MaxRetries int
	// Overlap is the window within which two clips of one group are the same moment.
	Overlap    time.Duration
	Lookback   time.Duration
	MaxResults int
	// DailyUploadLimit caps publishes over the trailing 24 hours. Zero disables it.
	DailyUploadLimit int
	Performance      Performance
	// Retry bounds local retries of transient transform and publish failures.
	Retry    retry.Config
	Timeouts Timeouts
	Metadata Metadata
	// DryRun ranks, deduplicates and probes without writing or publishing.
	DryRun bool
}

// Source is one tracked source with its effective per-source values.
type Source struct {
	twitch.Source
	GroupKey     string
	PublishCap   int
	Spacing      time.Duration
	MinViewCount int64
	Ranking      ranking.Config
}

// Performance controls the source performance feedback loop.
type Performance struct {
	Enabled    bool
	MinSamples int
	Window     int
}

// Timeouts bound every external call.
type Timeouts struct {
	Fetch     time.Duration
	Probe     time.Duration
	Transform time.Duration
	Publish   time.Duration
	Verify    time.Duration
}

// Metadata is what every upload is described with.
type Metadata struct {
	TitleTemplate       string
	DescriptionTemplate string
	Tags                []string
	CategoryID          string
	PrivacyStatus       string
}

// SettingsFromConfig resolves per-source overrides into Settings.
func SettingsFromConfig(cfg *config.Config) Settings {
	s := Settings{
		MaxRetries:       cfg.MaxRetries,
		Overlap:          cfg.Overlap(),
		Lookback:         cfg.LookbackWindow,
		MaxResults:       cfg.MaxResults,
		DailyUploadLimit: cfg.DailyUploadLimit,
		Performance: Performance{
			Enabled:    cfg.Performance.Enabled,
			MinSamples: cfg.Performance.MinSamples,
			Window:     cfg.Performance.Window,
		},
		Retry: cfg.Retry.Retry(),
		Timeouts: Timeouts{
			Fetch:     cfg.Timeouts.Fetch,
			Probe:     cfg.Timeouts.Probe,
			Transform: cfg.Timeouts.Transform,
			Publish:   cfg.Timeouts.Publish,
			Verify:    cfg.Timeouts.Verify,
		},
		Metadata: Metadata{
			TitleTemplate:       cfg.Metadata.TitleTemplate,
			DescriptionTemplate: cfg.Metadata.DescriptionTemplate,
			Tags:                cfg.Metadata.Tags,
			CategoryID:          cfg.YouTube.CategoryID,
			PrivacyStatus:       cfg.YouTube.PrivacyStatus,
		},
		DryRun: cfg.DryRun,
	}
	for _, src := range cfg.Sources {
		s.Sources = append(s.Sources, Source{
			Source: twitch.Source{
				Name:             src.Name,
				BroadcasterLogin: src.BroadcasterLogin,
				BroadcasterID:    src.BroadcasterID,
			},
			GroupKey:     src.Group(),
			PublishCap:   cfg.Cap(src),
			Spacing:      cfg.Spacing(src),
			MinViewCount: cfg.MinViews(src),
			Ranking:      cfg.Ranking(src),
		})
	}
	return s
}

func timeout(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}
