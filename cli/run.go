package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"clipsync/config"
	"clipsync/dedup"
	"clipsync/enrich"
	clhttp "clipsync/http"
	"clipsync/internal/logging"
	"clipsync/internal/runlock"
	"clipsync/media"
	"clipsync/orchestrator"
	"clipsync/scheduler"
	"clipsync/storage"
	"clipsync/twitch"
	"clipsync/youtube"
)

func cmdRun(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to clipsync.yaml")
	dryRun := fs.Bool("dry-run", false, "Rank and deduplicate without publishing or writing state")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: clipsync run [flags]\n\nFlags:\n")
		fs.PrintDefaults()
	}
	fs.Parse(args)

	cfg, log, ok := loadConfig(*configPath)
	if !ok {
		return exitError
	}
	if *dryRun {
		cfg.DryRun = true
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.OpenSQLite(ctx, cfg.DatabasePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		return exitError
	}
	defer store.Close()

	deps, cleanup, err := buildDeps(ctx, cfg, store, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitError
	}
	defer cleanup()

	orch, err := orchestrator.New(orchestrator.SettingsFromConfig(cfg), deps, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitError
	}

	report, runErr := orch.Run(ctx)
	if report != nil {
		fmt.Println(renderReport(report))
	}
	return exitCode(report, runErr)
}

// exitCode maps the outcome of a run to the process exit code.
func exitCode(report *orchestrator.Report, err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrLocked):
		fmt.Fprintln(os.Stderr, "Another clipsync run is active.")
		return exitLocked
	case err != nil:
		fmt.Fprintf(os.Stderr, "Run failed: %v\n", err)
		return exitError
	case report != nil && report.Halt == scheduler.ReasonQuotaExhausted:
		return exitQuota
	}
	return exitOK
}

// buildDeps wires the collaborators of a run from the config.
func buildDeps(ctx context.Context, cfg *config.Config, store storage.Store, log *logging.Logger) (orchestrator.Deps, func(), error) {
	httpCfg := clhttp.DefaultConfig()
	httpCfg.Retry = cfg.Retry.Retry()
	if cfg.Twitch.RPS > 0 {
		httpCfg.RateLimiter.HelixRPS = cfg.Twitch.RPS
	}
	fetcher := twitch.New(twitch.Config{
		ClientID:     cfg.Twitch.ClientID,
		ClientSecret: cfg.Twitch.ClientSecret,
		HTTP:         httpCfg,
	}, log)
	cleanup := func() { fetcher.Close() }

	blocklist, err := dedup.LoadBlocklist(cfg.BlocklistPath)
	if err != nil {
		cleanup()
		return orchestrator.Deps{}, nil, err
	}

	deps := orchestrator.Deps{
		Store:   store,
		Lock:    runlock.New(cfg.LockPath),
		Fetcher: fetcher,
		Transformer: media.New(media.Config{
			YtdlpPath:      cfg.Media.YtdlpPath,
			FfmpegPath:     cfg.Media.FfmpegPath,
			WorkDir:        cfg.WorkDir,
			NormalizeAudio: cfg.Media.NormalizeAudio,
		}, log),
		Blocklist: blocklist,
	}

	services := youtube.NewServiceCache(log)
	svc, err := services.Service(ctx, youtube.Credentials{
		ClientSecretsPath: cfg.YouTube.ClientSecretsPath,
		TokenPath:         cfg.YouTube.TokenPath,
	})
	if err != nil {
		if !cfg.DryRun {
			cleanup()
			return orchestrator.Deps{}, nil, fmt.Errorf("youtube credentials: %w", err)
		}
		log.Warn("dry run without youtube credentials, the uploads playlist probe is disabled: %v", err)
		deps.Publisher = dryRunPublisher{}
	} else {
		quota, err := youtube.OpenQuotaTracker(cfg.YouTube.QuotaStatePath, cfg.YouTube.DailyQuota, log)
		if err != nil {
			cleanup()
			return orchestrator.Deps{}, nil, err
		}
		client := youtube.NewClient(svc, youtube.ClientConfig{
			ChannelID:  cfg.YouTube.ChannelID,
			Quota:      quota,
			Retry:      cfg.Retry.Retry(),
			ProbePages: cfg.YouTube.ProbePages,
		}, log)
		deps.Publisher = client
		deps.Verifier = client
		deps.Views = client
		deps.Updater = client
		deps.Probe = client
	}

	if cfg.YouTube.FeedProbe && cfg.YouTube.ChannelID != "" {
		feed := youtube.NewFeedProbe(cfg.YouTube.ChannelID, "", nil)
		deps.Probe = dedup.Chain(feed, deps.Probe)
	}

	if cfg.Enrich.Enabled {
		d, err := enrich.New(enrich.Config{
			APIKey:  cfg.Enrich.APIKey,
			BaseURL: cfg.Enrich.BaseURL,
			Model:   cfg.Enrich.Model,
		}, log)
		if err != nil {
			cleanup()
			return orchestrator.Deps{}, nil, err
		}
		deps.Describer = d
	}
	return deps, cleanup, nil
}

// dryRunPublisher stands in when a dry run has no destination credentials.
// The orchestrator never calls it in a dry run.
type dryRunPublisher struct{}

func (dryRunPublisher) Publish(context.Context, youtube.Upload) (string, error) {
	return "", errors.New("publishing is disabled in a dry run")
}
