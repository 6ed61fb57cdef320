// Package clipsync publishes the best recent Twitch clips of configured
// broadcasters to a YouTube channel without ever uploading the same moment
// twice.
//
// Overview
//
// A run is a single scheduled pass. For every configured source it:
//
//   - fetches recent clips from the Twitch Helix API (twitch package)
//   - scores and orders them (ranking package)
//   - removes clips that were already published, failed too often, are
//     blocklisted, or show the same moment as another clip (dedup package)
//   - asks the scheduler whether a publish slot is free (scheduler package)
//   - probes the channel's own uploads for a title match, downloads the clip,
//     uploads it and records the result before anything else (orchestrator package)
//
// State lives in one SQLite file behind the storage.Store contract. A file
// based run lock (internal/runlock) keeps two runs from overlapping.
//
// Quick Start
//
//	cfg, err := config.Load("")
//	if err != nil {
//		log.Fatal(err)
//	}
//	store, err := storage.OpenSQLite(ctx, cfg.DatabasePath)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer store.Close()
//
//	orch, err := orchestrator.New(orchestrator.SettingsFromConfig(cfg), orchestrator.Deps{
//		Store:       store,
//		Lock:        runlock.New(cfg.LockPath),
//		Fetcher:     twitch.New(twitch.Config{ClientID: id, ClientSecret: secret}, logger),
//		Transformer: media.New(media.Config{WorkDir: cfg.WorkDir}, logger),
//		Publisher:   youtubeClient,
//		Probe:       youtubeClient,
//	}, logger)
//	report, err := orch.Run(ctx)
//
// The clipsync binary in cli/ wires all of this from clipsync.yaml.
//
// Configuration
//
// Settings are loaded from defaults, then the config file (clipsync.yaml or
// ~/.config/clipsync/clipsync.yaml), then CLIPSYNC_* environment variables.
// See the config package for every option.
//
// Error Handling
//
// Collaborators wrap one of the failure classes re-exported here
// (ErrTransient, ErrRejected, ErrFatal, ErrQuotaExhausted) and Classify maps
// any error onto the closed set of publish outcomes:
//
//	switch clipsync.Classify(err) {
//	case clip.OutcomeQuotaExhausted:
//		// the whole run stops
//	case clip.OutcomeFatal:
//		// counts towards the source's circuit breaker
//	}
//
// Operation details are available through errors.As:
//
//	var storErr *clipsync.StorageError
//	if errors.As(err, &storErr) {
//		fmt.Printf("%s %s failed: %v\n", storErr.Op, storErr.Entity, storErr.Err)
//	}
//
// Dependencies
//
// Publishing needs yt-dlp (and ffmpeg when audio normalisation is enabled)
// in PATH or configured under media.
package clipsync
