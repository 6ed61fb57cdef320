package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"clipsync/internal/runlock"
	"clipsync/storage"
	"clipsync/twitch"
)

func cmdQueue(args []string) int {
	fs := flag.NewFlagSet("queue", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to clipsync.yaml")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: clipsync queue [flags] <source> <clip-url-or-id>\n\nFlags:\n")
		fs.PrintDefaults()
	}
	fs.Parse(args)

	argv := fs.Args()
	if len(argv) != 2 {
		fmt.Fprintf(os.Stderr, "Error: expected <source> and <clip-url-or-id>\n")
		fs.Usage()
		return exitUsage
	}
	sourceName, ref := argv[0], argv[1]

	cfg, _, ok := loadConfig(*configPath)
	if !ok {
		return exitError
	}
	if _, known := cfg.Source(sourceName); !known {
		fmt.Fprintf(os.Stderr, "Error: unknown source %q\n", sourceName)
		return exitError
	}
	id, err := twitch.ParseClipRef(ref)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitError
	}

	ctx := context.Background()
	store, err := storage.OpenSQLite(ctx, cfg.DatabasePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		return exitError
	}
	defer store.Close()

	entry := &storage.QueueEntry{SourceName: sourceName, Ref: ref}
	if err := store.Enqueue(ctx, entry); err != nil {
		fmt.Fprintf(os.Stderr, "Error queueing clip: %v\n", err)
		return exitError
	}
	fmt.Printf("Queued %s for %s (entry %s)\n", id, sourceName, entry.ID)
	return exitOK
}

func cmdStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to clipsync.yaml")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: clipsync status [flags]\n\nFlags:\n")
		fs.PrintDefaults()
	}
	fs.Parse(args)

	cfg, _, ok := loadConfig(*configPath)
	if !ok {
		return exitError
	}

	ctx := context.Background()
	store, err := storage.OpenSQLite(ctx, cfg.DatabasePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		return exitError
	}
	defer store.Close()

	if owner, err := runlock.New(cfg.LockPath).Current(); err == nil && owner != nil {
		fmt.Printf("Run active: pid %d on %s since %s\n\n", owner.PID, owner.Hostname, owner.AcquiredAt.Format(time.RFC3339))
	}

	since := time.Now().Add(-24 * time.Hour)
	published24h, err := store.CountPublishedSince(ctx, since)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading database: %v\n", err)
		return exitError
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SOURCE\tGROUP\tLAST PUBLISH\tTOTAL\tAVG VIEWS\tSAMPLES")
	for _, src := range cfg.Sources {
		last := "never"
		t, err := store.LastPublishedAt(ctx, src.Group())
		switch {
		case err == nil:
			last = t.Local().Format("2006-01-02 15:04")
		case !errors.Is(err, storage.ErrNotFound):
			fmt.Fprintf(os.Stderr, "Error reading database: %v\n", err)
			return exitError
		}

		total, avg, samples := "-", "-", "-"
		st, err := store.GetSourceStats(ctx, src.Name)
		switch {
		case err == nil:
			total = fmt.Sprintf("%d", st.TotalPublished)
			avg = fmt.Sprintf("%.0f", st.RecentAvgViews)
			samples = fmt.Sprintf("%d", st.Samples)
		case !errors.Is(err, storage.ErrNotFound):
			fmt.Fprintf(os.Stderr, "Error reading database: %v\n", err)
			return exitError
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", src.Name, src.Group(), last, total, avg, samples)
	}
	w.Flush()

	limit := "unlimited"
	if cfg.DailyUploadLimit > 0 {
		limit = fmt.Sprintf("%d", cfg.DailyUploadLimit)
	}
	fmt.Printf("\nPublished in the last 24h: %d (limit %s)\n", published24h, limit)

	pending, err := store.PendingQueue(ctx, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading queue: %v\n", err)
		return exitError
	}
	if len(pending) == 0 {
		fmt.Println("Manual queue is empty.")
		return exitOK
	}
	fmt.Printf("\nManual queue (%d pending):\n", len(pending))
	w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ENTRY\tSOURCE\tREF\tQUEUED")
	for _, e := range pending {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.ID, e.SourceName, truncate(e.Ref, 60), e.QueuedAt.Local().Format("2006-01-02 15:04"))
	}
	w.Flush()
	return exitOK
}

func cmdPrune(args []string) int {
	fs := flag.NewFlagSet("prune", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to clipsync.yaml")
	olderThan := fs.Duration("older-than", 0, "Retention window (default: retention from config)")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: clipsync prune [flags]\n\nFlags:\n")
		fs.PrintDefaults()
	}
	fs.Parse(args)

	cfg, log, ok := loadConfig(*configPath)
	if !ok {
		return exitError
	}
	retention := cfg.Retention
	if *olderThan > 0 {
		retention = *olderThan
	}
	if retention <= 0 {
		fmt.Fprintln(os.Stderr, "Retention is disabled; nothing to prune.")
		return exitOK
	}

	// Pruning must not race a run that is reading the same records.
	lock := runlock.New(cfg.LockPath)
	acquired, err := lock.Acquire()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitError
	}
	if !acquired {
		fmt.Fprintln(os.Stderr, "Another clipsync run is active.")
		return exitLocked
	}
	defer func() {
		if err := lock.Release(); err != nil {
			log.Error("release run lock: %v", err)
		}
	}()

	ctx := context.Background()
	store, err := storage.OpenSQLite(ctx, cfg.DatabasePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		return exitError
	}
	defer store.Close()

	cutoff := time.Now().Add(-retention)
	n, err := store.Prune(ctx, cutoff)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error pruning: %v\n", err)
		return exitError
	}
	fmt.Printf("Pruned %d records created before %s\n", n, cutoff.Format(time.RFC3339))
	return exitOK
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
