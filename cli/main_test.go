package main

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"clipsync/dedup"
	"clipsync/orchestrator"
	"clipsync/scheduler"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name   string
		report *orchestrator.Report
		err    error
		want   int
	}{
		{"success", &orchestrator.Report{}, nil, exitOK},
		{"locked", nil, orchestrator.ErrLocked, exitLocked},
		{"wrapped locked", nil, fmt.Errorf("run: %w", orchestrator.ErrLocked), exitLocked},
		{"error", &orchestrator.Report{}, errors.New("record publish failed"), exitError},
		{"quota", &orchestrator.Report{Halt: scheduler.ReasonQuotaExhausted}, nil, exitQuota},
		{"daily budget is not an error", &orchestrator.Report{Halt: scheduler.ReasonDailyBudget}, nil, exitOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.report, tt.err); got != tt.want {
				t.Errorf("exitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRenderReport(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	r := &orchestrator.Report{
		RunID:      "run-1",
		StartedAt:  start,
		FinishedAt: start.Add(90 * time.Second),
		Halt:       scheduler.ReasonQuotaExhausted,
		Sources: []*orchestrator.SourceReport{
			{
				Name:     "streamer",
				Fetched:  12,
				Eligible: 8,
				Ranked:   8,
				Excluded: map[dedup.Reason]int{dedup.ReasonPublished: 3, dedup.ReasonBatchOverlap: 1},
				Published: []orchestrator.PublishedClip{
					{ID: "ClipA", RemoteID: "yt123", Title: "great play"},
				},
				Failed: []orchestrator.FailedClip{
					{ID: "ClipB", Outcome: "quota-exhausted", Error: "quota exhausted"},
				},
				Halt: scheduler.ReasonQuotaExhausted,
			},
		},
	}

	out := renderReport(r)
	for _, want := range []string{
		"run-1",
		"streamer",
		"fetched 12",
		"deduped 4",
		"already-published=3",
		"overlaps-batch=1",
		"ClipA -> yt123",
		"ClipB",
		"halted: quota-exhausted",
		"1 published, 1 failed",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}

func TestRenderReportDryRunShowsPlanned(t *testing.T) {
	r := &orchestrator.Report{
		RunID:  "run-2",
		DryRun: true,
		Sources: []*orchestrator.SourceReport{
			{Name: "streamer", Planned: []string{`ClipA "great play"`}, Excluded: map[dedup.Reason]int{}},
		},
	}
	out := renderReport(r)
	if !strings.Contains(out, "dry run") || !strings.Contains(out, "published 1") || !strings.Contains(out, "ClipA") {
		t.Errorf("unexpected dry run report:\n%s", out)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("abcdefghijkl", 8); got != "abcde..." {
		t.Errorf("truncate = %q", got)
	}
}
