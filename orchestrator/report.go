package orchestrator

import (
	"time"

	"clipsync/dedup"
	"clipsync/scheduler"
)

// Report summarises one run.
type Report struct {
	RunID      string
	DryRun     bool
	StartedAt  time.Time
	FinishedAt time.Time
	Sources    []*SourceReport
	// Halt is set when the whole run stopped early.
	Halt scheduler.Reason
}

// SourceReport summarises one source within a run.
type SourceReport struct {
	Name string
	// Fetched counts discovered candidates.
	Fetched int
	// Forced counts resolved manual queue entries.
	Forced int
	// Eligible counts candidates above the view threshold.
	Eligible int
	// Ranked counts candidates that were scored.
	Ranked int
	// Excluded counts candidates removed by the local dedup layers, per reason.
	Excluded map[dedup.Reason]int
	// Duplicates counts candidates the remote probe found already uploaded.
	Duplicates int
	Published  []PublishedClip
	Failed     []FailedClip
	// Planned lists what a dry run would have published.
	Planned []string
	// Halt says why the source stopped before its list ran out.
	Halt scheduler.Reason
	// FetchErr is set when discovery failed or was partial.
	FetchErr string
}

// PublishedClip is one successful upload.
type PublishedClip struct {
	ID       string
	RemoteID string
	Title    string
	// Reconciled is set when a retry found the earlier attempt had landed.
	Reconciled bool
}

// FailedClip is one failed attempt.
type FailedClip struct {
	ID      string
	Outcome string
	Error   string
}

func newSourceReport(name string) *SourceReport {
	return &SourceReport{Name: name, Excluded: make(map[dedup.Reason]int)}
}

// ExcludedTotal is the number of candidates removed by local dedup.
func (s *SourceReport) ExcludedTotal() int {
	n := 0
	for _, v := range s.Excluded {
		n += v
	}
	return n
}

// Published returns the number of uploads across sources.
func (r *Report) Published() int {
	n := 0
	for _, s := range r.Sources {
		n += len(s.Published)
	}
	return n
}

// Failed returns the number of failed attempts across sources.
func (r *Report) Failed() int {
	n := 0
	for _, s := range r.Sources {
		n += len(s.Failed)
	}
	return n
}

// Duration is how long the run took.
func (r *Report) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
