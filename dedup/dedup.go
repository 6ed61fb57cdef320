// Package dedup narrows a ranked batch to candidates that have not been
// published before. Layers run in a fixed order and each only sees the
// survivors of the previous one:
//
//  1. known IDs (published, or out of retries)
//  2. blocklist
//  3. overlap with published records of the same group
//  4. overlap within the batch itself
//  5. remote duplicate probe, run late and per candidate by the caller
package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"clipsync/clip"
	"clipsync/internal/logging"
	"clipsync/storage"
)

// Reason says why a candidate was excluded.
type Reason string

const (
	ReasonPublished       Reason = "already-published"
	ReasonExhausted       Reason = "retries-exhausted"
	ReasonBlocklisted     Reason = "blocklisted"
	ReasonLocalOverlap    Reason = "overlaps-published"
	ReasonBatchOverlap    Reason = "overlaps-batch"
	ReasonNoTimestamp     Reason = "no-timestamp"
	ReasonRemoteDuplicate Reason = "remote-duplicate"
)

// Exclusion records one excluded candidate.
type Exclusion struct {
	Candidate clip.Candidate
	Reason    Reason
	// RelatedID is the record or batch candidate it collided with, if any.
	RelatedID string
}

// Result is the outcome of FilterNew.
type Result struct {
	Survivors []clip.Candidate
	Excluded  []Exclusion
}

// Count returns how many candidates were excluded for reason.
func (r Result) Count(reason Reason) int {
	n := 0
	for _, e := range r.Excluded {
		if e.Reason == reason {
			n++
		}
	}
	return n
}

// Config holds the dedup thresholds.
type Config struct {
	// MaxRetries excludes candidates whose fail count reached it.
	MaxRetries int
	// Overlap is the window within which two clips of one group are the same moment.
	Overlap time.Duration
}

// Engine runs the layered filter against a candidate store.
type Engine struct {
	store     storage.CandidateStore
	blocklist *Blocklist
	probe     Probe
	cfg       Config
	log       *logging.Logger
}

// NewEngine returns an engine. blocklist, probe and log may be nil.
func NewEngine(store storage.CandidateStore, blocklist *Blocklist, probe Probe, cfg Config, log *logging.Logger) *Engine {
	return &Engine{
		store:     store,
		blocklist: blocklist,
		probe:     probe,
		cfg:       cfg,
		log:       log.With("dedup"),
	}
}

// FilterNew applies layers 1 to 4 to a ranked batch for one group and keeps
// the input order among survivors. Store read errors are returned.
func (e *Engine) FilterNew(ctx context.Context, groupKey string, candidates []clip.Candidate) (Result, error) {
	var res Result

	survivors, err := e.filterKnown(ctx, candidates, &res)
	if err != nil {
		return Result{}, err
	}
	survivors = e.filterBlocklist(survivors, &res)
	survivors, err = e.filterLocalOverlap(ctx, groupKey, survivors, &res)
	if err != nil {
		return Result{}, err
	}
	res.Survivors = e.filterBatchOverlap(survivors, &res)
	return res, nil
}

// FilterForced applies only the known-ID and blocklist layers. Forced
// candidates were picked by hand, so time overlap does not apply to them.
func (e *Engine) FilterForced(ctx context.Context, candidates []clip.Candidate) (Result, error) {
	var res Result
	survivors, err := e.filterKnown(ctx, candidates, &res)
	if err != nil {
		return Result{}, err
	}
	res.Survivors = e.filterBlocklist(survivors, &res)
	return res, nil
}

func (e *Engine) filterKnown(ctx context.Context, candidates []clip.Candidate, res *Result) ([]clip.Candidate, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	records, err := e.store.LookupRecords(ctx, clip.Candidates(candidates).IDs())
	if err != nil {
		return nil, fmt.Errorf("known-id filter: %w", err)
	}

	out := make([]clip.Candidate, 0, len(candidates))
	for _, c := range candidates {
		rec := records[c.ID]
		switch {
		case rec.IsPublished():
			res.Excluded = append(res.Excluded, Exclusion{Candidate: c, Reason: ReasonPublished, RelatedID: rec.RemoteID})
		case rec.Exhausted(e.cfg.MaxRetries):
			res.Excluded = append(res.Excluded, Exclusion{Candidate: c, Reason: ReasonExhausted})
		default:
			out = append(out, c)
		}
	}
	return out, nil
}

func (e *Engine) filterBlocklist(candidates []clip.Candidate, res *Result) []clip.Candidate {
	if e.blocklist.Len() == 0 {
		return candidates
	}
	out := make([]clip.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if e.blocklist.Contains(c.ID) {
			res.Excluded = append(res.Excluded, Exclusion{Candidate: c, Reason: ReasonBlocklisted})
			continue
		}
		out = append(out, c)
	}
	return out
}

// filterLocalOverlap issues one range query covering the whole batch and
// compares in memory. Candidates without a timestamp pass; layer 4 drops them.
func (e *Engine) filterLocalOverlap(ctx context.Context, groupKey string, candidates []clip.Candidate, res *Result) ([]clip.Candidate, error) {
	if e.cfg.Overlap <= 0 || len(candidates) == 0 {
		return candidates, nil
	}

	var from, to time.Time
	for _, c := range candidates {
		if !c.HasTimestamp() {
			continue
		}
		if from.IsZero() || c.CreatedAt.Before(from) {
			from = c.CreatedAt
		}
		if to.IsZero() || c.CreatedAt.After(to) {
			to = c.CreatedAt
		}
	}
	if from.IsZero() {
		return candidates, nil
	}

	published, err := e.store.OverlapCandidates(ctx, groupKey, from.Add(-e.cfg.Overlap), to.Add(e.cfg.Overlap))
	if err != nil {
		return nil, fmt.Errorf("overlap filter: %w", err)
	}
	if len(published) == 0 {
		return candidates, nil
	}

	out := make([]clip.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if hit := e.overlapping(c, published); hit != nil {
			res.Excluded = append(res.Excluded, Exclusion{Candidate: c, Reason: ReasonLocalOverlap, RelatedID: hit.ID})
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (e *Engine) overlapping(c clip.Candidate, records []*storage.CandidateRecord) *storage.CandidateRecord {
	if !c.HasTimestamp() {
		return nil
	}
	for _, rec := range records {
		if rec.ID == c.ID || rec.CreatedAt.IsZero() {
			continue
		}
		if Overlaps(c.CreatedAt, rec.CreatedAt, e.cfg.Overlap) {
			return rec
		}
	}
	return nil
}

// filterBatchOverlap accepts candidates in rank order and rejects any that
// overlap an earlier accepted one.
func (e *Engine) filterBatchOverlap(candidates []clip.Candidate, res *Result) []clip.Candidate {
	out := make([]clip.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if !c.HasTimestamp() {
			e.log.Warn("dropping candidate %s: created_at unknown, overlap cannot be checked", c.ID)
			res.Excluded = append(res.Excluded, Exclusion{Candidate: c, Reason: ReasonNoTimestamp})
			continue
		}
		var clash *clip.Candidate
		if e.cfg.Overlap > 0 {
			for i := range out {
				if Overlaps(c.CreatedAt, out[i].CreatedAt, e.cfg.Overlap) {
					clash = &out[i]
					break
				}
			}
		}
		if clash != nil {
			res.Excluded = append(res.Excluded, Exclusion{Candidate: c, Reason: ReasonBatchOverlap, RelatedID: clash.ID})
			continue
		}
		out = append(out, c)
	}
	return out
}

// Overlaps reports whether a and b are strictly closer than window.
func Overlaps(a, b time.Time, window time.Duration) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d < window
}

// ErrProbeUnauthorized is returned by Check when the remote probe failed in
// a way that will not recover this run. Processing of the source must stop.
var ErrProbeUnauthorized = errors.New("dedup: remote probe unauthorized")

// Verdict is the outcome of the remote probe for one candidate.
type Verdict struct {
	// Duplicate is true when a definitive title match was found.
	Duplicate bool
	// RemoteID is the matched remote ID as stored after the write.
	RemoteID string
	// ProbeErr holds a transient probe failure that was ignored (fail-open).
	ProbeErr error
}

// CheckOptions control the remote probe.
type CheckOptions struct {
	// GroupKey is written into a duplicate record.
	GroupKey string
	// ReadOnly skips the duplicate record write (dry runs).
	ReadOnly bool
}

// Check runs layer 5 for one candidate about to be published. title is the
// title that would be published. A definitive match is recorded with
// set-if-absent semantics. Transient probe failures fail open; an
// authorization failure returns ErrProbeUnauthorized.
func (e *Engine) Check(ctx context.Context, c clip.Candidate, title string, opts CheckOptions) (Verdict, error) {
	if e.probe == nil {
		return Verdict{}, nil
	}

	remoteID, err := e.probe.FindRecentByTitle(ctx, title)
	if err != nil {
		switch clip.Classify(err) {
		case clip.OutcomeFatal:
			return Verdict{}, fmt.Errorf("%w: %w", ErrProbeUnauthorized, err)
		case clip.OutcomeQuotaExhausted:
			return Verdict{}, err
		}
		if ctx.Err() != nil {
			return Verdict{}, ctx.Err()
		}
		e.log.Warn("remote probe failed for %s, continuing without it: %v", c.ID, err)
		return Verdict{ProbeErr: err}, nil
	}
	if remoteID == "" {
		return Verdict{}, nil
	}

	if opts.ReadOnly {
		return Verdict{Duplicate: true, RemoteID: remoteID}, nil
	}
	stored, err := e.store.RecordDetectedDuplicate(ctx, storage.PublishRecord{
		ID:         c.ID,
		SourceName: c.SourceName,
		GroupKey:   opts.GroupKey,
		Title:      c.Title,
		CreatedAt:  c.CreatedAt,
		RemoteID:   remoteID,
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("record duplicate: %w", err)
	}
	if stored != remoteID {
		e.log.Info("candidate %s matched remote %s but keeps recorded %s", c.ID, remoteID, stored)
	}
	return Verdict{Duplicate: true, RemoteID: stored}, nil
}
