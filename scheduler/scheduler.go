// Package scheduler gates publishes: a per-source slot budget, a minimum
// spacing between publishes of one group, a per-source circuit breaker for
// systemic failures, and run-wide halts for quota and the daily upload budget.
//
// A Scheduler lives for exactly one run.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"clipsync/clip"
	"clipsync/internal/breaker"
	"clipsync/internal/logging"
	"clipsync/storage"
)

// DefaultFatalThreshold is how many consecutive fatal outcomes open a source's circuit.
const DefaultFatalThreshold = 3

// Reason explains a scheduling decision or a halt.
type Reason string

const (
	ReasonAllowed        Reason = ""
	ReasonNoSlots        Reason = "cap-reached"
	ReasonTooSoon        Reason = "spacing"
	ReasonCircuitOpen    Reason = "circuit-open"
	ReasonQuotaExhausted Reason = "quota-exhausted"
	ReasonDailyBudget    Reason = "daily-budget"
	ReasonUnauthorized   Reason = "probe-unauthorized"
)

// Decision is the answer to MayPublish.
type Decision struct {
	Allowed bool
	Reason  Reason
	// Global is set when the reason stops every source.
	Global bool
}

func allow() Decision { return Decision{Allowed: true} }

func deny(r Reason, global bool) Decision { return Decision{Reason: r, Global: global} }

// Store is the part of the candidate store the scheduler reads.
type Store interface {
	LastPublishedAt(ctx context.Context, groupKey string) (time.Time, error)
	CountPublishedSince(ctx context.Context, since time.Time) (int, error)
}

// Policy is the scheduling configuration of one source.
type Policy struct {
	Name     string
	GroupKey string
	// PublishCap is the number of publishes allowed this run.
	PublishCap int
	// Spacing is the minimum age of the group's most recent publish.
	Spacing time.Duration
}

// Config holds the run-wide limits.
type Config struct {
	// FatalThreshold defaults to DefaultFatalThreshold.
	FatalThreshold int
	// DailyUploadLimit caps publishes over the trailing 24 hours. Zero disables it.
	DailyUploadLimit int
}

type sourceState struct {
	policy    Policy
	remaining int
	halt      Reason
}

// Scheduler tracks per-run publish state.
type Scheduler struct {
	mu      sync.Mutex
	store   Store
	cfg     Config
	sources map[string]*sourceState
	fatals  *breaker.Breaker
	halt    Reason
	log     *logging.Logger
	now     func() time.Time
}

// New creates a scheduler for one run over the given sources.
func New(store Store, cfg Config, policies []Policy, log *logging.Logger) *Scheduler {
	if cfg.FatalThreshold <= 0 {
		cfg.FatalThreshold = DefaultFatalThreshold
	}
	s := &Scheduler{
		store:   store,
		cfg:     cfg,
		sources: make(map[string]*sourceState, len(policies)),
		fatals: breaker.New(breaker.Config{
			FailureThreshold: cfg.FatalThreshold,
			RecoveryTimeout:  breaker.NoRecovery,
		}),
		log: log.With("scheduler"),
		now: time.Now,
	}
	for _, p := range policies {
		if p.GroupKey == "" {
			p.GroupKey = p.Name
		}
		s.sources[p.Name] = &sourceState{policy: p, remaining: max(p.PublishCap, 0)}
	}
	return s
}

// ErrUnknownSource is returned for a source the scheduler was not built with.
var ErrUnknownSource = errors.New("scheduler: unknown source")

// MayPublish decides whether the next candidate of source may be submitted.
// Store read errors are returned; the caller must not publish on error.
func (s *Scheduler) MayPublish(ctx context.Context, source string) (Decision, error) {
	s.mu.Lock()
	st, ok := s.sources[source]
	if !ok {
		s.mu.Unlock()
		return Decision{}, fmt.Errorf("%w: %s", ErrUnknownSource, source)
	}
	if s.halt != ReasonAllowed {
		s.mu.Unlock()
		return deny(s.halt, true), nil
	}
	if st.halt != ReasonAllowed {
		s.mu.Unlock()
		return deny(st.halt, false), nil
	}
	if err := s.fatals.Allow(source); err != nil {
		st.halt = ReasonCircuitOpen
		s.mu.Unlock()
		return deny(ReasonCircuitOpen, false), nil
	}
	if st.remaining <= 0 {
		s.mu.Unlock()
		return deny(ReasonNoSlots, false), nil
	}
	policy := st.policy
	s.mu.Unlock()

	if s.cfg.DailyUploadLimit > 0 {
		n, err := s.store.CountPublishedSince(ctx, s.now().Add(-24*time.Hour))
		if err != nil {
			return Decision{}, fmt.Errorf("daily budget: %w", err)
		}
		if n >= s.cfg.DailyUploadLimit {
			s.HaltAll(ReasonDailyBudget)
			s.log.Warn("daily upload limit %d reached (%d in the last 24h)", s.cfg.DailyUploadLimit, n)
			return deny(ReasonDailyBudget, true), nil
		}
	}

	if policy.Spacing > 0 {
		last, err := s.store.LastPublishedAt(ctx, policy.GroupKey)
		switch {
		case errors.Is(err, storage.ErrNotFound):
		case err != nil:
			return Decision{}, fmt.Errorf("spacing: %w", err)
		case s.now().Sub(last) < policy.Spacing:
			return deny(ReasonTooSoon, false), nil
		}
	}
	return allow(), nil
}

// RecordOutcome updates the run state after one candidate was processed.
// Fail counts are the store's business, not the scheduler's.
func (s *Scheduler) RecordOutcome(source string, o clip.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.sources[source]
	if !ok {
		return
	}
	switch o.Kind {
	case clip.OutcomePublished:
		if st.remaining > 0 {
			st.remaining--
		}
		s.fatals.RecordSuccess(source)
	case clip.OutcomeFatal:
		if s.fatals.RecordFailure(source, o.Err) && st.halt == ReasonAllowed {
			st.halt = ReasonCircuitOpen
			s.log.Error("source %s: %d consecutive fatal outcomes, stopping it for this run",
				source, s.cfg.FatalThreshold)
		}
	case clip.OutcomeQuotaExhausted:
		if s.halt == ReasonAllowed {
			s.halt = ReasonQuotaExhausted
			s.log.Error("quota exhausted while processing %s, halting all sources", source)
		}
	case clip.OutcomeTransient, clip.OutcomeRejected, clip.OutcomeDuplicateDetected:
	}
}

// HaltSource stops one source for the rest of the run.
func (s *Scheduler) HaltSource(source string, r Reason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.sources[source]; ok && st.halt == ReasonAllowed {
		st.halt = r
	}
}

// HaltAll stops every source for the rest of the run.
func (s *Scheduler) HaltAll(r Reason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.halt == ReasonAllowed {
		s.halt = r
	}
}

// Halted returns the run-wide halt reason, if any.
func (s *Scheduler) Halted() (Reason, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.halt, s.halt != ReasonAllowed
}

// SourceHalt returns why source was stopped, or ReasonAllowed.
func (s *Scheduler) SourceHalt(source string) Reason {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.sources[source]; ok {
		return st.halt
	}
	return ReasonAllowed
}

// Remaining returns the publish slots left for source.
func (s *Scheduler) Remaining(source string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.sources[source]; ok {
		return st.remaining
	}
	return 0
}
