// Package ranking scores candidates and orders them best-first.
//
// Rank is pure: it reads only its arguments, never fails and never drops a
// candidate. Degenerate inputs are scored deterministically and flagged so the
// caller can log them.
package ranking

import (
	"math"
	"sort"
	"time"

	"clipsync/clip"
)

// epsilon floors every divisor.
const epsilon = 1e-9

// DecayMode selects how candidate age dampens velocity.
type DecayMode string

const (
	DecayLinear DecayMode = "linear"
	DecayLog    DecayMode = "log"
)

// Valid reports whether m is a known decay mode.
func (m DecayMode) Valid() bool {
	return m == DecayLinear || m == DecayLog
}

// Config holds the scoring weights for one source.
type Config struct {
	// VelocityWeight scales views-per-hour against views-per-second-of-clip.
	VelocityWeight float64
	// AgeDecay is linear or log.
	AgeDecay DecayMode
	// MinAgeHours floors the age of brand-new clips. Zero means the default.
	MinAgeHours float64
	// TitleBonusMax caps the title quality multiplier. Values <= 1 disable it.
	TitleBonusMax float64
	// PerformanceMultiplier is the source's historical multiplier, see Performance.
	// Zero is treated as 1.
	PerformanceMultiplier float64
	// Now is the reference time for ages. Zero means time.Now().
	Now time.Time
}

// DefaultMinAgeHours is used when Config.MinAgeHours is not set.
const DefaultMinAgeHours = 0.25

// DefaultConfig returns the scoring defaults.
func DefaultConfig() Config {
	return Config{
		VelocityWeight:        1.0,
		AgeDecay:              DecayLog,
		MinAgeHours:           DefaultMinAgeHours,
		TitleBonusMax:         1.25,
		PerformanceMultiplier: 1.0,
	}
}

// Scored is a candidate with its score and any scoring flags.
type Scored struct {
	clip.Candidate
	Score float64
	// Degenerate is set when the duration was <= 0. Degenerate candidates
	// always sort after every valid one.
	Degenerate bool
	// MissingTimestamp is set when CreatedAt was unknown and age 0 was used.
	MissingTimestamp bool
}

// Rank scores candidates and returns them best-first. Ties are broken by
// higher view count, then earlier creation time, then input order.
func Rank(candidates []clip.Candidate, cfg Config) []Scored {
	now := cfg.Now
	if now.IsZero() {
		now = time.Now()
	}

	out := make([]Scored, len(candidates))
	for i, c := range candidates {
		out[i] = score(c, cfg, now)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Degenerate != b.Degenerate {
			return !a.Degenerate
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.ViewCount != b.ViewCount {
			return a.ViewCount > b.ViewCount
		}
		if a.HasTimestamp() && b.HasTimestamp() && !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return false
	})
	return out
}

// Candidates strips the scores.
func Candidates(scored []Scored) []clip.Candidate {
	out := make([]clip.Candidate, len(scored))
	for i, s := range scored {
		out[i] = s.Candidate
	}
	return out
}

// Score computes a single candidate's score.
func Score(c clip.Candidate, cfg Config) float64 {
	now := cfg.Now
	if now.IsZero() {
		now = time.Now()
	}
	return score(c, cfg, now).Score
}

func score(c clip.Candidate, cfg Config, now time.Time) Scored {
	s := Scored{Candidate: c}
	views := math.Max(float64(c.ViewCount), 0)

	ageHours := 0.0
	if c.HasTimestamp() {
		ageHours = now.Sub(c.CreatedAt).Hours()
	} else {
		s.MissingTimestamp = true
	}
	minAge := cfg.MinAgeHours
	if minAge <= 0 {
		minAge = DefaultMinAgeHours
	}
	ageHours = math.Max(ageHours, minAge)

	density := 0.0
	if c.DurationSeconds > 0 && !math.IsNaN(c.DurationSeconds) {
		density = views / math.Max(c.DurationSeconds, epsilon)
	} else {
		s.Degenerate = true
	}

	velocity := views / math.Max(decay(ageHours, cfg.AgeDecay), epsilon)
	weight := math.Max(cfg.VelocityWeight, 0)

	total := density + velocity*weight
	total *= TitleBonus(c.Title, cfg.TitleBonusMax)

	perf := cfg.PerformanceMultiplier
	if perf <= 0 {
		perf = 1
	}
	total *= clamp(perf, MinPerformance, MaxPerformance)

	s.Score = total
	return s
}

func decay(ageHours float64, mode DecayMode) float64 {
	if mode == DecayLinear {
		return ageHours
	}
	return math.Log1p(ageHours)
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
