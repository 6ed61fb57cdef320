package dedup

import (
	"context"
	"errors"

	"clipsync/clip"
)

// Probe looks up the destination channel's own recent uploads.
type Probe interface {
	// FindRecentByTitle returns the remote ID of a recent upload whose
	// normalised title equals title, or "" when there is none.
	FindRecentByTitle(ctx context.Context, title string) (string, error)
}

// ProbeFunc adapts a function to Probe.
type ProbeFunc func(ctx context.Context, title string) (string, error)

func (f ProbeFunc) FindRecentByTitle(ctx context.Context, title string) (string, error) {
	return f(ctx, title)
}

// Chain asks each probe in order and returns the first match. Fatal and quota
// failures end the chain immediately. A miss is only trusted when at least
// one probe answered; if every probe failed their errors are returned joined.
func Chain(probes ...Probe) Probe {
	return chain(probes)
}

type chain []Probe

func (c chain) FindRecentByTitle(ctx context.Context, title string) (string, error) {
	var errs []error
	answered := false
	for _, p := range c {
		if p == nil {
			continue
		}
		id, err := p.FindRecentByTitle(ctx, title)
		if err != nil {
			switch clip.Classify(err) {
			case clip.OutcomeFatal, clip.OutcomeQuotaExhausted:
				return "", err
			}
			errs = append(errs, err)
			continue
		}
		if id != "" {
			return id, nil
		}
		answered = true
	}
	if answered || len(errs) == 0 {
		return "", nil
	}
	return "", errors.Join(errs...)
}
