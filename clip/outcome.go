package clip

import (
	"context"
	"errors"
	"fmt"
)

// Failure classes reported by external collaborators. Collaborators wrap one
// of these so Classify can map any error onto an OutcomeKind.
var (
	// ErrTransient covers network timeouts, 5xx responses and rate limiting.
	ErrTransient = errors.New("transient failure")
	// ErrRejected covers failures specific to one candidate, such as invalid
	// media or content the destination refused.
	ErrRejected = errors.New("candidate rejected")
	// ErrFatal covers systemic failures: revoked authorization, suspended
	// account, or a permission error unrelated to quota.
	ErrFatal = errors.New("fatal systemic failure")
	// ErrQuotaExhausted means the destination's shared API budget is spent.
	ErrQuotaExhausted = errors.New("quota exhausted")
)

// OutcomeKind is the closed set of results a publish attempt can produce.
type OutcomeKind int

const (
	// OutcomePublished means the destination accepted the upload.
	OutcomePublished OutcomeKind = iota
	// OutcomeTransient means the attempt failed in a way worth retrying on a later run.
	OutcomeTransient
	// OutcomeRejected means the candidate itself is unpublishable.
	OutcomeRejected
	// OutcomeFatal means a systemic failure that should trip the source circuit.
	OutcomeFatal
	// OutcomeQuotaExhausted means the whole run must stop.
	OutcomeQuotaExhausted
	// OutcomeDuplicateDetected means the destination already holds this content.
	OutcomeDuplicateDetected
)

// String returns the string representation of an outcome kind.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomePublished:
		return "published"
	case OutcomeTransient:
		return "transient"
	case OutcomeRejected:
		return "rejected"
	case OutcomeFatal:
		return "fatal"
	case OutcomeQuotaExhausted:
		return "quota-exhausted"
	case OutcomeDuplicateDetected:
		return "duplicate"
	default:
		return "unknown"
	}
}

// Outcome is the result of processing one candidate.
type Outcome struct {
	Kind OutcomeKind
	// RemoteID is set for OutcomePublished and OutcomeDuplicateDetected.
	RemoteID string
	// Err is the underlying error for failure kinds.
	Err error
}

// Published returns a successful outcome.
func Published(remoteID string) Outcome {
	return Outcome{Kind: OutcomePublished, RemoteID: remoteID}
}

// Duplicate returns an outcome for content that already exists remotely.
func Duplicate(remoteID string) Outcome {
	return Outcome{Kind: OutcomeDuplicateDetected, RemoteID: remoteID}
}

// Failed classifies err and returns the matching outcome.
func Failed(err error) Outcome {
	return Outcome{Kind: Classify(err), Err: err}
}

func (o Outcome) String() string {
	if o.Err != nil {
		return fmt.Sprintf("%s: %v", o.Kind, o.Err)
	}
	if o.RemoteID != "" {
		return fmt.Sprintf("%s (%s)", o.Kind, o.RemoteID)
	}
	return o.Kind.String()
}

// Classify maps an error onto a failure OutcomeKind. A nil error classifies as
// OutcomePublished. Errors that carry no failure class are treated as
// transient: they cost the candidate one attempt but never trip a circuit.
func Classify(err error) OutcomeKind {
	switch {
	case err == nil:
		return OutcomePublished
	case errors.Is(err, ErrQuotaExhausted):
		return OutcomeQuotaExhausted
	case errors.Is(err, ErrFatal):
		return OutcomeFatal
	case errors.Is(err, ErrRejected):
		return OutcomeRejected
	case errors.Is(err, ErrTransient),
		errors.Is(err, context.DeadlineExceeded):
		return OutcomeTransient
	default:
		return OutcomeTransient
	}
}

// IsTransient reports whether err should be retried locally.
func IsTransient(err error) bool {
	return err != nil && Classify(err) == OutcomeTransient && !errors.Is(err, context.Canceled)
}
