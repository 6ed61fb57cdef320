// Package clip defines the values that flow through a publish run: discovered
// candidates, the closed set of publish outcomes, and the failure classes that
// external collaborators report.
package clip

import (
	"strings"
	"time"
)

// Candidate is a clip discovered on the source platform. It is constructed
// fresh on every fetch and passed by value; nothing downstream mutates it.
type Candidate struct {
	// ID is the source-platform clip identifier (e.g. a Twitch clip slug).
	ID string `json:"id"`
	// SourceName is the configured name of the source the clip came from.
	SourceName string `json:"source_name"`
	// Title is the clip title as given on the source platform.
	Title string `json:"title"`
	// CreatedAt is when the clip was created. The zero value means the
	// source reported a timestamp that could not be parsed.
	CreatedAt time.Time `json:"created_at"`
	// DurationSeconds is the clip length. Values <= 0 are treated as degenerate.
	DurationSeconds float64 `json:"duration_seconds"`
	// ViewCount is the number of views reported by the source.
	ViewCount int64 `json:"view_count"`
	// Category is the game or topic the clip belongs to.
	Category string `json:"category,omitempty"`
	// URL is the public URL of the clip.
	URL string `json:"url"`
	// Creator is the display name of the user who made the clip.
	Creator string `json:"creator,omitempty"`
	// Forced marks a candidate that came from the manual queue.
	Forced bool `json:"forced,omitempty"`
}

// HasTimestamp reports whether CreatedAt holds a parsed timestamp.
func (c Candidate) HasTimestamp() bool {
	return !c.CreatedAt.IsZero()
}

// Candidates is a convenience slice type with helpers used by the engines.
type Candidates []Candidate

// IDs returns the candidate IDs in order.
func (cs Candidates) IDs() []string {
	ids := make([]string, 0, len(cs))
	for _, c := range cs {
		ids = append(ids, c.ID)
	}
	return ids
}

// NormalizeTitle folds case and collapses whitespace so titles rendered by
// different systems compare equal.
func NormalizeTitle(title string) string {
	return strings.ToLower(strings.Join(strings.Fields(title), " "))
}
