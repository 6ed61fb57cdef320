package twitch

import (
	"errors"
	"fmt"

	"clipsync/clip"
)

var (
	// ErrPartialFetch marks a fetch where a later page failed. The candidates
	// fetched before the failure are returned alongside the error.
	ErrPartialFetch = errors.New("twitch: partial fetch")
	// ErrClipNotFound is returned by FetchByID for an unknown clip.
	ErrClipNotFound = fmt.Errorf("twitch: clip not found: %w", clip.ErrRejected)
	// ErrBroadcasterNotFound is returned when a login does not resolve.
	ErrBroadcasterNotFound = errors.New("twitch: broadcaster not found")
	// ErrInvalidClipRef is returned by ParseClipRef.
	ErrInvalidClipRef = errors.New("twitch: invalid clip reference")
)

// FetchError wraps fetch failures with the source they belong to.
// Use errors.As() to extract it:
//
//	var fetchErr *twitch.FetchError
//	if errors.As(err, &fetchErr) {
//		log.Printf("source %s: %v", fetchErr.Source, fetchErr.Err)
//	}
type FetchError struct {
	// Source is the configured source name.
	Source string
	// Err is the underlying error.
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("twitch: fetch %s: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
