// Package youtube publishes clips to a YouTube channel through the Data API
// v3 and probes the channel's own recent uploads for duplicates.
package youtube

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"

	"google.golang.org/api/googleapi"

	"clipsync/clip"
)

// Sentinel errors for destination operations.
var (
	// ErrQuotaExhausted is the clip failure class for spent API quota.
	ErrQuotaExhausted = clip.ErrQuotaExhausted
	// ErrVideoNotFound is returned when a remote ID resolves to nothing.
	ErrVideoNotFound = errors.New("youtube: video not found")
	// ErrNoCredentials is returned when the OAuth client secrets or token are missing.
	ErrNoCredentials = fmt.Errorf("youtube: credentials unavailable: %w", clip.ErrFatal)
	// ErrNoChannel is returned by probes configured without a channel ID.
	ErrNoChannel = errors.New("youtube: channel id not configured")
)

// quotaReasons are googleapi error reasons meaning the project's daily
// allowance is spent.
var quotaReasons = []string{"quotaExceeded", "dailyLimitExceeded", "uploadLimitExceeded"}

// throttleReasons arrive as 403 but clear within seconds.
var throttleReasons = []string{"rateLimitExceeded", "userRateLimitExceeded"}

// APIError wraps a Data API failure with the operation that produced it.
// Err always carries one of the clip failure classes.
type APIError struct {
	// Op is the API operation ("videos.insert", "playlistItems.list", ...).
	Op string
	// Err is the classified underlying error.
	Err error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("youtube: %s: %v", e.Op, e.Err)
}

func (e *APIError) Unwrap() error { return e.Err }

// classify attaches a clip failure class to an API error.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var already *APIError
	if errors.As(err, &already) {
		return err
	}
	return &APIError{Op: op, Err: fmt.Errorf("%w: %w", failureClass(err), err)}
}

func failureClass(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return clip.ErrTransient
	}
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		// Transport failures, canceled contexts and body decode errors.
		return clip.ErrTransient
	}

	for _, item := range gerr.Errors {
		if slices.Contains(quotaReasons, item.Reason) {
			return clip.ErrQuotaExhausted
		}
		if slices.Contains(throttleReasons, item.Reason) {
			return clip.ErrTransient
		}
	}
	switch {
	case gerr.Code == http.StatusUnauthorized, gerr.Code == http.StatusForbidden:
		return clip.ErrFatal
	case gerr.Code == http.StatusTooManyRequests, gerr.Code == http.StatusRequestTimeout, gerr.Code >= 500:
		return clip.ErrTransient
	case gerr.Code >= 400:
		return clip.ErrRejected
	default:
		return clip.ErrTransient
	}
}

// isQuota reports whether err carries the quota failure class.
func isQuota(err error) bool {
	return errors.Is(err, clip.ErrQuotaExhausted)
}
