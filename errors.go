package clipsync

import (
	"clipsync/clip"
	"clipsync/internal/retry"
	"clipsync/orchestrator"
	"clipsync/storage"
	"clipsync/twitch"
	"clipsync/youtube"
)

// Error types re-exported from sub-packages.
type (
	// StorageError wraps errors during storage operations.
	StorageError = storage.StorageError
	// FetchError wraps source platform failures with the source name.
	FetchError = twitch.FetchError
	// APIError wraps destination API failures with the operation.
	APIError = youtube.APIError
	// RetryableError wraps the last error after local retries were exhausted.
	RetryableError = retry.RetryableError
)

// Failure classes. Every collaborator error wraps one of them.
var (
	ErrTransient      = clip.ErrTransient
	ErrRejected       = clip.ErrRejected
	ErrFatal          = clip.ErrFatal
	ErrQuotaExhausted = clip.ErrQuotaExhausted
)

// Sentinel errors exported from sub-packages.
var (
	// ErrLocked is returned by a run when another run holds the lock.
	ErrLocked = orchestrator.ErrLocked

	// ErrNotFound indicates an entity was not found in storage.
	ErrNotFound = storage.ErrNotFound
	// ErrInvalidInput indicates invalid input was provided.
	ErrInvalidInput = storage.ErrInvalidInput
	// ErrStorageCorrupt indicates the database schema is not understood.
	ErrStorageCorrupt = storage.ErrStorageCorrupt

	// ErrPartialFetch marks a fetch that returned only some pages.
	ErrPartialFetch = twitch.ErrPartialFetch
	// ErrClipNotFound is returned when a queued clip does not exist.
	ErrClipNotFound = twitch.ErrClipNotFound
	// ErrInvalidClipRef is returned for an unparseable clip URL or ID.
	ErrInvalidClipRef = twitch.ErrInvalidClipRef

	// ErrNoCredentials means the destination token file is missing.
	ErrNoCredentials = youtube.ErrNoCredentials
)

// Classify maps an error onto a publish outcome kind.
func Classify(err error) clip.OutcomeKind {
	return clip.Classify(err)
}

// IsRetryable reports whether err is worth retrying within a run.
func IsRetryable(err error) bool {
	return retry.IsRetryable(err)
}
