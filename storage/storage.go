// Package storage provides the persistent candidate ledger for clipsync.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common storage conditions.
var (
	// ErrNotFound indicates the requested entity was not found.
	ErrNotFound = errors.New("storage: not found")
	// ErrInvalidInput indicates invalid or malformed input was provided.
	ErrInvalidInput = errors.New("storage: invalid input")
	// ErrStorageCorrupt indicates the database schema is not one this build understands.
	ErrStorageCorrupt = errors.New("storage: data corruption detected")
)

// StorageError wraps storage errors with operation and entity context.
// Use errors.As() to extract this error type and get operation details:
//
//	var storErr *storage.StorageError
//	if errors.As(err, &storErr) {
//		fmt.Printf("Failed to %s %s %s: %v\n", storErr.Op, storErr.Entity, storErr.ID, storErr.Err)
//	}
type StorageError struct {
	// Op is the operation that failed ("record_publish", "lookup", ...).
	Op string
	// Entity is the entity type ("candidate", "source_stats", "queue").
	Entity string
	// ID is the entity ID if applicable.
	ID string
	// Err is the underlying error that occurred.
	Err error
}

// Error returns a string representation of the storage error.
func (e *StorageError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("storage: %s %s %s: %v", e.Op, e.Entity, e.ID, e.Err)
	}
	return fmt.Sprintf("storage: %s %s: %v", e.Op, e.Entity, e.Err)
}

// Unwrap returns the underlying error for use with errors.Is() and errors.As().
func (e *StorageError) Unwrap() error { return e.Err }

// Store is the full storage interface used by clipsync.
// Implementations must be safe for concurrent use.
type Store interface {
	CandidateStore
	StatsStore
	QueueStore

	// Close releases any resources held by the store.
	Close() error
}

// CandidateStore is the ledger of every candidate that was published,
// detected as a duplicate, or failed. Every write is its own atomic unit and
// every failed write is returned to the caller.
type CandidateStore interface {
	// RecordPublish upserts the publish fact for a candidate. It returns only
	// once the write is durable.
	RecordPublish(ctx context.Context, rec PublishRecord) error
	// RecordDetectedDuplicate sets remote_id only if it is currently empty and
	// returns the remote ID stored after the write.
	RecordDetectedDuplicate(ctx context.Context, rec PublishRecord) (string, error)
	// IncrementFailCount adds one failure to the candidate, creating the
	// record if needed, and returns the new count.
	IncrementFailCount(ctx context.Context, rec FailureRecord) (int, error)
	// GetRecord returns a single record or ErrNotFound.
	GetRecord(ctx context.Context, id string) (*CandidateRecord, error)
	// LookupRecords returns the records that exist for ids, keyed by ID.
	LookupRecords(ctx context.Context, ids []string) (map[string]*CandidateRecord, error)
	// OverlapCandidates returns published records of a group whose created_at
	// falls within [from, to].
	OverlapCandidates(ctx context.Context, groupKey string, from, to time.Time) ([]*CandidateRecord, error)
	// LastPublishedAt returns the most recent published_at of a group or ErrNotFound.
	LastPublishedAt(ctx context.Context, groupKey string) (time.Time, error)
	// CountPublishedSince counts records of all groups published after since.
	CountPublishedSince(ctx context.Context, since time.Time) (int, error)
	// RecentRemoteIDs returns up to limit remote IDs of a source, newest first.
	RecentRemoteIDs(ctx context.Context, sourceName string, limit int) ([]string, error)
	// Prune removes records created before cutoff and returns how many were removed.
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// StatsStore handles per-source rolling statistics.
type StatsStore interface {
	GetSourceStats(ctx context.Context, sourceName string) (*SourceStats, error)
	ListSourceStats(ctx context.Context) ([]*SourceStats, error)
	UpsertSourceStats(ctx context.Context, stats *SourceStats) error
}

// QueueStore handles manually queued clips.
type QueueStore interface {
	Enqueue(ctx context.Context, entry *QueueEntry) error
	PendingQueue(ctx context.Context, sourceName string) ([]*QueueEntry, error)
	MarkQueueConsumed(ctx context.Context, id string, at time.Time) error
}
