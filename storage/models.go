package storage

import "time"

// CandidateRecord is the durable fact about one candidate ID. A record exists
// only once a candidate has failed, been published, or been detected as a
// duplicate; mere discovery writes nothing.
type CandidateRecord struct {
	// ID is the source-platform candidate ID (primary key).
	ID string `json:"id"`
	// SourceName is the configured source the candidate came from.
	SourceName string `json:"source_name"`
	// GroupKey groups records for overlap and spacing checks. It is kept
	// separate from SourceName so a source can be renamed.
	GroupKey string `json:"source_group_key"`
	// Title is the candidate title at the time of the last write.
	Title string `json:"title,omitempty"`
	// CreatedAt is when the clip was created on the source. Zero if unknown.
	CreatedAt time.Time `json:"created_at"`
	// PublishedAt is when the remote upload happened. Zero if never.
	PublishedAt time.Time `json:"published_at,omitempty"`
	// RemoteID is the destination-platform ID. Empty until published.
	RemoteID string `json:"remote_id,omitempty"`
	// FailCount only ever increases.
	FailCount int `json:"fail_count"`
	// LastError is the message of the most recent failure.
	LastError string `json:"last_error,omitempty"`
	// UpdatedAt is when the record was last written.
	UpdatedAt time.Time `json:"updated_at"`
}

// IsPublished reports whether a remote ID has been recorded.
func (r *CandidateRecord) IsPublished() bool {
	return r != nil && r.RemoteID != ""
}

// Exhausted reports whether the candidate has used up its attempts.
func (r *CandidateRecord) Exhausted(maxRetries int) bool {
	return r != nil && maxRetries > 0 && r.FailCount >= maxRetries
}

// PublishRecord is the input to RecordPublish and RecordDetectedDuplicate.
type PublishRecord struct {
	ID          string
	SourceName  string
	GroupKey    string
	Title       string
	CreatedAt   time.Time
	RemoteID    string
	PublishedAt time.Time
}

// FailureRecord is the input to IncrementFailCount.
type FailureRecord struct {
	ID         string
	SourceName string
	GroupKey   string
	Title      string
	CreatedAt  time.Time
	Err        error
}

// SourceStats holds rolling counters for one source.
type SourceStats struct {
	// SourceName is the configured source name.
	SourceName string `json:"source_name"`
	// TotalPublished counts every publish made for the source.
	TotalPublished int `json:"total_published"`
	// RecentAvgViews is the average destination view count of recent uploads.
	RecentAvgViews float64 `json:"recent_avg_views"`
	// Samples is how many uploads RecentAvgViews was computed from.
	Samples int `json:"samples"`
	// UpdatedAt is when the stats were last written.
	UpdatedAt time.Time `json:"updated_at"`
}

// QueueEntry is a clip queued by hand to bypass discovery on the next run.
type QueueEntry struct {
	// ID is the internal unique identifier (UUID).
	ID string `json:"id"`
	// SourceName is the source the clip should be published for.
	SourceName string `json:"source_name"`
	// Ref is the clip ID or URL exactly as given.
	Ref string `json:"ref"`
	// QueuedAt is when the entry was added.
	QueuedAt time.Time `json:"queued_at"`
	// ConsumedAt is when the entry was resolved. Zero while pending.
	ConsumedAt time.Time `json:"consumed_at,omitempty"`
}

// Pending reports whether the entry still waits for a run.
func (q *QueueEntry) Pending() bool {
	return q != nil && q.ConsumedAt.IsZero()
}
