package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const (
	// Version 2 stores every timestamp as Unix milliseconds.
	schemaVersion = 2
	// lookupChunk keeps IN (...) lists well under SQLite's host parameter limit.
	lookupChunk = 500
)

const schema = `
CREATE TABLE IF NOT EXISTS candidates (
	id               TEXT PRIMARY KEY,
	source_name      TEXT NOT NULL,
	source_group_key TEXT NOT NULL,
	title            TEXT NOT NULL DEFAULT '',
	created_at       INTEGER,
	published_at     INTEGER,
	remote_id        TEXT,
	fail_count       INTEGER NOT NULL DEFAULT 0,
	last_error       TEXT NOT NULL DEFAULT '',
	updated_at       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_candidates_group_created
	ON candidates (source_group_key, created_at) WHERE remote_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_candidates_group_published
	ON candidates (source_group_key, published_at);
CREATE INDEX IF NOT EXISTS idx_candidates_published
	ON candidates (published_at);

CREATE TABLE IF NOT EXISTS source_stats (
	source_name      TEXT PRIMARY KEY,
	total_published  INTEGER NOT NULL DEFAULT 0,
	recent_avg_views REAL NOT NULL DEFAULT 0,
	samples          INTEGER NOT NULL DEFAULT 0,
	updated_at       INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS manual_queue (
	id          TEXT PRIMARY KEY,
	source_name TEXT NOT NULL,
	ref         TEXT NOT NULL,
	queued_at   INTEGER NOT NULL,
	consumed_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_manual_queue_pending
	ON manual_queue (source_name, queued_at) WHERE consumed_at IS NULL;
`

// secondsToMillis upgrades a version 1 database, which stored Unix seconds.
const secondsToMillis = `
BEGIN;
UPDATE candidates SET
	created_at   = created_at * 1000,
	published_at = published_at * 1000,
	updated_at   = updated_at * 1000;
UPDATE source_stats SET updated_at = updated_at * 1000;
UPDATE manual_queue SET
	queued_at   = queued_at * 1000,
	consumed_at = consumed_at * 1000;
PRAGMA user_version = 2;
COMMIT;
`

const candidateColumns = `id, source_name, source_group_key, title, created_at, published_at,
	remote_id, fail_count, last_error, updated_at`

// SQLiteStore implements Store on a single SQLite database file.
type SQLiteStore struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// OpenSQLite opens (creating if needed) the database at path and applies the schema.
// The connection runs in WAL mode with synchronous=FULL so a committed write
// survives a crash of this process or the host.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, &StorageError{Op: "open", Entity: "store", Err: ErrInvalidInput}
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &StorageError{Op: "open", Entity: "store", Err: err}
		}
	}

	dsn := "file:" + path +
		"?_pragma=busy_timeout(5000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(FULL)" +
		"&_pragma=foreign_keys(ON)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, &StorageError{Op: "open", Entity: "store", Err: err}
	}
	// One writer; SQLite serialises writes anyway and this keeps pragmas per-connection consistent.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, path: path, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return &StorageError{Op: "migrate", Entity: "store", Err: err}
	}
	if version > schemaVersion {
		return &StorageError{Op: "migrate", Entity: "store",
			Err: fmt.Errorf("%w: schema version %d is newer than %d", ErrStorageCorrupt, version, schemaVersion)}
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return &StorageError{Op: "migrate", Entity: "store", Err: err}
	}
	if version == 1 {
		if _, err := s.db.ExecContext(ctx, secondsToMillis); err != nil {
			return &StorageError{Op: "migrate", Entity: "store", Err: err}
		}
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return &StorageError{Op: "migrate", Entity: "store", Err: err}
	}
	return nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

// Close releases resources held by the store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) RecordPublish(ctx context.Context, rec PublishRecord) error {
	if rec.ID == "" || rec.RemoteID == "" {
		return &StorageError{Op: "record_publish", Entity: "candidate", ID: rec.ID, Err: ErrInvalidInput}
	}
	publishedAt := rec.PublishedAt
	if publishedAt.IsZero() {
		publishedAt = s.now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO candidates (id, source_name, source_group_key, title, created_at,
			published_at, remote_id, fail_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)
		ON CONFLICT (id) DO UPDATE SET
			source_name      = excluded.source_name,
			source_group_key = excluded.source_group_key,
			title            = CASE WHEN excluded.title <> '' THEN excluded.title ELSE candidates.title END,
			created_at       = COALESCE(candidates.created_at, excluded.created_at),
			published_at     = excluded.published_at,
			remote_id        = excluded.remote_id,
			updated_at       = excluded.updated_at`,
		rec.ID, rec.SourceName, rec.GroupKey, rec.Title, nullMilli(rec.CreatedAt),
		publishedAt.UnixMilli(), rec.RemoteID, s.now().UnixMilli())
	if err != nil {
		return &StorageError{Op: "record_publish", Entity: "candidate", ID: rec.ID, Err: err}
	}
	return nil
}

func (s *SQLiteStore) RecordDetectedDuplicate(ctx context.Context, rec PublishRecord) (string, error) {
	if rec.ID == "" || rec.RemoteID == "" {
		return "", &StorageError{Op: "record_duplicate", Entity: "candidate", ID: rec.ID, Err: ErrInvalidInput}
	}
	publishedAt := rec.PublishedAt
	if publishedAt.IsZero() {
		publishedAt = s.now()
	}

	var stored string
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO candidates (id, source_name, source_group_key, title, created_at,
			published_at, remote_id, fail_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)
		ON CONFLICT (id) DO UPDATE SET
			published_at = CASE WHEN candidates.remote_id IS NULL
				THEN excluded.published_at ELSE candidates.published_at END,
			remote_id    = COALESCE(candidates.remote_id, excluded.remote_id),
			created_at   = COALESCE(candidates.created_at, excluded.created_at),
			updated_at   = excluded.updated_at
		RETURNING remote_id`,
		rec.ID, rec.SourceName, rec.GroupKey, rec.Title, nullMilli(rec.CreatedAt),
		publishedAt.UnixMilli(), rec.RemoteID, s.now().UnixMilli()).Scan(&stored)
	if err != nil {
		return "", &StorageError{Op: "record_duplicate", Entity: "candidate", ID: rec.ID, Err: err}
	}
	return stored, nil
}

func (s *SQLiteStore) IncrementFailCount(ctx context.Context, rec FailureRecord) (int, error) {
	if rec.ID == "" {
		return 0, &StorageError{Op: "increment_fail", Entity: "candidate", Err: ErrInvalidInput}
	}
	msg := ""
	if rec.Err != nil {
		msg = rec.Err.Error()
	}

	var count int
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO candidates (id, source_name, source_group_key, title, created_at,
			fail_count, last_error, updated_at)
		VALUES (?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			fail_count = candidates.fail_count + 1,
			last_error = excluded.last_error,
			created_at = COALESCE(candidates.created_at, excluded.created_at),
			updated_at = excluded.updated_at
		RETURNING fail_count`,
		rec.ID, rec.SourceName, rec.GroupKey, rec.Title, nullMilli(rec.CreatedAt),
		msg, s.now().UnixMilli()).Scan(&count)
	if err != nil {
		return 0, &StorageError{Op: "increment_fail", Entity: "candidate", ID: rec.ID, Err: err}
	}
	return count, nil
}

func (s *SQLiteStore) GetRecord(ctx context.Context, id string) (*CandidateRecord, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+candidateColumns+" FROM candidates WHERE id = ?", id)
	rec, err := scanCandidate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &StorageError{Op: "read", Entity: "candidate", ID: id, Err: err}
	}
	return rec, nil
}

func (s *SQLiteStore) LookupRecords(ctx context.Context, ids []string) (map[string]*CandidateRecord, error) {
	out := make(map[string]*CandidateRecord, len(ids))
	for start := 0; start < len(ids); start += lookupChunk {
		end := min(start+lookupChunk, len(ids))
		chunk := ids[start:end]

		query := "SELECT " + candidateColumns + " FROM candidates WHERE id IN (" + placeholders(len(chunk)) + ")"
		rows, err := s.db.QueryContext(ctx, query, stringArgs(chunk)...)
		if err != nil {
			return nil, &StorageError{Op: "lookup", Entity: "candidate", Err: err}
		}
		for rows.Next() {
			rec, err := scanCandidate(rows)
			if err != nil {
				rows.Close()
				return nil, &StorageError{Op: "lookup", Entity: "candidate", Err: err}
			}
			out[rec.ID] = rec
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, &StorageError{Op: "lookup", Entity: "candidate", Err: err}
		}
	}
	return out, nil
}

func (s *SQLiteStore) OverlapCandidates(ctx context.Context, groupKey string, from, to time.Time) ([]*CandidateRecord, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+candidateColumns+` FROM candidates
		WHERE source_group_key = ? AND remote_id IS NOT NULL
		  AND created_at BETWEEN ? AND ?
		ORDER BY created_at`,
		groupKey, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, &StorageError{Op: "overlap", Entity: "candidate", ID: groupKey, Err: err}
	}
	defer rows.Close()

	var out []*CandidateRecord
	for rows.Next() {
		rec, err := scanCandidate(rows)
		if err != nil {
			return nil, &StorageError{Op: "overlap", Entity: "candidate", ID: groupKey, Err: err}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "overlap", Entity: "candidate", ID: groupKey, Err: err}
	}
	return out, nil
}

func (s *SQLiteStore) LastPublishedAt(ctx context.Context, groupKey string) (time.Time, error) {
	var last sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(published_at) FROM candidates
		WHERE source_group_key = ? AND remote_id IS NOT NULL`, groupKey).Scan(&last)
	if err != nil {
		return time.Time{}, &StorageError{Op: "last_published", Entity: "candidate", ID: groupKey, Err: err}
	}
	if !last.Valid {
		return time.Time{}, ErrNotFound
	}
	return time.UnixMilli(last.Int64), nil
}

func (s *SQLiteStore) CountPublishedSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM candidates
		WHERE remote_id IS NOT NULL AND published_at > ?`, since.UnixMilli()).Scan(&n)
	if err != nil {
		return 0, &StorageError{Op: "count_published", Entity: "candidate", Err: err}
	}
	return n, nil
}

func (s *SQLiteStore) RecentRemoteIDs(ctx context.Context, sourceName string, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT remote_id FROM candidates
		WHERE source_name = ? AND remote_id IS NOT NULL
		ORDER BY published_at DESC LIMIT ?`, sourceName, limit)
	if err != nil {
		return nil, &StorageError{Op: "recent_remote_ids", Entity: "candidate", ID: sourceName, Err: err}
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, &StorageError{Op: "recent_remote_ids", Entity: "candidate", ID: sourceName, Err: err}
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM candidates
		WHERE COALESCE(created_at, updated_at) < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, &StorageError{Op: "prune", Entity: "candidate", Err: err}
	}
	n, _ := res.RowsAffected()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM manual_queue
		WHERE consumed_at IS NOT NULL AND consumed_at < ?`, cutoff.UnixMilli()); err != nil {
		return n, &StorageError{Op: "prune", Entity: "queue", Err: err}
	}
	return n, nil
}

// --- source stats ---

func (s *SQLiteStore) GetSourceStats(ctx context.Context, sourceName string) (*SourceStats, error) {
	var st SourceStats
	var updated int64
	err := s.db.QueryRowContext(ctx, `SELECT source_name, total_published, recent_avg_views, samples, updated_at
		FROM source_stats WHERE source_name = ?`, sourceName).
		Scan(&st.SourceName, &st.TotalPublished, &st.RecentAvgViews, &st.Samples, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &StorageError{Op: "read", Entity: "source_stats", ID: sourceName, Err: err}
	}
	st.UpdatedAt = time.UnixMilli(updated)
	return &st, nil
}

func (s *SQLiteStore) ListSourceStats(ctx context.Context) ([]*SourceStats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT source_name, total_published, recent_avg_views, samples, updated_at
		FROM source_stats ORDER BY source_name`)
	if err != nil {
		return nil, &StorageError{Op: "list", Entity: "source_stats", Err: err}
	}
	defer rows.Close()

	var out []*SourceStats
	for rows.Next() {
		var st SourceStats
		var updated int64
		if err := rows.Scan(&st.SourceName, &st.TotalPublished, &st.RecentAvgViews, &st.Samples, &updated); err != nil {
			return nil, &StorageError{Op: "list", Entity: "source_stats", Err: err}
		}
		st.UpdatedAt = time.UnixMilli(updated)
		out = append(out, &st)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpsertSourceStats(ctx context.Context, st *SourceStats) error {
	if st == nil || st.SourceName == "" {
		return &StorageError{Op: "upsert", Entity: "source_stats", Err: ErrInvalidInput}
	}
	st.UpdatedAt = s.now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO source_stats (source_name, total_published, recent_avg_views, samples, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (source_name) DO UPDATE SET
			total_published  = excluded.total_published,
			recent_avg_views = excluded.recent_avg_views,
			samples          = excluded.samples,
			updated_at       = excluded.updated_at`,
		st.SourceName, st.TotalPublished, st.RecentAvgViews, st.Samples, st.UpdatedAt.UnixMilli())
	if err != nil {
		return &StorageError{Op: "upsert", Entity: "source_stats", ID: st.SourceName, Err: err}
	}
	return nil
}

// --- manual queue ---

func (s *SQLiteStore) Enqueue(ctx context.Context, entry *QueueEntry) error {
	if entry == nil || entry.SourceName == "" || strings.TrimSpace(entry.Ref) == "" {
		return &StorageError{Op: "create", Entity: "queue", Err: ErrInvalidInput}
	}
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.QueuedAt.IsZero() {
		entry.QueuedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO manual_queue (id, source_name, ref, queued_at)
		VALUES (?, ?, ?, ?)`, entry.ID, entry.SourceName, strings.TrimSpace(entry.Ref), entry.QueuedAt.UnixMilli())
	if err != nil {
		return &StorageError{Op: "create", Entity: "queue", ID: entry.ID, Err: err}
	}
	return nil
}

func (s *SQLiteStore) PendingQueue(ctx context.Context, sourceName string) ([]*QueueEntry, error) {
	query := `SELECT id, source_name, ref, queued_at FROM manual_queue WHERE consumed_at IS NULL`
	args := []any{}
	if sourceName != "" {
		query += " AND source_name = ?"
		args = append(args, sourceName)
	}
	query += " ORDER BY queued_at, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &StorageError{Op: "list", Entity: "queue", ID: sourceName, Err: err}
	}
	defer rows.Close()

	var out []*QueueEntry
	for rows.Next() {
		var e QueueEntry
		var queued int64
		if err := rows.Scan(&e.ID, &e.SourceName, &e.Ref, &queued); err != nil {
			return nil, &StorageError{Op: "list", Entity: "queue", ID: sourceName, Err: err}
		}
		e.QueuedAt = time.UnixMilli(queued)
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) MarkQueueConsumed(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE manual_queue SET consumed_at = ?
		WHERE id = ? AND consumed_at IS NULL`, at.UnixMilli(), id)
	if err != nil {
		return &StorageError{Op: "update", Entity: "queue", ID: id, Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCandidate(row rowScanner) (*CandidateRecord, error) {
	var (
		rec                    CandidateRecord
		createdAt, publishedAt sql.NullInt64
		remoteID               sql.NullString
		updatedAt              int64
	)
	if err := row.Scan(&rec.ID, &rec.SourceName, &rec.GroupKey, &rec.Title, &createdAt, &publishedAt,
		&remoteID, &rec.FailCount, &rec.LastError, &updatedAt); err != nil {
		return nil, err
	}
	if createdAt.Valid {
		rec.CreatedAt = time.UnixMilli(createdAt.Int64)
	}
	if publishedAt.Valid {
		rec.PublishedAt = time.UnixMilli(publishedAt.Int64)
	}
	rec.RemoteID = remoteID.String
	rec.UpdatedAt = time.UnixMilli(updatedAt)
	return &rec, nil
}

func nullMilli(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}

func stringArgs(ss []string) []any {
	args := make([]any, len(ss))
	for i, s := range ss {
		args[i] = s
	}
	return args
}

var _ Store = (*SQLiteStore)(nil)
