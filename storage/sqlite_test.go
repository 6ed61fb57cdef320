package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "clipsync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func publishRec(id, remote string, created time.Time) PublishRecord {
	return PublishRecord{
		ID:          id,
		SourceName:  "streamer",
		GroupKey:    "streamer",
		Title:       "title " + id,
		CreatedAt:   created,
		RemoteID:    remote,
		PublishedAt: created.Add(time.Hour),
	}
}

func TestOpenSQLite_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "clipsync.db")
	ctx := context.Background()

	s, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	created := time.Unix(1_700_000_000, 0)
	require.NoError(t, s.RecordPublish(ctx, publishRec("a", "yt-a", created)))
	require.NoError(t, s.Close())

	s2, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer s2.Close()

	rec, err := s2.GetRecord(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "yt-a", rec.RemoteID)
	assert.True(t, rec.CreatedAt.Equal(created))
}

func TestOpenSQLite_EmptyPath(t *testing.T) {
	_, err := OpenSQLite(context.Background(), " ")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestRecordPublish_RequiresRemoteID(t *testing.T) {
	s := newTestStore(t)
	err := s.RecordPublish(context.Background(), PublishRecord{ID: "a"})

	var storErr *StorageError
	require.ErrorAs(t, err, &storErr)
	assert.Equal(t, "record_publish", storErr.Op)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestRecordPublish_OverwritesOnRealPublish(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	created := time.Unix(1_700_000_000, 0)

	require.NoError(t, s.RecordPublish(ctx, publishRec("a", "yt-1", created)))
	require.NoError(t, s.RecordPublish(ctx, publishRec("a", "yt-2", created)))

	rec, err := s.GetRecord(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "yt-2", rec.RemoteID)
}

func TestRecordDetectedDuplicate_NeverOverwrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	created := time.Unix(1_700_000_000, 0)

	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("clip-%d", i)
		first := fmt.Sprintf("A-%d", i)
		second := fmt.Sprintf("B-%d", i)

		stored, err := s.RecordDetectedDuplicate(ctx, publishRec(id, first, created))
		require.NoError(t, err)
		require.Equal(t, first, stored)

		stored, err = s.RecordDetectedDuplicate(ctx, publishRec(id, second, created))
		require.NoError(t, err)
		assert.Equal(t, first, stored, "duplicate write must not replace %s", first)

		rec, err := s.GetRecord(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, first, rec.RemoteID)
	}
}

func TestRecordDetectedDuplicate_KeepsRealPublish(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	created := time.Unix(1_700_000_000, 0)

	real := publishRec("a", "real", created)
	require.NoError(t, s.RecordPublish(ctx, real))

	dup := publishRec("a", "title-match", created)
	dup.PublishedAt = created.Add(48 * time.Hour)
	stored, err := s.RecordDetectedDuplicate(ctx, dup)
	require.NoError(t, err)
	assert.Equal(t, "real", stored)

	rec, err := s.GetRecord(ctx, "a")
	require.NoError(t, err)
	assert.True(t, rec.PublishedAt.Equal(real.PublishedAt), "published_at must stay with the real publish")
}

func TestRecordDetectedDuplicate_FillsFailedRecord(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.IncrementFailCount(ctx, FailureRecord{ID: "a", SourceName: "streamer", GroupKey: "streamer"})
	require.NoError(t, err)

	stored, err := s.RecordDetectedDuplicate(ctx, publishRec("a", "yt-a", time.Unix(1_700_000_000, 0)))
	require.NoError(t, err)
	assert.Equal(t, "yt-a", stored)

	rec, err := s.GetRecord(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.FailCount)
	assert.True(t, rec.IsPublished())
}

func TestIncrementFailCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	rec := FailureRecord{ID: "a", SourceName: "streamer", GroupKey: "streamer", Err: errors.New("timeout")}

	for want := 1; want <= 3; want++ {
		got, err := s.IncrementFailCount(ctx, rec)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	stored, err := s.GetRecord(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 3, stored.FailCount)
	assert.Equal(t, "timeout", stored.LastError)
	assert.True(t, stored.Exhausted(3))
	assert.False(t, stored.IsPublished())
}

func TestLookupRecords_Batched(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	created := time.Unix(1_700_000_000, 0)

	ids := make([]string, 0, 1200)
	for i := 0; i < 1200; i++ {
		ids = append(ids, fmt.Sprintf("id-%04d", i))
	}
	require.NoError(t, s.RecordPublish(ctx, publishRec("id-0003", "yt-3", created)))
	require.NoError(t, s.RecordPublish(ctx, publishRec("id-1100", "yt-1100", created)))
	_, err := s.IncrementFailCount(ctx, FailureRecord{ID: "id-0700", SourceName: "streamer", GroupKey: "streamer"})
	require.NoError(t, err)

	got, err := s.LookupRecords(ctx, ids)
	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.True(t, got["id-0003"].IsPublished())
	assert.True(t, got["id-1100"].IsPublished())
	assert.False(t, got["id-0700"].IsPublished())
}

func TestOverlapCandidates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)

	require.NoError(t, s.RecordPublish(ctx, publishRec("in", "yt-in", base)))
	require.NoError(t, s.RecordPublish(ctx, publishRec("out", "yt-out", base.Add(time.Hour))))
	other := publishRec("other-group", "yt-o", base)
	other.GroupKey = "someone-else"
	require.NoError(t, s.RecordPublish(ctx, other))
	_, err := s.IncrementFailCount(ctx, FailureRecord{ID: "failed", SourceName: "streamer", GroupKey: "streamer", CreatedAt: base})
	require.NoError(t, err)

	got, err := s.OverlapCandidates(ctx, "streamer", base.Add(-time.Minute), base.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "in", got[0].ID)
}

func TestOverlapCandidates_MillisecondPrecision(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	created := time.Unix(1_700_000_000, 0).Add(900 * time.Millisecond)
	require.NoError(t, s.RecordPublish(ctx, publishRec("a", "yt-a", created)))

	rec, err := s.GetRecord(ctx, "a")
	require.NoError(t, err)
	assert.True(t, rec.CreatedAt.Equal(created), "created_at = %v, want %v", rec.CreatedAt, created)

	got, err := s.OverlapCandidates(ctx, "streamer", created.Add(-time.Millisecond), created.Add(time.Second))
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = s.OverlapCandidates(ctx, "streamer", created.Add(time.Millisecond), created.Add(time.Second))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestOpenSQLite_UpgradesSecondTimestamps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clipsync.db")
	ctx := context.Background()

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, schema)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO candidates
		(id, source_name, source_group_key, created_at, published_at, remote_id, updated_at)
		VALUES ('a', 'streamer', 'streamer', 1700000000, 1700003600, 'yt-a', 1700003600)`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, "PRAGMA user_version = 1")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	rec, err := s.GetRecord(ctx, "a")
	require.NoError(t, err)
	assert.True(t, rec.CreatedAt.Equal(time.Unix(1_700_000_000, 0)))
	assert.True(t, rec.PublishedAt.Equal(time.Unix(1_700_003_600, 0)))

	var version int
	require.NoError(t, s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version))
	assert.Equal(t, schemaVersion, version)
}

func TestLastPublishedAtAndCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)

	_, err := s.LastPublishedAt(ctx, "streamer")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.RecordPublish(ctx, publishRec("a", "yt-a", base)))
	require.NoError(t, s.RecordPublish(ctx, publishRec("b", "yt-b", base.Add(2*time.Hour))))

	last, err := s.LastPublishedAt(ctx, "streamer")
	require.NoError(t, err)
	assert.True(t, last.Equal(base.Add(3*time.Hour)))

	n, err := s.CountPublishedSince(ctx, base.Add(90*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ids, err := s.RecentRemoteIDs(ctx, "streamer", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"yt-b", "yt-a"}, ids)
}

func TestPrune(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)

	require.NoError(t, s.RecordPublish(ctx, publishRec("old", "yt-old", base)))
	require.NoError(t, s.RecordPublish(ctx, publishRec("new", "yt-new", base.Add(30*24*time.Hour))))

	n, err := s.Prune(ctx, base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = s.GetRecord(ctx, "old")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetRecord(ctx, "new")
	assert.NoError(t, err)
}

func TestSourceStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetSourceStats(ctx, "streamer")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.UpsertSourceStats(ctx, &SourceStats{SourceName: "streamer", TotalPublished: 4, RecentAvgViews: 1500, Samples: 4}))
	require.NoError(t, s.UpsertSourceStats(ctx, &SourceStats{SourceName: "streamer", TotalPublished: 5, RecentAvgViews: 1200, Samples: 5}))

	st, err := s.GetSourceStats(ctx, "streamer")
	require.NoError(t, err)
	assert.Equal(t, 5, st.TotalPublished)
	assert.InDelta(t, 1200, st.RecentAvgViews, 0.001)

	all, err := s.ListSourceStats(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestManualQueue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e1 := &QueueEntry{SourceName: "streamer", Ref: "https://clips.twitch.tv/Slug1", QueuedAt: time.Unix(100, 0)}
	e2 := &QueueEntry{SourceName: "streamer", Ref: "Slug2", QueuedAt: time.Unix(200, 0)}
	e3 := &QueueEntry{SourceName: "other", Ref: "Slug3"}
	for _, e := range []*QueueEntry{e1, e2, e3} {
		require.NoError(t, s.Enqueue(ctx, e))
		assert.NotEmpty(t, e.ID)
	}

	pending, err := s.PendingQueue(ctx, "streamer")
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, e1.ID, pending[0].ID)

	require.NoError(t, s.MarkQueueConsumed(ctx, e1.ID, time.Unix(300, 0)))
	assert.ErrorIs(t, s.MarkQueueConsumed(ctx, e1.ID, time.Unix(301, 0)), ErrNotFound)

	pending, err = s.PendingQueue(ctx, "")
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	assert.ErrorIs(t, s.Enqueue(ctx, &QueueEntry{SourceName: "streamer", Ref: "  "}), ErrInvalidInput)
}
