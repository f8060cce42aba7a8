// ABOUTME: Tests for the SQLite session store
// ABOUTME: Verifies soft-delete idempotence, stale sweep, history retention, and revival on save

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testSession(platformID, threadID string) *Session {
	now := time.Now().UTC().Truncate(time.Second)
	return &Session{
		PlatformID:          platformID,
		ThreadID:            threadID,
		AgentConversationID: "conv-" + threadID,
		StartedBy:           "alice",
		StartedAt:           now,
		LastActivityAt:      now,
		SessionNumber:       1,
		WorkingDir:          "/tmp/work",
		AllowedUsers:        []string{"alice"},
	}
}

func TestSQLiteStore_SaveAndLoad(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec := testSession("matrix:example.org", "thread-1")
	rec.PlanApproved = true
	rec.AllowedUsers = []string{"alice", "bob"}
	require.NoError(t, s.Save(ctx, rec))

	recs, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	got := recs[0]
	assert.Equal(t, "matrix:example.org:thread-1", got.Key())
	assert.Equal(t, "conv-thread-1", got.AgentConversationID)
	assert.True(t, got.PlanApproved)
	assert.Equal(t, []string{"alice", "bob"}, got.AllowedUsers)
	assert.Nil(t, got.CleanedAt)
}

func TestSQLiteStore_SaveUpserts(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec := testSession("matrix:example.org", "thread-1")
	require.NoError(t, s.Save(ctx, rec))

	rec.ResumeFailCount = 2
	rec.Title = "refactor run"
	require.NoError(t, s.Save(ctx, rec))

	recs, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 2, recs[0].ResumeFailCount)
	assert.Equal(t, "refactor run", recs[0].Title)
}

func TestSQLiteStore_SaveRevivesSoftDeleted(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec := testSession("matrix:example.org", "thread-1")
	require.NoError(t, s.Save(ctx, rec))
	require.NoError(t, s.SoftDelete(ctx, rec.Key()))

	// Saving again brings the record back into the active set.
	require.NoError(t, s.Save(ctx, rec))

	recs, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Nil(t, recs[0].CleanedAt)
}

func TestSQLiteStore_SoftDeleteIdempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec := testSession("matrix:example.org", "thread-1")
	require.NoError(t, s.Save(ctx, rec))

	require.NoError(t, s.SoftDelete(ctx, rec.Key()))
	first, err := s.Get(ctx, rec.Key())
	require.NoError(t, err)
	require.NotNil(t, first.CleanedAt)

	// Second call is a no-op: same timestamp, still exactly one history entry.
	require.NoError(t, s.SoftDelete(ctx, rec.Key()))
	second, err := s.Get(ctx, rec.Key())
	require.NoError(t, err)
	require.NotNil(t, second.CleanedAt)
	assert.Equal(t, *first.CleanedAt, *second.CleanedAt)

	history, err := s.GetHistory(ctx, "matrix:example.org", nil)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	recs, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestSQLiteStore_RemoveMissingIsNoError(t *testing.T) {
	s := createTestStore(t)
	assert.NoError(t, s.Remove(context.Background(), "matrix:x:nope"))
}

func TestSQLiteStore_GetNotFound(t *testing.T) {
	s := createTestStore(t)
	_, err := s.Get(context.Background(), "matrix:x:nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_CleanStale(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	old := testSession("matrix:example.org", "old")
	old.LastActivityAt = time.Now().Add(-48 * time.Hour)
	require.NoError(t, s.Save(ctx, old))

	fresh := testSession("matrix:example.org", "fresh")
	require.NoError(t, s.Save(ctx, fresh))

	keys, err := s.CleanStale(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []string{old.Key()}, keys)

	// The stale record is soft-deleted exactly once; a second sweep finds nothing.
	keys, err = s.CleanStale(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Empty(t, keys)

	recs, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, fresh.Key(), recs[0].Key())
}

func TestSQLiteStore_CleanHistory(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	// Soft-delete two records, then age one of them past the retention window.
	oldRec := testSession("matrix:example.org", "old")
	require.NoError(t, s.Save(ctx, oldRec))
	require.NoError(t, s.SoftDelete(ctx, oldRec.Key()))

	recent := testSession("matrix:example.org", "recent")
	require.NoError(t, s.Save(ctx, recent))
	require.NoError(t, s.SoftDelete(ctx, recent.Key()))

	aged := time.Now().Add(-30 * 24 * time.Hour).UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET cleaned_at = ? WHERE key = ?`, aged, oldRec.Key())
	require.NoError(t, err)

	n, err := s.CleanHistory(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.Get(ctx, oldRec.Key())
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Get(ctx, recent.Key())
	assert.NoError(t, err)
}

func TestSQLiteStore_GetHistory_MergesTimedOut(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	deleted := testSession("matrix:example.org", "deleted")
	require.NoError(t, s.Save(ctx, deleted))
	require.NoError(t, s.SoftDelete(ctx, deleted.Key()))

	timedOut := testSession("matrix:example.org", "timed-out")
	timedOut.TimeoutPostID = "post-99"
	require.NoError(t, s.Save(ctx, timedOut))

	liveTimedOut := testSession("matrix:example.org", "live")
	liveTimedOut.TimeoutPostID = "post-100"
	require.NoError(t, s.Save(ctx, liveTimedOut))

	otherPlatform := testSession("slack:acme", "elsewhere")
	require.NoError(t, s.Save(ctx, otherPlatform))
	require.NoError(t, s.SoftDelete(ctx, otherPlatform.Key()))

	// Without active keys only soft-deleted records surface.
	history, err := s.GetHistory(ctx, "matrix:example.org", nil)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, deleted.Key(), history[0].Key())

	// With active keys, timed-out records surface too, minus still-live ones.
	history, err = s.GetHistory(ctx, "matrix:example.org", []string{liveTimedOut.Key()})
	require.NoError(t, err)
	require.Len(t, history, 2)
	keys := []string{history[0].Key(), history[1].Key()}
	assert.Contains(t, keys, deleted.Key())
	assert.Contains(t, keys, timedOut.Key())
}

func TestSQLiteStore_GetHistory_SortsByActivityDesc(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	older := testSession("matrix:example.org", "older")
	older.LastActivityAt = time.Now().Add(-2 * time.Hour)
	require.NoError(t, s.Save(ctx, older))
	require.NoError(t, s.SoftDelete(ctx, older.Key()))

	newer := testSession("matrix:example.org", "newer")
	newer.LastActivityAt = time.Now().Add(-1 * time.Hour)
	require.NoError(t, s.Save(ctx, newer))
	require.NoError(t, s.SoftDelete(ctx, newer.Key()))

	history, err := s.GetHistory(ctx, "matrix:example.org", nil)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, newer.Key(), history[0].Key())
	assert.Equal(t, older.Key(), history[1].Key())
}

func TestSQLiteStore_Clear(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, testSession("matrix:example.org", "a")))
	require.NoError(t, s.Save(ctx, testSession("matrix:example.org", "b")))

	require.NoError(t, s.Clear(ctx))

	recs, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, recs)
}
