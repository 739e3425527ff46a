// ABOUTME: Tests for the SQLite ledger, readers and credential table
// ABOUTME: Each test runs against a fresh database file in a temp dir

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// setupTestStore creates a temporary SQLite store for testing.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "nested", "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

var (
	_ Ledger          = (*SQLiteStore)(nil)
	_ Reader          = (*SQLiteStore)(nil)
	_ CredentialStore = (*SQLiteStore)(nil)
	_ Ledger          = NopLedger{}
)

func TestSQLite_PredictionLifecycle(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	opened := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.RecordPredictionOpen(ctx, "s1", 1, "hello", opened))
	// A repeated declaration keeps the first input word.
	require.NoError(t, store.RecordPredictionOpen(ctx, "s1", 1, "ignored", opened.Add(time.Second)))
	require.NoError(t, store.RecordPredictionOpen(ctx, "s1", 2, "world", opened))

	updated := opened.Add(2 * time.Second)
	require.NoError(t, store.RecordPredictionUpdate(ctx, "s1", 1, updated, "hello world"))
	require.NoError(t, store.RecordPredictionUpdate(ctx, "s1", 1, updated, "hello world, hello"))

	preds, err := store.ListPredictions(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, preds, 2)
	assert.Equal(t, "hello", preds[0].InputWord)
	assert.Equal(t, "hello world, hello", preds[0].ReturnText)
	assert.True(t, updated.Equal(preds[0].Timestamp))
	assert.Equal(t, "world", preds[1].InputWord)
	assert.Empty(t, preds[1].ReturnText)

	other, err := store.ListPredictions(ctx, "s2")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestSQLite_StreamLifecycle(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.RecordStreamOpen(ctx, "s1", 1, start))

	streams, err := store.ListStreams(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, streams, 1)
	assert.Nil(t, streams[0].EndedAt)
	assert.Zero(t, streams[0].DurationMillis)

	end := start.Add(3 * time.Second)
	require.NoError(t, store.RecordStreamUpdate(ctx, "s1", 1, end, 281))

	streams, err = store.ListStreams(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, streams, 1)
	assert.True(t, start.Equal(streams[0].StartedAt))
	require.NotNil(t, streams[0].EndedAt)
	assert.True(t, end.Equal(*streams[0].EndedAt))
	assert.Equal(t, int64(281), streams[0].DurationMillis)
}

func TestSQLite_StreamUpdateWithoutOpen(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	end := time.Now()

	require.NoError(t, store.RecordStreamUpdate(ctx, "s1", 9, end, 100))

	streams, err := store.ListStreams(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, streams, 1)
	assert.Equal(t, int64(100), streams[0].DurationMillis)
}

func TestSQLite_Playback(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.RecordPlayback(ctx, "s1", []byte{1, 2, 3}))
	require.NoError(t, store.RecordPlayback(ctx, "s1", []byte{4, 5}))
	require.NoError(t, store.RecordPlayback(ctx, "s2", []byte{9}))

	frames, err := store.ListPlayback(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, []byte{1, 2, 3}, frames[0].Audio)
	assert.Equal(t, 3, frames[0].Bytes)
	assert.Equal(t, []byte{4, 5}, frames[1].Audio)
	assert.Less(t, frames[0].ID, frames[1].ID)
}

func TestSQLite_Users(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AddUser(ctx, "user1", "password1"))
	assert.ErrorIs(t, store.AddUser(ctx, "user1", "other"), ErrUserExists)
	assert.Error(t, store.AddUser(ctx, "", "x"))

	ok, err := store.IsUser(ctx, "user1", "password1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.IsUser(ctx, "user1", "wrong")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.IsUser(ctx, "ghost", "password1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLite_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persist.db")
	ctx := context.Background()

	first, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, first.RecordPredictionOpen(ctx, "s1", 1, "hi", time.Now()))
	require.NoError(t, first.Close())

	second, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer second.Close()

	preds, err := second.ListPredictions(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, preds, 1)
}

func TestSQLite3Driver(t *testing.T) {
	store, err := NewSQLite3Store(filepath.Join(t.TempDir(), "cgo.db"))
	if err != nil {
		t.Skipf("sqlite3 driver unavailable in this build: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.AddUser(ctx, "user1", "password1"))
	assert.ErrorIs(t, store.AddUser(ctx, "user1", "password1"), ErrUserExists)

	ok, err := store.IsUser(ctx, "user1", "password1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNopLedger(t *testing.T) {
	var l Ledger = NopLedger{}
	ctx := context.Background()

	assert.NoError(t, l.RecordPredictionOpen(ctx, "s", 1, "w", time.Now()))
	assert.NoError(t, l.RecordStreamOpen(ctx, "s", 1, time.Now()))
	assert.NoError(t, l.RecordPredictionUpdate(ctx, "s", 1, time.Now(), "x"))
	assert.NoError(t, l.RecordStreamUpdate(ctx, "s", 1, time.Now(), 1))
	assert.NoError(t, l.RecordPlayback(ctx, "s", nil))
	assert.NoError(t, l.Close())
}

func TestCheckPassword(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	require.NoError(t, err)

	assert.True(t, CheckPassword(string(hash), "secret"))
	assert.False(t, CheckPassword(string(hash), "Secret"))
	assert.False(t, CheckPassword("not-a-hash", "secret"))
}
