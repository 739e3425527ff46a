//go:build integration

package postgres

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/2389/asr-gateway/internal/store"
)

func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:15",
		tcpostgres.WithDatabase("asr"),
		tcpostgres.WithUsername("asr"),
		tcpostgres.WithPassword("asr"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}

func TestPostgresLedger(t *testing.T) {
	dsn := startPostgres(t)
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s, err := Open(ctx, dsn, logger)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	start := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, s.RecordPredictionOpen(ctx, "s1", 1, "hello", start))
	require.NoError(t, s.RecordPredictionOpen(ctx, "s1", 1, "ignored", start))
	require.NoError(t, s.RecordStreamOpen(ctx, "s1", 1, start))
	require.NoError(t, s.RecordPredictionUpdate(ctx, "s1", 1, start.Add(time.Second), "hel, hello"))
	require.NoError(t, s.RecordStreamUpdate(ctx, "s1", 1, start.Add(time.Second), 281))
	require.NoError(t, s.RecordPlayback(ctx, "s1", []byte{1, 2, 3}))

	preds, err := s.ListPredictions(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, preds, 1)
	assert.Equal(t, "hello", preds[0].InputWord)
	assert.Equal(t, "hel, hello", preds[0].ReturnText)

	streams, err := s.ListStreams(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, streams, 1)
	require.NotNil(t, streams[0].EndedAt)
	assert.Equal(t, int64(281), streams[0].DurationMillis)

	frames, err := s.ListPlayback(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, []byte{1, 2, 3}, frames[0].Audio)
}

func TestPostgresUsers(t *testing.T) {
	dsn := startPostgres(t)
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s, err := Open(ctx, dsn, logger)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	require.NoError(t, s.AddUser(ctx, "alice", "secret"))
	assert.ErrorIs(t, s.AddUser(ctx, "alice", "other"), store.ErrUserExists)

	ok, err := s.IsUser(ctx, "alice", "secret")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.IsUser(ctx, "alice", "wrong")
	require.NoError(t, err)
	assert.False(t, ok)

	// Reapplying migrations on an up-to-date schema is a no-op.
	require.NoError(t, Migrate(s.db, logger))
}
