// ABOUTME: Best-effort wrapper around the ledger: failures are logged and counted, never returned
// ABOUTME: Each write gets its own timeout so a slow database cannot stall a session

package gateway

import (
	"context"
	"log/slog"
	"time"

	"github.com/2389/asr-gateway/internal/metrics"
	"github.com/2389/asr-gateway/internal/store"
)

const ledgerTimeout = 5 * time.Second

type auditor struct {
	ledger  store.Ledger
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func newAuditor(l store.Ledger, m *metrics.Metrics, logger *slog.Logger) *auditor {
	return &auditor{ledger: l, metrics: m, logger: logger}
}

func (a *auditor) record(kind, sessionID string, seqID int, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), ledgerTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		a.metrics.LedgerError(kind)
		a.logger.Error("ledger write failed",
			"record", kind,
			"session_id", sessionID,
			"sequence_id", seqID,
			"error", err,
		)
	}
}

// opened records the prediction and stream rows for a declared sequence.
func (a *auditor) opened(sessionID string, seqID int, inputWord string, at time.Time) {
	a.record("prediction_open", sessionID, seqID, func(ctx context.Context) error {
		return a.ledger.RecordPredictionOpen(ctx, sessionID, seqID, inputWord, at)
	})
	a.record("stream_open", sessionID, seqID, func(ctx context.Context) error {
		return a.ledger.RecordStreamOpen(ctx, sessionID, seqID, at)
	})
}

// updated records the joined predictions and stream duration after a full result.
func (a *auditor) updated(sessionID string, seqID int, at time.Time, joined string, duration time.Duration) {
	a.record("prediction_update", sessionID, seqID, func(ctx context.Context) error {
		return a.ledger.RecordPredictionUpdate(ctx, sessionID, seqID, at, joined)
	})
	a.record("stream_update", sessionID, seqID, func(ctx context.Context) error {
		return a.ledger.RecordStreamUpdate(ctx, sessionID, seqID, at, duration.Milliseconds())
	})
}

func (a *auditor) playback(sessionID string, seqID int, audio []byte) {
	a.record("playback", sessionID, seqID, func(ctx context.Context) error {
		return a.ledger.RecordPlayback(ctx, sessionID, audio)
	})
}

func (a *auditor) Close() error {
	return a.ledger.Close()
}
