package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/asr-gateway/internal/metrics"
)

type ledgerCall struct {
	Kind           string
	SessionID      string
	SeqID          int
	Text           string
	DurationMillis int64
	Bytes          int
}

// recordingLedger captures every ledger call. failWith makes every call fail.
type recordingLedger struct {
	mu       sync.Mutex
	calls    []ledgerCall
	err      error
	isClosed bool
}

func newRecordingLedger() *recordingLedger {
	return &recordingLedger{}
}

func (l *recordingLedger) failWith(err error) {
	l.mu.Lock()
	l.err = err
	l.mu.Unlock()
}

func (l *recordingLedger) add(c ledgerCall) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.calls = append(l.calls, c)
	return nil
}

func (l *recordingLedger) RecordPredictionOpen(_ context.Context, sessionID string, seqID int, inputWord string, _ time.Time) error {
	return l.add(ledgerCall{Kind: "prediction_open", SessionID: sessionID, SeqID: seqID, Text: inputWord})
}

func (l *recordingLedger) RecordStreamOpen(_ context.Context, sessionID string, seqID int, _ time.Time) error {
	return l.add(ledgerCall{Kind: "stream_open", SessionID: sessionID, SeqID: seqID})
}

func (l *recordingLedger) RecordPredictionUpdate(_ context.Context, sessionID string, seqID int, _ time.Time, joined string) error {
	return l.add(ledgerCall{Kind: "prediction_update", SessionID: sessionID, SeqID: seqID, Text: joined})
}

func (l *recordingLedger) RecordStreamUpdate(_ context.Context, sessionID string, seqID int, _ time.Time, durationMillis int64) error {
	return l.add(ledgerCall{Kind: "stream_update", SessionID: sessionID, SeqID: seqID, DurationMillis: durationMillis})
}

func (l *recordingLedger) RecordPlayback(_ context.Context, sessionID string, audio []byte) error {
	return l.add(ledgerCall{Kind: "playback", SessionID: sessionID, Bytes: len(audio)})
}

func (l *recordingLedger) Close() error {
	l.mu.Lock()
	l.isClosed = true
	l.mu.Unlock()
	return nil
}

func (l *recordingLedger) all() []ledgerCall {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ledgerCall(nil), l.calls...)
}

func (l *recordingLedger) byKind(kind string) []ledgerCall {
	var out []ledgerCall
	for _, c := range l.all() {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

func (l *recordingLedger) closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.isClosed
}

func TestAuditor_RecordsOpenAndUpdate(t *testing.T) {
	l := newRecordingLedger()
	a := newAuditor(l, nil, testLogger())
	now := time.Now()

	a.opened("s1", 2, "hello", now)
	a.updated("s1", 2, now, "hello, world", 1500*time.Millisecond)

	calls := l.all()
	require.Len(t, calls, 4)
	assert.Equal(t, []string{"prediction_open", "stream_open", "prediction_update", "stream_update"},
		[]string{calls[0].Kind, calls[1].Kind, calls[2].Kind, calls[3].Kind})
	assert.Equal(t, "hello", calls[0].Text)
	assert.Equal(t, "hello, world", calls[2].Text)
	assert.Equal(t, int64(1500), calls[3].DurationMillis)
}

func TestAuditor_FailuresAreCountedNotReturned(t *testing.T) {
	l := newRecordingLedger()
	l.failWith(errors.New("boom"))
	m := metrics.New(nil, nil)
	a := newAuditor(l, m, testLogger())

	assert.NotPanics(t, func() {
		a.opened("s1", 1, "x", time.Now())
		a.playback("s1", 1, []byte{1})
	})
	assert.Empty(t, l.all())

	body := scrape(t, m)
	assert.Contains(t, body, `asr_gateway_ledger_errors_total{record="prediction_open"} 1`)
	assert.Contains(t, body, `asr_gateway_ledger_errors_total{record="stream_open"} 1`)
	assert.Contains(t, body, `asr_gateway_ledger_errors_total{record="playback"} 1`)
}
