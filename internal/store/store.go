// ABOUTME: Ledger and credential interfaces plus the record types they persist
// ABOUTME: Includes NopLedger for deployments without a database

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("not found")

// ErrUserExists is returned when adding a username that is already taken
var ErrUserExists = errors.New("user already exists")

// Ledger is the write-only sink for recognition events.
type Ledger interface {
	RecordPredictionOpen(ctx context.Context, sessionID string, seqID int, inputWord string, at time.Time) error
	RecordStreamOpen(ctx context.Context, sessionID string, seqID int, at time.Time) error
	RecordPredictionUpdate(ctx context.Context, sessionID string, seqID int, at time.Time, joined string) error
	RecordStreamUpdate(ctx context.Context, sessionID string, seqID int, end time.Time, durationMillis int64) error
	RecordPlayback(ctx context.Context, sessionID string, audio []byte) error
	Close() error
}

// Reader reads back what a Ledger recorded.
type Reader interface {
	ListPredictions(ctx context.Context, sessionID string) ([]Prediction, error)
	ListStreams(ctx context.Context, sessionID string) ([]StreamInfo, error)
	ListPlayback(ctx context.Context, sessionID string) ([]PlaybackFrame, error)
}

// CredentialStore checks and manages client credentials.
type CredentialStore interface {
	IsUser(ctx context.Context, username, password string) (bool, error)
	AddUser(ctx context.Context, username, password string) error
}

// Prediction is the expected text and recognized text of one sequence
type Prediction struct {
	SessionID  string    `json:"session_id"`
	SequenceID int       `json:"sequence_id"`
	InputWord  string    `json:"input_word"`
	ReturnText string    `json:"return_text"`
	Timestamp  time.Time `json:"timestamp"`
}

// StreamInfo is the timing of one sequence's audio stream
type StreamInfo struct {
	SessionID      string     `json:"session_id"`
	SequenceID     int        `json:"sequence_id"`
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	DurationMillis int64      `json:"duration_ms"`
}

// PlaybackFrame is one stored audio frame
type PlaybackFrame struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Audio     []byte    `json:"-"`
	Bytes     int       `json:"bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// NopLedger discards every record.
type NopLedger struct{}

func (NopLedger) RecordPredictionOpen(context.Context, string, int, string, time.Time) error {
	return nil
}

func (NopLedger) RecordStreamOpen(context.Context, string, int, time.Time) error { return nil }

func (NopLedger) RecordPredictionUpdate(context.Context, string, int, time.Time, string) error {
	return nil
}

func (NopLedger) RecordStreamUpdate(context.Context, string, int, time.Time, int64) error {
	return nil
}

func (NopLedger) RecordPlayback(context.Context, string, []byte) error { return nil }

func (NopLedger) Close() error { return nil }
