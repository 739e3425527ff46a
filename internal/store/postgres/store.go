// ABOUTME: PostgreSQL ledger and credential store built with squirrel on lib/pq
// ABOUTME: Credentials are checked server-side by the is_user function

// Package postgres stores the recognition ledger and credentials in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"

	"github.com/2389/asr-gateway/internal/store"
)

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// uniqueViolation is the SQLSTATE for a duplicate key.
const uniqueViolation = "23505"

// Store implements store.Ledger, store.Reader and store.CredentialStore.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New wraps an open database. The schema must already be migrated.
func New(db *sql.DB, logger *slog.Logger) *Store {
	return &Store{db: db, logger: logger.With("component", "store", "driver", "postgres")}
}

// Open connects to dsn, applies migrations and returns a Store.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := Migrate(db, logger); err != nil {
		_ = db.Close()
		return nil, err
	}
	return New(db, logger), nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) exec(ctx context.Context, what string, b sq.Sqlizer) error {
	query, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("building %s query: %w", what, err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	return nil
}

// RecordPredictionOpen inserts the prediction row; the first declaration wins.
func (s *Store) RecordPredictionOpen(ctx context.Context, sessionID string, seqID int, inputWord string, at time.Time) error {
	return s.exec(ctx, "inserting prediction", psq.Insert("audio_stream_prediction").
		Columns("session_id", "seq_id", "input_word", "pred_timestamp").
		Values(sessionID, seqID, inputWord, at.UTC()).
		Suffix("ON CONFLICT (session_id, seq_id) DO NOTHING"))
}

// RecordStreamOpen inserts the stream info row.
func (s *Store) RecordStreamOpen(ctx context.Context, sessionID string, seqID int, at time.Time) error {
	return s.exec(ctx, "inserting stream info", psq.Insert("audio_stream_info").
		Columns("session_id", "seq_id", "proc_start_time").
		Values(sessionID, seqID, at.UTC()).
		Suffix("ON CONFLICT (session_id, seq_id) DO NOTHING"))
}

// RecordPredictionUpdate stores the joined predictions.
func (s *Store) RecordPredictionUpdate(ctx context.Context, sessionID string, seqID int, at time.Time, joined string) error {
	return s.exec(ctx, "updating prediction", psq.Insert("audio_stream_prediction").
		Columns("session_id", "seq_id", "return_text", "pred_timestamp").
		Values(sessionID, seqID, joined, at.UTC()).
		Suffix("ON CONFLICT (session_id, seq_id) DO UPDATE SET " +
			"return_text = EXCLUDED.return_text, pred_timestamp = EXCLUDED.pred_timestamp"))
}

// RecordStreamUpdate stores the end time and duration.
func (s *Store) RecordStreamUpdate(ctx context.Context, sessionID string, seqID int, end time.Time, durationMillis int64) error {
	return s.exec(ctx, "updating stream info", psq.Insert("audio_stream_info").
		Columns("session_id", "seq_id", "proc_start_time", "proc_end_time", "stream_duration").
		Values(sessionID, seqID, end.UTC(), end.UTC(), durationMillis).
		Suffix("ON CONFLICT (session_id, seq_id) DO UPDATE SET " +
			"proc_end_time = EXCLUDED.proc_end_time, stream_duration = EXCLUDED.stream_duration"))
}

// RecordPlayback stores one audio frame.
func (s *Store) RecordPlayback(ctx context.Context, sessionID string, audio []byte) error {
	return s.exec(ctx, "inserting playback", psq.Insert("playback").
		Columns("session_id", "message").
		Values(sessionID, audio))
}

// IsUser asks the database whether the credentials are valid.
func (s *Store) IsUser(ctx context.Context, username, password string) (bool, error) {
	query, args, err := psq.Select().Column(sq.Expr("public.is_user(?, ?)", username, password)).ToSql()
	if err != nil {
		return false, fmt.Errorf("building is_user query: %w", err)
	}

	var ok sql.NullBool
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&ok); err != nil {
		return false, fmt.Errorf("querying user: %w", err)
	}
	if !ok.Valid {
		s.logger.Error("empty result from is_user", "username", username)
		return false, nil
	}
	return ok.Bool, nil
}

// AddUser stores a bcrypt hash for username.
func (s *Store) AddUser(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		return fmt.Errorf("username and password are required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	err = s.exec(ctx, "inserting user", psq.Insert("users").
		Columns("username", "password_hash").
		Values(username, string(hash)))
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return store.ErrUserExists
	}
	return err
}

// ListPredictions returns a session's predictions ordered by sequence id.
func (s *Store) ListPredictions(ctx context.Context, sessionID string) ([]store.Prediction, error) {
	query, args, err := psq.Select("session_id", "seq_id", "input_word", "return_text", "pred_timestamp").
		From("audio_stream_prediction").
		Where(sq.Eq{"session_id": sessionID}).
		OrderBy("seq_id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building predictions query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying predictions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []store.Prediction
	for rows.Next() {
		var p store.Prediction
		if err := rows.Scan(&p.SessionID, &p.SequenceID, &p.InputWord, &p.ReturnText, &p.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning prediction: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListStreams returns a session's stream info ordered by sequence id.
func (s *Store) ListStreams(ctx context.Context, sessionID string) ([]store.StreamInfo, error) {
	query, args, err := psq.Select("session_id", "seq_id", "proc_start_time", "proc_end_time", "stream_duration").
		From("audio_stream_info").
		Where(sq.Eq{"session_id": sessionID}).
		OrderBy("seq_id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building stream info query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying stream info: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []store.StreamInfo
	for rows.Next() {
		var si store.StreamInfo
		var end sql.NullTime
		if err := rows.Scan(&si.SessionID, &si.SequenceID, &si.StartedAt, &end, &si.DurationMillis); err != nil {
			return nil, fmt.Errorf("scanning stream info: %w", err)
		}
		if end.Valid {
			t := end.Time
			si.EndedAt = &t
		}
		out = append(out, si)
	}
	return out, rows.Err()
}

// ListPlayback returns a session's stored frames in arrival order.
func (s *Store) ListPlayback(ctx context.Context, sessionID string) ([]store.PlaybackFrame, error) {
	query, args, err := psq.Select("id", "session_id", "message", "created_at").
		From("playback").
		Where(sq.Eq{"session_id": sessionID}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building playback query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying playback: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []store.PlaybackFrame
	for rows.Next() {
		var f store.PlaybackFrame
		if err := rows.Scan(&f.ID, &f.SessionID, &f.Audio, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning playback: %w", err)
		}
		f.Bytes = len(f.Audio)
		out = append(out, f)
	}
	return out, rows.Err()
}
