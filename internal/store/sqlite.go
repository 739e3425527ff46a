// ABOUTME: SQLite implementation of the ledger and credential store
// ABOUTME: Supports the modernc (pure Go) and mattn (cgo) drivers with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Ledger, Reader and CredentialStore using SQLite
type SQLiteStore struct {
	db     *sql.DB
	driver string
	logger *slog.Logger
}

// NewSQLiteStore opens a store at path with the pure Go driver.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	return OpenSQLite("sqlite", path)
}

// OpenSQLite opens a store at path with the named database/sql driver.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func OpenSQLite(driver, path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store", "driver", driver)

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL lets the HTTP endpoints read while sessions write
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{db: db, driver: driver, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS audio_stream_prediction (
			session_id TEXT NOT NULL,
			seq_id INTEGER NOT NULL,
			input_word TEXT NOT NULL DEFAULT '',
			return_text TEXT NOT NULL DEFAULT '',
			pred_timestamp TEXT NOT NULL,
			PRIMARY KEY (session_id, seq_id)
		);

		CREATE TABLE IF NOT EXISTS audio_stream_info (
			session_id TEXT NOT NULL,
			seq_id INTEGER NOT NULL,
			proc_start_time TEXT NOT NULL,
			proc_end_time TEXT,
			stream_duration INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (session_id, seq_id)
		);

		CREATE TABLE IF NOT EXISTS playback (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			message BLOB NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_playback_session ON playback(session_id, id);

		CREATE TABLE IF NOT EXISTS users (
			username TEXT PRIMARY KEY,
			password_hash TEXT NOT NULL,
			created_at TEXT NOT NULL
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// RecordPredictionOpen inserts the prediction row for a sequence. Repeated
// declarations keep the first row.
func (s *SQLiteStore) RecordPredictionOpen(ctx context.Context, sessionID string, seqID int, inputWord string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audio_stream_prediction (session_id, seq_id, input_word, pred_timestamp)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (session_id, seq_id) DO NOTHING
	`, sessionID, seqID, inputWord, formatTime(at))
	if err != nil {
		return fmt.Errorf("inserting prediction: %w", err)
	}
	return nil
}

// RecordStreamOpen inserts the stream info row for a sequence.
func (s *SQLiteStore) RecordStreamOpen(ctx context.Context, sessionID string, seqID int, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audio_stream_info (session_id, seq_id, proc_start_time)
		VALUES (?, ?, ?)
		ON CONFLICT (session_id, seq_id) DO NOTHING
	`, sessionID, seqID, formatTime(at))
	if err != nil {
		return fmt.Errorf("inserting stream info: %w", err)
	}
	return nil
}

// RecordPredictionUpdate stores the joined predictions for a sequence.
func (s *SQLiteStore) RecordPredictionUpdate(ctx context.Context, sessionID string, seqID int, at time.Time, joined string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audio_stream_prediction (session_id, seq_id, return_text, pred_timestamp)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (session_id, seq_id) DO UPDATE SET
			return_text = excluded.return_text,
			pred_timestamp = excluded.pred_timestamp
	`, sessionID, seqID, joined, formatTime(at))
	if err != nil {
		return fmt.Errorf("updating prediction: %w", err)
	}
	return nil
}

// RecordStreamUpdate stores the end time and duration of a sequence's stream.
func (s *SQLiteStore) RecordStreamUpdate(ctx context.Context, sessionID string, seqID int, end time.Time, durationMillis int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audio_stream_info (session_id, seq_id, proc_start_time, proc_end_time, stream_duration)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (session_id, seq_id) DO UPDATE SET
			proc_end_time = excluded.proc_end_time,
			stream_duration = excluded.stream_duration
	`, sessionID, seqID, formatTime(end), formatTime(end), durationMillis)
	if err != nil {
		return fmt.Errorf("updating stream info: %w", err)
	}
	return nil
}

// RecordPlayback stores one inbound audio frame.
func (s *SQLiteStore) RecordPlayback(ctx context.Context, sessionID string, audio []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO playback (session_id, message, created_at) VALUES (?, ?, ?)`,
		sessionID, audio, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("inserting playback: %w", err)
	}
	return nil
}

// ListPredictions returns a session's predictions ordered by sequence id.
func (s *SQLiteStore) ListPredictions(ctx context.Context, sessionID string) ([]Prediction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, seq_id, input_word, return_text, pred_timestamp
		FROM audio_stream_prediction WHERE session_id = ? ORDER BY seq_id
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying predictions: %w", err)
	}
	defer rows.Close()

	var out []Prediction
	for rows.Next() {
		var p Prediction
		var ts string
		if err := rows.Scan(&p.SessionID, &p.SequenceID, &p.InputWord, &p.ReturnText, &ts); err != nil {
			return nil, fmt.Errorf("scanning prediction: %w", err)
		}
		if p.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListStreams returns a session's stream info ordered by sequence id.
func (s *SQLiteStore) ListStreams(ctx context.Context, sessionID string) ([]StreamInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, seq_id, proc_start_time, proc_end_time, stream_duration
		FROM audio_stream_info WHERE session_id = ? ORDER BY seq_id
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying stream info: %w", err)
	}
	defer rows.Close()

	var out []StreamInfo
	for rows.Next() {
		var si StreamInfo
		var start string
		var end sql.NullString
		if err := rows.Scan(&si.SessionID, &si.SequenceID, &start, &end, &si.DurationMillis); err != nil {
			return nil, fmt.Errorf("scanning stream info: %w", err)
		}
		if si.StartedAt, err = parseTime(start); err != nil {
			return nil, err
		}
		if end.Valid {
			t, err := parseTime(end.String)
			if err != nil {
				return nil, err
			}
			si.EndedAt = &t
		}
		out = append(out, si)
	}
	return out, rows.Err()
}

// ListPlayback returns a session's stored audio frames in arrival order.
func (s *SQLiteStore) ListPlayback(ctx context.Context, sessionID string) ([]PlaybackFrame, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, message, created_at
		FROM playback WHERE session_id = ? ORDER BY id
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying playback: %w", err)
	}
	defer rows.Close()

	var out []PlaybackFrame
	for rows.Next() {
		var f PlaybackFrame
		var ts string
		if err := rows.Scan(&f.ID, &f.SessionID, &f.Audio, &ts); err != nil {
			return nil, fmt.Errorf("scanning playback: %w", err)
		}
		if f.CreatedAt, err = parseTime(ts); err != nil {
			return nil, err
		}
		f.Bytes = len(f.Audio)
		out = append(out, f)
	}
	return out, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

// isUniqueViolation reports whether err came from a UNIQUE or PRIMARY KEY
// constraint. Both drivers put "UNIQUE constraint failed" in the message.
func isUniqueViolation(err error) bool {
	return err != nil && containsFold(err.Error(), "UNIQUE constraint failed")
}
