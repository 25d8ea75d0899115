package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/segmentio/ksuid"

	_ "modernc.org/sqlite"
)

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// SQLite persists sessions and chunks in a single-file database.
type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	s := &SQLite{db: db}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) ensureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS sessions (
  id TEXT PRIMARY KEY,
  started_at TEXT NOT NULL,
  ended_at TEXT,
  duration_seconds INTEGER,
  recording INTEGER NOT NULL DEFAULT 0,
  battery_level INTEGER
);
CREATE TABLE IF NOT EXISTS chunks (
  session_id TEXT NOT NULL,
  seq INTEGER NOT NULL,
  payload BLOB NOT NULL,
  received_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chunks_session ON chunks(session_id, seq);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *SQLite) CreateSession(ctx context.Context, startedAt time.Time) (string, error) {
	id := ksuid.New().String()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, started_at) VALUES (?, ?)`,
		id, startedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return "", fmt.Errorf("insert session: %w", err)
	}
	return id, nil
}

func (s *SQLite) UpdateSession(ctx context.Context, id string, upd SessionUpdate) error {
	set := make([]string, 0, 4)
	args := make([]any, 0, 5)
	if upd.EndedAt != nil {
		set = append(set, "ended_at = ?")
		args = append(args, upd.EndedAt.UTC().Format(timeLayout))
	}
	if upd.DurationSeconds != nil {
		set = append(set, "duration_seconds = ?")
		args = append(args, *upd.DurationSeconds)
	}
	if upd.Recording != nil {
		set = append(set, "recording = ?")
		args = append(args, boolToInt(*upd.Recording))
	}
	if upd.BatteryLevel != nil {
		set = append(set, "battery_level = ?")
		args = append(args, *upd.BatteryLevel)
	}
	if len(set) == 0 {
		return nil
	}
	args = append(args, id)
	query := "UPDATE sessions SET " + strings.Join(set, ", ") + " WHERE id = ?"
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *SQLite) AppendChunk(ctx context.Context, sessionID string, order int64, payload []byte, receivedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chunks (session_id, seq, payload, received_at) VALUES (?, ?, ?, ?)`,
		sessionID, order, payload, receivedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("append chunk: %w", err)
	}
	return nil
}

func (s *SQLite) ListRecentSessions(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, ended_at, duration_seconds, recording, battery_level
		 FROM sessions ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var (
			sess      Session
			startedAt string
			endedAt   sql.NullString
			duration  sql.NullInt64
			recording int
			battery   sql.NullInt64
		)
		if err := rows.Scan(&sess.ID, &startedAt, &endedAt, &duration, &recording, &battery); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if sess.StartedAt, err = time.Parse(timeLayout, startedAt); err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		if endedAt.Valid {
			t, err := time.Parse(timeLayout, endedAt.String)
			if err != nil {
				return nil, fmt.Errorf("parse ended_at: %w", err)
			}
			sess.EndedAt = &t
		}
		if duration.Valid {
			d := int(duration.Int64)
			sess.DurationSeconds = &d
		}
		sess.Recording = recording != 0
		if battery.Valid {
			b := int(battery.Int64)
			sess.BatteryLevel = &b
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *SQLite) Close() error { return s.db.Close() }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
