package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loykin/fetchd/internal/history"
)

// DB implements history.Sink on SQLite (modernc.org/sqlite driver, CGO-free).
// Path is a filesystem location for the database file; ":memory:" works for
// tests.

type DB struct {
	db *sql.DB
}

// New opens the database and ensures the schema exists.
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	s := &DB{db: d}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = d.Close()
		return nil, err
	}
	return s, nil
}

func (s *DB) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS restart_history(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			decision TEXT NOT NULL,
			reason TEXT NOT NULL,
			restart_count INTEGER NOT NULL,
			pid INTEGER NOT NULL,
			occurred_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_restart_history_occurred ON restart_history(occurred_at);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *DB) Close() error { return s.db.Close() }

func (s *DB) Record(ctx context.Context, e history.Event) error {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO restart_history(decision, reason, restart_count, pid, occurred_at)
		VALUES(?, ?, ?, ?, ?);`,
		string(e.Decision), e.Reason, e.RestartCount, e.PID, e.OccurredAt.UTC())
	return err
}

func (s *DB) Recent(ctx context.Context, limit int) ([]history.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, decision, reason, restart_count, pid, occurred_at
		FROM restart_history
		ORDER BY id DESC
		LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make([]history.Event, 0, limit)
	for rows.Next() {
		var e history.Event
		var dec string
		if err := rows.Scan(&e.ID, &dec, &e.Reason, &e.RestartCount, &e.PID, &e.OccurredAt); err != nil {
			return nil, err
		}
		e.Decision = history.Decision(dec)
		out = append(out, e)
	}
	return out, rows.Err()
}
