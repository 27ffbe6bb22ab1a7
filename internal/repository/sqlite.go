// Package repository persists a write-behind trace of sessions,
// conversation turns and pipeline events to SQLite. Serving paths read
// from memory; the trace exists for inspection and post-mortems, so
// writes are best effort and never block the pipeline.
package repository

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/Frank-Unlimited/Senior3-Tutorial-Backen/internal/domain"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// SQLiteStore is the SQLite-backed trace store.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (or creates) the database at dsn and applies pending
// migrations.
func Open(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate
	// databases. Keep a single connection so goroutines share one
	// schema.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

// CreateSession records a new session row.
func (s *SQLiteStore) CreateSession(ctx context.Context, id string, createdAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, created_at) VALUES (?, ?)`, id, createdAt)
	return err
}

// AppendTurn records one conversation turn. Best effort, like
// AppendEvents.
func (s *SQLiteStore) AppendTurn(sessionID string, t domain.Turn) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (session_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, t.Role, t.Content, t.CreatedAt); err != nil {
		log.Printf("WARN: turn trace write failed: %v", err)
	}
}

// Turns returns a session's recorded conversation, oldest first.
func (s *SQLiteStore) Turns(ctx context.Context, sessionID string) ([]domain.Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, created_at FROM messages WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []domain.Turn
	for rows.Next() {
		var t domain.Turn
		if err := rows.Scan(&t.Role, &t.Content, &t.CreatedAt); err != nil {
			return nil, err
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// AppendEvents writes a batch of events. It satisfies the
// orchestrator's trace sink; failures are logged, not surfaced.
func (s *SQLiteStore) AppendEvents(sessionID string, events []domain.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		log.Printf("WARN: event trace write failed: %v", err)
		return
	}
	for _, ev := range events {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO events (session_id, seq, stage, kind, ts, payload) VALUES (?, ?, ?, ?, ?, ?)`,
			sessionID, ev.Sequence, ev.Stage, string(ev.Kind), ev.Ts, string(ev.Payload)); err != nil {
			tx.Rollback()
			log.Printf("WARN: event trace write failed: %v", err)
			return
		}
	}
	if err := tx.Commit(); err != nil {
		log.Printf("WARN: event trace write failed: %v", err)
	}
}

// Events returns a session's trace, in sequence order. Used for
// inspection and tests.
func (s *SQLiteStore) Events(ctx context.Context, sessionID string) ([]domain.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, stage, kind, ts, payload FROM events WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var ev domain.Event
		var kind, payload string
		if err := rows.Scan(&ev.Sequence, &ev.Stage, &kind, &ev.Ts, &payload); err != nil {
			return nil, err
		}
		ev.SessionID = sessionID
		ev.Kind = domain.EventKind(kind)
		ev.Payload = []byte(payload)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// DeleteSession removes a session and its trace.
func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, q := range []string{
		`DELETE FROM events WHERE session_id = ?`,
		`DELETE FROM messages WHERE session_id = ?`,
		`DELETE FROM sessions WHERE session_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, sessionID); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
