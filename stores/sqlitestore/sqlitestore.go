// Copyright (c) Microsoft. All rights reserved.

// Package sqlitestore implements [agentframework.ThreadStore] on a single
// SQLite file using the pure-Go modernc.org/sqlite driver.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	af "github.com/jochenvw/agentrun/agentframework"
)

const schema = `
CREATE TABLE IF NOT EXISTS threads (
	id         TEXT PRIMARY KEY,
	closed     INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS thread_messages (
	thread_id TEXT NOT NULL REFERENCES threads(id),
	seq       INTEGER NOT NULL,
	role      TEXT NOT NULL,
	body      TEXT NOT NULL,
	PRIMARY KEY (thread_id, seq)
);
`

// Store is a SQLite-backed thread store.
type Store struct {
	db *sql.DB
}

var _ af.ThreadStore = (*Store)(nil)

// Open opens the database at path, creating the file and schema if
// missing. Use ":memory:" for a private in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// A single connection serializes appends and keeps ":memory:" shared.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %q: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateThread(ctx context.Context) (string, error) {
	id := uuid.NewString()
	if _, err := s.db.ExecContext(ctx, "INSERT INTO threads (id) VALUES (?)", id); err != nil {
		return "", fmt.Errorf("%w: create thread: %v", af.ErrThread, err)
	}
	return id, nil
}

func (s *Store) AppendMessages(ctx context.Context, id string, msgs []af.Message) error {
	if len(msgs) == 0 {
		return s.checkOpen(ctx, s.db, id)
	}
	bodies := make([][]byte, len(msgs))
	for i, m := range msgs {
		b, err := af.MarshalMessageJSON(m)
		if err != nil {
			return fmt.Errorf("%w: %v", af.ErrThread, err)
		}
		bodies[i] = b
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin append: %v", af.ErrThread, err)
	}
	defer tx.Rollback()

	if err := s.checkOpen(ctx, tx, id); err != nil {
		return err
	}
	var next int64
	if err := tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(seq) + 1, 0) FROM thread_messages WHERE thread_id = ?", id,
	).Scan(&next); err != nil {
		return fmt.Errorf("%w: next sequence: %v", af.ErrThread, err)
	}
	stmt, err := tx.PrepareContext(ctx, "INSERT INTO thread_messages (thread_id, seq, role, body) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("%w: prepare append: %v", af.ErrThread, err)
	}
	defer stmt.Close()
	for i, b := range bodies {
		if _, err := stmt.ExecContext(ctx, id, next+int64(i), string(msgs[i].Role), string(b)); err != nil {
			return fmt.Errorf("%w: append message: %v", af.ErrThread, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit append: %v", af.ErrThread, err)
	}
	return nil
}

func (s *Store) ListMessages(ctx context.Context, id string) ([]af.Message, error) {
	if _, err := s.closed(ctx, s.db, id); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, "SELECT body FROM thread_messages WHERE thread_id = ? ORDER BY seq", id)
	if err != nil {
		return nil, fmt.Errorf("%w: list messages: %v", af.ErrThread, err)
	}
	defer rows.Close()

	msgs := []af.Message{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("%w: scan message: %v", af.ErrThread, err)
		}
		m, err := af.UnmarshalMessageJSON([]byte(body))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", af.ErrThread, err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list messages: %v", af.ErrThread, err)
	}
	return msgs, nil
}

func (s *Store) CloseThread(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE threads SET closed = 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("%w: close thread: %v", af.ErrThread, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %q", af.ErrThreadNotFound, id)
	}
	return nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) closed(ctx context.Context, q querier, id string) (bool, error) {
	var closed bool
	err := q.QueryRowContext(ctx, "SELECT closed FROM threads WHERE id = ?", id).Scan(&closed)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, fmt.Errorf("%w: %q", af.ErrThreadNotFound, id)
	case err != nil:
		return false, fmt.Errorf("%w: load thread: %v", af.ErrThread, err)
	}
	return closed, nil
}

func (s *Store) checkOpen(ctx context.Context, q querier, id string) error {
	closed, err := s.closed(ctx, q, id)
	if err != nil {
		return err
	}
	if closed {
		return fmt.Errorf("%w: %q", af.ErrThreadClosed, id)
	}
	return nil
}
