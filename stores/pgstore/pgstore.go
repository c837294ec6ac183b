// Copyright (c) Microsoft. All rights reserved.

// Package pgstore implements [agentframework.ThreadStore] on PostgreSQL
// through a pgx connection pool.
//
// Appends lock the thread row, so concurrent runs on one thread commit
// their turns as contiguous blocks even across processes.
package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	af "github.com/jochenvw/agentrun/agentframework"
)

const schema = `
CREATE TABLE IF NOT EXISTS agent_threads (
	id         TEXT PRIMARY KEY,
	closed     BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS agent_thread_messages (
	thread_id TEXT NOT NULL REFERENCES agent_threads(id),
	seq       BIGINT NOT NULL,
	role      TEXT NOT NULL,
	body      JSONB NOT NULL,
	PRIMARY KEY (thread_id, seq)
);
`

// Store is a PostgreSQL-backed thread store.
type Store struct {
	pool *pgxpool.Pool
}

var _ af.ThreadStore = (*Store)(nil)

// Open connects to connString and applies the schema.
func Open(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := New(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing pool. Call [Store.Migrate] before first use if the
// tables may not exist.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate creates the store's tables if missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close closes the pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) CreateThread(ctx context.Context) (string, error) {
	id := uuid.NewString()
	if _, err := s.pool.Exec(ctx, "INSERT INTO agent_threads (id) VALUES ($1)", id); err != nil {
		return "", fmt.Errorf("%w: create thread: %v", af.ErrThread, err)
	}
	return id, nil
}

func (s *Store) AppendMessages(ctx context.Context, id string, msgs []af.Message) error {
	bodies := make([][]byte, len(msgs))
	for i, m := range msgs {
		b, err := af.MarshalMessageJSON(m)
		if err != nil {
			return fmt.Errorf("%w: %v", af.ErrThread, err)
		}
		bodies[i] = b
	}

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var closed bool
		err := tx.QueryRow(ctx, "SELECT closed FROM agent_threads WHERE id = $1 FOR UPDATE", id).Scan(&closed)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %q", af.ErrThreadNotFound, id)
		}
		if err != nil {
			return err
		}
		if closed {
			return fmt.Errorf("%w: %q", af.ErrThreadClosed, id)
		}
		if len(bodies) == 0 {
			return nil
		}

		var next int64
		if err := tx.QueryRow(ctx,
			"SELECT COALESCE(MAX(seq) + 1, 0) FROM agent_thread_messages WHERE thread_id = $1", id,
		).Scan(&next); err != nil {
			return err
		}
		batch := &pgx.Batch{}
		for i, b := range bodies {
			batch.Queue("INSERT INTO agent_thread_messages (thread_id, seq, role, body) VALUES ($1, $2, $3, $4)",
				id, next+int64(i), string(msgs[i].Role), b)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		if errors.Is(err, af.ErrThread) {
			return err
		}
		return fmt.Errorf("%w: append messages: %v", af.ErrThread, err)
	}
	return nil
}

func (s *Store) ListMessages(ctx context.Context, id string) ([]af.Message, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM agent_threads WHERE id = $1)", id).Scan(&exists); err != nil {
		return nil, fmt.Errorf("%w: load thread: %v", af.ErrThread, err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %q", af.ErrThreadNotFound, id)
	}

	rows, err := s.pool.Query(ctx, "SELECT body FROM agent_thread_messages WHERE thread_id = $1 ORDER BY seq", id)
	if err != nil {
		return nil, fmt.Errorf("%w: list messages: %v", af.ErrThread, err)
	}
	bodies, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, fmt.Errorf("%w: list messages: %v", af.ErrThread, err)
	}

	msgs := make([]af.Message, 0, len(bodies))
	for _, b := range bodies {
		m, err := af.UnmarshalMessageJSON(b)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", af.ErrThread, err)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

func (s *Store) CloseThread(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, "UPDATE agent_threads SET closed = TRUE WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("%w: close thread: %v", af.ErrThread, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %q", af.ErrThreadNotFound, id)
	}
	return nil
}
