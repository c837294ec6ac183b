// Copyright (c) Microsoft. All rights reserved.

package agentframework

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// ThreadStore holds ordered, append-only conversation logs keyed by thread id.
//
// Implementations must serialize appends per thread id and return
// point-in-time copies from ListMessages that share nothing with the stored
// messages or with the slices passed to AppendMessages. Stored messages are
// never edited or removed.
type ThreadStore interface {
	// CreateThread allocates an empty thread and returns its id.
	CreateThread(ctx context.Context) (string, error)

	// AppendMessages appends msgs, in order, after every message already
	// stored for id. It fails with ErrThreadNotFound or ErrThreadClosed.
	AppendMessages(ctx context.Context, id string, msgs []Message) error

	// ListMessages returns a snapshot of all messages stored for id.
	ListMessages(ctx context.Context, id string) ([]Message, error)

	// CloseThread rejects further appends to id. Stored messages stay
	// readable.
	CloseThread(ctx context.Context, id string) error
}

// InMemoryStore is the default [ThreadStore]. Its contents live as long as
// the process.
type InMemoryStore struct {
	mu      sync.RWMutex
	threads map[string]*memoryLog
}

type memoryLog struct {
	mu       sync.Mutex
	messages []Message
	closed   bool
}

// NewInMemoryStore creates an empty [InMemoryStore].
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{threads: make(map[string]*memoryLog)}
}

func (s *InMemoryStore) CreateThread(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := uuid.NewString()
	s.mu.Lock()
	s.threads[id] = &memoryLog{}
	s.mu.Unlock()
	return id, nil
}

func (s *InMemoryStore) lookup(id string) (*memoryLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.threads[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrThreadNotFound, id)
	}
	return l, nil
}

func (s *InMemoryStore) AppendMessages(_ context.Context, id string, msgs []Message) error {
	l, err := s.lookup(id)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return fmt.Errorf("%w: %q", ErrThreadClosed, id)
	}
	l.messages = append(l.messages, cloneMessages(msgs)...)
	return nil
}

func (s *InMemoryStore) ListMessages(_ context.Context, id string) ([]Message, error) {
	l, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.messages == nil {
		return []Message{}, nil
	}
	return cloneMessages(l.messages), nil
}

func (s *InMemoryStore) CloseThread(_ context.Context, id string) error {
	l, err := s.lookup(id)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return nil
}
