// Copyright (c) Microsoft. All rights reserved.

package agentframework

import (
	"context"
	"fmt"
)

// Thread is a handle onto one conversation log in a [ThreadStore]. Every
// caller holding the handle shares the same log; runs against it append
// their turns and read the whole history back on the next run.
//
// A Thread is safe for concurrent use. Appends from parallel runs are
// serialized by the store, so each run's turns land as one contiguous
// block, but which run lands first is up to the callers.
type Thread struct {
	id              string
	store           ThreadStore
	contextProvider ContextProvider
}

// ThreadOption configures a [Thread].
type ThreadOption func(*Thread)

// WithThreadContextProvider attaches a context provider to the thread. It
// takes precedence over the agent's provider.
func WithThreadContextProvider(cp ContextProvider) ThreadOption {
	return func(t *Thread) {
		t.contextProvider = cp
	}
}

// NewThread allocates a new empty thread in store.
func NewThread(ctx context.Context, store ThreadStore, opts ...ThreadOption) (*Thread, error) {
	if store == nil {
		store = NewInMemoryStore()
	}
	id, err := store.CreateThread(ctx)
	if err != nil {
		return nil, fmt.Errorf("create thread: %w", err)
	}
	t := OpenThread(store, id, opts...)
	if t.contextProvider != nil {
		if err := t.contextProvider.ThreadCreated(ctx, id); err != nil {
			return nil, fmt.Errorf("context provider: %w", err)
		}
	}
	return t, nil
}

// OpenThread returns a handle onto an existing thread id. The id is not
// checked until the first read or append.
func OpenThread(store ThreadStore, id string, opts ...ThreadOption) *Thread {
	t := &Thread{id: id, store: store}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ID returns the thread's identifier in its store.
func (t *Thread) ID() string { return t.id }

// Store returns the backing store.
func (t *Thread) Store() ThreadStore { return t.store }

// ContextProvider returns the thread's context provider, if any.
func (t *Thread) ContextProvider() ContextProvider { return t.contextProvider }

// Messages returns a snapshot of the thread's history.
func (t *Thread) Messages(ctx context.Context) ([]Message, error) {
	return t.store.ListMessages(ctx, t.id)
}

// Append adds msgs to the end of the thread as one block.
func (t *Thread) Append(ctx context.Context, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	return t.store.AppendMessages(ctx, t.id, msgs)
}

// Close rejects further appends. History stays readable.
func (t *Thread) Close(ctx context.Context) error {
	return t.store.CloseThread(ctx, t.id)
}

// Serialize returns the thread state as a serializable map.
func (t *Thread) Serialize(ctx context.Context) (map[string]any, error) {
	msgs, err := t.Messages(ctx)
	if err != nil {
		return nil, fmt.Errorf("serialize thread: %w", err)
	}
	return map[string]any{
		"id":       t.id,
		"messages": msgs,
	}, nil
}
