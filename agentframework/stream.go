// Copyright (c) Microsoft. All rights reserved.

package agentframework

import (
	"context"
	"iter"
	"sync"
)

// ResponseStream is a pull iterator over values produced on a separate
// goroutine. Values are handed over one at a time, so a slow consumer
// slows the producer down.
//
// Close the stream when done with it. Closing early cancels the producer.
type ResponseStream[T any] struct {
	items     chan T
	done      chan struct{}
	err       error
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewResponseStream runs produce on its own goroutine. produce hands each
// value to emit, which blocks until the consumer takes it and fails with
// the context's error once the stream is closed. Whatever produce returns
// becomes the stream's terminal error.
func NewResponseStream[T any](ctx context.Context, produce func(ctx context.Context, emit func(T) error) error) *ResponseStream[T] {
	ctx, cancel := context.WithCancel(ctx)
	s := &ResponseStream[T]{
		items:  make(chan T),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	go func() {
		defer close(s.done)
		s.err = produce(ctx, func(v T) error {
			select {
			case s.items <- v:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}()
	return s
}

// Next returns the next value. ok is false once the producer has
// returned; err is then its error, if any.
func (s *ResponseStream[T]) Next(ctx context.Context) (val T, ok bool, err error) {
	select {
	case v := <-s.items:
		return v, true, nil
	case <-s.done:
		return val, false, s.err
	case <-ctx.Done():
		return val, false, ctx.Err()
	}
}

// All ranges over the remaining values. An error ends the sequence as its
// last element.
func (s *ResponseStream[T]) All(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for {
			v, ok, err := s.Next(ctx)
			if err != nil {
				yield(v, err)
				return
			}
			if !ok || !yield(v, nil) {
				return
			}
		}
	}
}

// Collect drains the stream.
func (s *ResponseStream[T]) Collect(ctx context.Context) ([]T, error) {
	var items []T
	for v, err := range s.All(ctx) {
		if err != nil {
			return items, err
		}
		items = append(items, v)
	}
	return items, nil
}

// Close cancels the producer and waits for it to return. It is safe to
// call more than once.
func (s *ResponseStream[T]) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
	})
	return nil
}

// AgentResponseStream is the stream returned by [Agent.RunStream]. It
// remembers what it has handed out so [AgentResponseStream.FinalResponse]
// can assemble the answer.
type AgentResponseStream struct {
	*ResponseStream[AgentResponseUpdate]
	seen []AgentResponseUpdate
}

// Next returns the next update.
func (s *AgentResponseStream) Next(ctx context.Context) (AgentResponseUpdate, bool, error) {
	u, ok, err := s.ResponseStream.Next(ctx)
	if ok {
		s.seen = append(s.seen, u)
	}
	return u, ok, err
}

// All ranges over the remaining updates.
func (s *AgentResponseStream) All(ctx context.Context) iter.Seq2[AgentResponseUpdate, error] {
	return func(yield func(AgentResponseUpdate, error) bool) {
		for {
			u, ok, err := s.Next(ctx)
			if err != nil {
				yield(u, err)
				return
			}
			if !ok || !yield(u, nil) {
				return
			}
		}
	}
}

// FinalResponse drains the stream and returns the assembled answer. An
// error means the stream failed, or the answer could not be appended to
// the run's thread.
func (s *AgentResponseStream) FinalResponse(ctx context.Context) (*AgentResponse, error) {
	for {
		_, ok, err := s.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return agentResponseFromUpdates(s.seen), nil
		}
	}
}
