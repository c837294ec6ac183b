// Copyright (c) Microsoft. All rights reserved.

package agentframework

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ToolRegistry is a name-keyed table of tools. Names are unique; tools are
// kept in registration order, which is the order they are offered to the
// model.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools []Tool
	index map[string]int
}

// NewToolRegistry creates a registry holding tools.
func NewToolRegistry(tools ...Tool) (*ToolRegistry, error) {
	r := &ToolRegistry{index: make(map[string]int, len(tools))}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds t. It fails with ErrDuplicateTool if the name is taken.
func (r *ToolRegistry) Register(t Tool) error {
	if t == nil || t.Name() == "" {
		return fmt.Errorf("%w: tool must have a name", ErrInvalidTool)
	}
	if p := t.Parameters(); len(p) > 0 && !json.Valid(p) {
		return fmt.Errorf("%w: %q parameter schema is not valid JSON", ErrInvalidTool, t.Name())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.index == nil {
		r.index = make(map[string]int)
	}
	if _, ok := r.index[t.Name()]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateTool, t.Name())
	}
	r.index[t.Name()] = len(r.tools)
	r.tools = append(r.tools, t)
	return nil
}

// set registers t, replacing a same-named tool in place.
func (r *ToolRegistry) set(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i, ok := r.index[t.Name()]; ok {
		r.tools[i] = t
		return
	}
	r.index[t.Name()] = len(r.tools)
	r.tools = append(r.tools, t)
}

// Resolve returns the tool registered under name, or ErrToolNotFound.
func (r *ToolRegistry) Resolve(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.index[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrToolNotFound, name)
	}
	return r.tools[i], nil
}

// Tools returns the registered tools in registration order.
func (r *ToolRegistry) Tools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, len(r.tools))
	copy(out, r.tools)
	return out
}

// Len returns the number of registered tools.
func (r *ToolRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Clone returns an independent copy. A run dispatches against a clone, so
// registrations made while it is running do not affect it.
func (r *ToolRegistry) Clone() *ToolRegistry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c := &ToolRegistry{
		tools: make([]Tool, len(r.tools)),
		index: make(map[string]int, len(r.index)),
	}
	copy(c.tools, r.tools)
	for k, v := range r.index {
		c.index[k] = v
	}
	return c
}

// Invoke resolves name, validates args against the tool's parameter schema
// and calls it according to its [Concurrency]. Validation failures wrap
// ErrToolValidation; failures of the tool itself are returned as a
// *ToolError wrapping ErrToolExecution. Cancellation while waiting on an
// async tool returns the context error.
func (r *ToolRegistry) Invoke(ctx context.Context, name string, args json.RawMessage) (any, error) {
	t, err := r.Resolve(name)
	if err != nil {
		return nil, err
	}
	if err := ValidateToolArguments(t, args); err != nil {
		return nil, err
	}
	return callTool(ctx, t, args, nil)
}

// ValidateToolArguments checks args against t's parameter schema.
func ValidateToolArguments(t Tool, args json.RawMessage) error {
	problems := validateArguments(t.Parameters(), args)
	if len(problems) == 0 {
		return nil
	}
	return &ToolError{
		ToolName: t.Name(),
		Message:  "invalid arguments: " + strings.Join(problems, "; "),
		Err:      ErrToolValidation,
	}
}

// callTool runs t through the function middleware chain, inline or on a
// separate goroutine depending on its concurrency mode.
func callTool(ctx context.Context, t Tool, args json.RawMessage, mws []FunctionMiddleware) (any, error) {
	handler := chain(FunctionHandler(func(ctx context.Context, t Tool, a json.RawMessage) (any, error) {
		return t.Invoke(ctx, a)
	}), mws)

	if t.Concurrency() != ConcurrencyAsync {
		v, err := handler(ctx, t, args)
		return wrapToolFailure(t.Name(), v, err)
	}

	type outcome struct {
		v   any
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := handler(ctx, t, args)
		done <- outcome{v, err}
	}()
	select {
	case o := <-done:
		return wrapToolFailure(t.Name(), o.v, o.err)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func wrapToolFailure(name string, v any, err error) (any, error) {
	if err == nil {
		return v, nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}
	var te *ToolError
	if errors.As(err, &te) && errors.Is(err, ErrTool) {
		return nil, err
	}
	return nil, &ToolError{ToolName: name, Message: err.Error(), Err: errors.Join(ErrToolExecution, err)}
}
