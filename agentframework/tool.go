// Copyright (c) Microsoft. All rights reserved.

package agentframework

import (
	"context"
	"encoding/json"
)

// ApprovalMode says whether a call must be approved by the caller before
// the tool runs.
type ApprovalMode string

const (
	ApprovalNever  ApprovalMode = "never"
	ApprovalAlways ApprovalMode = "always"
)

// Concurrency says how the loop runs a tool.
type Concurrency string

const (
	// ConcurrencySync runs the tool inline on the run's goroutine, in
	// request order.
	ConcurrencySync Concurrency = "sync"

	// ConcurrencyAsync runs the tool on its own goroutine. Async calls of
	// one round run in parallel, and the wait for them is abandoned when
	// the run is cancelled.
	ConcurrencyAsync Concurrency = "async"
)

// Tool is a function the model may call.
type Tool interface {
	// Name is unique within a registry and is what the model calls.
	Name() string
	Description() string

	// Parameters is the JSON Schema arguments are validated against. Nil
	// accepts anything.
	Parameters() json.RawMessage

	// Invoke runs the tool with already validated arguments.
	Invoke(ctx context.Context, args json.RawMessage) (any, error)

	Concurrency() Concurrency

	// DeclarationOnly tools are offered to the model but never run by the
	// loop; their calls are handed back to the caller.
	DeclarationOnly() bool

	Approval() ApprovalMode
}

// ToolFunc is the body of a [FunctionTool].
type ToolFunc func(ctx context.Context, args json.RawMessage) (any, error)

// FunctionTool is a [Tool] backed by a [ToolFunc].
type FunctionTool struct {
	name            string
	description     string
	parameters      json.RawMessage
	fn              ToolFunc
	concurrency     Concurrency
	approval        ApprovalMode
	declarationOnly bool
	maxInvocations  int
}

// ToolOption configures a [FunctionTool].
type ToolOption func(*FunctionTool)

// WithApprovalRequired makes every call wait for the caller's approval.
// The run ends with the call surfaced as an [ApprovalRequestContent].
func WithApprovalRequired() ToolOption {
	return func(t *FunctionTool) { t.approval = ApprovalAlways }
}

// WithDeclarationOnly offers the tool without running it.
func WithDeclarationOnly() ToolOption {
	return func(t *FunctionTool) { t.declarationOnly = true }
}

// WithMaxInvocations caps how often one run may call the tool. Zero means
// no cap.
func WithMaxInvocations(n int) ToolOption {
	return func(t *FunctionTool) { t.maxInvocations = n }
}

// WithAsync marks the tool [ConcurrencyAsync].
func WithAsync() ToolOption {
	return func(t *FunctionTool) { t.concurrency = ConcurrencyAsync }
}

// NewTool creates a tool taking raw JSON arguments described by
// parameters. fn may be nil for a declaration-only tool.
func NewTool(name, description string, parameters json.RawMessage, fn ToolFunc, opts ...ToolOption) *FunctionTool {
	t := &FunctionTool{
		name:        name,
		description: description,
		parameters:  parameters,
		fn:          fn,
		concurrency: ConcurrencySync,
		approval:    ApprovalNever,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// NewTypedTool creates a tool whose arguments decode into Args. The
// parameter schema is generated from Args, see [GenerateSchema]:
//
//	type WeatherArgs struct {
//	    Location string `json:"location" jsonschema:"description=City name,required"`
//	    Unit     string `json:"unit"     jsonschema:"enum=celsius|fahrenheit"`
//	}
func NewTypedTool[Args any](name, description string, fn func(ctx context.Context, args Args) (any, error), opts ...ToolOption) *FunctionTool {
	decode := func(ctx context.Context, raw json.RawMessage) (any, error) {
		var args Args
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, &ToolError{ToolName: name, Message: "decode arguments: " + err.Error(), Err: ErrToolValidation}
			}
		}
		return fn(ctx, args)
	}
	return NewTool(name, description, GenerateSchema[Args](), decode, opts...)
}

func (t *FunctionTool) Name() string                { return t.name }
func (t *FunctionTool) Description() string         { return t.description }
func (t *FunctionTool) Parameters() json.RawMessage { return t.parameters }
func (t *FunctionTool) Concurrency() Concurrency    { return t.concurrency }
func (t *FunctionTool) DeclarationOnly() bool       { return t.declarationOnly }
func (t *FunctionTool) Approval() ApprovalMode      { return t.approval }

// MaxInvocations returns the per-run cap, or 0.
func (t *FunctionTool) MaxInvocations() int { return t.maxInvocations }

// Invoke runs the tool. A tool without a body fails with ErrToolExecution.
func (t *FunctionTool) Invoke(ctx context.Context, args json.RawMessage) (any, error) {
	if t.fn == nil {
		return nil, &ToolError{ToolName: t.name, Message: "tool has no body to run", Err: ErrToolExecution}
	}
	return t.fn(ctx, args)
}
