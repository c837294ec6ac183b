// Copyright (c) Microsoft. All rights reserved.

package agentframework

import (
	"context"
	"encoding/json"
)

// An agent run passes through three pipelines. Agent middleware wraps the
// whole run, chat middleware wraps every model round trip and function
// middleware wraps every tool invocation. In each pipeline the first
// middleware registered is the outermost.

// AgentRequest is what agent middleware sees of a run before it starts.
type AgentRequest struct {
	Messages []Message
	// Thread is nil for a run on an ephemeral thread.
	Thread         *Thread
	Options        *ChatOptions
	ResponseFormat *ResponseFormat
}

// AgentHandler executes a run.
type AgentHandler func(ctx context.Context, req *AgentRequest) (*AgentResponse, error)

// AgentMiddleware wraps an [AgentHandler]. It may return without calling
// next to short-circuit the run.
type AgentMiddleware func(next AgentHandler) AgentHandler

// ChatHandler performs one model round trip.
type ChatHandler func(ctx context.Context, messages []Message, opts *ChatOptions) (*ChatResponse, error)

// ChatMiddleware wraps a [ChatHandler]. Inside a run, [RoundFromContext]
// tells it which round trip it is wrapping.
type ChatMiddleware func(next ChatHandler) ChatHandler

// FunctionHandler invokes one tool.
type FunctionHandler func(ctx context.Context, tool Tool, args json.RawMessage) (any, error)

// FunctionMiddleware wraps a [FunctionHandler]. Inside a run,
// [RoundFromContext] tells it which dispatch round the call belongs to.
type FunctionMiddleware func(next FunctionHandler) FunctionHandler

// Round identifies where in a run a chat or function middleware call
// happens.
type Round struct {
	AgentID  string
	ThreadID string
	// Index counts completed tool rounds before this call; the first model
	// round trip of a run has Index 0.
	Index int
	State RunState
}

type roundKey struct{}

// RoundFromContext returns the round ctx was issued for. ok is false
// outside an agent run, e.g. when a ChatClient is called directly.
func RoundFromContext(ctx context.Context) (Round, bool) {
	r, ok := ctx.Value(roundKey{}).(Round)
	return r, ok
}

func withRound(ctx context.Context, r Round) context.Context {
	return context.WithValue(ctx, roundKey{}, r)
}

func chain[H any, M ~func(H) H](h H, mws []M) H {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
