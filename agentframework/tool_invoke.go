// Copyright (c) Microsoft. All rights reserved.

package agentframework

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"golang.org/x/sync/errgroup"
)

// ToolErrorHandler decides what happens when a tool fails validation or
// execution. Returning handled=true sends result back to the model as the
// tool's output and the run continues; otherwise the run fails.
type ToolErrorHandler func(ctx context.Context, call *FunctionCallContent, err error) (result any, handled bool)

// ReportToolErrors returns a [ToolErrorHandler] that reports every tool
// error to the model so it can correct itself. With detailed set the error
// text is sent; otherwise a generic message is.
func ReportToolErrors(detailed bool) ToolErrorHandler {
	return func(_ context.Context, _ *FunctionCallContent, err error) (any, bool) {
		if detailed {
			return "error: " + err.Error(), true
		}
		return "error invoking tool", true
	}
}

// InvocationConfig controls the agent loop.
type InvocationConfig struct {
	// MaxToolRounds bounds the tool-dispatch rounds of one run. A model
	// response requesting tools after that many rounds fails the run with
	// ErrLoopLimitExceeded. It must be positive.
	MaxToolRounds int

	// MaxConsecutiveErrors fails the run once this many rounds in a row had
	// a tool error absorbed by OnToolError. Zero disables the check.
	MaxConsecutiveErrors int

	// OnToolError intercepts tool validation and execution errors. When nil
	// a tool error fails the run.
	OnToolError ToolErrorHandler
}

// DefaultInvocationConfig returns the default configuration.
func DefaultInvocationConfig() InvocationConfig {
	return InvocationConfig{
		MaxToolRounds:        40,
		MaxConsecutiveErrors: 3,
	}
}

func (c InvocationConfig) validate() error {
	if c.MaxToolRounds <= 0 {
		return fmt.Errorf("%w: MaxToolRounds must be positive, got %d", ErrInitialization, c.MaxToolRounds)
	}
	if c.MaxConsecutiveErrors < 0 {
		return fmt.Errorf("%w: MaxConsecutiveErrors must not be negative", ErrInitialization)
	}
	return nil
}

// runLoop is the state machine behind a single [Agent.Run].
//
// Turns produced by the run are buffered in pending and committed to the
// thread at round boundaries: after every completed tool round and on
// finalization. A failed run drops only what is still pending.
type runLoop struct {
	agentID  string
	chat     ChatHandler
	registry *ToolRegistry
	opts     *ChatOptions
	config   InvocationConfig
	fnMws    []FunctionMiddleware
	thread   *Thread
	format   *ResponseFormat

	state        RunState
	rounds       int
	errorRounds  int
	conversation []Message
	pending      []Message
	produced     []Message
	invocations  map[string]int
	usage        UsageDetails
}

func (r *runLoop) roundContext(ctx context.Context) context.Context {
	return withRound(ctx, Round{
		AgentID:  r.agentID,
		ThreadID: r.thread.ID(),
		Index:    r.rounds,
		State:    r.state,
	})
}

func (r *runLoop) setState(ctx context.Context, s RunState) {
	slog.DebugContext(ctx, "run state",
		"agent_id", r.agentID,
		"from", r.state.String(),
		"to", s.String(),
		"rounds", r.rounds,
	)
	r.state = s
}

// run drives the loop from Idle to Done or Failed. conversation is the
// full request context; input is the caller's new turns, already the tail
// of conversation.
func (r *runLoop) run(ctx context.Context, conversation, input []Message) (*AgentResponse, error) {
	r.conversation = conversation
	r.pending = append(r.pending, input...)
	r.invocations = make(map[string]int)
	r.opts.Tools = r.registry.Tools()

	for {
		r.setState(ctx, StateAwaitingModel)
		if err := ctx.Err(); err != nil {
			return nil, r.fail(ctx, ErrCancelled, err)
		}
		resp, err := r.chat(r.roundContext(ctx), r.conversation, r.opts)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, r.fail(ctx, ErrCancelled, errors.Join(ctxErr, err))
			}
			return nil, r.fail(ctx, ErrModelTransport, err)
		}
		if resp == nil {
			return nil, r.fail(ctx, ErrModelTransport, fmt.Errorf("%w: nil response", ErrInvalidResponse))
		}
		r.usage.Add(resp.Usage)

		calls := functionCalls(resp.Messages)
		if len(calls) == 0 {
			return r.finalize(ctx, resp)
		}

		r.setState(ctx, StateDispatchingTool)
		if r.rounds >= r.config.MaxToolRounds {
			return nil, r.fail(ctx, ErrLoopLimitExceeded,
				fmt.Errorf("model requested %d tool call(s) after %d rounds", len(calls), r.rounds))
		}

		tools, err := r.resolve(calls)
		if err != nil {
			return nil, r.fail(ctx, ErrUnresolvedTool, err)
		}
		if stop := r.pauseForCaller(calls, tools, resp); stop != nil {
			// A call turn without its results cannot be replayed to a
			// model, so only the input is committed.
			r.produced = append(r.produced, stop...)
			if err := r.commit(ctx); err != nil {
				return nil, r.fail(ctx, ErrThread, err)
			}
			r.setState(ctx, StateDone)
			return r.response(stop, nil), nil
		}

		results, err := r.dispatch(ctx, calls, tools)
		if err != nil {
			return nil, r.fail(ctx, classifyToolError(ctx, err), err)
		}
		r.rounds++

		turns := append(assistantTurns(resp.Messages), results...)
		r.conversation = append(r.conversation, turns...)
		r.pending = append(r.pending, turns...)
		r.produced = append(r.produced, turns...)
		if err := r.commit(ctx); err != nil {
			return nil, r.fail(ctx, ErrThread, err)
		}
	}
}

// resolve looks up every call before anything is dispatched, so an
// unresolved name fails the round without side effects.
func (r *runLoop) resolve(calls []*FunctionCallContent) ([]Tool, error) {
	tools := make([]Tool, len(calls))
	for i, c := range calls {
		t, err := r.registry.Resolve(c.Name)
		if err != nil {
			return nil, &ToolError{ToolName: c.Name, CallID: c.CallID, Message: "not registered", Err: err}
		}
		tools[i] = t
	}
	return tools, nil
}

// pauseForCaller returns the messages to hand back when a call needs
// approval or belongs to a declaration-only tool. Such calls are never
// invoked by the loop.
func (r *runLoop) pauseForCaller(calls []*FunctionCallContent, tools []Tool, resp *ChatResponse) []Message {
	var approvals Contents
	declared := false
	for i, t := range tools {
		switch {
		case t.Approval() == ApprovalAlways:
			approvals = append(approvals, &ApprovalRequestContent{
				CallID:    calls[i].CallID,
				Name:      calls[i].Name,
				Arguments: calls[i].Arguments,
			})
		case t.DeclarationOnly():
			declared = true
		}
	}
	if len(approvals) > 0 {
		return append(assistantTurns(resp.Messages), Message{Role: RoleAssistant, Contents: approvals})
	}
	if declared {
		return assistantTurns(resp.Messages)
	}
	return nil
}

// dispatch invokes one round of calls. Async tools start first and run in
// parallel; sync tools then run inline in request order. Results are
// returned in request order whatever the completion order.
func (r *runLoop) dispatch(ctx context.Context, calls []*FunctionCallContent, tools []Tool) ([]Message, error) {
	for i, t := range tools {
		r.invocations[t.Name()]++
		if limit := maxInvocations(t); limit > 0 && r.invocations[t.Name()] > limit {
			return nil, &ToolError{
				ToolName: t.Name(),
				CallID:   calls[i].CallID,
				Message:  fmt.Sprintf("invocation limit of %d per run reached", limit),
				Err:      ErrToolExecution,
			}
		}
	}

	dctx, cancel := context.WithCancel(r.roundContext(ctx))
	defer cancel()
	g, gctx := errgroup.WithContext(dctx)

	results := make([]Message, len(calls))
	errs := make([]error, len(calls))
	handled := make([]bool, len(calls))

	for i, t := range tools {
		if t.Concurrency() != ConcurrencyAsync {
			continue
		}
		g.Go(func() error {
			results[i], handled[i], errs[i] = r.execute(gctx, calls[i], t)
			return errs[i]
		})
	}
	for i, t := range tools {
		if t.Concurrency() == ConcurrencyAsync {
			continue
		}
		results[i], handled[i], errs[i] = r.execute(gctx, calls[i], t)
		if errs[i] != nil {
			cancel()
			break
		}
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, err := range errs {
		if err != nil && !isContextError(err) {
			return nil, err
		}
	}
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	if !slices.Contains(handled, true) {
		r.errorRounds = 0
		return results, nil
	}
	r.errorRounds++
	if r.config.MaxConsecutiveErrors > 0 && r.errorRounds >= r.config.MaxConsecutiveErrors {
		return nil, fmt.Errorf("%w: %d consecutive rounds with tool errors", ErrToolExecution, r.errorRounds)
	}
	return results, nil
}

// execute validates and invokes one call. A tool error absorbed by
// OnToolError yields a result message with handled set.
func (r *runLoop) execute(ctx context.Context, call *FunctionCallContent, t Tool) (Message, bool, error) {
	args := json.RawMessage(call.Arguments)
	err := ValidateToolArguments(t, args)
	var result any
	if err == nil {
		result, err = callTool(ctx, t, args, r.fnMws)
	}
	if err == nil {
		return NewToolMessage(call.CallID, result), false, nil
	}
	if isContextError(err) {
		return Message{}, false, err
	}

	var te *ToolError
	if errors.As(err, &te) && te.CallID == "" {
		te.CallID = call.CallID
	}
	slog.WarnContext(ctx, "tool invocation error",
		"tool", call.Name,
		"call_id", call.CallID,
		"error", err,
	)
	if r.config.OnToolError != nil {
		if v, ok := r.config.OnToolError(ctx, call, err); ok {
			return NewToolMessage(call.CallID, v), true, nil
		}
	}
	return Message{}, false, err
}

// finalize coerces the answer, commits the remaining turns and ends the
// run in Done.
func (r *runLoop) finalize(ctx context.Context, resp *ChatResponse) (*AgentResponse, error) {
	r.setState(ctx, StateFinalizing)
	answer := assistantTurns(resp.Messages)

	var value StructuredValue
	if r.format != nil {
		v, err := Coerce(resp.Text(), r.format)
		if err != nil {
			return nil, r.fail(ctx, ErrCoercion, err)
		}
		value = v
	}

	r.pending = append(r.pending, answer...)
	r.produced = append(r.produced, answer...)
	if err := r.commit(ctx); err != nil {
		return nil, r.fail(ctx, ErrThread, err)
	}
	r.setState(ctx, StateDone)

	out := r.response(answer, value)
	out.ResponseID = resp.ResponseID
	out.Raw = resp.Raw
	return out, nil
}

func (r *runLoop) response(messages []Message, value StructuredValue) *AgentResponse {
	return &AgentResponse{
		Messages: messages,
		Turns:    r.produced,
		Value:    value,
		State:    r.state,
		Rounds:   r.rounds,
		AgentID:  r.agentID,
		Usage:    r.usage,
	}
}

// commit appends the pending turns to the thread as one block. It runs
// detached from cancellation: once a round has completed its turns are
// kept.
func (r *runLoop) commit(ctx context.Context) error {
	if len(r.pending) == 0 {
		return nil
	}
	if err := r.thread.Append(context.WithoutCancel(ctx), r.pending...); err != nil {
		return err
	}
	r.pending = nil
	return nil
}

// fail moves the run to Failed and builds the [RunError] carrying the
// committed thread state.
func (r *runLoop) fail(ctx context.Context, kind, err error) error {
	at := r.state
	r.setState(ctx, StateFailed)
	snapshot, snapErr := r.thread.Messages(context.WithoutCancel(ctx))
	if snapErr != nil {
		slog.WarnContext(ctx, "failed to snapshot thread after run failure", "error", snapErr)
	}
	slog.DebugContext(ctx, "run failed",
		"agent_id", r.agentID,
		"state", at.String(),
		"kind", kind,
		"error", err,
	)
	return &RunError{Kind: kind, State: at, Rounds: r.rounds, Thread: snapshot, Err: err}
}

func classifyToolError(ctx context.Context, err error) error {
	switch {
	case ctx.Err() != nil || isContextError(err):
		return ErrCancelled
	case errors.Is(err, ErrToolValidation):
		return ErrToolValidation
	default:
		return ErrToolExecution
	}
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func maxInvocations(t Tool) int {
	if l, ok := t.(interface{ MaxInvocations() int }); ok {
		return l.MaxInvocations()
	}
	return 0
}

// functionCalls collects the tool calls of a response, in order.
func functionCalls(msgs []Message) []*FunctionCallContent {
	var calls []*FunctionCallContent
	for i := range msgs {
		calls = append(calls, msgs[i].FunctionCalls()...)
	}
	return calls
}

// assistantTurns drops system messages and empty messages from a model
// response; those are never stored.
func assistantTurns(msgs []Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == RoleSystem || len(m.Contents) == 0 {
			continue
		}
		if m.Role == "" {
			m.Role = RoleAssistant
		}
		out = append(out, m)
	}
	return out
}
