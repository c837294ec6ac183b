// Copyright (c) Microsoft. All rights reserved.

package agentframework

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// Agent is the top-level conversational agent. It composes a [ChatClient] with
// a tool registry, middleware, a thread store, and context providers.
//
// Create one with [NewAgent] and functional options:
//
//	agent := agentframework.NewAgent(client,
//	    agentframework.WithName("assistant"),
//	    agentframework.WithInstructions("You are helpful."),
//	    agentframework.WithTools(weatherTool),
//	)
//
// An Agent is safe for concurrent use. Each run dispatches against a
// snapshot of the registry taken when the run starts.
type Agent struct {
	id                 string
	name               string
	description        string
	client             ChatClient
	instructions       string
	registry           *ToolRegistry
	defaultOptions     *ChatOptions
	store              ThreadStore
	contextProvider    ContextProvider
	agentMiddleware    []AgentMiddleware
	chatMiddleware     []ChatMiddleware
	functionMiddleware []FunctionMiddleware
	invocationConfig   InvocationConfig
	initErr            error
}

// AgentOption configures an [Agent] via [NewAgent].
type AgentOption func(*Agent)

// WithName sets the agent's display name.
func WithName(name string) AgentOption {
	return func(a *Agent) { a.name = name }
}

// WithDescription sets the agent's description.
func WithDescription(desc string) AgentOption {
	return func(a *Agent) { a.description = desc }
}

// WithInstructions sets the system instructions for the agent.
func WithInstructions(instructions string) AgentOption {
	return func(a *Agent) { a.instructions = instructions }
}

// WithTools registers tools with the agent. A duplicate name makes every
// run fail with ErrInitialization.
func WithTools(tools ...Tool) AgentOption {
	return func(a *Agent) {
		for _, t := range tools {
			if err := a.registry.Register(t); err != nil {
				a.initErr = errors.Join(a.initErr, err)
			}
		}
	}
}

// WithDefaultOptions sets default [ChatOptions] for all requests.
func WithDefaultOptions(opts *ChatOptions) AgentOption {
	return func(a *Agent) { a.defaultOptions = opts }
}

// WithThreadStore sets the store new threads are allocated in. The default
// is an [InMemoryStore].
func WithThreadStore(s ThreadStore) AgentOption {
	return func(a *Agent) { a.store = s }
}

// WithContextProvider attaches a [ContextProvider] for dynamic context injection.
func WithContextProvider(cp ContextProvider) AgentOption {
	return func(a *Agent) { a.contextProvider = cp }
}

// WithAgentMiddleware adds [AgentMiddleware] to the agent pipeline.
func WithAgentMiddleware(mws ...AgentMiddleware) AgentOption {
	return func(a *Agent) { a.agentMiddleware = append(a.agentMiddleware, mws...) }
}

// WithChatMiddleware adds [ChatMiddleware] around every model round trip.
func WithChatMiddleware(mws ...ChatMiddleware) AgentOption {
	return func(a *Agent) { a.chatMiddleware = append(a.chatMiddleware, mws...) }
}

// WithFunctionMiddleware adds [FunctionMiddleware] to the tool invocation pipeline.
func WithFunctionMiddleware(mws ...FunctionMiddleware) AgentOption {
	return func(a *Agent) { a.functionMiddleware = append(a.functionMiddleware, mws...) }
}

// WithInvocationConfig overrides the default [InvocationConfig] for the
// agent loop.
func WithInvocationConfig(cfg InvocationConfig) AgentOption {
	return func(a *Agent) { a.invocationConfig = cfg }
}

// NewAgent creates an Agent with the given [ChatClient] and options.
func NewAgent(client ChatClient, opts ...AgentOption) *Agent {
	a := &Agent{
		id:               uuid.NewString(),
		client:           client,
		registry:         &ToolRegistry{index: map[string]int{}},
		invocationConfig: DefaultInvocationConfig(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.store == nil {
		a.store = NewInMemoryStore()
	}
	return a
}

// ID returns the agent's unique identifier.
func (a *Agent) ID() string { return a.id }

// Name returns the agent's display name.
func (a *Agent) Name() string { return a.name }

// Description returns the agent's description.
func (a *Agent) Description() string { return a.description }

// Tools returns the agent's registered tools.
func (a *Agent) Tools() []Tool { return a.registry.Tools() }

// RegisterTool adds a tool backed by fn. parameters is the JSON Schema of
// the arguments; nil accepts any object.
func (a *Agent) RegisterTool(name, description string, parameters json.RawMessage, fn func(ctx context.Context, args json.RawMessage) (any, error), opts ...ToolOption) error {
	if fn == nil {
		return fmt.Errorf("%w: %q has no function", ErrInvalidTool, name)
	}
	if parameters == nil {
		parameters = json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return a.registry.Register(NewTool(name, description, parameters, fn, opts...))
}

// NewThread allocates a thread in the agent's store.
func (a *Agent) NewThread(ctx context.Context) (*Thread, error) {
	var opts []ThreadOption
	if a.contextProvider != nil {
		opts = append(opts, WithThreadContextProvider(a.contextProvider))
	}
	return NewThread(ctx, a.store, opts...)
}

// ResumeThread returns a handle onto an existing thread id in the agent's
// store.
func (a *Agent) ResumeThread(id string) *Thread {
	return OpenThread(a.store, id)
}

// RunOption configures a single [Agent.Run] or [Agent.RunStream] call.
type RunOption func(*runConfig)

type runConfig struct {
	thread  *Thread
	tools   []Tool
	options *ChatOptions
	format  *ResponseFormat
}

// WithThread runs against t: its history is sent to the model and the run's
// turns are appended to it. Without a thread the run uses a fresh
// ephemeral one.
func WithThread(t *Thread) RunOption {
	return func(c *runConfig) { c.thread = t }
}

// WithRunTools adds tools for this run only. They replace agent tools of
// the same name.
func WithRunTools(tools ...Tool) RunOption {
	return func(c *runConfig) { c.tools = append(c.tools, tools...) }
}

// WithRunOptions provides per-call [ChatOptions] overrides.
func WithRunOptions(opts *ChatOptions) RunOption {
	return func(c *runConfig) { c.options = opts }
}

// WithResponseFormat requests a structured answer. The final text is
// coerced into rf and returned in [AgentResponse.Value].
func WithResponseFormat(rf *ResponseFormat) RunOption {
	return func(c *runConfig) { c.format = rf }
}

// RunText runs a single user prompt.
func (a *Agent) RunText(ctx context.Context, prompt string, opts ...RunOption) (*AgentResponse, error) {
	return a.Run(ctx, []Message{NewUserMessage(prompt)}, opts...)
}

// Run sends messages to the agent and drives the loop until the model gives
// a final answer. A failed run returns a *[RunError].
func (a *Agent) Run(ctx context.Context, messages []Message, opts ...RunOption) (*AgentResponse, error) {
	cfg := a.buildRunConfig(opts)
	if a.initErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrInitialization, a.initErr)
	}
	if err := a.invocationConfig.validate(); err != nil {
		return nil, err
	}

	handler := chain(a.buildHandler(cfg), a.agentMiddleware)
	return handler(ctx, &AgentRequest{
		Messages:       messages,
		Thread:         cfg.thread,
		Options:        cfg.options,
		ResponseFormat: cfg.format,
	})
}

// RunStream streams a single model round trip. Tools are offered to the
// model but not invoked. When a thread is attached, the input and the
// streamed answer are appended to it once the stream has been drained; a
// stream closed early commits nothing.
func (a *Agent) RunStream(ctx context.Context, messages []Message, opts ...RunOption) (*AgentResponseStream, error) {
	cfg := a.buildRunConfig(opts)
	if a.initErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrInitialization, a.initErr)
	}

	registry, err := a.runRegistry(cfg)
	if err != nil {
		return nil, err
	}
	chatOpts := a.prepareChatOptions(cfg)
	request, err := a.prepareMessages(ctx, messages, cfg, chatOpts, registry)
	if err != nil {
		return nil, err
	}
	chatOpts.Tools = registry.Tools()

	chatStream, err := a.client.StreamResponse(ctx, request, chatOpts)
	if err != nil {
		return nil, &RunError{Kind: ErrModelTransport, State: StateAwaitingModel, Err: err}
	}

	stream := NewResponseStream(ctx, func(ctx context.Context, emit func(AgentResponseUpdate) error) error {
		defer chatStream.Close()
		var updates []ChatResponseUpdate
		for u, err := range chatStream.All(ctx) {
			if err != nil {
				return err
			}
			updates = append(updates, u)
			if err := emit(AgentResponseUpdate{
				Contents:   u.Contents,
				Role:       u.Role,
				AgentID:    a.id,
				ResponseID: u.ResponseID,
				Usage:      u.Usage,
				Raw:        u.Raw,
			}); err != nil {
				return err
			}
		}
		if cfg.thread == nil {
			return nil
		}
		turns := cloneMessages(messages)
		for _, m := range assistantTurns(ChatResponseFromUpdates(updates).Messages) {
			m.Contents = withoutFunctionCalls(m.Contents)
			if len(m.Contents) > 0 {
				turns = append(turns, m)
			}
		}
		return cfg.thread.Append(ctx, turns...)
	})
	return &AgentResponseStream{ResponseStream: stream}, nil
}

func (a *Agent) buildRunConfig(opts []RunOption) *runConfig {
	cfg := &runConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// runRegistry snapshots the agent's tools and overlays the run's tools.
func (a *Agent) runRegistry(cfg *runConfig) (*ToolRegistry, error) {
	reg := a.registry.Clone()
	for _, t := range cfg.tools {
		if t == nil || t.Name() == "" {
			return nil, fmt.Errorf("%w: %w: run tool must have a name", ErrInitialization, ErrInvalidTool)
		}
		reg.set(t)
	}
	return reg, nil
}

// prepareChatOptions layers the run's options over the agent defaults.
// Agent instructions come first.
func (a *Agent) prepareChatOptions(cfg *runConfig) *ChatOptions {
	opts := a.defaultOptions.overlay(cfg.options)
	opts.Instructions = joinInstructions(a.instructions, opts.Instructions)
	if cfg.format != nil {
		opts.ResponseFormat = cfg.format
	}
	return opts
}

// prepareMessages builds the request context: instructions, context
// provider messages, thread history and the new input, in that order.
func (a *Agent) prepareMessages(ctx context.Context, messages []Message, cfg *runConfig, opts *ChatOptions, registry *ToolRegistry) ([]Message, error) {
	var history []Message
	if cfg.thread != nil {
		h, err := cfg.thread.Messages(ctx)
		if err != nil {
			return nil, fmt.Errorf("load thread history: %w", err)
		}
		history = h
	}
	conversation := append(history, messages...)

	if cp := a.providerFor(cfg); cp != nil {
		invCtx, err := cp.Invoking(ctx, conversation)
		if err != nil {
			return nil, fmt.Errorf("context provider: %w", err)
		}
		conversation = invCtx.apply(conversation, opts, registry)
	}

	return withInstructions(conversation, opts.Instructions), nil
}

func (a *Agent) providerFor(cfg *runConfig) ContextProvider {
	if cfg.thread != nil && cfg.thread.ContextProvider() != nil {
		return cfg.thread.ContextProvider()
	}
	return a.contextProvider
}

func (a *Agent) buildHandler(cfg *runConfig) AgentHandler {
	return func(ctx context.Context, req *AgentRequest) (*AgentResponse, error) {
		if req.Thread != nil {
			cfg.thread = req.Thread
		}
		cfg.options = req.Options
		cfg.format = req.ResponseFormat

		registry, err := a.runRegistry(cfg)
		if err != nil {
			return nil, err
		}
		chatOpts := a.prepareChatOptions(cfg)
		if err := chatOpts.ResponseFormat.Validate(); err != nil {
			return nil, err
		}
		request, err := a.prepareMessages(ctx, req.Messages, cfg, chatOpts, registry)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrExecution, err)
		}

		thread := cfg.thread
		if thread == nil {
			thread, err = NewThread(ctx, NewInMemoryStore())
			if err != nil {
				return nil, fmt.Errorf("%w: ephemeral thread: %w", ErrExecution, err)
			}
		}

		slog.DebugContext(ctx, "agent run",
			"agent_id", a.id,
			"agent_name", a.name,
			"thread_id", thread.ID(),
			"message_count", len(request),
			"tool_count", registry.Len(),
		)

		loop := &runLoop{
			agentID:  a.id,
			chat:     chain(ChatHandler(a.client.Response), a.chatMiddleware),
			registry: registry,
			opts:     chatOpts,
			config:   a.invocationConfig,
			fnMws:    a.functionMiddleware,
			thread:   thread,
			format:   chatOpts.ResponseFormat,
		}
		resp, err := loop.run(ctx, request, req.Messages)
		if err != nil {
			return nil, err
		}

		if cp := a.providerFor(cfg); cp != nil {
			if err := cp.Invoked(ctx, req.Messages, resp.Turns); err != nil {
				slog.WarnContext(ctx, "context provider invoked hook failed", "error", err)
			}
		}
		return resp, nil
	}
}

func withoutFunctionCalls(cs Contents) Contents {
	out := make(Contents, 0, len(cs))
	for _, c := range cs {
		if c.Type() != ContentTypeFunctionCall {
			out = append(out, c)
		}
	}
	return out
}
