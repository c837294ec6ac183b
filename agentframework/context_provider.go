// Copyright (c) Microsoft. All rights reserved.

package agentframework

import (
	"context"
	"slices"
)

// ContextProvider adds per-run context, such as retrieved documents or
// remembered facts, to what the model sees. A provider attached to a
// thread takes precedence over the agent's.
type ContextProvider interface {
	// Invoking runs before the first round trip with the conversation the
	// model is about to see: thread history, then the new input.
	Invoking(ctx context.Context, messages []Message) (*InvocationContext, error)

	// Invoked runs once a run reaches Done, with the run's input and the
	// turns it produced. A failure is logged and does not fail the run.
	Invoked(ctx context.Context, request, response []Message) error

	// ThreadCreated runs when a thread carrying the provider is created.
	ThreadCreated(ctx context.Context, threadID string) error
}

// InvocationContext is what a [ContextProvider] contributes to one run.
type InvocationContext struct {
	// Instructions are appended after the agent's and the run's.
	Instructions string

	// Messages go before the conversation. They are sent to the model
	// but never stored in the thread.
	Messages []Message

	// Tools join the run's registry, replacing tools of the same name.
	Tools []Tool
}

// apply merges ic into a run's request and returns the conversation to
// send. A nil ic changes nothing.
func (ic *InvocationContext) apply(conversation []Message, opts *ChatOptions, reg *ToolRegistry) []Message {
	if ic == nil {
		return conversation
	}
	opts.Instructions = joinInstructions(opts.Instructions, ic.Instructions)
	for _, t := range ic.Tools {
		if t != nil && t.Name() != "" {
			reg.set(t)
		}
	}
	if len(ic.Messages) == 0 {
		return conversation
	}
	return append(cloneMessages(ic.Messages), conversation...)
}

// NoOpContextProvider implements every hook as a no-op. Embed it and
// override the hooks you need.
type NoOpContextProvider struct{}

func (NoOpContextProvider) Invoking(context.Context, []Message) (*InvocationContext, error) {
	return nil, nil
}

func (NoOpContextProvider) Invoked(context.Context, []Message, []Message) error { return nil }

func (NoOpContextProvider) ThreadCreated(context.Context, string) error { return nil }

// InstructionsFunc is a [ContextProvider] that only adds instructions,
// computed per run from the conversation.
type InstructionsFunc func(ctx context.Context, messages []Message) (string, error)

func (f InstructionsFunc) Invoking(ctx context.Context, messages []Message) (*InvocationContext, error) {
	s, err := f(ctx, slices.Clip(messages))
	if err != nil {
		return nil, err
	}
	return &InvocationContext{Instructions: s}, nil
}

func (InstructionsFunc) Invoked(context.Context, []Message, []Message) error { return nil }

func (InstructionsFunc) ThreadCreated(context.Context, string) error { return nil }
