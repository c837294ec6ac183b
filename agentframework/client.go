// Copyright (c) Microsoft. All rights reserved.

package agentframework

import (
	"cmp"
	"context"
	"strings"
)

// ChatClient is the model backend the agent loop drives. Provider packages
// (openai, anthropic) implement it; tests use hand-written fakes.
//
// A ChatClient answers one request at a time and never invokes tools
// itself: a response either carries the final answer or the
// [FunctionCallContent] items the loop must dispatch.
type ChatClient interface {
	// Response sends messages and returns the complete reply.
	Response(ctx context.Context, messages []Message, opts *ChatOptions) (*ChatResponse, error)

	// StreamResponse sends messages and returns the reply as it is generated.
	StreamResponse(ctx context.Context, messages []Message, opts *ChatOptions) (*ResponseStream[ChatResponseUpdate], error)
}

// ToolChoice controls how the model picks among the offered tools.
type ToolChoice string

const (
	ToolChoiceAuto     ToolChoice = "auto"
	ToolChoiceRequired ToolChoice = "required"
	ToolChoiceNone     ToolChoice = "none"
)

// ToolChoiceFunction forces a call to the named tool.
func ToolChoiceFunction(name string) ToolChoice {
	return ToolChoice("function:" + name)
}

// ChatOptions configures one model request. Nil pointers and empty values
// leave the provider default in place.
//
// Tools and ResponseFormat are filled in by the loop from the run's
// registry and [WithResponseFormat]; callers set the rest through
// [WithDefaultOptions] and [WithRunOptions].
type ChatOptions struct {
	ModelID      string
	Instructions string
	Temperature  *float64
	TopP         *float64
	MaxTokens    *int
	Stop         []string
	User         string
	ToolChoice   ToolChoice

	Tools          []Tool
	ResponseFormat *ResponseFormat
}

// overlay returns a copy of o with every field set in run taking
// precedence. Instructions accumulate, agent defaults first. Tools are
// never carried over; the run's registry decides them.
func (o *ChatOptions) overlay(run *ChatOptions) *ChatOptions {
	var out ChatOptions
	if o != nil {
		out = *o
	}
	out.Tools = nil
	if run == nil {
		return &out
	}

	out.ModelID = cmp.Or(run.ModelID, out.ModelID)
	out.User = cmp.Or(run.User, out.User)
	out.ToolChoice = cmp.Or(run.ToolChoice, out.ToolChoice)
	out.Temperature = firstSet(run.Temperature, out.Temperature)
	out.TopP = firstSet(run.TopP, out.TopP)
	out.MaxTokens = firstSet(run.MaxTokens, out.MaxTokens)
	out.ResponseFormat = firstSet(run.ResponseFormat, out.ResponseFormat)
	if len(run.Stop) > 0 {
		out.Stop = run.Stop
	}
	out.Instructions = joinInstructions(out.Instructions, run.Instructions)
	return &out
}

func firstSet[T any](ps ...*T) *T {
	for _, p := range ps {
		if p != nil {
			return p
		}
	}
	return nil
}

func joinInstructions(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n")
}
