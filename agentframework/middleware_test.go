// Copyright (c) Microsoft. All rights reserved.

package agentframework_test

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"testing"

	af "github.com/jochenvw/agentrun/agentframework"
)

// mockClient is a scripted ChatClient. StreamResponse replays the scripted
// reply as one update per message.
type mockClient struct {
	responseFn func(ctx context.Context, msgs []af.Message, opts *af.ChatOptions) (*af.ChatResponse, error)
}

func (m *mockClient) Response(ctx context.Context, msgs []af.Message, opts *af.ChatOptions) (*af.ChatResponse, error) {
	return m.responseFn(ctx, msgs, opts)
}

func (m *mockClient) StreamResponse(ctx context.Context, msgs []af.Message, opts *af.ChatOptions) (*af.ResponseStream[af.ChatResponseUpdate], error) {
	return af.NewResponseStream(ctx, func(ctx context.Context, emit func(af.ChatResponseUpdate) error) error {
		resp, err := m.responseFn(ctx, msgs, opts)
		if err != nil {
			return err
		}
		for _, msg := range resp.Messages {
			if err := emit(af.ChatResponseUpdate{Contents: msg.Contents, Role: msg.Role}); err != nil {
				return err
			}
		}
		return nil
	}), nil
}

// scriptedRounds answers with one tool call per round until rounds calls
// were made, then with a final answer.
func scriptedRounds(rounds int, tool string) *mockClient {
	n := 0
	return &mockClient{responseFn: func(ctx context.Context, msgs []af.Message, opts *af.ChatOptions) (*af.ChatResponse, error) {
		n++
		if n > rounds {
			return finalAnswer("done"), nil
		}
		return toolCallResponse(&af.FunctionCallContent{CallID: string(rune('a' + n)), Name: tool, Arguments: `{}`}), nil
	}}
}

func TestAgentMiddleware_OutermostFirst(t *testing.T) {
	var order []string
	trace := func(name string) af.AgentMiddleware {
		return func(next af.AgentHandler) af.AgentHandler {
			return func(ctx context.Context, req *af.AgentRequest) (*af.AgentResponse, error) {
				order = append(order, name+" in")
				resp, err := next(ctx, req)
				order = append(order, name+" out")
				return resp, err
			}
		}
	}
	agent := af.NewAgent(scriptedRounds(0, ""), af.WithAgentMiddleware(trace("outer"), trace("inner")))

	if _, err := agent.RunText(context.Background(), "hi"); err != nil {
		t.Fatal(err)
	}
	want := []string{"outer in", "inner in", "inner out", "outer out"}
	if !slices.Equal(order, want) {
		t.Errorf("order = %v, want %v", order, want)
	}
}

func TestAgentMiddleware_SeesThreadAndFormat(t *testing.T) {
	var seen *af.AgentRequest
	spy := func(next af.AgentHandler) af.AgentHandler {
		return func(ctx context.Context, req *af.AgentRequest) (*af.AgentResponse, error) {
			seen = req
			return next(ctx, req)
		}
	}
	client := &mockClient{responseFn: func(ctx context.Context, msgs []af.Message, opts *af.ChatOptions) (*af.ChatResponse, error) {
		return finalAnswer(`{"name":"Alex","age":34,"occupation":"pilot"}`), nil
	}}
	agent := af.NewAgent(client, af.WithAgentMiddleware(spy))
	thread := mustThread(t, agent)
	rf := personFormat(false)

	if _, err := agent.RunText(context.Background(), "who?", af.WithThread(thread), af.WithResponseFormat(rf)); err != nil {
		t.Fatal(err)
	}
	if seen == nil || seen.Thread != thread || seen.ResponseFormat != rf {
		t.Errorf("request = %+v", seen)
	}
}

func TestAgentMiddleware_ShortCircuitLeavesThreadAlone(t *testing.T) {
	client := &mockClient{responseFn: func(ctx context.Context, msgs []af.Message, opts *af.ChatOptions) (*af.ChatResponse, error) {
		t.Error("model must not be called")
		return finalAnswer("x"), nil
	}}
	blocked := func(next af.AgentHandler) af.AgentHandler {
		return func(ctx context.Context, req *af.AgentRequest) (*af.AgentResponse, error) {
			return &af.AgentResponse{Messages: []af.Message{af.NewAssistantMessage("blocked")}}, nil
		}
	}
	agent := af.NewAgent(client, af.WithAgentMiddleware(blocked))
	thread := mustThread(t, agent)

	resp, err := agent.RunText(context.Background(), "hi", af.WithThread(thread))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Text() != "blocked" {
		t.Errorf("Text = %q", resp.Text())
	}
	if n := threadLen(t, thread); n != 0 {
		t.Errorf("thread has %d turns, want 0", n)
	}
}

func TestChatMiddleware_SeesEveryRound(t *testing.T) {
	var rounds []af.Round
	observe := func(next af.ChatHandler) af.ChatHandler {
		return func(ctx context.Context, msgs []af.Message, opts *af.ChatOptions) (*af.ChatResponse, error) {
			r, ok := af.RoundFromContext(ctx)
			if !ok {
				t.Error("chat middleware called without a round")
			}
			rounds = append(rounds, r)
			return next(ctx, msgs, opts)
		}
	}
	agent := af.NewAgent(scriptedRounds(2, "echo"),
		af.WithTools(echoTool("echo")),
		af.WithChatMiddleware(observe),
	)
	thread := mustThread(t, agent)

	if _, err := agent.RunText(context.Background(), "go", af.WithThread(thread)); err != nil {
		t.Fatal(err)
	}
	if len(rounds) != 3 {
		t.Fatalf("saw %d round trips, want 3", len(rounds))
	}
	for i, r := range rounds {
		if r.Index != i || r.ThreadID != thread.ID() || r.AgentID != agent.ID() || r.State != af.StateAwaitingModel {
			t.Errorf("round %d = %+v", i, r)
		}
	}
}

func TestFunctionMiddleware_SeesDispatchRound(t *testing.T) {
	var mu sync.Mutex
	var calls []string
	var indexes []int
	observe := func(next af.FunctionHandler) af.FunctionHandler {
		return func(ctx context.Context, tool af.Tool, args json.RawMessage) (any, error) {
			r, _ := af.RoundFromContext(ctx)
			mu.Lock()
			calls = append(calls, tool.Name())
			indexes = append(indexes, r.Index)
			mu.Unlock()
			if r.State != af.StateDispatchingTool {
				t.Errorf("state = %v, want DispatchingTool", r.State)
			}
			return next(ctx, tool, args)
		}
	}
	agent := af.NewAgent(scriptedRounds(2, "echo"),
		af.WithTools(echoTool("echo")),
		af.WithFunctionMiddleware(observe),
	)

	if _, err := agent.RunText(context.Background(), "go"); err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(calls, []string{"echo", "echo"}) || !slices.Equal(indexes, []int{0, 1}) {
		t.Errorf("calls = %v, rounds = %v", calls, indexes)
	}
}

func TestFunctionMiddleware_CanReplaceResult(t *testing.T) {
	redact := func(next af.FunctionHandler) af.FunctionHandler {
		return func(ctx context.Context, tool af.Tool, args json.RawMessage) (any, error) {
			if _, err := next(ctx, tool, args); err != nil {
				return nil, err
			}
			return "[redacted]", nil
		}
	}
	agent := af.NewAgent(scriptedRounds(1, "echo"),
		af.WithTools(echoTool("echo")),
		af.WithFunctionMiddleware(redact),
	)

	resp, err := agent.RunText(context.Background(), "go")
	if err != nil {
		t.Fatal(err)
	}
	fr := resp.Turns[1].Contents[0].(*af.FunctionResultContent)
	if fr.Result != "[redacted]" {
		t.Errorf("stored result = %v", fr.Result)
	}
}

func TestRoundFromContext_OutsideRun(t *testing.T) {
	if _, ok := af.RoundFromContext(context.Background()); ok {
		t.Error("a bare context has no round")
	}
}
