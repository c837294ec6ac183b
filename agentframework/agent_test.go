// Copyright (c) Microsoft. All rights reserved.

package agentframework_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	af "github.com/jochenvw/agentrun/agentframework"
)

func TestAgent_RunStampsIdentityAndUsage(t *testing.T) {
	client := &mockClient{responseFn: func(ctx context.Context, msgs []af.Message, opts *af.ChatOptions) (*af.ChatResponse, error) {
		resp := finalAnswer("Paris.")
		resp.ResponseID = "resp-1"
		resp.Usage = af.UsageDetails{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}
		return resp, nil
	}}
	agent := af.NewAgent(client, af.WithName("geo"), af.WithDescription("Answers geography questions."))
	if agent.Name() != "geo" || agent.Description() != "Answers geography questions." || agent.ID() == "" {
		t.Fatalf("identity = %q %q %q", agent.ID(), agent.Name(), agent.Description())
	}

	resp, err := agent.RunText(context.Background(), "Capital of France?")
	if err != nil {
		t.Fatal(err)
	}
	if resp.Text() != "Paris." || resp.AgentID != agent.ID() || resp.ResponseID != "resp-1" {
		t.Errorf("resp = %q agent=%q id=%q", resp.Text(), resp.AgentID, resp.ResponseID)
	}
	if resp.Usage != (af.UsageDetails{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}) {
		t.Errorf("Usage = %+v", resp.Usage)
	}
	if resp.State != af.StateDone || resp.Rounds != 0 || resp.Value != nil {
		t.Errorf("State = %v, Rounds = %d, Value = %v", resp.State, resp.Rounds, resp.Value)
	}
}

func TestAgent_InstructionsSentAsSystemMessage(t *testing.T) {
	var first af.Message
	client := &mockClient{
		responseFn: func(ctx context.Context, msgs []af.Message, opts *af.ChatOptions) (*af.ChatResponse, error) {
			first = msgs[0]
			return &af.ChatResponse{Messages: []af.Message{af.NewAssistantMessage("ok")}}, nil
		},
	}

	agent := af.NewAgent(client, af.WithInstructions("You are good at telling jokes."))
	if _, err := agent.RunText(context.Background(), "Tell me a joke"); err != nil {
		t.Fatal(err)
	}
	if first.Role != af.RoleSystem || first.Text() != "You are good at telling jokes." {
		t.Errorf("first message = %s %q", first.Role, first.Text())
	}
}

type rectArgs struct {
	Width  int `json:"width"  jsonschema:"required"`
	Height int `json:"height" jsonschema:"required"`
}

func TestAgent_ToolRoundTrip(t *testing.T) {
	area := af.NewTypedTool("area", "Area of a rectangle.", func(_ context.Context, r rectArgs) (any, error) {
		return r.Width * r.Height, nil
	})
	replies := []*af.ChatResponse{
		toolCallResponse(&af.FunctionCallContent{CallID: "call-1", Name: "area", Arguments: `{"width":3,"height":4}`}),
		finalAnswer("12 square metres."),
	}
	var calls int
	client := &mockClient{responseFn: func(ctx context.Context, msgs []af.Message, opts *af.ChatOptions) (*af.ChatResponse, error) {
		calls++
		return replies[calls-1], nil
	}}

	resp, err := af.NewAgent(client, af.WithTools(area)).RunText(context.Background(), "How big is a 3 by 4 room?")
	if err != nil {
		t.Fatal(err)
	}
	if calls != 2 || resp.Rounds != 1 || resp.Text() != "12 square metres." {
		t.Errorf("calls = %d, Rounds = %d, Text = %q", calls, resp.Rounds, resp.Text())
	}
	wantRoles := []af.Role{af.RoleAssistant, af.RoleTool, af.RoleAssistant}
	if len(resp.Turns) != len(wantRoles) {
		t.Fatalf("Turns = %d, want %d", len(resp.Turns), len(wantRoles))
	}
	for i, r := range wantRoles {
		if resp.Turns[i].Role != r {
			t.Errorf("turn %d role = %s, want %s", i, resp.Turns[i].Role, r)
		}
	}
	fr, ok := resp.Turns[1].Contents[0].(*af.FunctionResultContent)
	if !ok || fr.CallID != "call-1" || fr.Result != 12 {
		t.Errorf("tool turn = %#v", resp.Turns[1].Contents[0])
	}
}

func TestAgent_TwoRunsOnThread(t *testing.T) {
	var seen []int
	client := &mockClient{
		responseFn: func(ctx context.Context, msgs []af.Message, opts *af.ChatOptions) (*af.ChatResponse, error) {
			seen = append(seen, len(msgs))
			return &af.ChatResponse{Messages: []af.Message{af.NewAssistantMessage("Why did the pirate...")}}, nil
		},
	}

	ctx := context.Background()
	agent := af.NewAgent(client, af.WithInstructions("You are good at telling jokes."))
	thread, err := agent.NewThread(ctx)
	if err != nil {
		t.Fatal(err)
	}

	for range 2 {
		if _, err := agent.RunText(ctx, "Tell me a joke", af.WithThread(thread)); err != nil {
			t.Fatal(err)
		}
	}

	msgs, err := thread.Messages(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := []af.Role{af.RoleUser, af.RoleAssistant, af.RoleUser, af.RoleAssistant}
	if len(msgs) != len(want) {
		t.Fatalf("thread has %d turns, want %d", len(msgs), len(want))
	}
	for i, r := range want {
		if msgs[i].Role != r {
			t.Errorf("turn %d role = %s, want %s", i, msgs[i].Role, r)
		}
	}
	// system + user, then system + 2 history + user
	if seen[0] != 2 || seen[1] != 4 {
		t.Errorf("request sizes = %v, want [2 4]", seen)
	}
}

func TestAgent_ResumeThread(t *testing.T) {
	client := &mockClient{
		responseFn: func(ctx context.Context, msgs []af.Message, opts *af.ChatOptions) (*af.ChatResponse, error) {
			return &af.ChatResponse{Messages: []af.Message{af.NewAssistantMessage("ok")}}, nil
		},
	}
	ctx := context.Background()
	store := af.NewInMemoryStore()
	agent := af.NewAgent(client, af.WithThreadStore(store))
	thread, err := agent.NewThread(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := agent.RunText(ctx, "hello", af.WithThread(thread)); err != nil {
		t.Fatal(err)
	}

	resumed := agent.ResumeThread(thread.ID())
	msgs, err := resumed.Messages(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Errorf("resumed thread has %d turns, want 2", len(msgs))
	}
}

func TestAgent_EphemeralThread(t *testing.T) {
	var sizes []int
	client := &mockClient{
		responseFn: func(ctx context.Context, msgs []af.Message, opts *af.ChatOptions) (*af.ChatResponse, error) {
			sizes = append(sizes, len(msgs))
			return &af.ChatResponse{Messages: []af.Message{af.NewAssistantMessage("ok")}}, nil
		},
	}
	agent := af.NewAgent(client)
	for range 2 {
		if _, err := agent.RunText(context.Background(), "hi"); err != nil {
			t.Fatal(err)
		}
	}
	if sizes[0] != 1 || sizes[1] != 1 {
		t.Errorf("request sizes = %v, runs without a thread must not share history", sizes)
	}
}

func TestAgent_EphemeralThreadFailureFailsRun(t *testing.T) {
	client := &mockClient{responseFn: func(ctx context.Context, msgs []af.Message, opts *af.ChatOptions) (*af.ChatResponse, error) {
		t.Error("model must not be called")
		return finalAnswer("ok"), nil
	}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resp, err := af.NewAgent(client).RunText(ctx, "hi")
	if resp != nil || !errors.Is(err, af.ErrExecution) || !errors.Is(err, context.Canceled) {
		t.Errorf("RunText = %v, %v", resp, err)
	}
}

func TestAgent_RunOptionsOverlayDefaults(t *testing.T) {
	var got *af.ChatOptions
	client := &mockClient{responseFn: func(ctx context.Context, msgs []af.Message, opts *af.ChatOptions) (*af.ChatResponse, error) {
		got = opts
		return finalAnswer("ok"), nil
	}}
	temp, tokens := 0.2, 256
	agent := af.NewAgent(client, af.WithDefaultOptions(&af.ChatOptions{ModelID: "gpt-4o", Temperature: &temp}))

	_, err := agent.RunText(context.Background(), "hi", af.WithRunOptions(&af.ChatOptions{ModelID: "gpt-4o-mini", MaxTokens: &tokens}))
	if err != nil {
		t.Fatal(err)
	}
	if got.ModelID != "gpt-4o-mini" {
		t.Errorf("ModelID = %q, run option must win", got.ModelID)
	}
	if got.Temperature == nil || *got.Temperature != 0.2 || got.MaxTokens == nil || *got.MaxTokens != 256 {
		t.Errorf("Temperature = %v, MaxTokens = %v", got.Temperature, got.MaxTokens)
	}
}

func TestAgent_RegisterTool(t *testing.T) {
	var offered []string
	client := &mockClient{
		responseFn: func(ctx context.Context, msgs []af.Message, opts *af.ChatOptions) (*af.ChatResponse, error) {
			for _, tool := range opts.Tools {
				offered = append(offered, tool.Name())
			}
			return &af.ChatResponse{Messages: []af.Message{af.NewAssistantMessage("ok")}}, nil
		},
	}
	agent := af.NewAgent(client)
	fn := func(ctx context.Context, args json.RawMessage) (any, error) { return "sunny", nil }

	if err := agent.RegisterTool("get_weather", "Get the weather", nil, fn); err != nil {
		t.Fatal(err)
	}
	err := agent.RegisterTool("get_weather", "again", nil, fn)
	if !errors.Is(err, af.ErrDuplicateTool) {
		t.Errorf("duplicate register err = %v, want ErrDuplicateTool", err)
	}
	if _, err := agent.RunText(context.Background(), "weather?"); err != nil {
		t.Fatal(err)
	}
	if len(offered) != 1 || offered[0] != "get_weather" {
		t.Errorf("offered tools = %v", offered)
	}
}

func TestAgent_DuplicateToolsFailRun(t *testing.T) {
	client := &mockClient{
		responseFn: func(ctx context.Context, msgs []af.Message, opts *af.ChatOptions) (*af.ChatResponse, error) {
			t.Fatal("model must not be called")
			return nil, nil
		},
	}
	a := af.NewTool("x", "", nil, nil)
	b := af.NewTool("x", "", nil, nil)
	agent := af.NewAgent(client, af.WithTools(a, b))

	_, err := agent.RunText(context.Background(), "hi")
	if !errors.Is(err, af.ErrInitialization) || !errors.Is(err, af.ErrDuplicateTool) {
		t.Errorf("err = %v, want ErrInitialization wrapping ErrDuplicateTool", err)
	}
}

func TestAgent_RunToolsOverrideAgentTools(t *testing.T) {
	agentTool := af.NewTool("lookup", "", nil, func(ctx context.Context, args json.RawMessage) (any, error) {
		return "agent", nil
	})
	runTool := af.NewTool("lookup", "", nil, func(ctx context.Context, args json.RawMessage) (any, error) {
		return "run", nil
	})

	var result any
	calls := 0
	client := &mockClient{
		responseFn: func(ctx context.Context, msgs []af.Message, opts *af.ChatOptions) (*af.ChatResponse, error) {
			calls++
			if calls == 1 {
				return toolCallResponse(&af.FunctionCallContent{CallID: "1", Name: "lookup"}), nil
			}
			result = msgs[len(msgs)-1].Contents[0].(*af.FunctionResultContent).Result
			return &af.ChatResponse{Messages: []af.Message{af.NewAssistantMessage("ok")}}, nil
		},
	}

	agent := af.NewAgent(client, af.WithTools(agentTool))
	if _, err := agent.RunText(context.Background(), "go", af.WithRunTools(runTool)); err != nil {
		t.Fatal(err)
	}
	if result != "run" {
		t.Errorf("result = %v, want the run tool's", result)
	}
	if len(agent.Tools()) != 1 {
		t.Errorf("run tools must not leak into the agent registry")
	}
}

func TestAgent_StructuredOutput(t *testing.T) {
	var sentFormat *af.ResponseFormat
	client := &mockClient{
		responseFn: func(ctx context.Context, msgs []af.Message, opts *af.ChatOptions) (*af.ChatResponse, error) {
			sentFormat = opts.ResponseFormat
			return &af.ChatResponse{Messages: []af.Message{
				af.NewAssistantMessage(`{"name":"Alex Morgan","age":34,"occupation":"Software Engineer"}`),
			}}, nil
		},
	}

	agent := af.NewAgent(client)
	resp, err := agent.RunText(context.Background(),
		"Please provide information about a person.",
		af.WithResponseFormat(personFormat(true)),
	)
	if err != nil {
		t.Fatal(err)
	}
	if sentFormat == nil || sentFormat.Name != "PersonInfo" {
		t.Errorf("response format not passed to the client: %v", sentFormat)
	}
	if got := resp.Value.String("name"); got != "Alex Morgan" {
		t.Errorf("name = %q", got)
	}
	if age, _ := resp.Value.Int("age"); age != 34 {
		t.Errorf("age = %d", age)
	}
}

func TestAgent_ContextProvider(t *testing.T) {
	var instructions string
	var toolNames []string
	client := &mockClient{
		responseFn: func(ctx context.Context, msgs []af.Message, opts *af.ChatOptions) (*af.ChatResponse, error) {
			instructions = opts.Instructions
			for _, tool := range opts.Tools {
				toolNames = append(toolNames, tool.Name())
			}
			return &af.ChatResponse{Messages: []af.Message{af.NewAssistantMessage("ok")}}, nil
		},
	}

	cp := &recordingProvider{
		inject: &af.InvocationContext{
			Instructions: "User prefers metric units.",
			Tools:        []af.Tool{af.NewTool("recall", "", nil, nil, af.WithDeclarationOnly())},
		},
	}
	agent := af.NewAgent(client,
		af.WithInstructions("Be brief."),
		af.WithContextProvider(cp),
	)
	ctx := context.Background()
	thread, err := agent.NewThread(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := agent.RunText(ctx, "hi", af.WithThread(thread)); err != nil {
		t.Fatal(err)
	}

	if instructions != "Be brief.\nUser prefers metric units." {
		t.Errorf("instructions = %q", instructions)
	}
	if len(toolNames) != 1 || toolNames[0] != "recall" {
		t.Errorf("tools = %v", toolNames)
	}
	if cp.created != thread.ID() {
		t.Errorf("ThreadCreated id = %q, want %q", cp.created, thread.ID())
	}
	if cp.invokedTurns != 1 {
		t.Errorf("Invoked saw %d turns, want 1", cp.invokedTurns)
	}
}

type recordingProvider struct {
	af.NoOpContextProvider
	inject       *af.InvocationContext
	created      string
	invokedTurns int
}

func (p *recordingProvider) Invoking(context.Context, []af.Message) (*af.InvocationContext, error) {
	return p.inject, nil
}

func (p *recordingProvider) Invoked(_ context.Context, _, response []af.Message) error {
	p.invokedTurns = len(response)
	return nil
}

func (p *recordingProvider) ThreadCreated(_ context.Context, id string) error {
	p.created = id
	return nil
}

func toolCallResponse(calls ...*af.FunctionCallContent) *af.ChatResponse {
	contents := make(af.Contents, len(calls))
	for i, c := range calls {
		contents[i] = c
	}
	return &af.ChatResponse{
		Messages:     []af.Message{{Role: af.RoleAssistant, Contents: contents}},
		FinishReason: af.FinishReasonToolCalls,
	}
}

func personFormat(occupationOptional bool) *af.ResponseFormat {
	return af.NewResponseFormat("PersonInfo",
		af.Field{Name: "name", Type: af.FieldString},
		af.Field{Name: "age", Type: af.FieldInteger},
		af.Field{Name: "occupation", Type: af.FieldString, Optional: occupationOptional},
	)
}
