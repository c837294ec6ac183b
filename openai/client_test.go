// Copyright (c) Microsoft. All rights reserved.

package openai_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	af "github.com/jochenvw/agentrun/agentframework"
	"github.com/jochenvw/agentrun/openai"
)

// fakeAPI is an http.RoundTripper serving canned replies in order. It
// records each request's headers and decoded body.
type fakeAPI struct {
	t       *testing.T
	replies []fakeReply
	headers []http.Header
	bodies  []map[string]any
}

type fakeReply struct {
	status int
	body   string
}

func (f *fakeAPI) RoundTrip(req *http.Request) (*http.Response, error) {
	b, err := io.ReadAll(req.Body)
	require.NoError(f.t, err)
	var body map[string]any
	require.NoError(f.t, json.Unmarshal(b, &body))
	f.headers = append(f.headers, req.Header.Clone())
	f.bodies = append(f.bodies, body)

	require.NotEmpty(f.t, f.replies, "unexpected request %d", len(f.bodies))
	r := f.replies[0]
	f.replies = f.replies[1:]
	return &http.Response{
		StatusCode: r.status,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader(r.body)),
		Request:    req,
	}, nil
}

func newClient(t *testing.T, replies []fakeReply, opts ...openai.Option) (*openai.Client, *fakeAPI) {
	t.Helper()
	api := &fakeAPI{t: t, replies: replies}
	opts = append([]openai.Option{
		openai.WithModel("gpt-4o"),
		openai.WithHTTPClient(&http.Client{Transport: api}),
	}, opts...)
	client := openai.New("test-key", opts...)
	t.Cleanup(func() { _ = client.Close() })
	return client, api
}

func ok(body string) fakeReply { return fakeReply{status: http.StatusOK, body: body} }

const textCompletion = `{
	"id": "chatcmpl-1", "model": "gpt-4o",
	"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "Hello there"}}],
	"usage": {"prompt_tokens": 10, "completion_tokens": 8, "total_tokens": 18}
}`

func hi() []af.Message { return []af.Message{af.NewUserMessage("hi")} }

func TestClient_Response_Text(t *testing.T) {
	client, api := newClient(t, []fakeReply{ok(textCompletion)})

	resp, err := client.Response(context.Background(), hi(), nil)
	require.NoError(t, err)

	assert.Equal(t, "chatcmpl-1", resp.ResponseID)
	assert.Equal(t, "gpt-4o", resp.ModelID)
	assert.Equal(t, af.FinishReasonStop, resp.FinishReason)
	assert.Equal(t, af.UsageDetails{InputTokens: 10, OutputTokens: 8, TotalTokens: 18}, resp.Usage)
	assert.Equal(t, "Hello there", resp.Text())
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, af.RoleAssistant, resp.Messages[0].Role)

	require.Len(t, api.bodies, 1)
	assert.Equal(t, "gpt-4o", api.bodies[0]["model"])
	assert.Equal(t, "Bearer test-key", api.headers[0].Get("Authorization"))
}

type staticCredential string

func (c staticCredential) GetToken(ctx context.Context, opts policy.TokenRequestOptions) (azcore.AccessToken, error) {
	if len(opts.Scopes) != 1 || opts.Scopes[0] != "https://cognitiveservices.azure.com/.default" {
		return azcore.AccessToken{}, errors.New("unexpected scopes")
	}
	return azcore.AccessToken{Token: string(c)}, nil
}

type failingCredential struct{}

func (failingCredential) GetToken(context.Context, policy.TokenRequestOptions) (azcore.AccessToken, error) {
	return azcore.AccessToken{}, errors.New("not logged in")
}

func TestClient_Authentication(t *testing.T) {
	tests := []struct {
		name       string
		opts       []openai.Option
		wantBearer string
		wantAPIKey string
	}{
		{"api key", nil, "Bearer test-key", ""},
		{"azure key", []openai.Option{openai.WithAzureKey("azure-secret")}, "", "azure-secret"},
		{"entra token", []openai.Option{openai.WithAzureCredential(staticCredential("tok-123"))}, "Bearer tok-123", ""},
		{"organization", []openai.Option{openai.WithOrganization("org-abc")}, "Bearer test-key", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, api := newClient(t, []fakeReply{ok(textCompletion)}, tt.opts...)
			_, err := client.Response(context.Background(), hi(), nil)
			require.NoError(t, err)

			h := api.headers[0]
			assert.Equal(t, tt.wantBearer, h.Get("Authorization"))
			assert.Equal(t, tt.wantAPIKey, h.Get("api-key"))
			if tt.name == "organization" {
				assert.Equal(t, "org-abc", h.Get("OpenAI-Organization"))
			}
		})
	}
}

func TestClient_CredentialFailureSendsNothing(t *testing.T) {
	client, api := newClient(t, nil, openai.WithAzureCredential(failingCredential{}))

	_, err := client.Response(context.Background(), hi(), nil)
	require.ErrorIs(t, err, af.ErrAuth)
	assert.Empty(t, api.bodies)
}

func TestClient_Response_ToolCalls(t *testing.T) {
	client, _ := newClient(t, []fakeReply{ok(`{
		"id": "chatcmpl-2", "model": "gpt-4o",
		"choices": [{"index": 0, "finish_reason": "tool_calls", "message": {"role": "assistant", "content": null,
			"tool_calls": [
				{"id": "call_a", "type": "function", "function": {"name": "get_weather", "arguments": "{\"city\":\"Seattle\"}"}},
				{"id": "call_b", "type": "function", "function": {"name": "get_time", "arguments": "{}"}}
			]}}]
	}`)})

	resp, err := client.Response(context.Background(), hi(), nil)
	require.NoError(t, err)

	assert.Equal(t, af.FinishReasonToolCalls, resp.FinishReason)
	require.Len(t, resp.Messages, 1)
	calls := resp.Messages[0].FunctionCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, &af.FunctionCallContent{CallID: "call_a", Name: "get_weather", Arguments: `{"city":"Seattle"}`}, calls[0])
	assert.Equal(t, "get_time", calls[1].Name)
}

func TestClient_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		reply    fakeReply
		want     error
		wantCode string
		wantMsg  string
	}{
		{"unauthorized", fakeReply{401, `{"error":{"message":"Invalid API key","type":"invalid_request_error"}}`}, af.ErrAuth, "", "Invalid API key"},
		{"content filter", fakeReply{400, `{"error":{"message":"filtered","code":"content_filter"}}`}, af.ErrContentFilter, "content_filter", "filtered"},
		{"unknown deployment", fakeReply{404, `{"error":{"message":"deployment not found","code":"DeploymentNotFound"}}`}, af.ErrInvalidRequest, "DeploymentNotFound", "deployment not found"},
		{"numeric code", fakeReply{429, `{"error":{"message":"slow down","code":429}}`}, af.ErrService, "429", "slow down"},
		{"not json", fakeReply{502, `bad gateway`}, af.ErrService, "", "bad gateway"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newClient(t, []fakeReply{tt.reply})

			_, err := client.Response(context.Background(), hi(), nil)
			require.ErrorIs(t, err, tt.want)
			var svcErr *af.ServiceError
			require.ErrorAs(t, err, &svcErr)
			assert.Equal(t, tt.reply.status, svcErr.StatusCode)
			assert.Equal(t, tt.wantCode, svcErr.Code)
			assert.Equal(t, tt.wantMsg, svcErr.Message)
		})
	}
}

func TestClient_MalformedCompletion(t *testing.T) {
	for name, body := range map[string]string{
		"not json":   `{"id":`,
		"no choices": `{"id":"chatcmpl-1","choices":[]}`,
	} {
		t.Run(name, func(t *testing.T) {
			client, _ := newClient(t, []fakeReply{ok(body)})
			_, err := client.Response(context.Background(), hi(), nil)
			assert.ErrorIs(t, err, af.ErrInvalidResponse)
		})
	}
}

func personFormat() *af.ResponseFormat {
	return af.NewResponseFormat("PersonInfo",
		af.Field{Name: "name", Type: af.FieldString},
		af.Field{Name: "age", Type: af.FieldInteger},
	)
}

func TestClient_ResponseFormat_SentAsStrictSchema(t *testing.T) {
	client, api := newClient(t, []fakeReply{ok(textCompletion)})

	_, err := client.Response(context.Background(), hi(), &af.ChatOptions{ResponseFormat: personFormat()})
	require.NoError(t, err)

	rf, _ := api.bodies[0]["response_format"].(map[string]any)
	require.NotNil(t, rf)
	assert.Equal(t, "json_schema", rf["type"])
	schema, _ := rf["json_schema"].(map[string]any)
	assert.Equal(t, "PersonInfo", schema["name"])
	assert.Equal(t, true, schema["strict"])
	assert.Equal(t, "object", schema["schema"].(map[string]any)["type"])
}

func TestClient_StructuredReplyChecks(t *testing.T) {
	refusal := ok(`{"id":"c","choices":[{"finish_reason":"stop","message":{"role":"assistant","content":null,"refusal":"I can't help with that."}}]}`)
	truncated := ok(`{"id":"c","choices":[{"finish_reason":"length","message":{"role":"assistant","content":"{\"name\":\"Al"}}]}`)

	t.Run("refusal with format", func(t *testing.T) {
		client, _ := newClient(t, []fakeReply{refusal})
		_, err := client.Response(context.Background(), hi(), &af.ChatOptions{ResponseFormat: personFormat()})
		require.ErrorIs(t, err, af.ErrContentFilter)
		var svcErr *af.ServiceError
		require.ErrorAs(t, err, &svcErr)
		assert.Equal(t, "refusal", svcErr.Code)
		assert.Equal(t, "I can't help with that.", svcErr.Message)
	})

	t.Run("truncated with format", func(t *testing.T) {
		client, _ := newClient(t, []fakeReply{truncated})
		_, err := client.Response(context.Background(), hi(), &af.ChatOptions{ResponseFormat: personFormat()})
		assert.ErrorIs(t, err, af.ErrInvalidResponse)
	})

	t.Run("refusal without format", func(t *testing.T) {
		client, _ := newClient(t, []fakeReply{refusal})
		resp, err := client.Response(context.Background(), hi(), nil)
		require.NoError(t, err)
		assert.Equal(t, "I can't help with that.", resp.Text())
		assert.Equal(t, af.FinishReasonContentFilter, resp.FinishReason)
	})

	t.Run("truncated without format", func(t *testing.T) {
		client, _ := newClient(t, []fakeReply{truncated})
		resp, err := client.Response(context.Background(), hi(), nil)
		require.NoError(t, err)
		assert.Equal(t, af.FinishReasonLength, resp.FinishReason)
	})
}

func TestClient_ChatOptionsPassedThrough(t *testing.T) {
	client, api := newClient(t, []fakeReply{ok(textCompletion)})
	temp, maxTok := 0.3, 100

	_, err := client.Response(context.Background(), hi(), &af.ChatOptions{
		ModelID:     "gpt-4o-mini",
		Temperature: &temp,
		MaxTokens:   &maxTok,
		Stop:        []string{"END"},
		ToolChoice:  af.ToolChoiceFunction("lookup"),
		Tools:       []af.Tool{af.NewTool("lookup", "Look something up.", nil, nil)},
	})
	require.NoError(t, err)

	body := api.bodies[0]
	assert.Equal(t, "gpt-4o-mini", body["model"])
	assert.Equal(t, 0.3, body["temperature"])
	assert.Equal(t, float64(100), body["max_completion_tokens"])
	assert.Equal(t, []any{"END"}, body["stop"])
	assert.Equal(t, map[string]any{"type": "function", "function": map[string]any{"name": "lookup"}}, body["tool_choice"])
	tools, _ := body["tools"].([]any)
	require.Len(t, tools, 1)
	assert.Equal(t, "lookup", tools[0].(map[string]any)["function"].(map[string]any)["name"])
}

func TestClient_ToolTurnBecomesOneMessagePerResult(t *testing.T) {
	client, api := newClient(t, []fakeReply{ok(textCompletion)})
	toolTurn := af.Message{Role: af.RoleTool, Contents: af.Contents{
		&af.FunctionResultContent{CallID: "call_a", Result: "sunny"},
		&af.FunctionResultContent{CallID: "call_b", Result: map[string]int{"hour": 9}},
	}}

	_, err := client.Response(context.Background(), []af.Message{af.NewUserMessage("weather and time?"), toolTurn}, nil)
	require.NoError(t, err)

	msgs, _ := api.bodies[0]["messages"].([]any)
	require.Len(t, msgs, 3)
	assert.Equal(t, map[string]any{"role": "tool", "tool_call_id": "call_a", "content": "sunny"}, msgs[1])
	assert.Equal(t, map[string]any{"role": "tool", "tool_call_id": "call_b", "content": `{"hour":9}`}, msgs[2])
}

func sse(events ...string) string {
	var b strings.Builder
	for _, e := range events {
		b.WriteString("data: " + e + "\n\n")
	}
	return b.String()
}

func TestClient_StreamResponse_Text(t *testing.T) {
	client, api := newClient(t, []fakeReply{ok(sse(
		`{"id":"chatcmpl-1","model":"gpt-4o","choices":[{"index":0,"delta":{"role":"assistant","content":"Hello"},"finish_reason":null}]}`,
		`{"id":"chatcmpl-1","model":"gpt-4o","choices":[{"index":0,"delta":{"content":", world!"},"finish_reason":null}]}`,
		`{"id":"chatcmpl-1","model":"gpt-4o","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
		`{"id":"chatcmpl-1","model":"gpt-4o","choices":[],"usage":{"prompt_tokens":5,"completion_tokens":3,"total_tokens":8}}`,
		`[DONE]`,
	))})

	stream, err := client.StreamResponse(context.Background(), hi(), nil)
	require.NoError(t, err)
	defer stream.Close()
	updates, err := stream.Collect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, true, api.bodies[0]["stream"])
	require.Len(t, updates, 4)
	assert.Equal(t, af.RoleAssistant, updates[0].Role)
	assert.Equal(t, "Hello", updates[0].Text())

	resp := af.ChatResponseFromUpdates(updates)
	assert.Equal(t, "Hello, world!", resp.Text())
	assert.Equal(t, af.FinishReasonStop, resp.FinishReason)
	assert.Equal(t, 8, resp.Usage.TotalTokens)
}

func TestClient_StreamResponse_AssemblesToolCallFragments(t *testing.T) {
	client, _ := newClient(t, []fakeReply{ok(sse(
		`{"id":"c","choices":[{"delta":{"role":"assistant","tool_calls":[{"index":0,"id":"call_a","type":"function","function":{"name":"get_weather","arguments":""}}]}}]}`,
		`{"id":"c","choices":[{"delta":{"tool_calls":[{"index":1,"id":"call_b","type":"function","function":{"name":"get_time","arguments":"{}"}}]}}]}`,
		`{"id":"c","choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"city\":"}}]}}]}`,
		`{"id":"c","choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"Oslo\"}"}}]}}]}`,
		`{"id":"c","choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
		`[DONE]`,
	))})

	stream, err := client.StreamResponse(context.Background(), hi(), nil)
	require.NoError(t, err)
	defer stream.Close()
	updates, err := stream.Collect(context.Background())
	require.NoError(t, err)

	for _, u := range updates[:len(updates)-1] {
		assert.Empty(t, u.Contents, "fragments must not surface before the finish reason")
	}
	resp := af.ChatResponseFromUpdates(updates)
	assert.Equal(t, af.FinishReasonToolCalls, resp.FinishReason)
	calls := resp.Messages[0].FunctionCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, &af.FunctionCallContent{CallID: "call_a", Name: "get_weather", Arguments: `{"city":"Oslo"}`}, calls[0])
	assert.Equal(t, &af.FunctionCallContent{CallID: "call_b", Name: "get_time", Arguments: `{}`}, calls[1])
}

func TestClient_StreamResponse_StructuredRefusal(t *testing.T) {
	client, _ := newClient(t, []fakeReply{ok(sse(
		`{"id":"c","choices":[{"delta":{"role":"assistant","refusal":"I can't "}}]}`,
		`{"id":"c","choices":[{"delta":{"refusal":"help."}}]}`,
		`{"id":"c","choices":[{"delta":{},"finish_reason":"stop"}]}`,
		`[DONE]`,
	))})

	stream, err := client.StreamResponse(context.Background(), hi(), &af.ChatOptions{ResponseFormat: personFormat()})
	require.NoError(t, err)
	defer stream.Close()
	_, err = stream.Collect(context.Background())
	require.ErrorIs(t, err, af.ErrContentFilter)
	var svcErr *af.ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, "I can't help.", svcErr.Message)
}

func TestClient_StreamResponse_MalformedChunk(t *testing.T) {
	client, _ := newClient(t, []fakeReply{ok(sse(`{"id":`))})

	stream, err := client.StreamResponse(context.Background(), hi(), nil)
	require.NoError(t, err)
	defer stream.Close()
	_, err = stream.Collect(context.Background())
	assert.ErrorIs(t, err, af.ErrInvalidResponse)
}

func TestClient_MiddlewareWrapsResponse(t *testing.T) {
	var seen int
	count := func(next af.ChatHandler) af.ChatHandler {
		return func(ctx context.Context, msgs []af.Message, opts *af.ChatOptions) (*af.ChatResponse, error) {
			seen = len(msgs)
			return next(ctx, msgs, opts)
		}
	}
	client, _ := newClient(t, []fakeReply{ok(textCompletion)}, openai.WithChatMiddleware(count))

	_, err := client.Response(context.Background(), hi(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, seen)
}

func TestClient_AgentRun_ToolRoundTrip(t *testing.T) {
	client, api := newClient(t, []fakeReply{
		ok(`{"id":"c1","model":"gpt-4o","choices":[{"finish_reason":"tool_calls","message":{"role":"assistant",
			"tool_calls":[{"id":"call_1","type":"function","function":{"name":"lookup","arguments":"{}"}}]}}]}`),
		ok(`{"id":"c2","model":"gpt-4o","choices":[{"finish_reason":"stop","message":{"role":"assistant","content":"found it"}}]}`),
	})
	lookup := af.NewTool("lookup", "Look something up.", nil, func(ctx context.Context, args json.RawMessage) (any, error) {
		return "42", nil
	})
	agent := af.NewAgent(client, af.WithTools(lookup))

	resp, err := agent.RunText(context.Background(), "look it up")
	require.NoError(t, err)
	assert.Equal(t, "found it", resp.Text())
	assert.Equal(t, 1, resp.Rounds)

	require.Len(t, api.bodies, 2)
	msgs, _ := api.bodies[1]["messages"].([]any)
	require.Len(t, msgs, 3)
	call := msgs[1].(map[string]any)["tool_calls"].([]any)[0].(map[string]any)
	assert.Equal(t, "call_1", call["id"])
	assert.Equal(t, map[string]any{"role": "tool", "tool_call_id": "call_1", "content": "42"}, msgs[2])
}
