// Copyright (c) Microsoft. All rights reserved.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	af "github.com/jochenvw/agentrun/agentframework"
)

// echoClient answers every request with the number of messages it saw.
type echoClient struct {
	mu    sync.Mutex
	sizes []int
}

func (c *echoClient) Response(ctx context.Context, messages []af.Message, opts *af.ChatOptions) (*af.ChatResponse, error) {
	c.mu.Lock()
	c.sizes = append(c.sizes, len(messages))
	c.mu.Unlock()
	return &af.ChatResponse{Messages: []af.Message{af.NewAssistantMessage("echo: " + messages[len(messages)-1].Text())}}, nil
}

func (c *echoClient) StreamResponse(ctx context.Context, messages []af.Message, opts *af.ChatOptions) (*af.ResponseStream[af.ChatResponseUpdate], error) {
	return nil, af.ErrInvalidRequest
}

func newTestServer(t *testing.T, apiKey string) (*httptest.Server, *echoClient) {
	t.Helper()
	client := &echoClient{}
	agent := af.NewAgent(client, af.WithName("local-assistant"), af.WithTools(GetTools()...))
	srv := httptest.NewServer(newAgentServer(agent, apiKey, slog.New(slog.DiscardHandler)))
	t.Cleanup(srv.Close)
	return srv, client
}

func invoke(t *testing.T, url string, req InvokeRequest) InvokeResponse {
	t.Helper()
	body, _ := json.Marshal(req)
	resp, err := http.Post(url+"/invoke", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out InvokeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return out
}

func TestServer_InvokeContinuesConversation(t *testing.T) {
	srv, client := newTestServer(t, "")

	first := invoke(t, srv.URL, InvokeRequest{Input: "hello"})
	if first.Output != "echo: hello" || first.ConversationID == "" {
		t.Fatalf("first = %+v", first)
	}
	second := invoke(t, srv.URL, InvokeRequest{Input: "again", ConversationID: first.ConversationID})
	if second.ConversationID != first.ConversationID {
		t.Errorf("conversation changed: %q -> %q", first.ConversationID, second.ConversationID)
	}

	// The second request carries the first exchange plus the new input.
	if len(client.sizes) != 2 || client.sizes[0] != 1 || client.sizes[1] != 3 {
		t.Errorf("request sizes = %v, want [1 3]", client.sizes)
	}
}

func TestServer_InvokeWithCallerChosenID(t *testing.T) {
	srv, client := newTestServer(t, "")

	invoke(t, srv.URL, InvokeRequest{Input: "one", ConversationID: "my-chat"})
	out := invoke(t, srv.URL, InvokeRequest{Input: "two", ConversationID: "my-chat"})
	if out.ConversationID != "my-chat" {
		t.Errorf("ConversationID = %q", out.ConversationID)
	}
	if client.sizes[1] != 3 {
		t.Errorf("request sizes = %v", client.sizes)
	}
}

func TestServer_InvokeRequiresKey(t *testing.T) {
	srv, _ := newTestServer(t, "secret")

	resp, err := http.Post(srv.URL+"/invoke", "application/json", strings.NewReader(`{"input":"hi"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestServer_A2AMessageSend(t *testing.T) {
	srv, _ := newTestServer(t, "")

	body := `{"jsonrpc":"2.0","id":1,"method":"message/send","params":{"message":{"kind":"message","role":"user","messageId":"m1","parts":[{"kind":"text","text":"ping"}]}}}`
	resp, err := http.Post(srv.URL+"/", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var rpc struct {
		Result a2aMessage `json:"result"`
		Error  *rpcError  `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpc); err != nil {
		t.Fatal(err)
	}
	if rpc.Error != nil {
		t.Fatalf("rpc error: %+v", rpc.Error)
	}
	if rpc.Result.ContextID == "" || len(rpc.Result.Parts) != 1 || rpc.Result.Parts[0].Text != "echo: ping" {
		t.Errorf("result = %+v", rpc.Result)
	}
}

func TestServer_AgentCardListsTools(t *testing.T) {
	srv, _ := newTestServer(t, "")

	resp, err := http.Get(srv.URL + "/.well-known/agent-card.json")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var card struct {
		Name   string `json:"name"`
		Skills []struct {
			ID string `json:"id"`
		} `json:"skills"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&card); err != nil {
		t.Fatal(err)
	}
	if card.Name != "local-assistant" || len(card.Skills) != len(GetTools()) {
		t.Errorf("card = %+v", card)
	}
}

func rpcCall(t *testing.T, url, key, body string) (json.RawMessage, *rpcError) {
	t.Helper()
	req, _ := http.NewRequest(http.MethodPost, url+"/", strings.NewReader(body))
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var rpc struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpc); err != nil {
		t.Fatal(err)
	}
	return rpc.Result, rpc.Error
}

func TestServer_A2AErrors(t *testing.T) {
	srv, client := newTestServer(t, "secret")
	send := `{"jsonrpc":"2.0","id":7,"method":"message/send","params":{"message":{"parts":[{"kind":"text","text":"hi"}]}}}`

	tests := []struct {
		name string
		key  string
		body string
		code int
	}{
		{"parse error", "secret", `{`, rpcParseError},
		{"wrong key", "nope", send, rpcServerError},
		{"no text parts", "secret", `{"id":1,"method":"message/send","params":{"message":{"parts":[{"kind":"file"}]}}}`, rpcInvalidParams},
		{"tasks/get", "secret", `{"id":2,"method":"tasks/get","params":{"id":"t1"}}`, rpcTaskNotFound},
		{"unknown method", "secret", `{"id":3,"method":"tasks/cancel"}`, rpcMethodNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, rpcErr := rpcCall(t, srv.URL, tt.key, tt.body)
			if rpcErr == nil || rpcErr.Code != tt.code {
				t.Errorf("error = %+v, want code %d", rpcErr, tt.code)
			}
		})
	}
	if len(client.sizes) != 0 {
		t.Errorf("model called %d times", len(client.sizes))
	}

	result, rpcErr := rpcCall(t, srv.URL, "secret", send)
	if rpcErr != nil || !strings.Contains(string(result), "echo: hi") {
		t.Errorf("authorized send = %s, %+v", result, rpcErr)
	}
}

func TestPublicURL(t *testing.T) {
	t.Setenv("DEVTUNNEL_URL", "")
	r := httptest.NewRequest(http.MethodGet, "http://10.0.0.5:8080/", nil)
	if got := publicURL(r); got != "http://10.0.0.5:8080" {
		t.Errorf("direct = %q", got)
	}

	r.Header.Set("X-Forwarded-Proto", "https")
	r.Header.Set("X-Forwarded-Host", "agent.example.com")
	if got := publicURL(r); got != "https://agent.example.com" {
		t.Errorf("forwarded = %q", got)
	}

	t.Setenv("DEVTUNNEL_URL", "https://tunnel.example.net/")
	if got := publicURL(r); got != "https://tunnel.example.net" {
		t.Errorf("tunnel = %q", got)
	}
}
