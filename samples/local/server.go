// Copyright (c) Microsoft. All rights reserved.

package main

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"

	af "github.com/jochenvw/agentrun/agentframework"
)

// InvokeRequest is the JSON body for POST /invoke.
type InvokeRequest struct {
	Input          string         `json:"input"`
	ConversationID string         `json:"conversationId,omitempty"`
	Context        map[string]any `json:"context,omitempty"`
}

// InvokeResponse is the JSON body returned from POST /invoke.
// ConversationID names the thread to pass back on the next request.
type InvokeResponse struct {
	Output         string         `json:"output"`
	ConversationID string         `json:"conversationId"`
	ToolCalls      []toolCallInfo `json:"toolCalls,omitempty"`
	State          map[string]any `json:"state,omitempty"`
}

type toolCallInfo struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// JSON-RPC 2.0 error codes used by the A2A endpoint.
const (
	rpcParseError     = -32700
	rpcMethodNotFound = -32601
	rpcInvalidParams  = -32602
	rpcServerError    = -32000
	rpcTaskNotFound   = -32001
)

type rpcRequest struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// a2aMessage is an A2A message, sent by the caller in message/send and
// returned as its result.
type a2aMessage struct {
	Kind      string         `json:"kind"`
	Role      string         `json:"role"`
	MessageID string         `json:"messageId"`
	ContextID string         `json:"contextId,omitempty"`
	Parts     []a2aPart      `json:"parts"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type a2aPart struct {
	Kind string `json:"kind"`
	Text string `json:"text,omitempty"`
}

// text joins the message's text parts.
func (m a2aMessage) text() string {
	var parts []string
	for _, p := range m.Parts {
		if p.Kind == "text" && p.Text != "" {
			parts = append(parts, p.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// agentServer serves one agent over /invoke and A2A JSON-RPC.
// Conversations live in the agent's thread store; aliases maps
// caller-chosen ids onto thread ids.
type agentServer struct {
	agent  *af.Agent
	apiKey string
	logger *slog.Logger
	mux    *http.ServeMux

	mu      sync.Mutex
	aliases map[string]string
}

// newAgentServer creates a server. An empty apiKey disables auth.
func newAgentServer(agent *af.Agent, apiKey string, logger *slog.Logger) *agentServer {
	s := &agentServer{
		agent:   agent,
		apiKey:  apiKey,
		logger:  logger,
		mux:     http.NewServeMux(),
		aliases: make(map[string]string),
	}
	s.mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	s.mux.HandleFunc("GET /.well-known/agent-card.json", s.handleAgentCard)
	s.mux.HandleFunc("GET /.well-known/agent.json", s.handleAgentCard)
	s.mux.HandleFunc("POST /invoke", s.handleInvoke)
	s.mux.HandleFunc("POST /", s.handleRPC)
	return s
}

func (s *agentServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.logger.DebugContext(r.Context(), "request", "method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr)
	s.mux.ServeHTTP(w, r)
}

func (s *agentServer) authorized(r *http.Request) bool {
	if s.apiKey == "" {
		return true
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if ok && token == s.apiKey {
		return true
	}
	s.logger.WarnContext(r.Context(), "unauthorized request", "path", r.URL.Path, "remote", r.RemoteAddr)
	return false
}

func (s *agentServer) handleAgentCard(w http.ResponseWriter, r *http.Request) {
	type skill struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	skills := []skill{}
	for _, t := range s.agent.Tools() {
		skills = append(skills, skill{ID: t.Name(), Name: t.Name(), Description: t.Description()})
	}
	schemes := []map[string]string{}
	if s.apiKey != "" {
		schemes = append(schemes, map[string]string{"scheme": "bearer"})
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"name":               s.agent.Name(),
		"description":        s.agent.Description(),
		"url":                publicURL(r) + "/",
		"version":            "1.0.0",
		"protocolVersion":    "0.3.0",
		"capabilities":       map[string]bool{"streaming": false},
		"defaultInputModes":  []string{"text"},
		"defaultOutputModes": []string{"text"},
		"skills":             skills,
		"authentication":     map[string]any{"schemes": schemes},
	})
}

func (s *agentServer) handleInvoke(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		s.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	var req InvokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Input == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "input is required"})
		return
	}

	id, resp, err := s.run(r.Context(), req.ConversationID, req.Input)
	if err != nil {
		body := map[string]any{"error": "agent execution failed"}
		if id != "" {
			body["conversationId"] = id
		}
		var runErr *af.RunError
		if errors.As(err, &runErr) {
			body["state"] = runErr.State.String()
			body["rounds"] = runErr.Rounds
		}
		s.writeJSON(w, http.StatusInternalServerError, body)
		return
	}

	out := InvokeResponse{
		Output:         resp.Text(),
		ConversationID: id,
		State:          map[string]any{"state": resp.State.String(), "rounds": resp.Rounds},
	}
	for _, turn := range resp.Turns {
		for _, fc := range turn.FunctionCalls() {
			out.ToolCalls = append(out.ToolCalls, toolCallInfo{Name: fc.Name, Arguments: fc.Arguments})
		}
	}
	s.writeJSON(w, http.StatusOK, out)
}

// handleRPC serves A2A message/send. Runs are synchronous, so tasks/get
// never finds a task.
func (s *agentServer) handleRPC(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.rpcFail(w, nil, rpcParseError, "parse error")
		return
	}

	switch req.Method {
	case "message/send":
		if !s.authorized(r) {
			s.rpcFail(w, req.ID, rpcServerError, "unauthorized")
			return
		}
		var params struct {
			Message a2aMessage `json:"message"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil {
			s.rpcFail(w, req.ID, rpcInvalidParams, "invalid params")
			return
		}
		input := params.Message.text()
		if input == "" {
			s.rpcFail(w, req.ID, rpcInvalidParams, "message has no text parts")
			return
		}
		id, resp, err := s.run(r.Context(), params.Message.ContextID, input)
		if err != nil {
			s.rpcFail(w, req.ID, rpcServerError, "agent error: "+err.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: a2aMessage{
			Kind:      "message",
			Role:      "agent",
			MessageID: "resp-" + string(req.ID),
			ContextID: id,
			Parts:     []a2aPart{{Kind: "text", Text: resp.Text()}},
		}})
	case "tasks/get":
		s.rpcFail(w, req.ID, rpcTaskNotFound, "task not found: only synchronous message/send is supported")
	default:
		s.rpcFail(w, req.ID, rpcMethodNotFound, "method not found: "+req.Method)
	}
}

func (s *agentServer) rpcFail(w http.ResponseWriter, id json.RawMessage, code int, msg string) {
	s.writeJSON(w, http.StatusOK, rpcResponse{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: msg}})
}

// run answers input on the caller's conversation and returns the id the
// caller should send next time. The id is returned even when the run fails.
func (s *agentServer) run(ctx context.Context, conversationID, input string) (string, *af.AgentResponse, error) {
	thread, err := s.threadFor(ctx, conversationID)
	if err != nil {
		s.logger.ErrorContext(ctx, "open conversation", "conversation", conversationID, "error", err)
		return "", nil, err
	}
	id := cmp.Or(conversationID, thread.ID())

	resp, err := s.agent.RunText(ctx, input, af.WithThread(thread))
	if err != nil {
		s.logger.ErrorContext(ctx, "run failed", "conversation", id, "error", err)
		return id, nil, err
	}
	s.logger.InfoContext(ctx, "run done", "conversation", id, "rounds", resp.Rounds, "state", resp.State.String())
	return id, resp, nil
}

// threadFor returns the thread for a caller's conversation id. An empty id
// starts a new thread. An id that is neither a stored thread nor a known
// alias gets a new thread bound to it.
func (s *agentServer) threadFor(ctx context.Context, id string) (*af.Thread, error) {
	if id == "" {
		return s.agent.NewThread(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tid, ok := s.aliases[id]; ok {
		return s.agent.ResumeThread(tid), nil
	}

	thread := s.agent.ResumeThread(id)
	_, err := thread.Messages(ctx)
	switch {
	case err == nil:
		return thread, nil
	case !errors.Is(err, af.ErrThreadNotFound):
		return nil, err
	}

	thread, err = s.agent.NewThread(ctx)
	if err != nil {
		return nil, err
	}
	s.aliases[id] = thread.ID()
	return thread, nil
}

func (s *agentServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("write response", "error", err)
	}
}

// publicURL is DEVTUNNEL_URL when set, else the URL the request reached
// us on, honouring X-Forwarded-* headers.
func publicURL(r *http.Request) string {
	if u := os.Getenv("DEVTUNNEL_URL"); u != "" {
		return strings.TrimRight(u, "/")
	}
	scheme := cmp.Or(r.Header.Get("X-Forwarded-Proto"), "http")
	host := cmp.Or(r.Header.Get("X-Forwarded-Host"), r.Host)
	return scheme + "://" + host
}
