// Copyright (c) Microsoft. All rights reserved.

package openai

import (
	"cmp"
	"encoding/json"
	"fmt"
	"strings"

	af "github.com/jochenvw/agentrun/agentframework"
)

// chatRequest is a Chat Completions request body.
type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    *float64        `json:"temperature,omitempty"`
	TopP           *float64        `json:"top_p,omitempty"`
	MaxTokens      *int            `json:"max_completion_tokens,omitempty"`
	Stop           []string        `json:"stop,omitempty"`
	User           string          `json:"user,omitempty"`
	Tools          []toolSpec      `json:"tools,omitempty"`
	ToolChoice     any             `json:"tool_choice,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
	Stream         bool            `json:"stream,omitempty"`
	StreamOptions  *streamOptions  `json:"stream_options,omitempty"`
}

type responseFormat struct {
	Type       string      `json:"type"`
	JSONSchema *jsonSchema `json:"json_schema,omitempty"`
}

type jsonSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Schema      json.RawMessage `json:"schema"`
	Strict      bool            `json:"strict"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// chatMessage.Content is a string, or []contentPart for user turns that
// carry media.
type chatMessage struct {
	Role       string     `json:"role"`
	Content    any        `json:"content,omitempty"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []toolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

// toolCall appears in requests and replies. Index is only set on
// streamed fragments.
type toolCall struct {
	Index    int          `json:"index,omitempty"`
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type,omitempty"`
	Function functionCall `json:"function"`
}

type functionCall struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments"`
}

type toolSpec struct {
	Type     string       `json:"type"`
	Function functionSpec `json:"function"`
}

type functionSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// newRequest encodes one round trip. opts may be nil.
func newRequest(model string, messages []af.Message, opts *af.ChatOptions) (*chatRequest, error) {
	req := &chatRequest{Model: model}
	for _, m := range messages {
		encoded, err := encodeMessage(m)
		if err != nil {
			return nil, err
		}
		req.Messages = append(req.Messages, encoded...)
	}
	if opts == nil {
		return req, nil
	}

	req.Model = cmp.Or(opts.ModelID, model)
	req.Temperature = opts.Temperature
	req.TopP = opts.TopP
	req.MaxTokens = opts.MaxTokens
	req.Stop = opts.Stop
	req.User = opts.User
	req.ToolChoice = toolChoice(opts.ToolChoice)
	for _, t := range opts.Tools {
		req.Tools = append(req.Tools, toolSpec{
			Type:     "function",
			Function: functionSpec{Name: t.Name(), Description: t.Description(), Parameters: t.Parameters()},
		})
	}
	if rf := opts.ResponseFormat; rf != nil {
		req.ResponseFormat = &responseFormat{
			Type: "json_schema",
			JSONSchema: &jsonSchema{
				Name:        rf.Name,
				Description: rf.Description,
				Schema:      rf.JSONSchema(),
				Strict:      true,
			},
		}
	}
	return req, nil
}

// encodeMessage maps one turn onto wire messages. A tool turn yields one
// message per function result.
func encodeMessage(m af.Message) ([]chatMessage, error) {
	switch m.Role {
	case af.RoleTool:
		var out []chatMessage
		for _, c := range m.Contents {
			fr, ok := c.(*af.FunctionResultContent)
			if !ok {
				continue
			}
			result, err := resultText(fr.Result)
			if err != nil {
				return nil, fmt.Errorf("%w: result of call %s: %v", af.ErrInvalidRequest, fr.CallID, err)
			}
			out = append(out, chatMessage{Role: string(af.RoleTool), ToolCallID: fr.CallID, Content: result})
		}
		return out, nil

	case af.RoleAssistant:
		cm := chatMessage{Role: string(m.Role), Name: m.AuthorName}
		var text strings.Builder
		for _, c := range m.Contents {
			switch v := c.(type) {
			case *af.TextContent:
				text.WriteString(v.Text)
			case *af.FunctionCallContent:
				cm.ToolCalls = append(cm.ToolCalls, toolCall{
					ID:       v.CallID,
					Type:     "function",
					Function: functionCall{Name: v.Name, Arguments: v.Arguments},
				})
			}
		}
		if text.Len() > 0 {
			cm.Content = text.String()
		}
		return []chatMessage{cm}, nil

	default:
		cm := chatMessage{Role: string(m.Role), Name: m.AuthorName}
		parts := contentParts(m.Contents)
		switch {
		case len(parts) == 1 && parts[0].Type == "text":
			cm.Content = parts[0].Text
		case len(parts) > 0:
			cm.Content = parts
		}
		return []chatMessage{cm}, nil
	}
}

func contentParts(contents af.Contents) []contentPart {
	var parts []contentPart
	for _, c := range contents {
		switch v := c.(type) {
		case *af.TextContent:
			parts = append(parts, contentPart{Type: "text", Text: v.Text})
		case *af.DataContent:
			parts = append(parts, contentPart{Type: "image_url", ImageURL: &imageURL{URL: v.URI}})
		case *af.URIContent:
			parts = append(parts, contentPart{Type: "image_url", ImageURL: &imageURL{URL: v.URI}})
		}
	}
	return parts
}

func toolChoice(tc af.ToolChoice) any {
	if name, ok := strings.CutPrefix(string(tc), "function:"); ok {
		return map[string]any{"type": "function", "function": map[string]string{"name": name}}
	}
	if tc == "" {
		return nil
	}
	return string(tc)
}

// resultText renders a tool result as message content. Strings pass
// through; anything else is sent as JSON.
func resultText(v any) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	b, err := json.Marshal(v)
	return string(b), err
}
