// Copyright (c) Microsoft. All rights reserved.

package openai

import (
	"bufio"
	"cmp"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"

	af "github.com/jochenvw/agentrun/agentframework"
)

// completion is both a chat.completion and a chat.completion.chunk. A
// complete reply fills Message; a chunk fills Delta.
type completion struct {
	ID      string      `json:"id"`
	Model   string      `json:"model"`
	Choices []wireChoice `json:"choices"`
	Usage   *wireUsage  `json:"usage,omitempty"`
}

type wireChoice struct {
	Message      wireReply `json:"message"`
	Delta        wireReply `json:"delta"`
	FinishReason *string   `json:"finish_reason"`
}

type wireReply struct {
	Role      string     `json:"role,omitempty"`
	Content   *string    `json:"content,omitempty"`
	Refusal   *string    `json:"refusal,omitempty"`
	ToolCalls []toolCall `json:"tool_calls,omitempty"`
}

type wireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (u *wireUsage) details() af.UsageDetails {
	if u == nil {
		return af.UsageDetails{}
	}
	return af.UsageDetails{
		InputTokens:  u.PromptTokens,
		OutputTokens: u.CompletionTokens,
		TotalTokens:  u.TotalTokens,
	}
}

// checkStructured rejects replies that cannot hold the requested
// structured value: a refusal, or JSON cut off by the token limit.
func checkStructured(rf *af.ResponseFormat, finish af.FinishReason, refusal string) error {
	if rf == nil {
		return nil
	}
	if refusal != "" {
		return &af.ServiceError{
			StatusCode: http.StatusOK,
			Code:       "refusal",
			Message:    refusal,
			Err:        af.ErrContentFilter,
		}
	}
	if finish == af.FinishReasonLength {
		return fmt.Errorf("%w: %s reply truncated by the token limit", af.ErrInvalidResponse, rf.Name)
	}
	return nil
}

// decodeCompletion turns a chat.completion body into a response. rf is the
// structured format the request asked for, if any.
func decodeCompletion(r io.Reader, rf *af.ResponseFormat) (*af.ChatResponse, error) {
	var raw completion
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: decode completion: %v", af.ErrInvalidResponse, err)
	}
	if len(raw.Choices) == 0 {
		return nil, fmt.Errorf("%w: completion %s has no choices", af.ErrInvalidResponse, raw.ID)
	}
	c := raw.Choices[0]
	resp := &af.ChatResponse{
		ResponseID:   raw.ID,
		ModelID:      raw.Model,
		FinishReason: finishReason(c.FinishReason),
		Usage:        raw.Usage.details(),
		Raw:          &raw,
	}
	refusal := deref(c.Message.Refusal)
	if err := checkStructured(rf, resp.FinishReason, refusal); err != nil {
		return nil, err
	}

	var contents af.Contents
	if text := cmp.Or(deref(c.Message.Content), refusal); text != "" {
		contents = append(contents, &af.TextContent{Text: text})
	}
	if refusal != "" {
		resp.FinishReason = af.FinishReasonContentFilter
	}
	for _, tc := range c.Message.ToolCalls {
		contents = append(contents, tc.content())
	}
	resp.Messages = []af.Message{{Role: af.Role(cmp.Or(c.Message.Role, string(af.RoleAssistant))), Contents: contents}}
	return resp, nil
}

// pendingCall collects the fragments of one streamed tool call.
type pendingCall struct {
	id, name string
	args     strings.Builder
}

// sseDecoder turns a chat.completion.chunk event stream into updates.
// Text is passed through as it arrives; tool calls are streamed as
// fragments keyed by index and are emitted whole with the finish reason.
type sseDecoder struct {
	rf      *af.ResponseFormat
	calls   map[int]*pendingCall
	refusal strings.Builder
}

func newSSEDecoder(rf *af.ResponseFormat) *sseDecoder {
	return &sseDecoder{rf: rf, calls: map[int]*pendingCall{}}
}

// decode reads events from r until [DONE] or EOF, handing each update to
// emit.
func (d *sseDecoder) decode(r io.Reader, emit func(af.ChatResponseUpdate) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)

	for scanner.Scan() {
		data, ok := strings.CutPrefix(scanner.Text(), "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			return nil
		}
		var chunk completion
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return fmt.Errorf("%w: decode chunk: %v", af.ErrInvalidResponse, err)
		}
		update, err := d.update(&chunk)
		if err != nil {
			return err
		}
		if update == nil {
			continue
		}
		if err := emit(*update); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("%w: read event stream: %v", af.ErrService, err)
	}
	return nil
}

// update folds one chunk into the decoder. It returns nil when the chunk
// carried nothing worth emitting yet.
func (d *sseDecoder) update(chunk *completion) (*af.ChatResponseUpdate, error) {
	u := &af.ChatResponseUpdate{
		ResponseID: chunk.ID,
		ModelID:    chunk.Model,
		Usage:      chunk.Usage.details(),
		Raw:        chunk,
	}
	if len(chunk.Choices) > 0 {
		c := chunk.Choices[0]
		u.Role = af.Role(c.Delta.Role)
		if text := deref(c.Delta.Content); text != "" {
			u.Contents = append(u.Contents, &af.TextContent{Text: text})
		}
		d.refusal.WriteString(deref(c.Delta.Refusal))
		for _, tc := range c.Delta.ToolCalls {
			d.collect(tc)
		}
		if c.FinishReason != nil {
			u.FinishReason = finishReason(c.FinishReason)
			if err := checkStructured(d.rf, u.FinishReason, d.refusal.String()); err != nil {
				return nil, err
			}
			if d.refusal.Len() > 0 {
				u.Contents = append(u.Contents, &af.TextContent{Text: d.refusal.String()})
				u.FinishReason = af.FinishReasonContentFilter
			}
			u.Contents = append(u.Contents, d.flush()...)
		}
	}
	if u.Role == "" && len(u.Contents) == 0 && u.FinishReason == "" && u.Usage.IsZero() {
		return nil, nil
	}
	return u, nil
}

func (d *sseDecoder) collect(tc toolCall) {
	p, ok := d.calls[tc.Index]
	if !ok {
		p = &pendingCall{}
		d.calls[tc.Index] = p
	}
	p.id = cmp.Or(p.id, tc.ID)
	p.name = cmp.Or(p.name, tc.Function.Name)
	p.args.WriteString(tc.Function.Arguments)
}

// flush returns the collected tool calls in index order.
func (d *sseDecoder) flush() af.Contents {
	indexes := make([]int, 0, len(d.calls))
	for i := range d.calls {
		indexes = append(indexes, i)
	}
	slices.Sort(indexes)
	out := make(af.Contents, 0, len(indexes))
	for _, i := range indexes {
		p := d.calls[i]
		out = append(out, &af.FunctionCallContent{CallID: p.id, Name: p.name, Arguments: p.args.String()})
	}
	clear(d.calls)
	return out
}

func (tc toolCall) content() *af.FunctionCallContent {
	return &af.FunctionCallContent{CallID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments}
}

func finishReason(s *string) af.FinishReason {
	switch deref(s) {
	case "":
		return ""
	case "stop":
		return af.FinishReasonStop
	case "length":
		return af.FinishReasonLength
	case "tool_calls", "function_call":
		return af.FinishReasonToolCalls
	case "content_filter":
		return af.FinishReasonContentFilter
	default:
		return af.FinishReason(*s)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
