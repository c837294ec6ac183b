// Copyright (c) Microsoft. All rights reserved.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/google/uuid"

	af "github.com/jochenvw/agentrun/agentframework"
)

// codeFence unwraps a reply wrapped in a markdown code block.
var codeFence = regexp.MustCompile("(?s)^```(?:json)?\\s*(.*?)\\s*```$")

var errNotToolCalls = errors.New("not a tool call array")

// ToolCallWorkaroundMiddleware turns a text reply that spells out tool
// calls, as in [{"get_time": {}}], into function calls. Some local runtimes
// answer that way instead of filling tool_calls. Only tools offered in the
// request are recognised, so a reply that merely contains JSON is left
// alone.
//
// It must run as chat middleware, ahead of the agent's dispatch.
func ToolCallWorkaroundMiddleware(logger *slog.Logger) af.ChatMiddleware {
	return func(next af.ChatHandler) af.ChatHandler {
		return func(ctx context.Context, messages []af.Message, opts *af.ChatOptions) (*af.ChatResponse, error) {
			resp, err := next(ctx, messages, opts)
			if err != nil || resp == nil || opts == nil || len(opts.Tools) == 0 {
				return resp, err
			}
			offered := make(map[string]bool, len(opts.Tools))
			for _, t := range opts.Tools {
				offered[t.Name()] = true
			}

			for i := range resp.Messages {
				msg := &resp.Messages[i]
				if msg.Role != af.RoleAssistant || len(msg.FunctionCalls()) > 0 {
					continue
				}
				calls, err := parseToolCalls(msg.Text(), offered)
				if err != nil {
					logger.DebugContext(ctx, "reply kept as text", "reason", err)
					continue
				}
				round, _ := af.RoundFromContext(ctx)
				logger.InfoContext(ctx, "rewrote text reply as tool calls",
					"round", round.Index,
					"calls", len(calls),
				)
				msg.Contents = calls
				resp.FinishReason = af.FinishReasonToolCalls
			}
			return resp, nil
		}
	}
}

// parseToolCalls reads text as [{"name": {args}}, ...]. Every name must be
// in offered. Call ids are fresh so they stay unique across a thread.
func parseToolCalls(text string, offered map[string]bool) (af.Contents, error) {
	text = strings.TrimSpace(text)
	if m := codeFence.FindStringSubmatch(text); m != nil {
		text = m[1]
	}
	if !strings.HasPrefix(text, "[") {
		return nil, errNotToolCalls
	}

	var entries []map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", errNotToolCalls, err)
	}
	if len(entries) == 0 {
		return nil, errNotToolCalls
	}

	calls := make(af.Contents, 0, len(entries))
	for i, entry := range entries {
		if len(entry) != 1 {
			return nil, fmt.Errorf("%w: entry %d has %d keys", errNotToolCalls, i, len(entry))
		}
		for name, args := range entry {
			if !offered[name] {
				return nil, fmt.Errorf("%w: %q is not an offered tool", errNotToolCalls, name)
			}
			var compact bytes.Buffer
			if err := json.Compact(&compact, args); err != nil {
				return nil, fmt.Errorf("%w: arguments of %s: %v", errNotToolCalls, name, err)
			}
			calls = append(calls, &af.FunctionCallContent{
				CallID:    "call_local_" + uuid.NewString(),
				Name:      name,
				Arguments: compact.String(),
			})
		}
	}
	return calls, nil
}
