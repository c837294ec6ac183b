// Copyright (c) Microsoft. All rights reserved.

package anthropic

import (
	"encoding/json"

	"github.com/anthropics/anthropic-sdk-go"

	af "github.com/jochenvw/agentrun/agentframework"
)

// parseMessage converts a Messages API reply into framework types.
func parseMessage(msg *anthropic.Message) *af.ChatResponse {
	reply := af.Message{Role: af.RoleAssistant, Contents: convertBlocks(msg.Content)}
	resp := &af.ChatResponse{
		ResponseID:   msg.ID,
		ModelID:      string(msg.Model),
		FinishReason: mapStopReason(msg.StopReason),
		Usage:        convertUsage(msg.Usage),
	}
	if len(reply.Contents) > 0 {
		resp.Messages = []af.Message{reply}
	}
	return resp
}

// finalUpdate carries what a stream only knows once the message is
// complete: tool calls, usage and the finish reason.
func finalUpdate(acc *anthropic.Message) *af.ChatResponseUpdate {
	update := &af.ChatResponseUpdate{
		Role:         af.RoleAssistant,
		ResponseID:   acc.ID,
		ModelID:      string(acc.Model),
		FinishReason: mapStopReason(acc.StopReason),
		Usage:        convertUsage(acc.Usage),
	}
	for _, c := range convertBlocks(acc.Content) {
		if _, ok := c.(*af.FunctionCallContent); ok {
			update.Contents = append(update.Contents, c)
		}
	}
	return update
}

func convertBlocks(blocks []anthropic.ContentBlockUnion) af.Contents {
	var contents af.Contents
	for _, block := range blocks {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			if b.Text != "" {
				contents = append(contents, &af.TextContent{Text: b.Text})
			}
		case anthropic.ThinkingBlock:
			contents = append(contents, &af.TextReasoningContent{Text: b.Thinking})
		case anthropic.ToolUseBlock:
			args, err := json.Marshal(b.Input)
			if err != nil || len(args) == 0 || string(args) == "null" {
				args = []byte("{}")
			}
			contents = append(contents, &af.FunctionCallContent{
				CallID:    b.ID,
				Name:      b.Name,
				Arguments: string(args),
			})
		}
	}
	return contents
}

func convertUsage(u anthropic.Usage) af.UsageDetails {
	return af.UsageDetails{
		InputTokens:  int(u.InputTokens),
		OutputTokens: int(u.OutputTokens),
		TotalTokens:  int(u.InputTokens + u.OutputTokens),
	}
}

func mapStopReason(r anthropic.StopReason) af.FinishReason {
	switch r {
	case anthropic.StopReasonEndTurn, anthropic.StopReasonStopSequence:
		return af.FinishReasonStop
	case anthropic.StopReasonMaxTokens:
		return af.FinishReasonLength
	case anthropic.StopReasonToolUse:
		return af.FinishReasonToolCalls
	case anthropic.StopReasonRefusal:
		return af.FinishReasonContentFilter
	default:
		return af.FinishReason(r)
	}
}
