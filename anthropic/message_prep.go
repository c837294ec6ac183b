// Copyright (c) Microsoft. All rights reserved.

package anthropic

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	af "github.com/jochenvw/agentrun/agentframework"
)

// buildParams converts framework messages and options into a Messages API
// request.
func buildParams(messages []af.Message, opts *af.ChatOptions, model string, maxTokens int) (anthropic.MessageNewParams, error) {
	if opts == nil {
		opts = &af.ChatOptions{}
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
	}
	if opts.ModelID != "" {
		params.Model = anthropic.Model(opts.ModelID)
	}
	if opts.MaxTokens != nil {
		params.MaxTokens = int64(*opts.MaxTokens)
	}
	if opts.Temperature != nil {
		params.Temperature = anthropic.Float(*opts.Temperature)
	}
	if opts.TopP != nil {
		params.TopP = anthropic.Float(*opts.TopP)
	}
	if len(opts.Stop) > 0 {
		params.StopSequences = opts.Stop
	}
	if opts.User != "" {
		params.Metadata = anthropic.MetadataParam{UserID: anthropic.String(opts.User)}
	}

	system, turns := convertMessages(messages)
	if opts.ResponseFormat != nil {
		system = append(system, anthropic.TextBlockParam{Text: formatInstruction(opts.ResponseFormat)})
	}
	params.System = system
	params.Messages = turns

	for _, t := range opts.Tools {
		tool, err := convertTool(t)
		if err != nil {
			return params, err
		}
		params.Tools = append(params.Tools, tool)
	}
	if len(params.Tools) > 0 {
		params.ToolChoice = convertToolChoice(opts.ToolChoice)
	}
	return params, nil
}

// convertMessages splits system messages off into the system prompt and
// converts the rest into alternating user and assistant turns. Tool
// results travel as tool_result blocks on a user turn.
func convertMessages(messages []af.Message) ([]anthropic.TextBlockParam, []anthropic.MessageParam) {
	var system []anthropic.TextBlockParam
	var turns []anthropic.MessageParam

	for _, msg := range messages {
		if msg.Role == af.RoleSystem {
			if text := msg.Text(); text != "" {
				system = append(system, anthropic.TextBlockParam{Text: text})
			}
			continue
		}

		role := anthropic.MessageParamRoleUser
		if msg.Role == af.RoleAssistant {
			role = anthropic.MessageParamRoleAssistant
		}
		blocks := convertContents(msg.Contents)
		if len(blocks) == 0 {
			continue
		}
		if n := len(turns); n > 0 && turns[n-1].Role == role {
			turns[n-1].Content = append(turns[n-1].Content, blocks...)
			continue
		}
		turns = append(turns, anthropic.MessageParam{Role: role, Content: blocks})
	}
	return system, turns
}

func convertContents(contents af.Contents) []anthropic.ContentBlockParamUnion {
	var blocks []anthropic.ContentBlockParamUnion
	for _, c := range contents {
		switch v := c.(type) {
		case *af.TextContent:
			if v.Text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(v.Text))
			}
		case *af.FunctionCallContent:
			var input any = map[string]any{}
			if v.Arguments != "" {
				if err := json.Unmarshal([]byte(v.Arguments), &input); err != nil {
					input = map[string]any{"raw": v.Arguments}
				}
			}
			blocks = append(blocks, anthropic.NewToolUseBlock(v.CallID, input, v.Name))
		case *af.FunctionResultContent:
			blocks = append(blocks, anthropic.NewToolResultBlock(v.CallID, resultString(v.Result), false))
		}
	}
	return blocks
}

func resultString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func convertTool(t af.Tool) (anthropic.ToolUnionParam, error) {
	var schema struct {
		Properties any      `json:"properties"`
		Required   []string `json:"required"`
	}
	if params := t.Parameters(); len(params) > 0 {
		if err := json.Unmarshal(params, &schema); err != nil {
			return anthropic.ToolUnionParam{}, fmt.Errorf("%w: tool %q parameters: %v", af.ErrInvalidRequest, t.Name(), err)
		}
	}
	if schema.Properties == nil {
		schema.Properties = map[string]any{}
	}
	tool := anthropic.ToolUnionParamOfTool(anthropic.ToolInputSchemaParam{
		Type:       constant.Object("object"),
		Properties: schema.Properties,
		Required:   schema.Required,
	}, t.Name())
	if d := t.Description(); d != "" {
		tool.OfTool.Description = anthropic.String(d)
	}
	return tool, nil
}

func convertToolChoice(tc af.ToolChoice) anthropic.ToolChoiceUnionParam {
	switch tc {
	case "", af.ToolChoiceAuto:
		return anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}
	case af.ToolChoiceRequired:
		return anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}}
	case af.ToolChoiceNone:
		return anthropic.ToolChoiceUnionParam{OfNone: &anthropic.ToolChoiceNoneParam{}}
	}
	if name, ok := strings.CutPrefix(string(tc), "function:"); ok {
		return anthropic.ToolChoiceUnionParam{OfTool: &anthropic.ToolChoiceToolParam{Name: name}}
	}
	return anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}
}

func formatInstruction(rf *af.ResponseFormat) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Answer with a single JSON object for %q and nothing else.", rf.Name)
	if rf.Description != "" {
		fmt.Fprintf(&b, " %s.", strings.TrimSuffix(rf.Description, "."))
	}
	b.WriteString(" Use null for any value you do not know. The object must match this JSON schema:\n")
	b.Write(rf.JSONSchema())
	return b.String()
}
