// Copyright (c) Microsoft. All rights reserved.

package agentframework

// Role identifies who produced a turn.
type Role string

const (
	RoleUser Role = "user"
	// RoleAssistant marks agent turns: final answers and tool-call requests.
	RoleAssistant Role = "assistant"
	// RoleTool marks the result of one tool call.
	RoleTool Role = "tool"
	// RoleSystem is synthesized from instructions for each request and is
	// never stored in a thread.
	RoleSystem Role = "system"
)

// FinishReason says why the model stopped generating.
type FinishReason string

const (
	FinishReasonStop          FinishReason = "stop"
	FinishReasonLength        FinishReason = "length"
	FinishReasonToolCalls     FinishReason = "tool_calls"
	FinishReasonContentFilter FinishReason = "content_filter"
)

// Message is one turn of a conversation. Once appended to a [Thread] a
// message is never edited; stores hand out copies.
type Message struct {
	Role       Role     `json:"role"`
	Contents   Contents `json:"contents,omitempty"`
	AuthorName string   `json:"authorName,omitempty"`

	// Raw holds the provider's own representation. It is not persisted.
	Raw any `json:"-"`
}

// Text returns the concatenated text of the message.
func (m *Message) Text() string {
	return m.Contents.text()
}

// FunctionCalls returns the tool calls requested in this message, in order.
func (m *Message) FunctionCalls() []*FunctionCallContent {
	var calls []*FunctionCallContent
	for _, c := range m.Contents {
		if fc, ok := c.(*FunctionCallContent); ok {
			calls = append(calls, fc)
		}
	}
	return calls
}

// Clone returns a copy of m that shares no content values with it. Tool
// results and Raw are opaque and are shared.
func (m Message) Clone() Message {
	m.Contents = m.Contents.clone()
	return m
}

func cloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}

// NewUserMessage creates a user turn.
func NewUserMessage(text string) Message {
	return Message{Role: RoleUser, Contents: Contents{&TextContent{Text: text}}}
}

// NewAssistantMessage creates an assistant turn.
func NewAssistantMessage(text string) Message {
	return Message{Role: RoleAssistant, Contents: Contents{&TextContent{Text: text}}}
}

// NewSystemMessage creates a system message. It belongs in a request, not in
// a thread.
func NewSystemMessage(text string) Message {
	return Message{Role: RoleSystem, Contents: Contents{&TextContent{Text: text}}}
}

// NewToolMessage creates the tool turn answering callID.
func NewToolMessage(callID string, result any) Message {
	return Message{
		Role:     RoleTool,
		Contents: Contents{&FunctionResultContent{CallID: callID, Result: result}},
	}
}

// withInstructions returns the request context for one model call: a
// leading system message carrying instructions, then msgs.
func withInstructions(msgs []Message, instructions string) []Message {
	if instructions == "" {
		return msgs
	}
	out := make([]Message, 0, len(msgs)+1)
	out = append(out, NewSystemMessage(instructions))
	return append(out, msgs...)
}
