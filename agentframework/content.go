// Copyright (c) Microsoft. All rights reserved.

package agentframework

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ContentType is the "$type" discriminator of a [Content] in its stored
// JSON form.
type ContentType string

const (
	ContentTypeText            ContentType = "text"
	ContentTypeTextReasoning   ContentType = "reasoning"
	ContentTypeData            ContentType = "data"
	ContentTypeURI             ContentType = "uri"
	ContentTypeFunctionCall    ContentType = "functionCall"
	ContentTypeFunctionResult  ContentType = "functionResult"
	ContentTypeApprovalRequest ContentType = "functionApprovalRequest"
)

// Content is one part of a turn: text for user and assistant turns, a
// [FunctionCallContent] per requested tool call, a [FunctionResultContent]
// in tool turns. The set of implementations is closed.
type Content interface {
	Type() ContentType

	clone() Content
}

var contentTypes = map[ContentType]func() Content{
	ContentTypeText:            func() Content { return &TextContent{} },
	ContentTypeTextReasoning:   func() Content { return &TextReasoningContent{} },
	ContentTypeData:            func() Content { return &DataContent{} },
	ContentTypeURI:             func() Content { return &URIContent{} },
	ContentTypeFunctionCall:    func() Content { return &FunctionCallContent{} },
	ContentTypeFunctionResult:  func() Content { return &FunctionResultContent{} },
	ContentTypeApprovalRequest: func() Content { return &ApprovalRequestContent{} },
}

// TextContent holds plain text.
type TextContent struct {
	Text string `json:"text"`
}

func (c *TextContent) Type() ContentType { return ContentTypeText }
func (c *TextContent) clone() Content    { cp := *c; return &cp }

// TextReasoningContent holds reasoning some models emit next to the answer.
type TextReasoningContent struct {
	Text string `json:"text,omitempty"`
}

func (c *TextReasoningContent) Type() ContentType { return ContentTypeTextReasoning }
func (c *TextReasoningContent) clone() Content    { cp := *c; return &cp }

// DataContent holds inline binary data as a data URI.
type DataContent struct {
	URI       string `json:"uri"` // data:image/png;base64,...
	MediaType string `json:"mediaType,omitempty"`
}

func (c *DataContent) Type() ContentType { return ContentTypeData }
func (c *DataContent) clone() Content    { cp := *c; return &cp }

// URIContent references external content.
type URIContent struct {
	URI       string `json:"uri"`
	MediaType string `json:"mediaType,omitempty"`
}

func (c *URIContent) Type() ContentType { return ContentTypeURI }
func (c *URIContent) clone() Content    { cp := *c; return &cp }

// FunctionCallContent is a tool call requested by the model. Arguments is
// the JSON text exactly as the model produced it, well-formed or not.
type FunctionCallContent struct {
	CallID    string `json:"callId"`
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"`
}

func (c *FunctionCallContent) Type() ContentType { return ContentTypeFunctionCall }
func (c *FunctionCallContent) clone() Content    { cp := *c; return &cp }

// FunctionResultContent answers the [FunctionCallContent] with the same
// CallID.
type FunctionResultContent struct {
	CallID string `json:"callId"`
	Result any    `json:"result,omitempty"`
}

func (c *FunctionResultContent) Type() ContentType { return ContentTypeFunctionResult }
func (c *FunctionResultContent) clone() Content    { cp := *c; return &cp }

// ApprovalRequestContent hands a tool call that needs approval back to the
// caller. The loop never invokes it.
type ApprovalRequestContent struct {
	CallID    string `json:"callId"`
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"`
}

func (c *ApprovalRequestContent) Type() ContentType { return ContentTypeApprovalRequest }
func (c *ApprovalRequestContent) clone() Content    { cp := *c; return &cp }

// Contents is the ordered payload of a [Message]. It marshals to a JSON
// array of "$type"-tagged objects.
type Contents []Content

func (cs Contents) text() string {
	var b strings.Builder
	for _, c := range cs {
		if tc, ok := c.(*TextContent); ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}

func (cs Contents) clone() Contents {
	if cs == nil {
		return nil
	}
	out := make(Contents, len(cs))
	for i, c := range cs {
		if c != nil {
			out[i] = c.clone()
		}
	}
	return out
}

func (cs Contents) MarshalJSON() ([]byte, error) {
	items := make([]json.RawMessage, len(cs))
	for i, c := range cs {
		b, err := MarshalContentJSON(c)
		if err != nil {
			return nil, fmt.Errorf("content[%d]: %w", i, err)
		}
		items[i] = b
	}
	return json.Marshal(items)
}

func (cs *Contents) UnmarshalJSON(data []byte) error {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	out := make(Contents, len(items))
	for i, item := range items {
		c, err := UnmarshalContentJSON(item)
		if err != nil {
			return fmt.Errorf("content[%d]: %w", i, err)
		}
		out[i] = c
	}
	*cs = out
	return nil
}

// MarshalContentJSON encodes c as a JSON object carrying its fields and a
// "$type" discriminator. Persistent thread stores rely on this envelope.
func MarshalContentJSON(c Content) ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("marshal content: nil")
	}
	if _, ok := contentTypes[c.Type()]; !ok {
		return nil, fmt.Errorf("marshal content: unknown type %T", c)
	}
	fields, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal %s content: %w", c.Type(), err)
	}
	tag, _ := json.Marshal(string(c.Type()))

	var b bytes.Buffer
	b.WriteString(`{"$type":`)
	b.Write(tag)
	if rest := bytes.TrimPrefix(fields, []byte("{")); !bytes.Equal(rest, []byte("}")) {
		b.WriteByte(',')
		b.Write(rest)
	} else {
		b.WriteByte('}')
	}
	return b.Bytes(), nil
}

// UnmarshalContentJSON decodes one envelope written by [MarshalContentJSON].
func UnmarshalContentJSON(data []byte) (Content, error) {
	var env struct {
		Type ContentType `json:"$type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal content envelope: %w", err)
	}
	newContent, ok := contentTypes[env.Type]
	if !ok {
		return nil, fmt.Errorf("unmarshal content: unknown $type %q", env.Type)
	}
	c := newContent()
	if err := json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("unmarshal %s content: %w", env.Type, err)
	}
	return c, nil
}

// MarshalMessageJSON encodes a message, contents included, for storage.
func MarshalMessageJSON(m Message) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal %s message: %w", m.Role, err)
	}
	return b, nil
}

// UnmarshalMessageJSON decodes a message produced by [MarshalMessageJSON].
func UnmarshalMessageJSON(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("unmarshal message: %w", err)
	}
	return m, nil
}
