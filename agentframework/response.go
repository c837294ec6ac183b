// Copyright (c) Microsoft. All rights reserved.

package agentframework

import "strings"

// ChatResponse is one complete model reply.
type ChatResponse struct {
	Messages     []Message
	ResponseID   string
	ModelID      string
	FinishReason FinishReason
	Usage        UsageDetails
	Raw          any
}

// Text returns the reply's text.
func (r *ChatResponse) Text() string { return messagesText(r.Messages) }

// ChatResponseUpdate is one chunk of a streamed model reply.
type ChatResponseUpdate struct {
	Contents     Contents
	Role         Role
	ResponseID   string
	ModelID      string
	FinishReason FinishReason
	Usage        UsageDetails
	Raw          any
}

// Text returns the chunk's text.
func (u *ChatResponseUpdate) Text() string { return u.Contents.text() }

// ChatResponseFromUpdates reassembles a streamed reply. Consecutive text
// chunks become one [TextContent]; other contents keep their position.
func ChatResponseFromUpdates(updates []ChatResponseUpdate) *ChatResponse {
	resp := &ChatResponse{}
	var role Role
	var contents Contents
	for _, u := range updates {
		role = firstRole(role, u.Role)
		contents = append(contents, u.Contents...)
		resp.ResponseID = lastNonEmpty(resp.ResponseID, u.ResponseID)
		resp.ModelID = lastNonEmpty(resp.ModelID, u.ModelID)
		resp.FinishReason = lastNonEmpty(resp.FinishReason, u.FinishReason)
		if !u.Usage.IsZero() {
			resp.Usage = u.Usage
		}
	}
	resp.Messages = assembled(role, contents)
	return resp
}

// AgentResponse is the outcome of a run that reached Done.
type AgentResponse struct {
	// Messages holds the final answer, or the calls handed back to the
	// caller when the run paused on an approval or declaration-only tool.
	Messages []Message

	// Turns holds every turn the run produced, in order: tool-call
	// requests, tool results and the final answer. The caller's input is
	// not included.
	Turns []Message

	// Value is the coerced answer when a [ResponseFormat] was requested.
	Value StructuredValue

	// State is StateDone, unless middleware returned the response.
	State RunState

	// Rounds is the number of tool-dispatch rounds the run completed.
	Rounds int

	ResponseID string
	AgentID    string
	Usage      UsageDetails
	Raw        any
}

// Text returns the final answer's text.
func (r *AgentResponse) Text() string { return messagesText(r.Messages) }

// UserInputRequests returns the approval requests of a paused run.
func (r *AgentResponse) UserInputRequests() []Content {
	var reqs []Content
	for _, m := range r.Messages {
		for _, c := range m.Contents {
			if c.Type() == ContentTypeApprovalRequest {
				reqs = append(reqs, c)
			}
		}
	}
	return reqs
}

// AgentResponseUpdate is one chunk of [Agent.RunStream].
type AgentResponseUpdate struct {
	Contents   Contents
	Role       Role
	AgentID    string
	ResponseID string
	Usage      UsageDetails
	Raw        any
}

// Text returns the chunk's text.
func (u *AgentResponseUpdate) Text() string { return u.Contents.text() }

func agentResponseFromUpdates(updates []AgentResponseUpdate) *AgentResponse {
	resp := &AgentResponse{State: StateDone}
	var role Role
	var contents Contents
	for _, u := range updates {
		role = firstRole(role, u.Role)
		contents = append(contents, u.Contents...)
		resp.AgentID = lastNonEmpty(resp.AgentID, u.AgentID)
		resp.ResponseID = lastNonEmpty(resp.ResponseID, u.ResponseID)
		if !u.Usage.IsZero() {
			resp.Usage = u.Usage
		}
	}
	resp.Messages = assembled(role, contents)
	resp.Turns = resp.Messages
	return resp
}

func messagesText(msgs []Message) string {
	var b strings.Builder
	for i := range msgs {
		b.WriteString(msgs[i].Text())
	}
	return b.String()
}

func firstRole(cur, next Role) Role {
	if cur != "" {
		return cur
	}
	return next
}

func lastNonEmpty[S ~string](cur, next S) S {
	if next != "" {
		return next
	}
	return cur
}

// assembled joins streamed contents into a single message, merging runs of
// text deltas.
func assembled(role Role, cs Contents) []Message {
	var merged Contents
	var text strings.Builder
	flush := func() {
		if text.Len() > 0 {
			merged = append(merged, &TextContent{Text: text.String()})
			text.Reset()
		}
	}
	for _, c := range cs {
		if tc, ok := c.(*TextContent); ok {
			text.WriteString(tc.Text)
			continue
		}
		flush()
		merged = append(merged, c)
	}
	flush()
	if len(merged) == 0 {
		return nil
	}
	if role == "" {
		role = RoleAssistant
	}
	return []Message{{Role: role, Contents: merged}}
}
