// Copyright (c) Microsoft. All rights reserved.

// Package anthropic provides a [agentframework.ChatClient] backed by the
// Anthropic Messages API, built on the official anthropic-sdk-go client.
//
//	client := anthropic.New(os.Getenv("ANTHROPIC_API_KEY"),
//	    anthropic.WithModel("claude-sonnet-4-5"),
//	)
//	defer client.Close()
//
//	agent := agentframework.NewAgent(client)
//
// System messages are lifted into the request's system prompt, tool
// results are sent back as tool_result blocks on a user turn, and
// consecutive turns with the same role are merged.
//
// The Messages API has no native structured output mode. When a
// [agentframework.ResponseFormat] is requested its JSON schema is
// appended to the system prompt and the agent's coercer parses the
// answer.
//
// The SDK's own retries are disabled. A failed round trip is reported
// to the agent unchanged.
package anthropic
