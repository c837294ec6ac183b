// Copyright (c) Microsoft. All rights reserved.

// Package openai is a [agentframework.ChatClient] for the Chat Completions
// API, as served by OpenAI, Azure AI Foundry and local OpenAI-compatible
// runtimes.
//
//	client := openai.New(os.Getenv("OPENAI_API_KEY"), openai.WithModel("gpt-4o"))
//	defer client.Close()
//
//	agent := agentframework.NewAgent(client)
//
// A typed [agentframework.ResponseFormat] is sent as a strict json_schema
// response_format. A reply to such a request that is a refusal, or that
// was cut off by the token limit, is returned as an error instead of text
// the agent would then fail to coerce.
//
// Streamed tool calls arrive in fragments; the client assembles them and
// emits each call whole in the update that carries the finish reason.
//
// # Authentication
//
// The key passed to [New] is sent as a bearer token. [WithAzureKey] sends
// an Azure resource key instead, and [WithAzureCredential] uses Microsoft
// Entra ID tokens from any azcore.TokenCredential.
//
// # Testing
//
// Pass an http.Client with a fake RoundTripper via [WithHTTPClient].
package openai
