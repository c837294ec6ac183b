// Copyright (c) Microsoft. All rights reserved.

package anthropic

import (
	"net/http"

	af "github.com/jochenvw/agentrun/agentframework"
)

const (
	defaultModel     = "claude-sonnet-4-5"
	defaultMaxTokens = 4096
)

type clientConfig struct {
	baseURL        string
	httpClient     *http.Client
	model          string
	maxTokens      int
	chatMiddleware []af.ChatMiddleware
}

// Option configures an Anthropic [Client].
type Option func(*clientConfig)

// WithModel sets the default model. ChatOptions.ModelID overrides it per
// request.
func WithModel(model string) Option {
	return func(c *clientConfig) { c.model = model }
}

// WithBaseURL overrides the API endpoint.
func WithBaseURL(url string) Option {
	return func(c *clientConfig) { c.baseURL = url }
}

// WithHTTPClient provides the http.Client used for requests.
func WithHTTPClient(client *http.Client) Option {
	return func(c *clientConfig) { c.httpClient = client }
}

// WithMaxTokens sets the output token cap used when ChatOptions.MaxTokens
// is unset. The Messages API requires one on every request.
func WithMaxTokens(n int) Option {
	return func(c *clientConfig) { c.maxTokens = n }
}

// WithChatMiddleware wraps the client's round trip.
func WithChatMiddleware(mw ...af.ChatMiddleware) Option {
	return func(c *clientConfig) { c.chatMiddleware = append(c.chatMiddleware, mw...) }
}
