// Copyright (c) Microsoft. All rights reserved.

package openai

import (
	"log/slog"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"

	af "github.com/jochenvw/agentrun/agentframework"
)

// Option configures a [Client].
type Option func(*config)

type config struct {
	baseURL        string
	model          string
	organization   string
	httpClient     *http.Client
	auth           authorizer
	logger         *slog.Logger
	chatMiddleware []af.ChatMiddleware
}

func newConfig(apiKey string, opts []Option) *config {
	cfg := &config{
		baseURL:    defaultBaseURL,
		httpClient: http.DefaultClient,
		auth:       bearerKey(apiKey),
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(cfg)
	}
	return cfg
}

// WithBaseURL points the client at another OpenAI-compatible API root,
// such as an Azure resource or a local runtime.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithModel sets the model, or Azure deployment, used when a request does
// not name one.
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithOrganization sends the OpenAI-Organization header.
func WithOrganization(org string) Option {
	return func(c *config) { c.organization = org }
}

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(client *http.Client) Option {
	return func(c *config) { c.httpClient = client }
}

// WithAzureKey authenticates with an Azure resource key sent in the
// api-key header. The key passed to [New] is ignored.
func WithAzureKey(key string) Option {
	return func(c *config) { c.auth = azureKey(key) }
}

// WithAzureCredential authenticates with Microsoft Entra ID tokens
// obtained from cred. The key passed to [New] is ignored.
func WithAzureCredential(cred azcore.TokenCredential) Option {
	return func(c *config) { c.auth = entraToken(cred) }
}

// WithLogger sets the logger for request diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// WithChatMiddleware wraps every request the client sends, first
// outermost.
func WithChatMiddleware(mw ...af.ChatMiddleware) Option {
	return func(c *config) { c.chatMiddleware = append(c.chatMiddleware, mw...) }
}
