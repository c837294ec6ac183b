// Copyright (c) Microsoft. All rights reserved.

package anthropic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	af "github.com/jochenvw/agentrun/agentframework"
)

// Client implements [agentframework.ChatClient] on the Anthropic Messages
// API. Use [New] to create one.
type Client struct {
	sdk        anthropic.Client
	httpClient *http.Client
	model      string
	maxTokens  int
	handler    af.ChatHandler
}

var _ af.ChatClient = (*Client)(nil)

// New creates a [Client] authenticating with apiKey.
func New(apiKey string, opts ...Option) *Client {
	cfg := &clientConfig{model: defaultModel, maxTokens: defaultMaxTokens}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.httpClient == nil {
		cfg.httpClient = &http.Client{}
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(cfg.httpClient),
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}

	c := &Client{
		sdk:        anthropic.NewClient(reqOpts...),
		httpClient: cfg.httpClient,
		model:      cfg.model,
		maxTokens:  cfg.maxTokens,
	}
	c.handler = c.coreResponse
	for i := len(cfg.chatMiddleware) - 1; i >= 0; i-- {
		c.handler = cfg.chatMiddleware[i](c.handler)
	}
	return c
}

// Response sends one Messages API request and returns the complete reply.
func (c *Client) Response(ctx context.Context, messages []af.Message, opts *af.ChatOptions) (*af.ChatResponse, error) {
	return c.handler(ctx, messages, opts)
}

func (c *Client) coreResponse(ctx context.Context, messages []af.Message, opts *af.ChatOptions) (*af.ChatResponse, error) {
	params, err := buildParams(messages, opts, c.model, c.maxTokens)
	if err != nil {
		return nil, err
	}
	msg, err := c.sdk.Messages.New(ctx, params)
	if err != nil {
		return nil, mapError(err)
	}
	slog.DebugContext(ctx, "anthropic response",
		"id", msg.ID,
		"stop_reason", string(msg.StopReason),
		"blocks", len(msg.Content),
	)
	resp := parseMessage(msg)
	resp.Raw = msg
	return resp, nil
}

// StreamResponse streams one Messages API request. Text arrives as it is
// generated; tool calls, usage and the finish reason arrive in the last
// update.
func (c *Client) StreamResponse(ctx context.Context, messages []af.Message, opts *af.ChatOptions) (*af.ResponseStream[af.ChatResponseUpdate], error) {
	params, err := buildParams(messages, opts, c.model, c.maxTokens)
	if err != nil {
		return nil, err
	}
	stream := c.sdk.Messages.NewStreaming(ctx, params)

	return af.NewResponseStream(ctx, func(ctx context.Context, emit func(af.ChatResponseUpdate) error) error {
		defer stream.Close()

		var acc anthropic.Message
		for stream.Next() {
			event := stream.Current()
			if err := acc.Accumulate(event); err != nil {
				return fmt.Errorf("%w: accumulate stream: %v", af.ErrInvalidResponse, err)
			}

			var update *af.ChatResponseUpdate
			switch ev := event.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				if d, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok && d.Text != "" {
					update = &af.ChatResponseUpdate{
						Role:       af.RoleAssistant,
						ResponseID: acc.ID,
						ModelID:    string(acc.Model),
						Contents:   af.Contents{&af.TextContent{Text: d.Text}},
					}
				}
			case anthropic.MessageStopEvent:
				update = finalUpdate(&acc)
			}
			if update == nil {
				continue
			}
			update.Raw = event
			if err := emit(*update); err != nil {
				return err
			}
		}
		if err := stream.Err(); err != nil {
			return mapError(err)
		}
		return nil
	}), nil
}

// Close releases idle connections. The client must not be used afterwards.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// mapError translates SDK API errors into [agentframework.ServiceError].
func mapError(err error) error {
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("anthropic request: %w", err)
	}
	svcErr := &af.ServiceError{
		StatusCode: apiErr.StatusCode,
		Message:    apiErr.Error(),
	}
	switch {
	case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
		svcErr.Err = af.ErrAuth
	case apiErr.StatusCode == http.StatusBadRequest:
		svcErr.Err = af.ErrInvalidRequest
	default:
		svcErr.Err = af.ErrService
	}
	return svcErr
}
