// Copyright (c) Microsoft. All rights reserved.

package openai

import (
	"context"

	af "github.com/jochenvw/agentrun/agentframework"
)

// Client implements [agentframework.ChatClient] on the Chat Completions
// API of OpenAI and compatible services. Use [New] to create one.
type Client struct {
	ep      *endpoint
	model   string
	handler af.ChatHandler
}

var _ af.ChatClient = (*Client)(nil)

// New creates a [Client] sending apiKey as a bearer token, unless an
// Azure option picks another credential.
//
//	client := openai.New(os.Getenv("OPENAI_API_KEY"),
//	    openai.WithModel("gpt-4o"),
//	)
func New(apiKey string, opts ...Option) *Client {
	cfg := newConfig(apiKey, opts)
	c := &Client{ep: newEndpoint(cfg), model: cfg.model}
	c.handler = c.complete
	for i := len(cfg.chatMiddleware) - 1; i >= 0; i-- {
		c.handler = cfg.chatMiddleware[i](c.handler)
	}
	return c
}

// Close releases idle connections. The client must not be used afterwards.
func (c *Client) Close() error {
	c.ep.close()
	return nil
}

// Response sends one request and returns the complete reply. When opts
// asks for a structured format, a refusal or a reply cut short by the
// token limit is an error.
func (c *Client) Response(ctx context.Context, messages []af.Message, opts *af.ChatOptions) (*af.ChatResponse, error) {
	return c.handler(ctx, messages, opts)
}

func (c *Client) complete(ctx context.Context, messages []af.Message, opts *af.ChatOptions) (*af.ChatResponse, error) {
	req, err := newRequest(c.model, messages, opts)
	if err != nil {
		return nil, err
	}
	resp, err := c.ep.post(ctx, "/chat/completions", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	out, err := decodeCompletion(resp.Body, formatOf(opts))
	if err != nil {
		return nil, err
	}
	c.ep.logger.DebugContext(ctx, "openai response",
		"id", out.ResponseID,
		"model", out.ModelID,
		"finish_reason", string(out.FinishReason),
		"output_tokens", out.Usage.OutputTokens,
	)
	return out, nil
}

// StreamResponse streams one request as server-sent events. Text arrives
// as it is generated; tool calls arrive whole with the finish reason.
// Chat middleware does not apply to streams.
func (c *Client) StreamResponse(ctx context.Context, messages []af.Message, opts *af.ChatOptions) (*af.ResponseStream[af.ChatResponseUpdate], error) {
	req, err := newRequest(c.model, messages, opts)
	if err != nil {
		return nil, err
	}
	req.Stream = true
	req.StreamOptions = &streamOptions{IncludeUsage: true}

	resp, err := c.ep.post(ctx, "/chat/completions", req)
	if err != nil {
		return nil, err
	}
	dec := newSSEDecoder(formatOf(opts))
	return af.NewResponseStream(ctx, func(ctx context.Context, emit func(af.ChatResponseUpdate) error) error {
		// Closing the body unblocks a read parked on a stalled server.
		stop := context.AfterFunc(ctx, func() { resp.Body.Close() })
		defer stop()
		defer resp.Body.Close()
		return dec.decode(resp.Body, emit)
	}), nil
}

func formatOf(opts *af.ChatOptions) *af.ResponseFormat {
	if opts == nil {
		return nil
	}
	return opts.ResponseFormat
}
