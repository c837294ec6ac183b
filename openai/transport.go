// Copyright (c) Microsoft. All rights reserved.

package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"

	af "github.com/jochenvw/agentrun/agentframework"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"

	cognitiveServicesScope = "https://cognitiveservices.azure.com/.default"

	// maxErrorBody bounds how much of a failed response is read.
	maxErrorBody = 64 << 10
)

// authorizer puts credentials on an outgoing request.
type authorizer func(ctx context.Context, req *http.Request) error

func bearerKey(key string) authorizer {
	return func(_ context.Context, req *http.Request) error {
		req.Header.Set("Authorization", "Bearer "+key)
		return nil
	}
}

func azureKey(key string) authorizer {
	return func(_ context.Context, req *http.Request) error {
		req.Header.Set("api-key", key)
		return nil
	}
}

func entraToken(cred azcore.TokenCredential) authorizer {
	return func(ctx context.Context, req *http.Request) error {
		tok, err := cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{cognitiveServicesScope}})
		if err != nil {
			return fmt.Errorf("%w: entra token: %v", af.ErrAuth, err)
		}
		req.Header.Set("Authorization", "Bearer "+tok.Token)
		return nil
	}
}

// endpoint posts JSON to one API root.
type endpoint struct {
	client  *http.Client
	baseURL string
	org     string
	auth    authorizer
	logger  *slog.Logger
}

func newEndpoint(cfg *config) *endpoint {
	return &endpoint{
		client:  cfg.httpClient,
		baseURL: cfg.baseURL,
		org:     cfg.organization,
		auth:    cfg.auth,
		logger:  cfg.logger,
	}
}

// post sends body to path. A non-2xx reply is returned as a
// *af.ServiceError; otherwise the caller owns the response body.
func (e *endpoint) post(ctx context.Context, path string, body any) (*http.Response, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", af.ErrInvalidRequest, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", af.ErrInvalidRequest, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.org != "" {
		req.Header.Set("OpenAI-Organization", e.org)
	}
	if err := e.auth(ctx, req); err != nil {
		return nil, err
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", af.ErrService, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()
		svcErr := serviceError(resp)
		e.logger.DebugContext(ctx, "openai request failed",
			"path", path,
			"status", resp.StatusCode,
			"code", svcErr.Code,
		)
		return nil, svcErr
	}
	return resp, nil
}

func (e *endpoint) close() { e.client.CloseIdleConnections() }

// serviceError decodes the API's error envelope. A body that is not the
// envelope becomes the message verbatim.
func serviceError(resp *http.Response) *af.ServiceError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var envelope struct {
		Error struct {
			Message string `json:"message"`
			Code    any    `json:"code"`
		} `json:"error"`
	}
	svcErr := &af.ServiceError{StatusCode: resp.StatusCode, Message: string(body)}
	if json.Unmarshal(body, &envelope) == nil && envelope.Error.Message != "" {
		svcErr.Message = envelope.Error.Message
		// Azure sends numeric codes where OpenAI sends strings.
		if envelope.Error.Code != nil {
			svcErr.Code = fmt.Sprint(envelope.Error.Code)
		}
	}

	switch {
	case svcErr.Code == "content_filter":
		svcErr.Err = af.ErrContentFilter
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		svcErr.Err = af.ErrAuth
	case resp.StatusCode == http.StatusBadRequest, resp.StatusCode == http.StatusNotFound:
		svcErr.Err = af.ErrInvalidRequest
	default:
		svcErr.Err = af.ErrService
	}
	return svcErr
}
