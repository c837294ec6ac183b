// Copyright (c) Microsoft. All rights reserved.

package main

import (
	"cmp"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"

	af "github.com/jochenvw/agentrun/agentframework"
	"github.com/jochenvw/agentrun/anthropic"
	"github.com/jochenvw/agentrun/openai"
)

type chatClient interface {
	af.ChatClient
	io.Closer
}

// newChatClient builds the client for provider from the environment. For
// openai, AZURE_FOUNDRY_ENDPOINT selects Azure over api.openai.com, and
// Azure without AZURE_FOUNDRY_KEY signs in with DefaultAzureCredential.
func newChatClient(provider string, getenv func(string) string) (chatClient, error) {
	switch provider {
	case "anthropic":
		key := getenv("ANTHROPIC_API_KEY")
		if key == "" {
			return nil, errors.New("set ANTHROPIC_API_KEY")
		}
		var opts []anthropic.Option
		if model := getenv("ANTHROPIC_MODEL"); model != "" {
			opts = append(opts, anthropic.WithModel(model))
		}
		return anthropic.New(key, opts...), nil

	case "openai":
		endpoint := getenv("AZURE_FOUNDRY_ENDPOINT")
		if endpoint == "" {
			key := getenv("OPENAI_API_KEY")
			if key == "" {
				return nil, errors.New("set OPENAI_API_KEY or AZURE_FOUNDRY_ENDPOINT")
			}
			return openai.New(key, openai.WithModel("gpt-4o")), nil
		}

		opts := []openai.Option{
			openai.WithBaseURL(endpoint),
			openai.WithModel(cmp.Or(getenv("AZURE_FOUNDRY_MODEL"), "gpt-4o")),
		}
		if key := getenv("AZURE_FOUNDRY_KEY"); key != "" {
			slog.Debug("azure endpoint with api key", "endpoint", endpoint)
			return openai.New("", append(opts, openai.WithAzureKey(key))...), nil
		}
		cred, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, fmt.Errorf("azure credential: %w", err)
		}
		slog.Debug("azure endpoint with entra id", "endpoint", endpoint)
		return openai.New("", append(opts, openai.WithAzureCredential(cred))...), nil
	}
	return nil, fmt.Errorf("unknown provider %q", provider)
}
