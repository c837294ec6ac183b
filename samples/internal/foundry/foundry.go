// Copyright (c) Microsoft. All rights reserved.

// Package foundry builds the chat client shared by the Azure AI Foundry
// samples from their environment.
package foundry

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/joho/godotenv"

	"github.com/jochenvw/agentrun/openai"
)

const (
	EnvEndpoint   = "AZURE_AI_PROJECT_ENDPOINT"
	EnvDeployment = "AZURE_AI_MODEL_DEPLOYMENT_NAME"
)

// Setup loads .env if present and switches to debug logging when DEBUG is
// set.
func Setup() {
	_ = godotenv.Load()
	if os.Getenv("DEBUG") != "" {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}
}

// NewClient returns an OpenAI-compatible client for the project's model
// deployment, authenticated with the Azure CLI login.
func NewClient() (*openai.Client, error) {
	cred, err := azidentity.NewAzureCLICredential(nil)
	if err != nil {
		return nil, fmt.Errorf("azure cli credential: %w", err)
	}
	return NewClientWithCredential(cred)
}

// NewClientWithCredential is [NewClient] with an explicit credential.
func NewClientWithCredential(cred azcore.TokenCredential) (*openai.Client, error) {
	endpoint := os.Getenv(EnvEndpoint)
	deployment := os.Getenv(EnvDeployment)
	if endpoint == "" || deployment == "" {
		return nil, fmt.Errorf("set %s and %s", EnvEndpoint, EnvDeployment)
	}
	base, err := BaseURL(endpoint)
	if err != nil {
		return nil, err
	}
	slog.Debug("using azure ai foundry", "base_url", base, "deployment", deployment)
	return openai.New("",
		openai.WithBaseURL(base),
		openai.WithModel(deployment),
		openai.WithAzureCredential(cred),
	), nil
}

// BaseURL maps a project endpoint such as
// https://acct.services.ai.azure.com/api/projects/p onto the resource's
// OpenAI v1 API root.
func BaseURL(projectEndpoint string) (string, error) {
	u, err := url.Parse(projectEndpoint)
	if err != nil {
		return "", fmt.Errorf("parse %s: %w", EnvEndpoint, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", errors.New(EnvEndpoint + " must be an absolute URL")
	}
	return u.Scheme + "://" + u.Host + "/openai/v1", nil
}
