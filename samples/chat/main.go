// Copyright (c) Microsoft. All rights reserved.

// Command chat is a multi-turn conversation with tool use against OpenAI,
// an Azure OpenAI-compatible endpoint or Anthropic.
//
//	export OPENAI_API_KEY=sk-...
//	go run .
//
//	export AZURE_FOUNDRY_ENDPOINT=https://<project>.services.ai.azure.com/openai/deployments/<deployment>
//	export AZURE_FOUNDRY_KEY=<key>       # omit to sign in with DefaultAzureCredential
//	export AZURE_FOUNDRY_MODEL=gpt-4o    # optional
//	go run .
//
//	export ANTHROPIC_API_KEY=sk-ant-...
//	go run . -provider anthropic
//
// Conversations are kept in memory unless -store sqlite is given. A SQLite
// thread can be resumed later with -thread <id>.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	af "github.com/jochenvw/agentrun/agentframework"
	"github.com/jochenvw/agentrun/samples/internal/foundry"
	"github.com/jochenvw/agentrun/stores/sqlitestore"
)

const instructions = "You are a helpful assistant. Use get_weather for weather questions and get_time for the time. Keep responses concise."

func main() {
	provider := flag.String("provider", "openai", "model provider: openai or anthropic")
	storeKind := flag.String("store", "memory", "thread store: memory or sqlite")
	dbPath := flag.String("db", "chat.db", "SQLite database path for -store sqlite")
	threadID := flag.String("thread", "", "resume an existing thread id (sqlite store only)")
	flag.Parse()
	foundry.Setup()

	if err := run(context.Background(), *provider, *storeKind, *dbPath, *threadID); err != nil {
		slog.Error("chat", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, provider, storeKind, dbPath, threadID string) error {
	if threadID != "" && storeKind != "sqlite" {
		return errors.New("-thread needs -store sqlite")
	}
	client, err := newChatClient(provider, os.Getenv)
	if err != nil {
		return err
	}
	defer client.Close()

	var store af.ThreadStore = af.NewInMemoryStore()
	if storeKind == "sqlite" {
		s, err := sqlitestore.Open(ctx, dbPath)
		if err != nil {
			return err
		}
		defer s.Close()
		store = s
	}

	agent := af.NewAgent(client,
		af.WithName("assistant"),
		af.WithInstructions(instructions),
		af.WithTools(tools()...),
		af.WithThreadStore(store),
		af.WithAgentMiddleware(af.LoggingMiddleware(slog.Default())),
		af.WithInvocationConfig(af.InvocationConfig{
			MaxToolRounds:        10,
			MaxConsecutiveErrors: 3,
			OnToolError:          af.ReportToolErrors(false),
		}),
	)

	thread, err := openThread(ctx, agent, threadID)
	if err != nil {
		return err
	}
	if storeKind == "sqlite" {
		fmt.Printf("Thread %s (resume with -thread %[1]s)\n", thread.ID())
	}
	return converse(ctx, agent, thread, os.Stdin, os.Stdout)
}

// openThread resumes id, or starts a new thread when id is empty.
func openThread(ctx context.Context, agent *af.Agent, id string) (*af.Thread, error) {
	if id == "" {
		return agent.NewThread(ctx)
	}
	thread := agent.ResumeThread(id)
	history, err := thread.Messages(ctx)
	if err != nil {
		return nil, fmt.Errorf("resume thread: %w", err)
	}
	fmt.Printf("Resumed thread %s (%d turns)\n", id, len(history))
	return thread, nil
}

type weatherArgs struct {
	Location string `json:"location" jsonschema:"description=City name or location,required"`
	Unit     string `json:"unit"     jsonschema:"description=Temperature unit,enum=celsius|fahrenheit"`
}

func tools() []af.Tool {
	weather := func(_ context.Context, a weatherArgs) (any, error) {
		if a.Unit == "celsius" {
			return map[string]any{"location": a.Location, "temperature": 22, "unit": "celsius", "condition": "sunny"}, nil
		}
		return map[string]any{"location": a.Location, "temperature": 72, "unit": "fahrenheit", "condition": "sunny"}, nil
	}
	clock := func(context.Context, json.RawMessage) (any, error) { return "2025-01-15T10:30:00Z", nil }

	return []af.Tool{
		af.NewTypedTool("get_weather", "Get the current weather for a location.", weather),
		af.NewTool("get_time", "Get the current time.", json.RawMessage(`{"type":"object","properties":{}}`), clock),
	}
}

// converse reads lines from in until EOF or "quit" and answers each on
// thread. A "stream " prefix streams the answer.
func converse(ctx context.Context, agent *af.Agent, thread *af.Thread, in io.Reader, out io.Writer) error {
	fmt.Fprint(out, "Chat with the assistant (type 'quit' to exit, 'stream' prefix for streaming)\n\n")

	scanner := bufio.NewScanner(in)
	for fmt.Fprint(out, "You: "); scanner.Scan(); fmt.Fprint(out, "You: ") {
		input := strings.TrimSpace(scanner.Text())
		if input == "quit" || input == "exit" {
			return nil
		}
		if input == "" {
			continue
		}

		if rest, ok := strings.CutPrefix(input, "stream "); ok {
			stream, err := agent.RunStream(ctx, []af.Message{af.NewUserMessage(rest)}, af.WithThread(thread))
			if err != nil {
				fmt.Fprintf(out, "Error: %v\n\n", err)
				continue
			}
			fmt.Fprint(out, "Assistant: ")
			for update, err := range stream.All(ctx) {
				if err != nil {
					fmt.Fprintf(out, "\nStream error: %v", err)
					break
				}
				fmt.Fprint(out, update.Text())
			}
			_ = stream.Close()
			fmt.Fprint(out, "\n\n")
			continue
		}

		resp, err := agent.RunText(ctx, input, af.WithThread(thread))
		if err != nil {
			fmt.Fprintf(out, "Error: %v\n\n", err)
			continue
		}
		fmt.Fprintf(out, "Assistant: %s\n", resp.Text())
		if resp.Usage.TotalTokens > 0 {
			fmt.Fprintf(out, "  [tokens: %d in, %d out, %d tool rounds]\n",
				resp.Usage.InputTokens, resp.Usage.OutputTokens, resp.Rounds)
		}
		fmt.Fprintln(out)
	}
	return scanner.Err()
}
