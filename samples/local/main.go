// Copyright (c) Microsoft. All rights reserved.

// Command local demonstrates a multi-turn conversational agent running
// entirely on your machine against an OpenAI-compatible local runtime such
// as Ollama.
//
// Small local models often write tool calls as plain JSON text instead of
// structured tool_calls; a chat middleware converts those before the agent
// dispatches them.
//
// Usage:
//
//	ollama pull phi4-mini
//	go run .                                   # defaults to phi4-mini on Ollama
//	go run . --model qwen2.5 --endpoint http://localhost:11434/v1
//	go run . --serve --port 8080               # HTTP/A2A server, threads in SQLite
package main

import (
	"bufio"
	"context"
	_ "embed"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/joho/godotenv"

	af "github.com/jochenvw/agentrun/agentframework"
	"github.com/jochenvw/agentrun/openai"
	"github.com/jochenvw/agentrun/stores/sqlitestore"
)

//go:embed tool_calling_prompt.md
var toolCallingPrompt string

func main() {
	model := flag.String("model", "phi4-mini", "local model name")
	endpoint := flag.String("endpoint", "http://localhost:11434/v1", "OpenAI-compatible endpoint of the local runtime")
	serve := flag.Bool("serve", false, "run as HTTP server instead of interactive CLI")
	port := flag.String("port", "8080", "HTTP listen port (serve mode)")
	dbPath := flag.String("db", "local-threads.db", "SQLite database for serve-mode conversations")
	flag.Parse()

	_ = godotenv.Load()
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx := context.Background()
	fmt.Printf("Model:    %s\nEndpoint: %s\n\n", *model, *endpoint)

	client := openai.New("ollama",
		openai.WithBaseURL(*endpoint),
		openai.WithModel(*model),
		openai.WithLogger(logger),
		openai.WithChatMiddleware(ToolCallWorkaroundMiddleware(logger)),
	)
	defer client.Close()

	// Local models have small context windows.
	maxTokens := 512
	opts := []af.AgentOption{
		af.WithName("local-assistant"),
		af.WithDescription("A local assistant that can check the weather, the time, local files and Docker images."),
		af.WithInstructions(toolCallingPrompt),
		af.WithTools(GetTools()...),
		af.WithDefaultOptions(&af.ChatOptions{MaxTokens: &maxTokens}),
		af.WithAgentMiddleware(af.LoggingMiddleware(logger)),
		af.WithFunctionMiddleware(ToolCallLoggingMiddleware(logger)),
		// Small models get tool arguments wrong; let them see the error and retry.
		af.WithInvocationConfig(af.InvocationConfig{
			MaxToolRounds:        8,
			MaxConsecutiveErrors: 2,
			OnToolError:          af.ReportToolErrors(true),
		}),
	}

	var err error
	if *serve {
		err = serveHTTP(ctx, client, opts, ":"+*port, *dbPath, logger)
	} else {
		err = chat(ctx, af.NewAgent(client, opts...), os.Stdin)
	}
	if err != nil {
		logger.Error("local agent stopped", "error", err)
		os.Exit(1)
	}
}

// serveHTTP serves the agent with conversations kept in SQLite at dbPath.
func serveHTTP(ctx context.Context, client af.ChatClient, opts []af.AgentOption, addr, dbPath string, logger *slog.Logger) error {
	store, err := sqlitestore.Open(ctx, dbPath)
	if err != nil {
		return fmt.Errorf("open thread store: %w", err)
	}
	defer store.Close()

	agent := af.NewAgent(client, append(opts, af.WithThreadStore(store))...)
	apiKey := os.Getenv("AGENT_API_KEY")
	if apiKey == "" {
		logger.Warn("AGENT_API_KEY not set, /invoke is unauthenticated")
	}

	logger.Info("listening", "addr", addr, "threads", dbPath,
		"endpoints", []string{"GET /health", "GET /.well-known/agent-card.json", "POST /invoke", "POST / (A2A)"})
	return http.ListenAndServe(addr, newAgentServer(agent, apiKey, logger))
}

// chat runs an interactive conversation on one thread. Input prefixed
// with "stream " is answered incrementally.
func chat(ctx context.Context, agent *af.Agent, in io.Reader) error {
	thread, err := agent.NewThread(ctx)
	if err != nil {
		return fmt.Errorf("new thread: %w", err)
	}

	fmt.Println("Chat with the local assistant (type 'quit' to exit, 'stream' prefix for streaming)")
	fmt.Println()

	scanner := bufio.NewScanner(in)
	for fmt.Print("You: "); scanner.Scan(); fmt.Print("You: ") {
		input := strings.TrimSpace(scanner.Text())
		switch input {
		case "":
			continue
		case "quit", "exit":
			return nil
		}

		if rest, ok := strings.CutPrefix(input, "stream "); ok {
			stream, err := agent.RunStream(ctx, []af.Message{af.NewUserMessage(rest)}, af.WithThread(thread))
			if err != nil {
				fmt.Printf("Error: %v\n\n", err)
				continue
			}
			fmt.Print("Assistant: ")
			for update, err := range stream.All(ctx) {
				if err != nil {
					fmt.Printf("\nStream error: %v", err)
					break
				}
				fmt.Print(update.Text())
			}
			_ = stream.Close()
			fmt.Print("\n\n")
			continue
		}

		resp, err := agent.RunText(ctx, input, af.WithThread(thread))
		if err != nil {
			fmt.Printf("Error: %v\n\n", err)
			continue
		}
		fmt.Printf("Assistant: %s\n", resp.Text())
		if resp.Usage.TotalTokens > 0 {
			fmt.Printf("  [tokens: %d in, %d out]\n", resp.Usage.InputTokens, resp.Usage.OutputTokens)
		}
		fmt.Println()
	}
	return scanner.Err()
}
