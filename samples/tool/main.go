// Copyright (c) Microsoft. All rights reserved.

// Command tool runs three prompts on one thread with a local weather tool.
// The last prompt is answered from the tool, the second from the thread.
//
// Uses the same environment as samples/basic.
package main

import (
	"context"
	"fmt"
	"log"

	af "github.com/jochenvw/agentrun/agentframework"
	"github.com/jochenvw/agentrun/samples/internal/foundry"
)

type weatherArgs struct {
	Location string `json:"location" jsonschema:"description=The location to get the weather for.,required"`
}

func weather(ctx context.Context, args weatherArgs) (any, error) {
	return fmt.Sprintf("The weather in %s is cloudy with a high of 15°C.", args.Location), nil
}

func main() {
	foundry.Setup()
	if err := run(context.Background()); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context) error {
	client, err := foundry.NewClient()
	if err != nil {
		return err
	}
	defer client.Close()

	agent := af.NewAgent(client,
		af.WithInstructions("You are a book writer for programmers"),
		af.WithTools(af.NewTypedTool("weather_tool", "Retrieves weather information for any location", weather)),
	)

	thread, err := agent.NewThread(ctx)
	if err != nil {
		return err
	}

	for _, prompt := range []string{
		"Write me a book about Python programming for people in Belfast and put the weather in the Book. With 10 pages.",
		"can you summarize the book in 5 bullet points?",
		"What is the weather in Belfast?",
	} {
		resp, err := agent.RunText(ctx, prompt, af.WithThread(thread))
		if err != nil {
			return err
		}
		fmt.Println(resp.Text())
	}
	return nil
}
