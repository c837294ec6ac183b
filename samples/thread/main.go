// Copyright (c) Microsoft. All rights reserved.

// Command thread runs two prompts on one thread: the second asks the agent
// to summarize what it wrote in the first.
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

	agent := af.NewAgent(client, af.WithInstructions("You are a book writer for programmers"))

	thread, err := agent.NewThread(ctx)
	if err != nil {
		return err
	}

	for _, prompt := range []string{
		"Write me a book about Python programming. With 5 pages.",
		"can you summarize the book in 5 bullet points?",
	} {
		resp, err := agent.RunText(ctx, prompt, af.WithThread(thread))
		if err != nil {
			return err
		}
		fmt.Println(resp.Text())
	}
	return nil
}
