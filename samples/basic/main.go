// Copyright (c) Microsoft. All rights reserved.

// Command basic runs a single-turn agent that tells a joke.
//
//	export AZURE_AI_PROJECT_ENDPOINT=https://<account>.services.ai.azure.com/api/projects/<project>
//	export AZURE_AI_MODEL_DEPLOYMENT_NAME=gpt-4o-mini
//	az login
//	go run .
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

	agent := af.NewAgent(client, af.WithInstructions("You are good at telling jokes."))

	resp, err := agent.RunText(ctx, "Tell me a joke about a pirate.")
	if err != nil {
		return err
	}
	fmt.Println(resp.Text())
	return nil
}
