// Copyright (c) Microsoft. All rights reserved.

// Package agentframework provides the core of an agent runtime: an agent
// loop that alternates between a model backend and registered tools,
// append-only conversation threads, and coercion of final answers into
// declared structured formats.
//
// # Quick Start
//
// Create a ChatClient (e.g., from the openai package) and build an Agent:
//
//	client := openai.New(os.Getenv("OPENAI_API_KEY"), openai.WithModel("gpt-4o"))
//	defer client.Close()
//
//	agent := agentframework.NewAgent(client,
//	    agentframework.WithName("Joker"),
//	    agentframework.WithInstructions("You are good at telling jokes."),
//	)
//
//	resp, err := agent.RunText(ctx, "Tell me a joke about a pirate.")
//
// # Architecture
//
//   - [Agent]: composes a client with a [ToolRegistry], middleware and a
//     [ThreadStore].
//   - [ChatClient]: interface for LLM backends (implemented by provider packages).
//   - [Tool]: callable functions exposed to the model via function calling.
//   - [Thread]: a handle onto an ordered, append-only conversation log.
//   - [ResponseFormat] and [Coerce]: structured answers.
//   - [ResponseStream]: generic pull-based iterator for streaming responses.
//   - Middleware: three levels (Agent, Chat, Function) for cross-cutting concerns.
//
// # Run lifecycle
//
// A run moves through the [RunState] values Idle, AwaitingModel,
// DispatchingTool and Finalizing, and ends in Done or Failed. Every tool
// the model asks for in one response is resolved before any is invoked.
// Results are appended in request order. The number of tool rounds per run
// is bounded by [InvocationConfig].MaxToolRounds. A failed run returns a
// *[RunError] whose Kind is one of ErrUnresolvedTool, ErrToolValidation,
// ErrToolExecution, ErrModelTransport, ErrCoercion, ErrLoopLimitExceeded
// or ErrCancelled.
//
// # Tools
//
// Use [NewTypedTool] for type-safe tools with automatic JSON Schema generation:
//
//	type WeatherArgs struct {
//	    Location string `json:"location" jsonschema:"description=City name,required"`
//	    Unit     string `json:"unit"     jsonschema:"enum=celsius|fahrenheit"`
//	}
//
//	tool := agentframework.NewTypedTool("get_weather", "Get current weather",
//	    func(ctx context.Context, args WeatherArgs) (any, error) {
//	        return fetchWeather(args.Location, args.Unit)
//	    },
//	)
//
// # Threads
//
// Use threads for multi-turn conversations:
//
//	thread, _ := agent.NewThread(ctx)
//	resp1, _ := agent.RunText(ctx, "Tell me a joke", agentframework.WithThread(thread))
//	resp2, _ := agent.RunText(ctx, "Another one", agentframework.WithThread(thread))
//
// # Structured output
//
//	person := agentframework.NewResponseFormat("PersonInfo",
//	    agentframework.Field{Name: "name", Type: agentframework.FieldString, Optional: true},
//	    agentframework.Field{Name: "age", Type: agentframework.FieldInteger, Optional: true},
//	)
//	resp, _ := agent.RunText(ctx, prompt, agentframework.WithResponseFormat(person))
//	age, ok := resp.Value.Int("age")
package agentframework
