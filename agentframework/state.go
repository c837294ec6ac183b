// Copyright (c) Microsoft. All rights reserved.

package agentframework

// RunState is a step of the agent loop.
type RunState int

const (
	// StateIdle is the state before the first model round trip.
	StateIdle RunState = iota
	// StateAwaitingModel waits on the model backend. It is the loop's
	// suspension point.
	StateAwaitingModel
	// StateDispatchingTool resolves and invokes the tools of one response.
	StateDispatchingTool
	// StateFinalizing coerces the final answer and commits it.
	StateFinalizing
	StateDone
	StateFailed
)

func (s RunState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingModel:
		return "awaiting_model"
	case StateDispatchingTool:
		return "dispatching_tool"
	case StateFinalizing:
		return "finalizing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether s ends a run.
func (s RunState) Terminal() bool { return s == StateDone || s == StateFailed }
