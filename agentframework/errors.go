// Copyright (c) Microsoft. All rights reserved.

package agentframework

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Error families. Each family has a root and the leaves wrap it, so
// errors.Is(err, ErrTool) matches every tool failure.
var (
	ErrAgent          = errors.New("agent error")
	ErrInitialization = fmt.Errorf("%w: initialization", ErrAgent)
	ErrExecution      = fmt.Errorf("%w: execution", ErrAgent)

	// Loop failures. The loop never retries ErrModelTransport.
	ErrModelTransport    = fmt.Errorf("%w: model transport", ErrExecution)
	ErrLoopLimitExceeded = fmt.Errorf("%w: tool round limit exceeded", ErrExecution)
	ErrCancelled         = fmt.Errorf("%w: cancelled", ErrExecution)
)

var (
	ErrThread = errors.New("thread error")

	// ErrThreadNotFound is returned for an id the store never issued.
	ErrThreadNotFound = fmt.Errorf("%w: not found", ErrThread)
	ErrThreadClosed   = fmt.Errorf("%w: closed", ErrThread)
)

// Backend failures, usually carried by a [ServiceError].
var (
	ErrChatClient      = errors.New("chat client error")
	ErrService         = errors.New("service error")
	ErrContentFilter   = fmt.Errorf("%w: content filter", ErrService)
	ErrInvalidRequest  = fmt.Errorf("%w: invalid request", ErrService)
	ErrInvalidResponse = fmt.Errorf("%w: invalid response", ErrService)
	ErrAuth            = fmt.Errorf("%w: authentication", ErrService)
)

var (
	ErrTool          = errors.New("tool error")
	ErrInvalidTool   = fmt.Errorf("%w: invalid definition", ErrTool)
	ErrDuplicateTool = fmt.Errorf("%w: duplicate name", ErrTool)

	// ErrUnresolvedTool means the model called a tool missing from the
	// run's registry. [ToolRegistry.Resolve] returns ErrToolNotFound.
	ErrUnresolvedTool = fmt.Errorf("%w: unresolved", ErrTool)
	ErrToolNotFound   = fmt.Errorf("%w: not found", ErrUnresolvedTool)

	ErrToolValidation = fmt.Errorf("%w: validation", ErrTool)
	ErrToolExecution  = fmt.Errorf("%w: execution", ErrTool)
)

var (
	// ErrCoercion means the final answer did not fit the requested
	// response format. See [CoercionError].
	ErrCoercion   = errors.New("coercion error")
	ErrMiddleware = errors.New("middleware error")
)

// ServiceError is a failed backend call. Err is the family sentinel,
// such as ErrAuth.
type ServiceError struct {
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *ServiceError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "status %d", e.StatusCode)
	if e.Code != "" {
		b.WriteString(" " + e.Code)
	}
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}
	return b.String()
}

func (e *ServiceError) Unwrap() error { return e.Err }

// ToolError is a failed tool call. Err is ErrToolValidation,
// ErrToolExecution or a tool's own error.
type ToolError struct {
	ToolName string
	CallID   string
	Message  string
	Err      error
}

func (e *ToolError) Error() string {
	if e.CallID == "" {
		return e.ToolName + ": " + e.Message
	}
	return fmt.Sprintf("%s (%s): %s", e.ToolName, e.CallID, e.Message)
}

func (e *ToolError) Unwrap() error { return e.Err }

// CoercionError reports the fields of a response format that could not be
// extracted from the model output.
type CoercionError struct {
	Format string
	Fields []FieldError
}

// FieldError describes one failed field.
type FieldError struct {
	Field  string
	Reason string
}

func (e *CoercionError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Reason
	}
	return fmt.Sprintf("coerce %q: %s", e.Format, strings.Join(parts, "; "))
}

func (e *CoercionError) Unwrap() error { return ErrCoercion }

// RunError is returned by [Agent.Run] when a run ends in the Failed state.
// Kind is one of the loop sentinels (ErrUnresolvedTool, ErrToolValidation,
// ErrToolExecution, ErrModelTransport, ErrCoercion, ErrLoopLimitExceeded,
// ErrCancelled), or ErrThread when the store rejected a commit. Thread holds
// the committed thread contents at the time of failure, or nil when the run
// had no thread.
type RunError struct {
	Kind   error
	State  RunState
	Rounds int
	Thread []Message
	Err    error
}

func (e *RunError) Error() string {
	msg := fmt.Sprintf("run failed in %s after %d rounds: %v", e.State, e.Rounds, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the kind and the cause, so errors.Is matches either a
// loop sentinel or, say, context.Canceled.
func (e *RunError) Unwrap() []error {
	return slices.DeleteFunc([]error{e.Kind, e.Err}, func(err error) bool { return err == nil })
}
