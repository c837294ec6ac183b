// Copyright (c) Microsoft. All rights reserved.

package agentframework

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// LoggingMiddleware logs the start and outcome of every run. A failed run
// is logged at error level with its state and round count. A nil logger
// uses [slog.Default].
func LoggingMiddleware(logger *slog.Logger) AgentMiddleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next AgentHandler) AgentHandler {
		return func(ctx context.Context, req *AgentRequest) (*AgentResponse, error) {
			log := logger
			if req.Thread != nil {
				log = log.With("thread", req.Thread.ID())
			}
			log.DebugContext(ctx, "run start", "input", len(req.Messages))

			start := time.Now()
			resp, err := next(ctx, req)
			elapsed := time.Since(start)

			if err != nil {
				var runErr *RunError
				if errors.As(err, &runErr) {
					log = log.With("state", runErr.State.String(), "rounds", runErr.Rounds)
				}
				log.ErrorContext(ctx, "run failed", "elapsed", elapsed, "error", err)
				return resp, err
			}
			log.InfoContext(ctx, "run done",
				"elapsed", elapsed,
				"state", resp.State.String(),
				"rounds", resp.Rounds,
				slog.Group("tokens", "in", resp.Usage.InputTokens, "out", resp.Usage.OutputTokens),
			)
			return resp, nil
		}
	}
}
