package providers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/haasonsaas/parley/internal/agent"
	"github.com/haasonsaas/parley/internal/history"
)

// SingleShotRunner implements agent.Runner with one raw model call per turn.
// It is the runtime used when parley runs without an external tool-calling
// agent harness: no tools, no cost accounting, sequential fallback across the
// requested model list.
type SingleShotRunner struct {
	router *Router
	logger *slog.Logger
}

// NewSingleShotRunner wraps a model router as an actor runtime.
func NewSingleShotRunner(router *Router, logger *slog.Logger) *SingleShotRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &SingleShotRunner{router: router, logger: logger}
}

// RunActor performs the turn. Steering context queued before the call starts
// is folded into the conversation; there is no mid-run polling since the call
// is a single completion.
func (r *SingleShotRunner) RunActor(ctx context.Context, req agent.RunRequest) (*agent.Result, error) {
	entries := req.Context
	if req.SteeringProvider != nil {
		steered, err := req.SteeringProvider(ctx)
		if err != nil {
			return nil, fmt.Errorf("drain steering context: %w", err)
		}
		if len(steered) > 0 {
			entries = append(append([]history.ContextEntry{}, entries...), steered...)
		}
	}

	var lastErr error
	for _, model := range req.Models {
		text, err := r.router.CallModel(ctx, model, entries, req.SystemPrompt)
		if err != nil {
			r.logger.Warn("model call failed, trying next", "model", model, "error", err)
			lastErr = err
			continue
		}
		return &agent.Result{Text: text, PrimaryModel: model}, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no models configured")
	}
	return nil, lastErr
}
