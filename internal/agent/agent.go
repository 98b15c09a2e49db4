// Package agent defines the seam between the room command core and the agent
// runtime that actually drives LLMs and tools. The core depends only on these
// interfaces; concrete runtimes and model clients live elsewhere.
package agent

import (
	"context"

	"github.com/haasonsaas/parley/internal/history"
)

// Result is the outcome of one actor run.
type Result struct {
	// Text is the reply to send. Empty means the agent chose not to answer.
	Text string

	TotalInputTokens  int64
	TotalOutputTokens int64
	TotalCost         float64
	ToolCallsCount    int

	// PrimaryModel is the spec of the model that produced the final text.
	PrimaryModel string
}

// RunRequest carries everything an actor run needs.
type RunRequest struct {
	// Context is the conversation window, oldest first. The last entry is
	// the triggering message.
	Context []history.ContextEntry

	// Mode is the selected mode key.
	Mode string

	// SystemPrompt is the fully assembled system prompt.
	SystemPrompt string

	// Models overrides the mode's model list when non-empty.
	Models []string

	ReasoningEffort string

	// AllowedTools restricts the tool set when non-nil.
	AllowedTools []string

	Arc     string
	Secrets map[string]string

	NoContext             bool
	ReduceContext         bool
	IncludeChapterSummary bool

	// SteeringProvider, when non-nil, is polled by the runtime mid-run for
	// late-arriving user context.
	SteeringProvider func(ctx context.Context) ([]history.ContextEntry, error)

	// Progress sends an intermediate line to the channel and persists it.
	Progress func(ctx context.Context, text string) error

	// Persist records text in history without sending it.
	Persist func(ctx context.Context, text string) error
}

// Runner is the agent runtime collaborator.
type Runner interface {
	RunActor(ctx context.Context, req RunRequest) (*Result, error)
}

// ModelCaller performs a single raw model call with a conversation context
// and an instruction prompt, returning the response text. The classifier and
// the proactive validator cascade use it.
type ModelCaller interface {
	CallModel(ctx context.Context, model string, context []history.ContextEntry, prompt string) (string, error)
}
