package rooms

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/haasonsaas/parley/internal/agent"
	"github.com/haasonsaas/parley/internal/history"
)

type actorParams struct {
	Mode            string
	Context         []history.ContextEntry
	ReasoningEffort string
	AllowedTools    []string

	// Models is the resolved model list; empty falls through to the mode's
	// configured model.
	Models []string

	// ModelOverride is the user's @model override, picked up by the system
	// prompt for the current mode's trigger placeholders.
	ModelOverride string

	ExtraPrompt string
	NoContext   bool
	Arc         string
	Secrets     map[string]string

	Steering func(ctx context.Context) ([]history.ContextEntry, error)
	Progress func(ctx context.Context, text string) error
	Persist  func(ctx context.Context, text string) error
}

// runActor invokes the agent runtime for one turn. Agent failures collapse
// into a synthesized "Error: ..." result instead of propagating; only
// artifact-spill failures return an error.
func (h *Handler) runActor(ctx context.Context, mynick string, p actorParams) (*agent.Result, error) {
	mode, ok := h.cfg.Command.Modes.Get(p.Mode)
	if !ok {
		return &agent.Result{Text: "Error: command mode '" + p.Mode + "' not found in config"}, nil
	}

	entries := p.Context
	includeChapterSummary := mode.IncludeChapterSummary == nil || *mode.IncludeChapterSummary
	reduceContext := false
	if p.NoContext {
		if len(entries) > 1 {
			entries = entries[len(entries)-1:]
		}
		includeChapterSummary = false
	} else if mode.AutoReduceContext && len(entries) > 1 {
		reduceContext = true
	}

	models := p.Models
	if len(models) == 0 {
		models = mode.Model
	}

	systemPrompt, err := h.BuildSystemPrompt(p.Mode, mynick, p.ModelOverride)
	if err != nil {
		h.logger.Error("error building system prompt", "mode", p.Mode, "error", err)
		return &agent.Result{Text: "Error: " + err.Error()}, nil
	}

	if h.metrics != nil {
		h.metrics.ActorRuns.WithLabelValues(h.roomName, p.Mode).Inc()
	}
	result, err := h.runner.RunActor(ctx, agent.RunRequest{
		Context:               entries,
		Mode:                  p.Mode,
		SystemPrompt:          systemPrompt + p.ExtraPrompt,
		Models:                models,
		ReasoningEffort:       p.ReasoningEffort,
		AllowedTools:          p.AllowedTools,
		Arc:                   p.Arc,
		Secrets:               p.Secrets,
		NoContext:             p.NoContext,
		ReduceContext:         reduceContext,
		IncludeChapterSummary: includeChapterSummary,
		SteeringProvider:      p.Steering,
		Progress:              p.Progress,
		Persist:               p.Persist,
	})
	if err != nil {
		h.logger.Error("error during agent execution", "error", err)
		return &agent.Result{Text: "Error: " + err.Error()}, nil
	}
	if result == nil {
		return nil, nil
	}

	text := result.Text
	maxBytes := h.cfg.Command.ResponseMaxBytes
	if text != "" && len(text) > maxBytes {
		h.logger.Info("response too long, creating artifact",
			"bytes", len(text), "max", maxBytes)
		url, err := h.artifacts.Share(ctx, text)
		if err != nil {
			return nil, err
		}
		text = truncateForSpill(text, maxBytes, url)
	}
	out := *result
	out.Text = strings.TrimSpace(text)
	return &out, nil
}

// truncateForSpill shortens text so that, with the artifact pointer appended,
// it fits maxBytes. Truncation respects UTF-8 boundaries; within the last 100
// characters it prefers to end at the last sentence, else the last word.
func truncateForSpill(text string, maxBytes int, url string) string {
	tail := "... full response: " + url
	budget := maxBytes - len(tail)
	if budget < 0 {
		budget = 0
	}

	trimmed := text
	for len(trimmed) > budget {
		_, size := utf8.DecodeLastRuneInString(trimmed)
		trimmed = trimmed[:len(trimmed)-size]
	}

	runes := []rune(trimmed)
	minLen := len(runes) - 100
	if minLen < 0 {
		minLen = 0
	}
	lastSentence := lastIndexRune(runes, '.')
	lastWord := lastIndexRune(runes, ' ')
	if lastSentence > minLen {
		runes = runes[:lastSentence+1]
	} else if lastWord > minLen {
		runes = runes[:lastWord]
	}

	return string(runes) + tail
}

func lastIndexRune(runes []rune, r rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if runes[i] == r {
			return i
		}
	}
	return -1
}
