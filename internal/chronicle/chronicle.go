// Package chronicle condenses long-running conversation arcs into chapter
// summaries so that actor context stays bounded.
package chronicle

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/haasonsaas/parley/internal/agent"
	"github.com/haasonsaas/parley/internal/history"
)

const (
	// DefaultThreshold is the unchronicled message count that triggers a new
	// chapter summary.
	DefaultThreshold = 200

	// summaryWindow is how many recent context entries feed the summary.
	summaryWindow = 300
)

const defaultPrompt = "Summarize the conversation so far as a chapter of an ongoing story. " +
	"Keep concrete facts, decisions, names and unresolved threads. Be concise; " +
	"a few paragraphs at most. If a previous chapter summary is provided, " +
	"continue from it rather than restating it."

// Config tunes the auto-chronicler.
type Config struct {
	Threshold int    // messages per chapter; <= 0 means DefaultThreshold
	Model     string // model spec used for summarization
	Prompt    string // override for the summary prompt
}

// AutoChronicler watches arcs and writes chapter summaries when enough
// unchronicled messages accumulate.
type AutoChronicler struct {
	store  history.Store
	caller agent.ModelCaller
	cfg    Config
	logger *slog.Logger
}

// New creates an AutoChronicler. caller may be nil, in which case MaybeChronicle
// is a no-op.
func New(store history.Store, caller agent.ModelCaller, cfg Config, logger *slog.Logger) *AutoChronicler {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Prompt == "" {
		cfg.Prompt = defaultPrompt
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AutoChronicler{store: store, caller: caller, cfg: cfg, logger: logger}
}

// MaybeChronicle writes a new chapter summary for the arc if the unchronicled
// message count has reached the threshold. It reports whether a summary was
// written.
func (a *AutoChronicler) MaybeChronicle(ctx context.Context, serverTag, channelName, mynick, arc string) (bool, error) {
	if a.caller == nil || a.cfg.Model == "" {
		return false, nil
	}

	count, err := a.store.UnchronicledCount(ctx, arc)
	if err != nil {
		return false, fmt.Errorf("count unchronicled: %w", err)
	}
	if count < a.cfg.Threshold {
		return false, nil
	}

	entries, err := a.store.ContextForMessage(ctx, serverTag, channelName, "", mynick, summaryWindow)
	if err != nil {
		return false, fmt.Errorf("load context: %w", err)
	}
	if len(entries) == 0 {
		return false, nil
	}

	previous, err := a.store.LatestChapterSummary(ctx, arc)
	if err != nil {
		return false, fmt.Errorf("load previous chapter: %w", err)
	}

	summary, err := a.caller.CallModel(ctx, a.cfg.Model, buildInput(previous, entries), a.cfg.Prompt)
	if err != nil {
		return false, fmt.Errorf("summarize arc %s: %w", arc, err)
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return false, nil
	}

	if err := a.store.AddChapterSummary(ctx, arc, summary); err != nil {
		return false, fmt.Errorf("store chapter: %w", err)
	}
	a.logger.Info("wrote chapter summary",
		"arc", arc, "messages", count, "model", a.cfg.Model)
	return true, nil
}

func buildInput(previous string, entries []history.ContextEntry) []history.ContextEntry {
	if previous == "" {
		return entries
	}
	input := make([]history.ContextEntry, 0, len(entries)+1)
	input = append(input, history.ContextEntry{
		Role:    "user",
		Content: "Previous chapter summary:\n" + previous,
	})
	return append(input, entries...)
}
