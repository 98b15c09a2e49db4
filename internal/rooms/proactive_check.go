package rooms

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/haasonsaas/parley/internal/history"
	"github.com/haasonsaas/parley/internal/modelspec"
)

// proactiveNickRe strips a leading "<nick>" style prefix before scoring.
var proactiveNickRe = regexp.MustCompile(`<?\S+>\s*(.*)`)

// scoreRe extracts the "N/10" score from validator responses.
var scoreRe = regexp.MustCompile(`(\d+)/10`)

// shouldInterjectProactively runs the validator model cascade over the
// conversation context. Every model must score the conversation at least
// threshold-1 out of 10 for the cascade to continue; the final model's score
// decides the outcome. A final score in [threshold-1, threshold) interjects
// in test mode only (the reply is generated but never sent).
func (h *Handler) shouldInterjectProactively(ctx context.Context, entries []history.ContextEntry) (interject, testMode bool, reason string) {
	if len(entries) == 0 {
		return false, false, "No context provided"
	}

	current := entries[len(entries)-1].Content
	if m := proactiveNickRe.FindStringSubmatch(current); m != nil {
		current = strings.TrimSpace(m[1])
	}

	prompt := strings.ReplaceAll(h.cfg.Proactive.Prompts.Interject, "{message}", current)
	threshold := h.cfg.Proactive.InterjectThreshold
	validationModels := h.cfg.Proactive.Models.Validation

	finalScore := -1
	for i, model := range validationModels {
		response, err := h.models.CallModel(ctx, model, entries, prompt)
		if err != nil {
			h.logger.Error("proactive validation call failed", "step", i+1, "model", model, "error", err)
			return false, false, fmt.Sprintf("No response from validation model %d", i+1)
		}
		response = strings.TrimSpace(response)
		if response == "" || strings.HasPrefix(response, "API error:") {
			return false, false, fmt.Sprintf("No response from validation model %d", i+1)
		}

		m := scoreRe.FindStringSubmatch(response)
		if m == nil {
			h.logger.Warn("no valid score in proactive validation response",
				"step", i+1, "response", response)
			return false, false, fmt.Sprintf("No score found in validation step %d", i+1)
		}
		score, _ := strconv.Atoi(m[1])
		finalScore = score

		h.logger.Debug("proactive validation step",
			"step", i+1, "of", len(validationModels), "model", model, "score", score)
		if score < threshold-1 {
			return false, false, fmt.Sprintf("Rejected at validation step %d (Score: %d)", i+1, score)
		}
	}

	switch {
	case finalScore < 0:
		return false, false, "No valid final score"
	case finalScore >= threshold:
		return true, false, fmt.Sprintf("Interjection decision (Final Score: %d)", finalScore)
	case finalScore >= threshold-1:
		return true, true, fmt.Sprintf("Barely triggered - test mode (Final Score: %d)", finalScore)
	default:
		return false, false, fmt.Sprintf("No interjection (Final Score: %d)", finalScore)
	}
}

// handleDebouncedProactiveCheck is the debouncer callback: rate-limit, score,
// classify, and possibly run the serious-mode actor to interject.
func (h *Handler) handleDebouncedProactiveCheck(msg RoomMessage, reply ReplySender) {
	ctx := context.Background()

	if !h.proactiveLimiter.Allow() {
		h.logger.Debug("proactive rate limit exceeded, skipping", "nick", msg.Nick)
		h.countProactive("rate_limited")
		return
	}
	h.logger.Debug("proactive check starting",
		"channel", msg.ChannelName, "budget_remaining", h.proactiveLimiter.Remaining())

	entries, err := h.store.ContextForMessage(ctx, msg.ServerTag, msg.ChannelName, msg.ThreadID, msg.MyNick, h.cfg.Proactive.HistorySize)
	if err != nil {
		h.logger.Error("proactive context fetch failed", "channel", msg.ChannelName, "error", err)
		return
	}

	interject, barelyTriggered, reason := h.shouldInterjectProactively(ctx, entries)
	if !interject {
		h.countProactive("rejected")
		return
	}

	channelKey := ChannelKey(msg.ServerTag, msg.ChannelName)
	classifiedLabel := h.classifyMode(ctx, entries)
	classifiedTrigger := h.resolver.TriggerForLabel(classifiedLabel)
	classifiedMode, classifiedRuntime, err := h.resolver.RuntimeForTrigger(classifiedTrigger)
	if err != nil {
		h.logger.Error("proactive trigger resolution failed", "trigger", classifiedTrigger, "error", err)
		return
	}
	if classifiedMode != "serious" {
		h.logger.Warn("proactive interjection suggested but not serious mode",
			"label", classifiedLabel, "trigger", classifiedTrigger, "reason", reason)
		h.countProactive("rejected")
		return
	}

	testChannel := slices.Contains(h.behavior.ProactiveInterjectingTest, channelKey) ||
		slices.Contains(h.cfg.Proactive.InterjectingTest, channelKey)
	sendMessage := !testChannel && !barelyTriggered
	if sendMessage {
		h.logger.Info("interjecting proactively",
			"nick", msg.Nick, "channel", msg.ChannelName, "reason", reason)
	} else {
		h.logger.Info("would interject proactively (test mode)",
			"nick", msg.Nick, "channel", msg.ChannelName,
			"barely_triggered", barelyTriggered, "reason", reason)
	}

	seriousModel := h.cfg.Proactive.Models.Serious
	result, err := h.runActor(ctx, msg.MyNick, actorParams{
		Mode:            "serious",
		Context:         entries,
		ReasoningEffort: classifiedRuntime.ReasoningEffort,
		Models:          []string{seriousModel},
		ModelOverride:   seriousModel,
		ExtraPrompt:     " " + h.cfg.Proactive.Prompts.SeriousExtra,
		Arc:             msg.Arc,
		Secrets:         msg.Secrets,
	})
	if err != nil {
		h.logger.Error("proactive actor run failed", "channel", msg.ChannelName, "error", err)
		return
	}
	if result == nil || result.Text == "" || strings.HasPrefix(result.Text, "Error: ") {
		h.logger.Info("agent decided not to interject proactively", "channel", msg.ChannelName)
		return
	}

	text := h.cleanResponse(result.Text, msg.Nick)
	if !sendMessage {
		h.countProactive("test_mode")
		h.logger.Info("generated proactive response (test mode)",
			"channel", msg.ChannelName, "text", text)
		return
	}

	text = fmt.Sprintf("[%s] %s", modelspec.CoreName(seriousModel), text)
	h.logger.Info("sending proactive response",
		"label", classifiedLabel, "trigger", classifiedTrigger,
		"channel", msg.ChannelName, "text", text)
	h.countProactive("interject")
	if err := reply(ctx, text); err != nil {
		h.logger.Error("proactive reply failed", "channel", msg.ChannelName, "error", err)
		return
	}
	if _, err := h.persistBot(ctx, msg, text, classifiedTrigger, 0); err != nil {
		h.logger.Error("proactive persist failed", "channel", msg.ChannelName, "error", err)
		return
	}
	h.maybeChronicle(ctx, msg)
}
