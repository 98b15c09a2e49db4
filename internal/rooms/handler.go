package rooms

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/haasonsaas/parley/internal/agent"
	"github.com/haasonsaas/parley/internal/artifacts"
	"github.com/haasonsaas/parley/internal/chronicle"
	"github.com/haasonsaas/parley/internal/config"
	"github.com/haasonsaas/parley/internal/history"
	"github.com/haasonsaas/parley/internal/modelspec"
	"github.com/haasonsaas/parley/internal/observability"
	"github.com/haasonsaas/parley/internal/ratelimit"
)

// ResponseCleaner is an optional hook applied to outgoing reply text.
type ResponseCleaner func(text, nick string) string

// HandlerParams wires a Handler's collaborators. Runner, Models and History
// are required; the rest are optional.
type HandlerParams struct {
	RoomName string
	Config   *config.RoomConfig
	Behavior config.BehaviorConfig

	Runner    agent.Runner
	Models    agent.ModelCaller
	History   history.Store
	Artifacts artifacts.Store

	Chronicler      *chronicle.AutoChronicler
	Metrics         *observability.Metrics
	Logger          *slog.Logger
	ResponseCleaner ResponseCleaner
}

// Handler orchestrates command and passive message handling for one room:
// resolver, steering queue, proactive debouncer, rate limiters and the agent
// runtime.
type Handler struct {
	roomName string
	cfg      *config.RoomConfig
	behavior config.BehaviorConfig

	resolver  *CommandResolver
	queue     *SteeringQueue
	debouncer *ProactiveDebouncer

	limiter          *ratelimit.Limiter
	proactiveLimiter *ratelimit.Limiter

	runner     agent.Runner
	models     agent.ModelCaller
	store      history.Store
	artifacts  artifacts.Store
	chronicler *chronicle.AutoChronicler
	metrics    *observability.Metrics
	logger     *slog.Logger
	cleaner    ResponseCleaner

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)
}

// NewHandler builds a room command handler. It fails when the room's command
// config does not validate.
func NewHandler(p HandlerParams) (*Handler, error) {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("room", p.RoomName)

	resolver, err := NewCommandResolver(&p.Config.Command, logger)
	if err != nil {
		return nil, fmt.Errorf("room %q: %w", p.RoomName, err)
	}

	cmd := p.Config.Command
	proactive := p.Config.Proactive
	return &Handler{
		roomName:         p.RoomName,
		cfg:              p.Config,
		behavior:         p.Behavior,
		resolver:         resolver,
		queue:            NewSteeringQueue(),
		debouncer:        NewProactiveDebouncer(secondsToDuration(proactive.DebounceSeconds)),
		limiter:          ratelimit.New(cmd.RateLimit, time.Duration(cmd.RatePeriod)*time.Second),
		proactiveLimiter: ratelimit.New(proactive.RateLimit, time.Duration(proactive.RatePeriod)*time.Second),
		runner:           p.Runner,
		models:           p.Models,
		store:            p.History,
		artifacts:        p.Artifacts,
		chronicler:       p.Chronicler,
		metrics:          p.Metrics,
		logger:           logger,
		cleaner:          p.ResponseCleaner,
		now:              time.Now,
		sleep:            sleepCtx,
	}, nil
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// Resolver exposes the room's command resolver.
func (h *Handler) Resolver() *CommandResolver { return h.resolver }

// ShouldIgnoreUser reports whether messages from nick are configured to be
// dropped entirely.
func (h *Handler) ShouldIgnoreUser(nick string) bool {
	for _, ignored := range h.cfg.Command.IgnoreUsers {
		if strings.EqualFold(nick, ignored) {
			return true
		}
	}
	return false
}

// HandleCommand processes an explicitly addressed message. It cancels any
// pending proactive check for the channel, then either handles the command
// directly (when the resolved path will not use steering) or enters the
// steering queue.
func (h *Handler) HandleCommand(ctx context.Context, msg RoomMessage, triggerMessageID int64, reply ReplySender) error {
	h.debouncer.CancelChannel(ChannelKey(msg.ServerTag, msg.ChannelName))

	if h.resolver.ShouldBypassSteeringQueue(msg) {
		return h.handleCommandCore(ctx, msg, triggerMessageID, reply, KeyForMessage(msg))
	}
	return h.runOrQueueCommand(ctx, msg, triggerMessageID, reply)
}

// runOrQueueCommand runs a steering-queue command, becoming the session
// runner if first. A single loop processes both commands and compacted
// passive tails; the queue lock is held only inside queue operations, so new
// items may arrive while the current one is handled.
func (h *Handler) runOrQueueCommand(ctx context.Context, msg RoomMessage, triggerMessageID int64, reply ReplySender) error {
	isRunner, key, item := h.queue.EnqueueCommandOrStartRunner(msg, triggerMessageID, reply)
	if !isRunner {
		return item.Wait(ctx)
	}

	current := item
	for current != nil {
		var err error
		if current.Kind == KindCommand {
			err = h.handleCommandCore(ctx, current.Msg, current.TriggerMessageID, current.Reply, key)
		} else {
			err = h.handlePassiveCore(ctx, current.Msg, current.Reply)
		}
		if err != nil {
			h.queue.AbortSession(key, err)
			h.queue.FailItem(current, err)
			return err
		}
		h.queue.FinishItem(current)
		h.countSteering("ran")

		var dropped []*QueuedItem
		dropped, current = h.queue.TakeNextWorkCompacted(key)
		for _, d := range dropped {
			h.queue.FinishItem(d)
			h.countSteering("dropped")
		}
	}
	return nil
}

// handleCommandCore is the per-command pipeline: rate limit, context fetch,
// input debounce, resolution, routing, chronicling.
func (h *Handler) handleCommandCore(ctx context.Context, msg RoomMessage, triggerMessageID int64, reply ReplySender, key SteeringKey) error {
	if !h.limiter.Allow() {
		h.logger.Warn("rate limiting triggered", "nick", msg.Nick)
		h.countCommand("rate_limited")
		rateMsg := fmt.Sprintf("%s: Slow down a little, will you? (rate limiting)", msg.Nick)
		if err := reply(ctx, rateMsg); err != nil {
			return err
		}
		_, err := h.persistBot(ctx, msg, rateMsg, "", 0)
		return err
	}

	h.logger.Info("received command",
		"nick", msg.Nick, "server", msg.ServerTag, "channel", msg.ChannelName, "content", msg.Content)

	// Fetch a fixed context snapshot up front so classification and input
	// debouncing cannot race with concurrent history writes.
	defaultSize := h.cfg.Command.HistorySize
	entries, err := h.store.ContextForMessage(ctx, msg.ServerTag, msg.ChannelName, msg.ThreadID, msg.MyNick, h.maxHistorySize())
	if err != nil {
		return fmt.Errorf("fetch context: %w", err)
	}

	// Consolidate quick follow-ups, e.g. automatic IRC message splits.
	if h.cfg.Command.Debounce > 0 {
		h.sleep(ctx, secondsToDuration(h.cfg.Command.Debounce))
		followups, err := h.store.RecentBodiesSince(ctx, msg.ServerTag, msg.ChannelName, msg.Nick, msg.SentAt, msg.ThreadID)
		if err != nil {
			return fmt.Errorf("fetch followups: %w", err)
		}
		if len(followups) > 0 && len(entries) > 0 {
			h.logger.Debug("debounced followup messages", "count", len(followups), "nick", msg.Nick)
			entries[len(entries)-1].Content += "\n" + strings.Join(followups, "\n")
		}
	}

	resolved := h.resolver.Resolve(ctx, msg, entries, defaultSize, h.classifyMode)
	if err := h.routeCommand(ctx, msg, entries, triggerMessageID, reply, key, resolved); err != nil {
		return err
	}

	h.debouncer.CancelChannel(ChannelKey(msg.ServerTag, msg.ChannelName))
	h.maybeChronicle(ctx, msg)
	return nil
}

func (h *Handler) maxHistorySize() int {
	size := h.cfg.Command.HistorySize
	for _, key := range h.cfg.Command.Modes.Keys() {
		mode, _ := h.cfg.Command.Modes.Get(key)
		if mode.HistorySize > size {
			size = mode.HistorySize
		}
	}
	return size
}

func (h *Handler) routeCommand(ctx context.Context, msg RoomMessage, entries []history.ContextEntry, triggerMessageID int64, reply ReplySender, key SteeringKey, resolved ResolvedCommand) error {
	if resolved.Error != "" {
		h.logger.Warn("command parse error",
			"nick", msg.Nick, "error", resolved.Error, "content", msg.Content)
		h.countCommand("error")
		return reply(ctx, fmt.Sprintf("%s: %s", msg.Nick, resolved.Error))
	}

	if resolved.HelpRequested {
		h.logger.Debug("sending help message", "nick", msg.Nick)
		h.countCommand("help")
		helpMsg := h.resolver.BuildHelpMessage(msg.ServerTag, msg.ChannelName)
		if err := reply(ctx, helpMsg); err != nil {
			return err
		}
		_, err := h.persistBot(ctx, msg, helpMsg, "", 0)
		return err
	}

	runtime := resolved.Runtime
	steeringEnabled := runtime.Steering && !resolved.NoContext

	steeringProvider := func(ctx context.Context) ([]history.ContextEntry, error) {
		if !steeringEnabled {
			return nil, nil
		}
		drained := h.queue.DrainSteeringContextMessages(key)
		for range drained {
			h.countSteering("steered")
		}
		return drained, nil
	}
	progress := func(ctx context.Context, text string) error {
		if err := reply(ctx, text); err != nil {
			return err
		}
		_, err := h.persistBot(ctx, msg, text, "", 0)
		return err
	}
	persist := func(ctx context.Context, text string) error {
		_, err := h.store.AddMessage(ctx, history.AddMessageParams{
			ServerTag:       msg.ServerTag,
			ChannelName:     msg.ChannelName,
			Nick:            msg.MyNick,
			ThreadID:        msg.ThreadID,
			Arc:             msg.Arc,
			Content:         text,
			ContentTemplate: "[internal monologue] {message}",
		})
		return err
	}

	window := entries
	if len(window) > runtime.HistorySize {
		window = window[len(window)-runtime.HistorySize:]
	}
	var models []string
	if resolved.ModelOverride != "" {
		models = []string{resolved.ModelOverride}
	} else {
		models = runtime.Model
	}

	result, err := h.runActor(ctx, msg.MyNick, actorParams{
		Mode:            resolved.ModeKey,
		Context:         window,
		ReasoningEffort: runtime.ReasoningEffort,
		AllowedTools:    runtime.AllowedTools,
		Models:          models,
		ModelOverride:   resolved.ModelOverride,
		NoContext:       resolved.NoContext,
		Arc:             msg.Arc,
		Secrets:         msg.Secrets,
		Steering:        steeringProvider,
		Progress:        progress,
		Persist:         persist,
	})
	if err != nil {
		return err
	}
	if result == nil || result.Text == "" {
		h.logger.Info("agent chose not to answer",
			"label", resolved.SelectedLabel, "trigger", resolved.SelectedTrigger, "channel", msg.ChannelName)
		h.countCommand("ok")
		return nil
	}

	text := h.cleanResponse(result.Text, msg.Nick)
	h.logger.Info("sending response",
		"label", resolved.SelectedLabel, "trigger", resolved.SelectedTrigger,
		"cost", result.TotalCost, "channel", msg.ChannelName, "text", text)

	var llmCallID int64
	if result.PrimaryModel != "" {
		spec, err := modelspec.Parse(result.PrimaryModel)
		if err != nil {
			h.logger.Warn("could not parse model spec", "spec", result.PrimaryModel)
		} else {
			llmCallID, err = h.store.LogLLMCall(ctx, history.LLMCallParams{
				Provider:         spec.Provider,
				Model:            spec.Name,
				InputTokens:      result.TotalInputTokens,
				OutputTokens:     result.TotalOutputTokens,
				Cost:             result.TotalCost,
				CallType:         "agent_run",
				ArcName:          msg.Arc,
				TriggerMessageID: triggerMessageID,
			})
			if err != nil {
				return fmt.Errorf("log llm call: %w", err)
			}
		}
	}

	if err := reply(ctx, text); err != nil {
		return err
	}
	responseID, err := h.persistBot(ctx, msg, text, resolved.SelectedTrigger, llmCallID)
	if err != nil {
		return err
	}
	if llmCallID != 0 {
		if err := h.store.UpdateLLMCallResponse(ctx, llmCallID, responseID); err != nil {
			return fmt.Errorf("link llm call: %w", err)
		}
	}
	if h.metrics != nil && result.TotalCost > 0 {
		h.metrics.LLMCost.WithLabelValues(h.roomName, resolved.ModeKey).Add(result.TotalCost)
	}

	if result.TotalCost > 0.2 {
		costMsg := fmt.Sprintf("(this message used %d tool calls, %d in / %d out tokens, and cost $%.4f)",
			result.ToolCallsCount, result.TotalInputTokens, result.TotalOutputTokens, result.TotalCost)
		h.logger.Info("cost followup", "channel", msg.ChannelName, "text", costMsg)
		if err := reply(ctx, costMsg); err != nil {
			return err
		}
		if _, err := h.persistBot(ctx, msg, costMsg, "", 0); err != nil {
			return err
		}
	}

	if result.TotalCost > 0 {
		if err := h.maybeAnnounceDailyMilestone(ctx, msg, reply, result.TotalCost); err != nil {
			return err
		}
	}
	h.countCommand("ok")
	return nil
}

// maybeAnnounceDailyMilestone sends a fun-fact line whenever the arc's daily
// cost crosses a whole-dollar boundary.
func (h *Handler) maybeAnnounceDailyMilestone(ctx context.Context, msg RoomMessage, reply ReplySender, runCost float64) error {
	totalToday, err := h.store.ArcCostToday(ctx, msg.Arc)
	if err != nil {
		return fmt.Errorf("arc cost: %w", err)
	}
	before := totalToday - runCost
	if int(totalToday) <= int(before) {
		return nil
	}
	funMsg := fmt.Sprintf("(fun fact: my messages in this channel have already cost $%.4f today)", totalToday)
	h.logger.Info("daily cost milestone", "arc", msg.Arc, "text", funMsg)
	if err := reply(ctx, funMsg); err != nil {
		return err
	}
	_, err = h.persistBot(ctx, msg, funMsg, "", 0)
	return err
}

// HandlePassiveMessage processes a message the bot was not addressed in. It
// queues behind an existing steering session when one exists; otherwise the
// passive core runs inline.
func (h *Handler) HandlePassiveMessage(ctx context.Context, msg RoomMessage, reply ReplySender) error {
	if item := h.queue.EnqueuePassiveIfSessionExists(msg, reply); item != nil {
		return item.Wait(ctx)
	}
	return h.handlePassiveCore(ctx, msg, reply)
}

func (h *Handler) handlePassiveCore(ctx context.Context, msg RoomMessage, reply ReplySender) error {
	channelKey := ChannelKey(msg.ServerTag, msg.ChannelName)
	if slices.Contains(h.cfg.Proactive.Interjecting, channelKey) ||
		slices.Contains(h.cfg.Proactive.InterjectingTest, channelKey) {
		h.debouncer.ScheduleCheck(msg, channelKey, reply, h.handleDebouncedProactiveCheck)
	}
	h.maybeChronicle(ctx, msg)
	return nil
}

func (h *Handler) maybeChronicle(ctx context.Context, msg RoomMessage) {
	if h.chronicler == nil {
		return
	}
	if _, err := h.chronicler.MaybeChronicle(ctx, msg.ServerTag, msg.ChannelName, msg.MyNick, msg.Arc); err != nil {
		h.logger.Error("autochronicler failed", "arc", msg.Arc, "error", err)
	}
}

// classifierNickRe strips IRC-style "<nick> " prefixes before classification.
var classifierNickRe = regexp.MustCompile(`<[^>]+>\s*(.*)`)

// classifyMode asks the classifier model for a mode label. Any failure
// resolves to the fallback label.
func (h *Handler) classifyMode(ctx context.Context, entries []history.ContextEntry) string {
	fallback := h.resolver.FallbackLabel()
	if len(entries) == 0 {
		h.logger.Warn("mode classification without context")
		return fallback
	}

	current := entries[len(entries)-1].Content
	if m := classifierNickRe.FindStringSubmatch(current); m != nil {
		current = strings.TrimSpace(m[1])
	}
	classifier := h.cfg.Command.ModeClassifier
	prompt := strings.ReplaceAll(classifier.Prompt, "{message}", current)

	response, err := h.models.CallModel(ctx, classifier.Model, entries, prompt)
	if err != nil {
		h.logger.Error("error classifying mode", "error", err)
		return fallback
	}

	// Pick the label mentioned most often in the response.
	upper := strings.ToUpper(response)
	bestLabel, bestCount := "", 0
	for _, label := range h.resolver.Labels().Keys() {
		if count := strings.Count(upper, strings.ToUpper(label)); count > bestCount {
			bestLabel, bestCount = label, count
		}
	}
	if bestCount == 0 {
		h.logger.Warn("invalid mode classification response", "response", response)
		return fallback
	}
	return bestLabel
}

func (h *Handler) cleanResponse(text, nick string) string {
	cleaned := strings.TrimSpace(text)
	if h.cleaner != nil {
		cleaned = h.cleaner(cleaned, nick)
	}
	return strings.TrimSpace(cleaned)
}

func (h *Handler) persistBot(ctx context.Context, msg RoomMessage, text, mode string, llmCallID int64) (int64, error) {
	return h.store.AddMessage(ctx, history.AddMessageParams{
		ServerTag:   msg.ServerTag,
		ChannelName: msg.ChannelName,
		Nick:        msg.MyNick,
		ThreadID:    msg.ThreadID,
		Arc:         msg.Arc,
		Content:     text,
		Mode:        mode,
		LLMCallID:   llmCallID,
	})
}

func (h *Handler) countCommand(result string) {
	if h.metrics != nil {
		h.metrics.CommandsProcessed.WithLabelValues(h.roomName, result).Inc()
	}
}

func (h *Handler) countSteering(outcome string) {
	if h.metrics != nil {
		h.metrics.SteeringItems.WithLabelValues(h.roomName, outcome).Inc()
	}
}

func (h *Handler) countProactive(outcome string) {
	if h.metrics != nil {
		h.metrics.ProactiveChecks.WithLabelValues(h.roomName, outcome).Inc()
	}
}

