package rooms

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/haasonsaas/parley/internal/config"
	"github.com/haasonsaas/parley/internal/history"
	"github.com/haasonsaas/parley/internal/modelspec"
)

// HelpToken requests the channel help message.
const HelpToken = "!h"

// noContextToken disables conversation context for one message.
const noContextToken = "!c"

// ParsedPrefix is the result of parsing leading modifier tokens.
type ParsedPrefix struct {
	NoContext     bool
	ModeToken     string
	ModelOverride string
	QueryText     string
	Error         string
}

// Runtime is the fully composed execution policy of a trigger.
type Runtime struct {
	ReasoningEffort string
	AllowedTools    []string
	Steering        bool

	// Model is the trigger-level model override; nil falls through to the
	// mode's model.
	Model []string

	HistorySize int
}

// ResolvedCommand is the outcome of resolving message text plus channel
// policy into runtime settings.
type ResolvedCommand struct {
	NoContext     bool
	QueryText     string
	ModelOverride string

	SelectedLabel   string
	SelectedTrigger string
	ModeKey         string
	Runtime         *Runtime

	Error                 string
	HelpRequested         bool
	ChannelMode           string
	SelectedAutomatically bool
}

// ClassifyFunc maps conversation context to a classifier label. It never
// fails; classification errors resolve to the fallback label internally.
type ClassifyFunc func(ctx context.Context, entries []history.ContextEntry) string

// CommandResolver owns command parsing and policy resolution for one room's
// command config. Construction validates and indexes the config; an invalid
// config is fatal.
type CommandResolver struct {
	cmd    *config.CommandConfig
	logger *slog.Logger

	triggerToMode   map[string]string
	triggerOverride map[string]*config.TriggerConfig
	defaultTrigger  map[string]string // mode key -> first declared trigger
	fallbackLabel   string
}

// NewCommandResolver validates the command config and builds the trigger and
// label indexes.
func NewCommandResolver(cmd *config.CommandConfig, logger *slog.Logger) (*CommandResolver, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &CommandResolver{
		cmd:             cmd,
		logger:          logger,
		triggerToMode:   make(map[string]string),
		triggerOverride: make(map[string]*config.TriggerConfig),
		defaultTrigger:  make(map[string]string),
	}

	for _, modeKey := range cmd.Modes.Keys() {
		mode, _ := cmd.Modes.Get(modeKey)
		triggers := mode.Triggers.Keys()
		if len(triggers) == 0 {
			return nil, fmt.Errorf("mode %q must define at least one trigger", modeKey)
		}
		r.defaultTrigger[modeKey] = triggers[0]
		for _, trigger := range triggers {
			if _, dup := r.triggerToMode[trigger]; dup {
				return nil, fmt.Errorf("duplicate trigger %q in command mode config", trigger)
			}
			if !strings.HasPrefix(trigger, "!") {
				return nil, fmt.Errorf("invalid trigger %q for mode %q", trigger, modeKey)
			}
			overrides, _ := mode.Triggers.Get(trigger)
			r.triggerToMode[trigger] = modeKey
			r.triggerOverride[trigger] = overrides
		}
	}

	labels := cmd.ModeClassifier.Labels
	if labels.Len() == 0 {
		return nil, fmt.Errorf("command.mode_classifier.labels must not be empty")
	}
	for _, label := range labels.Keys() {
		trigger, _ := labels.Get(label)
		if _, ok := r.triggerToMode[trigger]; !ok {
			return nil, fmt.Errorf("classifier label %q points to unknown trigger %q", label, trigger)
		}
	}
	r.fallbackLabel = cmd.ModeClassifier.FallbackLabel
	if r.fallbackLabel == "" {
		r.fallbackLabel = labels.Keys()[0]
	}
	if _, ok := labels.Get(r.fallbackLabel); !ok {
		return nil, fmt.Errorf("classifier fallback label %q is not defined", r.fallbackLabel)
	}
	return r, nil
}

// FallbackLabel returns the classifier fallback label.
func (r *CommandResolver) FallbackLabel() string { return r.fallbackLabel }

// Labels returns the classifier label map.
func (r *CommandResolver) Labels() config.LabelMap { return r.cmd.ModeClassifier.Labels }

// ParsePrefix parses leading modifier tokens from a message.
func (r *CommandResolver) ParsePrefix(message string) ParsedPrefix {
	text := strings.TrimSpace(message)
	if text == "" {
		return ParsedPrefix{}
	}

	tokens := strings.Fields(text)
	var parsed ParsedPrefix
	consumed := 0

scan:
	for i, tok := range tokens {
		switch {
		case tok == noContextToken:
			parsed.NoContext = true
			consumed = i + 1

		case tok == HelpToken || r.isTrigger(tok):
			if parsed.ModeToken != "" {
				parsed.Error = "Only one mode command allowed."
				break scan
			}
			parsed.ModeToken = tok
			consumed = i + 1

		case strings.HasPrefix(tok, "@") && len(tok) > 1:
			if parsed.ModelOverride == "" {
				parsed.ModelOverride = tok[1:]
			}
			consumed = i + 1

		case strings.HasPrefix(tok, "!"):
			parsed.Error = fmt.Sprintf("Unknown command '%s'. Use %s for help.", tok, HelpToken)
			break scan

		default:
			break scan
		}
	}

	if consumed > 0 {
		parsed.QueryText = strings.Join(tokens[consumed:], " ")
	} else {
		parsed.QueryText = text
	}
	return parsed
}

func (r *CommandResolver) isTrigger(tok string) bool {
	_, ok := r.triggerToMode[tok]
	return ok
}

// RuntimeForTrigger composes mode-level settings with per-trigger overrides.
func (r *CommandResolver) RuntimeForTrigger(trigger string) (string, *Runtime, error) {
	modeKey, ok := r.triggerToMode[trigger]
	if !ok {
		return "", nil, fmt.Errorf("unknown trigger %q", trigger)
	}
	mode, _ := r.cmd.Modes.Get(modeKey)
	overrides := r.triggerOverride[trigger]

	rt := &Runtime{
		ReasoningEffort: "minimal",
		AllowedTools:    mode.AllowedTools,
		Steering:        true,
		HistorySize:     r.cmd.HistorySize,
	}
	if mode.ReasoningEffort != "" {
		rt.ReasoningEffort = mode.ReasoningEffort
	}
	if mode.Steering != nil {
		rt.Steering = *mode.Steering
	}
	if mode.HistorySize > 0 {
		rt.HistorySize = mode.HistorySize
	}
	if overrides != nil {
		if overrides.ReasoningEffort != "" {
			rt.ReasoningEffort = overrides.ReasoningEffort
		}
		if overrides.AllowedTools != nil {
			rt.AllowedTools = overrides.AllowedTools
		}
		if overrides.Steering != nil {
			rt.Steering = *overrides.Steering
		}
		if len(overrides.Model) > 0 {
			rt.Model = overrides.Model
		}
	}
	return modeKey, rt, nil
}

// TriggerForLabel maps a classifier label to its trigger, falling back to the
// configured fallback label for unknown labels.
func (r *CommandResolver) TriggerForLabel(label string) string {
	if trigger, ok := r.cmd.ModeClassifier.Labels.Get(label); ok {
		return trigger
	}
	r.logger.Warn("unknown classifier label, using fallback",
		"label", label, "fallback", r.fallbackLabel)
	trigger, _ := r.cmd.ModeClassifier.Labels.Get(r.fallbackLabel)
	return trigger
}

// NormalizeServerTag strips platform prefixes from a server tag.
func NormalizeServerTag(serverTag string) string {
	for _, prefix := range []string{"discord:", "slack:"} {
		if rest, ok := strings.CutPrefix(serverTag, prefix); ok {
			return rest
		}
	}
	return serverTag
}

// ChannelKey is the canonical "<server>#<channel>" config identifier.
func ChannelKey(serverTag, channelName string) string {
	return NormalizeServerTag(serverTag) + "#" + channelName
}

// GetChannelMode returns the channel's configured policy, or the room default.
func (r *CommandResolver) GetChannelMode(serverTag, channelName string) string {
	if policy, ok := r.cmd.ChannelModes[ChannelKey(serverTag, channelName)]; ok {
		return policy
	}
	if r.cmd.DefaultMode != "" {
		return r.cmd.DefaultMode
	}
	return "classifier"
}

// ShouldBypassSteeringQueue reports whether the message's resolved path will
// have steering disabled, without running the classifier.
func (r *CommandResolver) ShouldBypassSteeringQueue(msg RoomMessage) bool {
	parsed := r.ParsePrefix(msg.Content)
	if parsed.Error != "" || parsed.NoContext {
		return true
	}
	if parsed.ModeToken == HelpToken {
		return true
	}
	if parsed.ModeToken != "" {
		_, rt, err := r.RuntimeForTrigger(parsed.ModeToken)
		if err != nil {
			return true
		}
		return !rt.Steering
	}

	channelMode := r.GetChannelMode(msg.ServerTag, msg.ChannelName)
	trigger := channelMode
	if !r.isTrigger(trigger) {
		if _, ok := r.cmd.Modes.Get(trigger); ok {
			trigger = r.defaultTrigger[trigger]
		}
	}
	if r.isTrigger(trigger) {
		_, rt, err := r.RuntimeForTrigger(trigger)
		if err != nil {
			return true
		}
		return !rt.Steering
	}
	return false
}

// BuildHelpMessage describes the channel's default policy and available modes.
func (r *CommandResolver) BuildHelpMessage(serverTag, channelName string) string {
	channelMode := r.GetChannelMode(serverTag, channelName)

	var defaultDesc string
	switch {
	case channelMode == "classifier":
		defaultDesc = fmt.Sprintf("automatic mode (%s decides)", r.cmd.ModeClassifier.Model)
	case strings.HasPrefix(channelMode, "classifier:"):
		defaultDesc = fmt.Sprintf("automatic mode constrained to %s",
			strings.TrimPrefix(channelMode, "classifier:"))
	case r.isTrigger(channelMode):
		defaultDesc = fmt.Sprintf("forced trigger %s (%s)", channelMode, r.triggerToMode[channelMode])
	default:
		defaultDesc = fmt.Sprintf("%s mode", channelMode)
	}

	var modeParts []string
	for _, modeKey := range r.cmd.Modes.Keys() {
		mode, _ := r.cmd.Modes.Get(modeKey)
		triggers := mode.Triggers.Keys()
		if len(triggers) == 0 {
			continue
		}
		modeParts = append(modeParts, fmt.Sprintf("%s = %s (%s)",
			strings.Join(triggers, "/"), modeKey, modelspec.CoreNameOfFirst(mode.Model)))
	}

	return fmt.Sprintf("default is %s; modes: %s; use @modelid to override model; %s disables context",
		defaultDesc, strings.Join(modeParts, ", "), noContextToken)
}

// Resolve turns a message plus channel policy into runtime settings. classify
// is invoked only for classifier policies.
func (r *CommandResolver) Resolve(ctx context.Context, msg RoomMessage, entries []history.ContextEntry, defaultSize int, classify ClassifyFunc) ResolvedCommand {
	parsed := r.ParsePrefix(msg.Content)
	resolved := ResolvedCommand{
		NoContext:     parsed.NoContext,
		QueryText:     parsed.QueryText,
		ModelOverride: parsed.ModelOverride,
	}
	if parsed.Error != "" {
		resolved.Error = parsed.Error
		return resolved
	}
	if parsed.ModeToken == HelpToken {
		resolved.HelpRequested = true
		return resolved
	}

	if parsed.ModeToken != "" {
		modeKey, rt, err := r.RuntimeForTrigger(parsed.ModeToken)
		if err != nil {
			resolved.Error = err.Error()
			return resolved
		}
		resolved.SelectedTrigger = parsed.ModeToken
		resolved.SelectedLabel = parsed.ModeToken
		resolved.ModeKey = modeKey
		resolved.Runtime = rt
		return resolved
	}

	channelMode := r.GetChannelMode(msg.ServerTag, msg.ChannelName)
	resolved.ChannelMode = channelMode
	resolved.SelectedAutomatically = true

	var selectedTrigger, selectedLabel string
	switch {
	case channelMode == "classifier":
		selectedLabel = classify(ctx, entries)
		selectedTrigger = r.TriggerForLabel(selectedLabel)

	case strings.HasPrefix(channelMode, "classifier:"):
		constrained := strings.TrimPrefix(channelMode, "classifier:")
		if _, ok := r.cmd.Modes.Get(constrained); !ok {
			resolved.Error = fmt.Sprintf("Unknown channel mode policy '%s': mode '%s' missing",
				channelMode, constrained)
			return resolved
		}
		window := entries
		if defaultSize > 0 && len(window) > defaultSize {
			window = window[len(window)-defaultSize:]
		}
		selectedLabel = classify(ctx, window)
		selectedTrigger = r.TriggerForLabel(selectedLabel)
		if modeKey := r.triggerToMode[selectedTrigger]; modeKey != constrained {
			selectedTrigger = r.defaultTrigger[constrained]
			selectedLabel = selectedTrigger
		}

	case r.isTrigger(channelMode):
		selectedTrigger = channelMode
		selectedLabel = selectedTrigger

	default:
		if _, ok := r.cmd.Modes.Get(channelMode); ok {
			selectedTrigger = r.defaultTrigger[channelMode]
			selectedLabel = selectedTrigger
			break
		}
		resolved.Error = fmt.Sprintf("Unknown channel mode policy '%s'", channelMode)
		return resolved
	}

	modeKey, rt, err := r.RuntimeForTrigger(selectedTrigger)
	if err != nil {
		resolved.Error = err.Error()
		return resolved
	}
	resolved.SelectedTrigger = selectedTrigger
	resolved.SelectedLabel = selectedLabel
	resolved.ModeKey = modeKey
	resolved.Runtime = rt
	return resolved
}
