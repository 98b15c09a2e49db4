// Package config defines the yaml configuration schema for parley and the
// room composition rules (rooms.common deep-merged with per-room overrides).
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	History   HistoryConfig   `yaml:"history"`
	Providers ProvidersConfig `yaml:"providers"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	Chronicle ChronicleConfig `yaml:"chronicle"`
	Behavior  BehaviorConfig  `yaml:"behavior"`

	// Rooms holds raw per-room sections. "common" is merged into every other
	// room; see Room.
	Rooms map[string]yaml.Node `yaml:"rooms"`
}

// LoggingConfig configures slog output.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or text
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr"` // e.g. ":9090"; empty disables the endpoint
}

// HistoryConfig configures the conversation history store.
type HistoryConfig struct {
	Path string `yaml:"path"` // SQLite database path; ":memory:" for tests
}

// ProvidersConfig carries LLM provider credentials.
type ProvidersConfig struct {
	OpenAIAPIKey    string `yaml:"openai_api_key"`
	OpenAIBaseURL   string `yaml:"openai_base_url"`
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
}

// ArtifactsConfig configures where long responses are spilled.
type ArtifactsConfig struct {
	Backend string `yaml:"backend"` // "local" (default) or "s3"

	Local LocalArtifactsConfig `yaml:"local"`
	S3    S3ArtifactsConfig    `yaml:"s3"`
}

// LocalArtifactsConfig configures the local-directory artifact store.
type LocalArtifactsConfig struct {
	Dir     string `yaml:"dir"`
	BaseURL string `yaml:"base_url"`
}

// S3ArtifactsConfig configures the S3 artifact store.
type S3ArtifactsConfig struct {
	Bucket        string `yaml:"bucket"`
	Region        string `yaml:"region"`
	Prefix        string `yaml:"prefix"`
	Endpoint      string `yaml:"endpoint"`
	AccessKey     string `yaml:"access_key"`
	SecretKey     string `yaml:"secret_key"`
	PublicBaseURL string `yaml:"public_base_url"`
}

// ChronicleConfig configures automatic chapter summaries.
type ChronicleConfig struct {
	Model     string `yaml:"model"`     // empty disables chronicling
	Threshold int    `yaml:"threshold"` // unchronicled messages per chapter
	Prompt    string `yaml:"prompt"`    // override for the summary prompt
}

// BehaviorConfig holds cross-room behaviour toggles.
type BehaviorConfig struct {
	// ProactiveInterjectingTest lists channel keys where proactive replies are
	// generated but never sent.
	ProactiveInterjectingTest []string `yaml:"proactive_interjecting_test"`
}

// RoomConfig is the merged configuration of a single room.
type RoomConfig struct {
	Command    CommandConfig     `yaml:"command"`
	Proactive  ProactiveConfig   `yaml:"proactive"`
	PromptVars map[string]string `yaml:"prompt_vars"`
}

// CommandConfig configures command handling for a room.
type CommandConfig struct {
	HistorySize      int               `yaml:"history_size"`
	RateLimit        int               `yaml:"rate_limit"`
	RatePeriod       int               `yaml:"rate_period"` // seconds
	ResponseMaxBytes int               `yaml:"response_max_bytes"`
	Debounce         float64           `yaml:"debounce"` // seconds
	IgnoreUsers      []string          `yaml:"ignore_users"`
	DefaultMode      string            `yaml:"default_mode"`
	ChannelModes     map[string]string `yaml:"channel_modes"`
	ModeClassifier   ClassifierConfig  `yaml:"mode_classifier"`
	Modes            ModeMap           `yaml:"modes"`
}

// ClassifierConfig configures the LLM mode classifier.
type ClassifierConfig struct {
	Model         string   `yaml:"model"`
	Prompt        string   `yaml:"prompt"` // template with {message}
	Labels        LabelMap `yaml:"labels"`
	FallbackLabel string   `yaml:"fallback_label"`
}

// ModeConfig is one named bundle of prompt + model + tool policy.
type ModeConfig struct {
	Prompt                string     `yaml:"prompt"`
	Model                 ModelList  `yaml:"model"`
	HistorySize           int        `yaml:"history_size"`
	ReasoningEffort       string     `yaml:"reasoning_effort"`
	AllowedTools          []string   `yaml:"allowed_tools"`
	Steering              *bool      `yaml:"steering"`
	AutoReduceContext     bool       `yaml:"auto_reduce_context"`
	IncludeChapterSummary *bool      `yaml:"include_chapter_summary"`
	Triggers              TriggerMap `yaml:"triggers"`
}

// TriggerConfig holds per-trigger overrides of mode settings.
type TriggerConfig struct {
	Model           ModelList `yaml:"model"`
	ReasoningEffort string    `yaml:"reasoning_effort"`
	AllowedTools    []string  `yaml:"allowed_tools"`
	Steering        *bool     `yaml:"steering"`
}

// ProactiveConfig configures proactive interjection for a room.
type ProactiveConfig struct {
	RateLimit          int              `yaml:"rate_limit"`
	RatePeriod         int              `yaml:"rate_period"` // seconds
	DebounceSeconds    float64          `yaml:"debounce_seconds"`
	HistorySize        int              `yaml:"history_size"`
	InterjectThreshold int              `yaml:"interject_threshold"`
	Interjecting       []string         `yaml:"interjecting"`
	InterjectingTest   []string         `yaml:"interjecting_test"`
	Models             ProactiveModels  `yaml:"models"`
	Prompts            ProactivePrompts `yaml:"prompts"`
}

// ProactiveModels names the models of the proactive pipeline.
type ProactiveModels struct {
	Validation []string `yaml:"validation"`
	Serious    string   `yaml:"serious"`
}

// ProactivePrompts holds the proactive prompt templates.
type ProactivePrompts struct {
	Interject    string `yaml:"interject"` // template with {message}
	SeriousExtra string `yaml:"serious_extra"`
}

// DefaultResponseMaxBytes bounds reply length before spilling to an artifact.
const DefaultResponseMaxBytes = 600

// Load reads and decodes a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Artifacts.Backend == "" {
		c.Artifacts.Backend = "local"
	}
}

// Room returns the merged configuration for a room: rooms.common deep-merged
// with rooms.<name>. Plain keys override; ignore_users lists concatenate;
// prompt_vars string values concatenate per key.
func (c *Config) Room(name string) (*RoomConfig, error) {
	common, hasCommon := c.Rooms["common"]
	room, hasRoom := c.Rooms[name]
	if name == "common" {
		hasRoom = false
	}

	var merged *yaml.Node
	switch {
	case hasCommon && hasRoom:
		merged = mergeNodes(&common, &room)
	case hasCommon:
		merged = &common
	case hasRoom:
		merged = &room
	default:
		return nil, fmt.Errorf("room %q not configured", name)
	}

	rc := &RoomConfig{}
	if err := merged.Decode(rc); err != nil {
		return nil, fmt.Errorf("decoding room %q config: %w", name, err)
	}
	rc.applyDefaults()
	if err := rc.Validate(); err != nil {
		return nil, fmt.Errorf("room %q: %w", name, err)
	}
	return rc, nil
}

func (rc *RoomConfig) applyDefaults() {
	if rc.Command.ResponseMaxBytes <= 0 {
		rc.Command.ResponseMaxBytes = DefaultResponseMaxBytes
	}
	if rc.Command.DefaultMode == "" {
		rc.Command.DefaultMode = "classifier"
	}
}

// Validate checks structural requirements that do not depend on trigger
// indexing (the resolver performs the full cross-reference pass).
func (rc *RoomConfig) Validate() error {
	if rc.Command.HistorySize <= 0 {
		return fmt.Errorf("command.history_size must be positive")
	}
	if rc.Command.Modes.Len() == 0 {
		return fmt.Errorf("command.modes must not be empty")
	}
	for _, key := range rc.Command.Modes.Keys() {
		mode, _ := rc.Command.Modes.Get(key)
		if mode.Prompt == "" {
			return fmt.Errorf("command mode %q has no prompt", key)
		}
		if mode.Triggers.Len() == 0 {
			return fmt.Errorf("command mode %q must define at least one trigger", key)
		}
	}
	return nil
}
