package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

const testConfig = `
logging:
  level: debug
history:
  path: ":memory:"
behavior:
  proactive_interjecting_test: ["libera##test"]
rooms:
  common:
    command:
      history_size: 10
      rate_limit: 5
      rate_period: 60
      ignore_users: [spammer]
      mode_classifier:
        model: "openai:gpt-4o-mini"
        prompt: "Classify: {message}"
        labels:
          SERIOUS: "!s"
          SARCASTIC: "!d"
        fallback_label: SARCASTIC
      modes:
        serious:
          prompt: "Serious {mynick} at {current_time}.{extras}"
          model: "openai:gpt-4o"
          history_size: 40
          triggers:
            "!s":
            "!a":
              reasoning_effort: high
        sarcastic:
          prompt: "Sarcastic."
          model:
            - "anthropic:claude-sonnet-4"
            - "openai:gpt-4o"
          steering: false
          triggers:
            "!d":
    proactive:
      rate_limit: 2
      rate_period: 300
      debounce_seconds: 15
      history_size: 10
      interject_threshold: 8
      interjecting: []
      interjecting_test: []
      models:
        validation: ["openai:gpt-4o-mini"]
        serious: "openai:gpt-4o"
      prompts:
        interject: "Rate 1-10: {message}"
        serious_extra: "Be brief."
    prompt_vars:
      extras: " Common."
  irc:
    command:
      ignore_users: [BadBot]
      channel_modes:
        "libera##go-nuts": "classifier:serious"
    prompt_vars:
      extras: " Room."
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "parley.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAndMergeRoom(t *testing.T) {
	cfg, err := Load(writeConfig(t, testConfig))
	if err != nil {
		t.Fatal(err)
	}

	room, err := cfg.Room("irc")
	if err != nil {
		t.Fatal(err)
	}

	// ignore_users concatenates common first, then room.
	want := []string{"spammer", "BadBot"}
	if !reflect.DeepEqual(room.Command.IgnoreUsers, want) {
		t.Errorf("IgnoreUsers = %v, want %v", room.Command.IgnoreUsers, want)
	}

	// prompt_vars string values concatenate per key.
	if got := room.PromptVars["extras"]; got != " Common. Room." {
		t.Errorf("prompt_vars[extras] = %q, want %q", got, " Common. Room.")
	}

	// Plain keys inherit from common.
	if room.Command.HistorySize != 10 {
		t.Errorf("HistorySize = %d, want 10", room.Command.HistorySize)
	}
	// Room-only keys survive the merge.
	if got := room.Command.ChannelModes["libera##go-nuts"]; got != "classifier:serious" {
		t.Errorf("channel mode = %q", got)
	}
}

func TestDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, testConfig))
	if err != nil {
		t.Fatal(err)
	}
	room, err := cfg.Room("irc")
	if err != nil {
		t.Fatal(err)
	}
	if room.Command.ResponseMaxBytes != DefaultResponseMaxBytes {
		t.Errorf("ResponseMaxBytes = %d, want %d", room.Command.ResponseMaxBytes, DefaultResponseMaxBytes)
	}
	if room.Command.DefaultMode != "classifier" {
		t.Errorf("DefaultMode = %q, want classifier", room.Command.DefaultMode)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Logging.Format = %q, want text", cfg.Logging.Format)
	}
}

func TestTriggerOrderPreserved(t *testing.T) {
	cfg, err := Load(writeConfig(t, testConfig))
	if err != nil {
		t.Fatal(err)
	}
	room, err := cfg.Room("irc")
	if err != nil {
		t.Fatal(err)
	}

	serious, ok := room.Command.Modes.Get("serious")
	if !ok {
		t.Fatal("serious mode missing")
	}
	if got := serious.Triggers.Keys(); !reflect.DeepEqual(got, []string{"!s", "!a"}) {
		t.Errorf("trigger order = %v", got)
	}

	override, ok := serious.Triggers.Get("!a")
	if !ok || override.ReasoningEffort != "high" {
		t.Errorf("trigger override = %+v", override)
	}

	if got := room.Command.ModeClassifier.Labels.Keys(); !reflect.DeepEqual(got, []string{"SERIOUS", "SARCASTIC"}) {
		t.Errorf("label order = %v", got)
	}
}

func TestModelListScalarAndSequence(t *testing.T) {
	cfg, err := Load(writeConfig(t, testConfig))
	if err != nil {
		t.Fatal(err)
	}
	room, err := cfg.Room("irc")
	if err != nil {
		t.Fatal(err)
	}

	serious, _ := room.Command.Modes.Get("serious")
	if !reflect.DeepEqual([]string(serious.Model), []string{"openai:gpt-4o"}) {
		t.Errorf("scalar model = %v", serious.Model)
	}

	sarcastic, _ := room.Command.Modes.Get("sarcastic")
	if len(sarcastic.Model) != 2 || sarcastic.Model.First() != "anthropic:claude-sonnet-4" {
		t.Errorf("sequence model = %v", sarcastic.Model)
	}
	if sarcastic.Steering == nil || *sarcastic.Steering {
		t.Error("sarcastic steering should be explicitly false")
	}
}

func TestUnknownRoom(t *testing.T) {
	cfg, err := Load(writeConfig(t, testConfig))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := cfg.Room("matrix"); err == nil {
		t.Error("expected error for unconfigured room")
	}
}

func TestValidateRejectsModeWithoutTriggers(t *testing.T) {
	bad := `
rooms:
  common:
    command:
      history_size: 5
      mode_classifier:
        model: m
        prompt: p
        labels: {A: "!x"}
      modes:
        broken:
          prompt: "p"
          model: "openai:gpt-4o"
          triggers: {}
`
	cfg, err := Load(writeConfig(t, bad))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := cfg.Room("common"); err == nil {
		t.Error("expected validation error for mode without triggers")
	}
}
