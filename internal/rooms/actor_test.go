package rooms

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/haasonsaas/parley/internal/agent"
	"github.com/haasonsaas/parley/internal/config"
	"github.com/haasonsaas/parley/internal/history"
)

func TestTruncateForSpillFitsBudget(t *testing.T) {
	url := "https://paste.example.com/a.txt"
	long := strings.Repeat("word ", 500)

	got := truncateForSpill(long, 600, url)
	if len(got) > 600 {
		t.Errorf("len = %d, want <= 600", len(got))
	}
	if !strings.HasSuffix(got, "... full response: "+url) {
		t.Errorf("missing artifact tail: %q", got)
	}
	if !utf8.ValidString(got) {
		t.Error("invalid UTF-8")
	}
}

// Multi-byte runes are never split at the byte budget.
func TestTruncateForSpillRespectsUTF8(t *testing.T) {
	url := "http://x/a"
	long := strings.Repeat("héllo wörld 日本語 ", 200)

	for _, maxBytes := range []int{100, 137, 256, 601} {
		got := truncateForSpill(long, maxBytes, url)
		if len(got) > maxBytes {
			t.Errorf("maxBytes=%d: len = %d", maxBytes, len(got))
		}
		if !utf8.ValidString(got) {
			t.Errorf("maxBytes=%d: invalid UTF-8 in %q", maxBytes, got)
		}
	}
}

// Within the last 100 characters the cut prefers a sentence end, then a word
// boundary.
func TestTruncateForSpillBreaksAtSentence(t *testing.T) {
	url := "http://x/a"
	text := strings.Repeat("a", 400) + ". tail words follow here " + strings.Repeat("b", 40)

	got := truncateForSpill(text, 460, url)
	body := strings.TrimSuffix(got, "... full response: "+url)
	if !strings.HasSuffix(body, ".") {
		t.Errorf("cut did not end at sentence: %q", body[len(body)-20:])
	}
}

func TestRunActorSynthesizesErrorResult(t *testing.T) {
	env := newTestEnv(t)
	env.runner.onRun = func(n int, req agent.RunRequest) (*agent.Result, error) {
		return nil, context.DeadlineExceeded
	}

	result, err := env.handler.runActor(context.Background(), "parley", actorParams{Mode: "serious"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(result.Text, "Error: ") {
		t.Errorf("text = %q", result.Text)
	}
}

func TestRunActorSpillsLongResponses(t *testing.T) {
	env := newTestEnv(t)
	long := strings.Repeat("the answer goes on. ", 100)
	env.runner.onRun = func(n int, req agent.RunRequest) (*agent.Result, error) {
		return &agent.Result{Text: long}, nil
	}

	result, err := env.handler.runActor(context.Background(), "parley", actorParams{Mode: "serious"})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Text) > 600 {
		t.Errorf("len = %d, want <= 600", len(result.Text))
	}
	if !strings.Contains(result.Text, "... full response: https://paste.example.com/full.txt") {
		t.Errorf("text = %q", result.Text)
	}
}

func TestRunActorNoContextReducesToLastEntry(t *testing.T) {
	env := newTestEnv(t)
	var got agent.RunRequest
	env.runner.onRun = func(n int, req agent.RunRequest) (*agent.Result, error) {
		got = req
		return &agent.Result{Text: "ok"}, nil
	}

	_, err := env.handler.runActor(context.Background(), "parley", actorParams{
		Mode:      "serious",
		NoContext: true,
		Context: []history.ContextEntry{
			{Role: "user", Content: "<a> old"},
			{Role: "user", Content: "<a> current"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Context) != 1 || got.Context[0].Content != "<a> current" {
		t.Errorf("context = %v", got.Context)
	}
	if got.IncludeChapterSummary {
		t.Error("chapter summary should be disabled with no_context")
	}
}

func TestBuildSystemPrompt(t *testing.T) {
	env := newTestEnv(t)
	env.handler.now = func() time.Time {
		return time.Date(2026, 8, 24, 15, 4, 0, 0, time.UTC)
	}

	prompt, err := env.handler.BuildSystemPrompt("serious", "parley", "")
	if err != nil {
		t.Fatal(err)
	}
	want := "You are parley, a serious assistant. The time is 2026-08-24 15:04. Be kind."
	if prompt != want {
		t.Errorf("prompt = %q, want %q", prompt, want)
	}
}

func TestBuildSystemPromptTriggerModelPlaceholder(t *testing.T) {
	env := newTestEnv(t)

	prompt, err := env.handler.BuildSystemPrompt("unsafe", "parley", "")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(prompt, "Serious mode runs on claude-sonnet-4-5.") {
		t.Errorf("prompt = %q", prompt)
	}
}

// The model override only affects placeholders of the current mode's
// triggers.
func TestBuildSystemPromptModelOverrideScoping(t *testing.T) {
	env := newTestEnv(t)

	// unsafe mode references {!s_model}; overriding while in unsafe mode must
	// not leak into the serious trigger's placeholder.
	prompt, err := env.handler.BuildSystemPrompt("unsafe", "parley", "my:override/model")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(prompt, "claude-sonnet-4-5") {
		t.Errorf("prompt = %q", prompt)
	}

	// In serious mode the override applies to {!s_model}.
	env.handler.cfg.Command.Modes = modesFromYAML(t, `
serious:
  prompt: "You are running on {!s_model}."
  model: anthropic:claude-sonnet-4-5
  triggers: {"!s": null}
`)
	prompt, err = env.handler.BuildSystemPrompt("serious", "parley", "my:override/model")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(prompt, "running on model.") {
		t.Errorf("prompt = %q", prompt)
	}
}

func TestBuildSystemPromptUnknownTriggerFatal(t *testing.T) {
	env := newTestEnv(t)
	env.handler.cfg.Command.Modes = modesFromYAML(t, `
serious:
  prompt: "uses {!zzz_model}"
  model: anthropic:claude-sonnet-4-5
  triggers: {"!s": null}
`)

	if _, err := env.handler.BuildSystemPrompt("serious", "parley", ""); err == nil {
		t.Error("expected error for unknown trigger placeholder")
	}
}

// A prompt referencing an unknown trigger surfaces as an "Error: ..." reply
// instead of running the agent.
func TestRunActorUnknownPlaceholderBecomesErrorReply(t *testing.T) {
	env := newTestEnv(t)
	env.handler.cfg.Command.Modes = modesFromYAML(t, `
serious:
  prompt: "uses {!zzz_model}"
  model: anthropic:claude-sonnet-4-5
  triggers: {"!s": null}
`)
	env.runner.onRun = func(n int, req agent.RunRequest) (*agent.Result, error) {
		t.Error("agent ran despite a broken prompt")
		return &agent.Result{Text: "nope"}, nil
	}

	result, err := env.handler.runActor(context.Background(), "parley", actorParams{Mode: "serious"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(result.Text, "Error: ") || !strings.Contains(result.Text, "{!zzz_model}") {
		t.Errorf("text = %q", result.Text)
	}
}

func modesFromYAML(t *testing.T, raw string) config.ModeMap {
	t.Helper()
	var m config.ModeMap
	if err := yaml.Unmarshal([]byte(raw), &m); err != nil {
		t.Fatal(err)
	}
	return m
}
