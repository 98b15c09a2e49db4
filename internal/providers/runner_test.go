package providers

import (
	"context"
	"errors"
	"testing"

	"github.com/haasonsaas/parley/internal/agent"
	"github.com/haasonsaas/parley/internal/config"
	"github.com/haasonsaas/parley/internal/history"
)

type errClient struct{ err error }

func (e *errClient) Call(context.Context, string, string, []history.ContextEntry) (string, error) {
	return "", e.err
}

func TestSingleShotRunnerFallsBackAcrossModels(t *testing.T) {
	r := NewRouter(config.ProvidersConfig{}, nil)
	r.Register("broken", &errClient{err: errors.New("down")})
	fake := &fakeClient{response: "answer"}
	r.Register("openai", fake)

	runner := NewSingleShotRunner(r, nil)
	result, err := runner.RunActor(context.Background(), agent.RunRequest{
		Models:       []string{"broken:model", "openai:gpt-4o"},
		SystemPrompt: "be helpful",
		Context:      []history.ContextEntry{{Role: "user", Content: "<a> hi"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Text != "answer" || result.PrimaryModel != "openai:gpt-4o" {
		t.Errorf("result = %+v", result)
	}
	if fake.gotSystem != "be helpful" {
		t.Errorf("system = %q", fake.gotSystem)
	}
}

func TestSingleShotRunnerFoldsSteeringContext(t *testing.T) {
	r := NewRouter(config.ProvidersConfig{}, nil)
	fake := &fakeClient{response: "ok"}
	r.Register("openai", fake)

	runner := NewSingleShotRunner(r, nil)
	_, err := runner.RunActor(context.Background(), agent.RunRequest{
		Models:  []string{"openai:gpt-4o"},
		Context: []history.ContextEntry{{Role: "user", Content: "<a> first"}},
		SteeringProvider: func(ctx context.Context) ([]history.ContextEntry, error) {
			return []history.ContextEntry{{Role: "user", Content: "<a> late addition"}}, nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(fake.gotMsgs) != 2 || fake.gotMsgs[1].Content != "<a> late addition" {
		t.Errorf("msgs = %+v", fake.gotMsgs)
	}
}

func TestSingleShotRunnerAllModelsFail(t *testing.T) {
	r := NewRouter(config.ProvidersConfig{}, nil)
	r.Register("broken", &errClient{err: errors.New("down")})

	runner := NewSingleShotRunner(r, nil)
	if _, err := runner.RunActor(context.Background(), agent.RunRequest{
		Models: []string{"broken:one", "broken:two"},
	}); err == nil {
		t.Error("expected error when every model fails")
	}
	if _, err := runner.RunActor(context.Background(), agent.RunRequest{}); err == nil {
		t.Error("expected error with empty model list")
	}
}
