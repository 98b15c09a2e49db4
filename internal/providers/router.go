// Package providers routes raw model calls (mode classification, proactive
// validation, chronicling) to the configured LLM provider clients.
package providers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/haasonsaas/parley/internal/config"
	"github.com/haasonsaas/parley/internal/history"
	"github.com/haasonsaas/parley/internal/modelspec"
)

// Client performs a single completion against one provider.
type Client interface {
	// Call sends the conversation with a system instruction to the named
	// model and returns the response text.
	Call(ctx context.Context, model, system string, msgs []history.ContextEntry) (string, error)
}

// Router dispatches model calls by the provider prefix of the model spec.
// It implements agent.ModelCaller.
type Router struct {
	clients map[string]Client
	logger  *slog.Logger
}

// NewRouter builds a router with clients for every provider that has
// credentials configured.
func NewRouter(cfg config.ProvidersConfig, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		clients: make(map[string]Client),
		logger:  logger,
	}
	if cfg.OpenAIAPIKey != "" {
		r.Register("openai", NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL))
	}
	if cfg.AnthropicAPIKey != "" {
		r.Register("anthropic", NewAnthropicClient(cfg.AnthropicAPIKey))
	}
	return r
}

// Register adds or replaces the client for a provider key.
func (r *Router) Register(provider string, c Client) {
	r.clients[provider] = c
}

// CallModel parses the model spec, picks the provider client and performs
// the call.
func (r *Router) CallModel(ctx context.Context, model string, context_ []history.ContextEntry, prompt string) (string, error) {
	spec, err := modelspec.Parse(model)
	if err != nil {
		return "", err
	}
	client, ok := r.clients[spec.Provider]
	if !ok {
		return "", fmt.Errorf("no client configured for provider %q", spec.Provider)
	}

	name := spec.Name
	if spec.Namespace != "" {
		name = spec.Namespace + "/" + spec.Name
	}

	r.logger.Debug("raw model call", "provider", spec.Provider, "model", name)
	text, err := client.Call(ctx, name, prompt, context_)
	if err != nil {
		return "", fmt.Errorf("%s call failed: %w", spec.Provider, err)
	}
	return text, nil
}
