package providers

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/haasonsaas/parley/internal/history"
)

// anthropicMaxTokens bounds classifier/validator responses; these calls
// expect short answers.
const anthropicMaxTokens = 1024

// AnthropicClient is a thin non-streaming wrapper around the Anthropic
// messages API.
type AnthropicClient struct {
	client anthropic.Client
}

// NewAnthropicClient creates a client.
func NewAnthropicClient(apiKey string) *AnthropicClient {
	return &AnthropicClient{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
	}
}

func (c *AnthropicClient) Call(ctx context.Context, model, system string, msgs []history.ContextEntry) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: anthropicMaxTokens,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: system}}
	}

	// Anthropic requires strict user/assistant alternation starting with a
	// user message; merge consecutive same-role entries.
	var merged []anthropic.MessageParam
	for _, m := range msgs {
		block := anthropic.NewTextBlock(m.Content)
		isAssistant := m.Role == "assistant"
		if len(merged) > 0 {
			last := &merged[len(merged)-1]
			if (last.Role == anthropic.MessageParamRoleAssistant) == isAssistant {
				last.Content = append(last.Content, block)
				continue
			}
		}
		if isAssistant {
			merged = append(merged, anthropic.NewAssistantMessage(block))
		} else {
			merged = append(merged, anthropic.NewUserMessage(block))
		}
	}
	if len(merged) == 0 || merged[0].Role != anthropic.MessageParamRoleUser {
		merged = append([]anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("(no prior context)")),
		}, merged...)
	}
	params.Messages = merged

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}
