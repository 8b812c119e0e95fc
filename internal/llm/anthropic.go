package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider uses the Anthropic Messages API.
type AnthropicProvider struct {
	client anthropic.Client
	model  string
	window int
}

// NewAnthropicProvider creates a provider. An empty model selects
// claude-sonnet-4-5.
func NewAnthropicProvider(apiKey, baseURL, modelName string, window int) (*AnthropicProvider, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if modelName == "" {
		modelName = "claude-sonnet-4-5"
	}
	if window <= 0 {
		window = 200000
	}
	return &AnthropicProvider{
		client: anthropic.NewClient(opts...),
		model:  modelName,
		window: window,
	}, nil
}

func (p *AnthropicProvider) Name() string       { return ProviderAnthropic }
func (p *AnthropicProvider) ContextWindow() int { return p.window }

func (p *AnthropicProvider) params(prompt string, maxTokens int) anthropic.MessageNewParams {
	return anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
}

func (p *AnthropicProvider) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	resp, err := p.client.Messages.New(ctx, p.params(prompt, maxTokens))
	if err != nil {
		return "", fmt.Errorf("anthropic complete: %w", classifyAnthropic(err))
	}
	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}

func (p *AnthropicProvider) Stream(ctx context.Context, prompt string, maxTokens int, fn StreamFunc) (string, error) {
	stream := p.client.Messages.NewStreaming(ctx, p.params(prompt, maxTokens))
	defer stream.Close()

	var sb strings.Builder
	for stream.Next() {
		evt, ok := stream.Current().AsAny().(anthropic.ContentBlockDeltaEvent)
		if !ok {
			continue
		}
		delta, ok := evt.Delta.AsAny().(anthropic.TextDelta)
		if !ok || delta.Text == "" {
			continue
		}
		sb.WriteString(delta.Text)
		if err := fn(delta.Text); err != nil {
			return sb.String(), err
		}
	}
	if err := stream.Err(); err != nil {
		return sb.String(), fmt.Errorf("anthropic stream: %w", classifyAnthropic(err))
	}
	return sb.String(), nil
}

func classifyAnthropic(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.StatusCode, err)
	}
	return classifyStatus(0, err)
}
