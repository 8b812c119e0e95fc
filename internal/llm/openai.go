package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/rcliao/agent-recall/internal/model"
)

// OpenAIProvider uses any OpenAI-compatible chat completion API.
type OpenAIProvider struct {
	client *openai.Client
	model  string
	window int
}

// NewOpenAIProvider creates a provider. An empty model selects gpt-4o-mini.
func NewOpenAIProvider(apiKey, baseURL, modelName string, window int) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if modelName == "" {
		modelName = openai.GPT4oMini
	}
	if window <= 0 {
		window = 128000
	}
	return &OpenAIProvider{
		client: openai.NewClientWithConfig(cfg),
		model:  modelName,
		window: window,
	}, nil
}

func (p *OpenAIProvider) Name() string       { return ProviderOpenAI }
func (p *OpenAIProvider) ContextWindow() int { return p.window }

func (p *OpenAIProvider) request(prompt string, maxTokens int) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model:     p.model,
		MaxTokens: maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
}

func (p *OpenAIProvider) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	resp, err := p.client.CreateChatCompletion(ctx, p.request(prompt, maxTokens))
	if err != nil {
		return "", fmt.Errorf("openai complete: %w", classifyOpenAI(err))
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai complete: no choices returned: %w", model.ErrProviderUnavailable)
	}
	return resp.Choices[0].Message.Content, nil
}

func (p *OpenAIProvider) Stream(ctx context.Context, prompt string, maxTokens int, fn StreamFunc) (string, error) {
	req := p.request(prompt, maxTokens)
	req.Stream = true
	stream, err := p.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return "", fmt.Errorf("openai stream: %w", classifyOpenAI(err))
	}
	defer stream.Close()

	var sb strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return sb.String(), fmt.Errorf("openai stream: %w", classifyOpenAI(err))
		}
		if len(resp.Choices) == 0 {
			continue
		}
		chunk := resp.Choices[0].Delta.Content
		if chunk == "" {
			continue
		}
		sb.WriteString(chunk)
		if err := fn(chunk); err != nil {
			return sb.String(), err
		}
	}
	return sb.String(), nil
}

func classifyOpenAI(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if code, ok := apiErr.Code.(string); ok && code == "context_length_exceeded" {
			return fmt.Errorf("%w: %v", model.ErrContextTooLarge, err)
		}
		return classifyStatus(apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return classifyStatus(reqErr.HTTPStatusCode, err)
	}
	return classifyStatus(0, err)
}
