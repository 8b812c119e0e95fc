package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/ollama/ollama/api"
)

// OllamaProvider uses a local Ollama instance.
type OllamaProvider struct {
	client *api.Client
	model  string
	window int
}

// NewOllamaProvider creates a provider. baseURL falls back to OLLAMA_HOST,
// then to localhost.
func NewOllamaProvider(baseURL, modelName string, window int) (*OllamaProvider, error) {
	if baseURL == "" {
		baseURL = os.Getenv("OLLAMA_HOST")
	}
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("ollama: invalid base URL: %w", err)
	}
	if modelName == "" {
		modelName = "llama3.2"
	}
	if window <= 0 {
		window = 8192
	}
	return &OllamaProvider{
		client: api.NewClient(u, http.DefaultClient),
		model:  modelName,
		window: window,
	}, nil
}

func (p *OllamaProvider) Name() string       { return ProviderOllama }
func (p *OllamaProvider) ContextWindow() int { return p.window }

func (p *OllamaProvider) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	return p.generate(ctx, prompt, maxTokens, false, nil)
}

func (p *OllamaProvider) Stream(ctx context.Context, prompt string, maxTokens int, fn StreamFunc) (string, error) {
	return p.generate(ctx, prompt, maxTokens, true, fn)
}

func (p *OllamaProvider) generate(ctx context.Context, prompt string, maxTokens int, stream bool, fn StreamFunc) (string, error) {
	req := &api.GenerateRequest{
		Model:   p.model,
		Prompt:  prompt,
		Stream:  &stream,
		Options: map[string]any{"num_predict": maxTokens, "num_ctx": p.window},
	}
	var sb strings.Builder
	err := p.client.Generate(ctx, req, func(resp api.GenerateResponse) error {
		if resp.Response == "" {
			return nil
		}
		sb.WriteString(resp.Response)
		if fn != nil {
			return fn(resp.Response)
		}
		return nil
	})
	if err != nil {
		return sb.String(), fmt.Errorf("ollama generate: %w", classifyOllama(err))
	}
	return sb.String(), nil
}

func classifyOllama(err error) error {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		return classifyStatus(statusErr.StatusCode, err)
	}
	return classifyStatus(0, err)
}
