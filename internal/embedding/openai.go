package embedding

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/rcliao/agent-recall/internal/model"
)

// OpenAIEmbedder uses any OpenAI-compatible embedding API.
type OpenAIEmbedder struct {
	client *openai.Client
	model  string
	dims   int
}

// NewOpenAIEmbedder creates an embedder using an OpenAI-compatible API.
func NewOpenAIEmbedder(baseURL, apiKey, model string, dims int) (*OpenAIEmbedder, error) {
	if apiKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}
	if dims == 0 {
		dims = 1536
	}
	return &OpenAIEmbedder{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		dims:   dims,
	}, nil
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, fmt.Errorf("openai embed: %w", classifyOpenAI(err))
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai embed: no embedding returned: %w", model.ErrProviderUnavailable)
	}
	return resp.Data[0].Embedding, nil
}

func (e *OpenAIEmbedder) Dims() int { return e.dims }

// classifyOpenAI maps go-openai errors onto the shared taxonomy.
func classifyOpenAI(err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	return classifyStatus(status, err)
}

// classifyStatus wraps err with the taxonomy error matching an HTTP status.
// A zero status means the request never got a response.
func classifyStatus(status int, err error) error {
	switch {
	case status == 429:
		return fmt.Errorf("%w: %v", model.ErrProviderRateLimited, err)
	case status == 400 || status == 413 || status == 422:
		return fmt.Errorf("%w: %v", model.ErrInvalidInput, err)
	case status == 0 || status >= 500 || status == 408:
		return fmt.Errorf("%w: %v", model.ErrProviderUnavailable, err)
	}
	return err
}
