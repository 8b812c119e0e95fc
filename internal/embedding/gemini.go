package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/rcliao/agent-recall/internal/model"
)

// GeminiEmbedder uses the Google Generative AI embedding API.
type GeminiEmbedder struct {
	client *genai.Client
	model  *genai.EmbeddingModel
	dims   int
}

// NewGeminiEmbedder creates an embedder backed by a Gemini embedding model.
func NewGeminiEmbedder(ctx context.Context, apiKey, modelName string, dims int) (*GeminiEmbedder, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: API key is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	if modelName == "" {
		modelName = "text-embedding-004"
	}
	if dims == 0 {
		dims = 768
	}
	return &GeminiEmbedder{
		client: client,
		model:  client.EmbeddingModel(modelName),
		dims:   dims,
	}, nil
}

func (e *GeminiEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	res, err := e.model.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w", classifyGemini(err))
	}
	if res == nil || res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, fmt.Errorf("gemini embed: no embedding returned: %w", model.ErrProviderUnavailable)
	}
	return res.Embedding.Values, nil
}

func (e *GeminiEmbedder) Dims() int { return e.dims }

// Close releases the underlying client.
func (e *GeminiEmbedder) Close() error {
	return e.client.Close()
}

func classifyGemini(err error) error {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return classifyStatus(gErr.Code, err)
	}
	// The gRPC transport reports quota errors only in the message.
	if strings.Contains(err.Error(), "RESOURCE_EXHAUSTED") {
		return classifyStatus(429, err)
	}
	return classifyStatus(0, err)
}
