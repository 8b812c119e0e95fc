package embedding

import (
	"context"
	"fmt"
	"os"
	"strconv"
)

// Provider names accepted by New.
const (
	ProviderHash   = "hash"
	ProviderMock   = "mock" // alias of hash
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Options selects and configures an embedding provider.
type Options struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	APIKey   string `yaml:"-"`
	Dims     int    `yaml:"dims"`
}

// New creates the embedder named by opts.Provider.
func New(ctx context.Context, opts Options) (Embedder, error) {
	switch opts.Provider {
	case "", ProviderHash, ProviderMock:
		return NewHashEmbedder(opts.Dims), nil
	case ProviderOllama:
		return NewOllamaEmbedder(opts.BaseURL, opts.Model)
	case ProviderOpenAI:
		return NewOpenAIEmbedder(opts.BaseURL, opts.APIKey, opts.Model, opts.Dims)
	case ProviderGemini:
		return NewGeminiEmbedder(ctx, opts.APIKey, opts.Model, opts.Dims)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q (valid: hash, mock, ollama, openai, gemini)", opts.Provider)
	}
}

// ApplyEnv overlays AGENT_RECALL_EMBED_* variables and the provider's API
// key variable onto opts.
func (opts *Options) ApplyEnv() {
	if v := os.Getenv("AGENT_RECALL_EMBED_PROVIDER"); v != "" {
		opts.Provider = v
	}
	if v := os.Getenv("AGENT_RECALL_EMBED_MODEL"); v != "" {
		opts.Model = v
	}
	if v := os.Getenv("AGENT_RECALL_EMBED_URL"); v != "" {
		opts.BaseURL = v
	}
	if v := os.Getenv("AGENT_RECALL_EMBED_DIMS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.Dims = n
		}
	}
	if opts.APIKey != "" {
		return
	}
	switch opts.Provider {
	case ProviderOpenAI:
		opts.APIKey = os.Getenv("OPENAI_API_KEY")
	case ProviderGemini:
		opts.APIKey = os.Getenv("GEMINI_API_KEY")
	}
}
