package llm

import (
	"fmt"
	"os"
)

// Options selects and configures one completion provider.
type Options struct {
	Provider      string `yaml:"provider"`
	Model         string `yaml:"model"`
	BaseURL       string `yaml:"base_url"`
	APIKey        string `yaml:"-"`
	ContextWindow int    `yaml:"context_window"`
}

// New creates the provider named by opts.Provider.
func New(opts Options) (Provider, error) {
	switch opts.Provider {
	case "", ProviderStub:
		return NewStub(opts.ContextWindow), nil
	case ProviderOpenAI:
		return NewOpenAIProvider(opts.APIKey, opts.BaseURL, opts.Model, opts.ContextWindow)
	case ProviderAnthropic:
		return NewAnthropicProvider(opts.APIKey, opts.BaseURL, opts.Model, opts.ContextWindow)
	case ProviderOllama:
		return NewOllamaProvider(opts.BaseURL, opts.Model, opts.ContextWindow)
	default:
		return nil, fmt.Errorf("unknown llm provider %q (valid: stub, openai, anthropic, ollama)", opts.Provider)
	}
}

// NewAll creates every provider in order, for use with NewDispatcher.
func NewAll(opts []Options) ([]Provider, error) {
	out := make([]Provider, 0, len(opts))
	for _, o := range opts {
		p, err := New(o)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// ApplyEnv fills in the API key from the provider's environment variable.
func (opts *Options) ApplyEnv() {
	if opts.APIKey != "" {
		return
	}
	switch opts.Provider {
	case ProviderOpenAI:
		opts.APIKey = os.Getenv("OPENAI_API_KEY")
	case ProviderAnthropic:
		opts.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
}
