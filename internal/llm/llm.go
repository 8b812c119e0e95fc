// Package llm talks to chat-completion providers and picks one per request.
package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/rcliao/agent-recall/internal/model"
)

// StreamFunc receives each text fragment as it arrives. Returning an error
// stops the stream.
type StreamFunc func(chunk string) error

// Completer is the narrow capability of helpers that only need text back.
type Completer interface {
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// Provider is one completion backend.
type Provider interface {
	// Name identifies the provider in logs and results.
	Name() string
	// ContextWindow is the largest prompt plus completion, in tokens.
	ContextWindow() int
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
	// Stream is Complete with incremental delivery. It returns the full text.
	Stream(ctx context.Context, prompt string, maxTokens int, fn StreamFunc) (string, error)
}

// Provider names accepted by New.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
	ProviderStub      = "stub"
)

// contextMarkers are fragments providers use when a prompt exceeds the
// model's window.
var contextMarkers = []string{
	"context_length_exceeded",
	"maximum context length",
	"context window",
	"prompt is too long",
	"too many tokens",
}

func isContextError(msg string) bool {
	msg = strings.ToLower(msg)
	for _, m := range contextMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// classifyStatus maps an HTTP status and provider message onto the shared
// taxonomy. A zero status means no response was received.
func classifyStatus(status int, err error) error {
	switch {
	case status == 429:
		return fmt.Errorf("%w: %v", model.ErrProviderRateLimited, err)
	case (status == 400 || status == 413) && isContextError(err.Error()):
		return fmt.Errorf("%w: %v", model.ErrContextTooLarge, err)
	case status == 400 || status == 413 || status == 422:
		return fmt.Errorf("%w: %v", model.ErrInvalidInput, err)
	case status == 0 || status == 408 || status >= 500:
		return fmt.Errorf("%w: %v", model.ErrProviderUnavailable, err)
	}
	return err
}
