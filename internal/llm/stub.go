package llm

import (
	"context"
	"strings"
	"sync"
)

// Stub is an offline provider for tests and for running without an API
// key. By default it answers with the last non-empty line of the prompt.
type Stub struct {
	ID     string
	Window int
	// Reply, when set, produces the answer or error for each prompt.
	Reply func(prompt string) (string, error)

	mu      sync.Mutex
	prompts []string
}

// NewStub returns a stub with the given context window (default 4096).
func NewStub(window int) *Stub {
	return &Stub{Window: window}
}

func (s *Stub) Name() string {
	if s.ID != "" {
		return s.ID
	}
	return ProviderStub
}

func (s *Stub) ContextWindow() int {
	if s.Window <= 0 {
		return 4096
	}
	return s.Window
}

// Prompts returns every prompt the stub has received.
func (s *Stub) Prompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts...)
}

func (s *Stub) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	s.prompts = append(s.prompts, prompt)
	reply := s.Reply
	s.mu.Unlock()

	if reply != nil {
		return reply(prompt)
	}
	return echo(prompt, maxTokens), nil
}

func (s *Stub) Stream(ctx context.Context, prompt string, maxTokens int, fn StreamFunc) (string, error) {
	out, err := s.Complete(ctx, prompt, maxTokens)
	if err != nil {
		return "", err
	}
	for i, w := range strings.SplitAfter(out, " ") {
		if w == "" {
			continue
		}
		if err := fn(w); err != nil {
			return strings.Join(strings.SplitAfter(out, " ")[:i+1], ""), err
		}
	}
	return out, nil
}

func echo(prompt string, maxTokens int) string {
	lines := strings.Split(strings.TrimSpace(prompt), "\n")
	last := ""
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			last = l
			break
		}
	}
	if limit := maxTokens * 4; maxTokens > 0 && len(last) > limit {
		last = last[:limit]
	}
	return last
}
