// Package tokenizer counts prompt tokens for budget enforcement.
package tokenizer

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Counter reports how many tokens a text occupies in a prompt.
type Counter interface {
	Count(text string) int
}

// CounterFunc adapts a function to Counter.
type CounterFunc func(string) int

func (f CounterFunc) Count(text string) int { return f(text) }

// Approx estimates one token per four characters, rounding up.
type Approx struct{}

func (Approx) Count(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

// Words counts whitespace-separated words. Useful for tests that need
// readable budgets.
type Words struct{}

func (Words) Count(text string) int { return len(strings.Fields(text)) }

// Tiktoken counts tokens with a BPE encoding such as cl100k_base.
type Tiktoken struct {
	mu  sync.Mutex
	enc *tiktoken.Tiktoken
}

// NewTiktoken loads the named encoding. The first load may fetch the
// vocabulary over the network.
func NewTiktoken(encoding string) (*Tiktoken, error) {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to get tiktoken encoding: %w", err)
	}
	return &Tiktoken{enc: enc}, nil
}

func (t *Tiktoken) Count(text string) int {
	if text == "" {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.enc.Encode(text, nil, nil))
}

// New returns the counter named by kind: "tiktoken" or "approx".
// A tiktoken load failure falls back to Approx and returns the error
// so the caller can log it.
func New(kind string) (Counter, error) {
	switch kind {
	case "", "approx":
		return Approx{}, nil
	case "tiktoken":
		t, err := NewTiktoken("cl100k_base")
		if err != nil {
			return Approx{}, err
		}
		return t, nil
	default:
		return nil, fmt.Errorf("unknown tokenizer %q (valid: approx, tiktoken)", kind)
	}
}
