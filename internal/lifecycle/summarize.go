package lifecycle

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/rcliao/agent-recall/internal/chunker"
	"github.com/rcliao/agent-recall/internal/llm"
	"github.com/rcliao/agent-recall/internal/logging"
	"github.com/rcliao/agent-recall/internal/model"
)

// Summarizer condenses a cluster of related memories into one text.
type Summarizer interface {
	Summarize(ctx context.Context, mems []model.Memory) (string, error)
}

// Extractive keeps the distinct sentences of the sources, most important
// source first, up to a length limit. It needs no model.
type Extractive struct {
	maxChars int
}

// NewExtractive returns an extractive summarizer. maxChars defaults to 1000.
func NewExtractive(maxChars int) *Extractive {
	if maxChars <= 0 {
		maxChars = 1000
	}
	return &Extractive{maxChars: maxChars}
}

func (e *Extractive) Summarize(ctx context.Context, mems []model.Memory) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ordered := append([]model.Memory(nil), mems...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Importance != ordered[j].Importance {
			return ordered[i].Importance > ordered[j].Importance
		}
		return ordered[i].ID < ordered[j].ID
	})

	var parts []string
	seen := make(map[string]bool)
	size := 0
	for _, m := range ordered {
		for _, s := range chunker.Sentences(m.Content) {
			key := strings.ToLower(strings.TrimRight(s, ".!? "))
			if seen[key] {
				continue
			}
			if size > 0 && size+1+len(s) > e.maxChars {
				return strings.Join(parts, " "), nil
			}
			seen[key] = true
			parts = append(parts, terminate(s))
			size += len(s) + 1
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("summarize: nothing to summarize: %w", model.ErrInvalidInput)
	}
	return strings.Join(parts, " "), nil
}

func terminate(s string) string {
	switch s[len(s)-1] {
	case '.', '!', '?':
		return s
	}
	return s + "."
}

const summarizePrompt = `Merge these related notes about the same user into one concise note.
Keep every distinct fact, drop repetition, and write plain sentences without a preamble.

Notes:
%s
`

// LLMSummarizer asks a language model for the summary and falls back to
// extraction when the model fails or answers with nothing.
type LLMSummarizer struct {
	completer llm.Completer
	fallback  Summarizer
	maxTokens int
	log       *logrus.Entry
}

// NewLLMSummarizer returns a model-backed summarizer.
func NewLLMSummarizer(c llm.Completer, log *logrus.Entry) *LLMSummarizer {
	return &LLMSummarizer{
		completer: c,
		fallback:  NewExtractive(0),
		maxTokens: 300,
		log:       logging.OrDefault(log, "lifecycle"),
	}
}

func (s *LLMSummarizer) Summarize(ctx context.Context, mems []model.Memory) (string, error) {
	var notes strings.Builder
	for _, m := range mems {
		notes.WriteString("- ")
		notes.WriteString(m.Content)
		notes.WriteString("\n")
	}
	out, err := s.completer.Complete(ctx, fmt.Sprintf(summarizePrompt, notes.String()), s.maxTokens)
	if err == nil {
		if out = strings.TrimSpace(out); out != "" {
			return out, nil
		}
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	s.log.WithError(err).Warn("llm summary unavailable, using extractive summary")
	return s.fallback.Summarize(ctx, mems)
}
