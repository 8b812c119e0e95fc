package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/rcliao/agent-recall/internal/chunker"
	"github.com/rcliao/agent-recall/internal/llm"
	"github.com/rcliao/agent-recall/internal/logging"
	"github.com/rcliao/agent-recall/internal/model"
)

const extractPrompt = `Extract durable facts about the user from this conversation turn.
Only include facts worth remembering in later conversations: identity, preferences,
standing instructions, ongoing projects. Skip small talk and one-off requests.

Respond with a JSON array only. Each element:
{"content": "<one self-contained sentence>", "importance": <0.0-1.0>, "kind": "semantic|episodic|procedural", "tags": ["..."]}
Respond with [] when there is nothing to remember.

Turn:
%s
`

// LLM asks a language model for facts and falls back to Fallback when the
// model fails or returns something unparseable. Long turns are split into
// windows and each window is prompted separately.
type LLM struct {
	completer llm.Completer
	fallback  Extractor
	maxTokens int
	chunk     chunker.Options
	log       *logrus.Entry
}

// NewLLM returns a model-backed extractor. A nil fallback uses the
// default heuristic extractor.
func NewLLM(c llm.Completer, fallback Extractor, log *logrus.Entry) *LLM {
	if fallback == nil {
		fallback = NewHeuristic(DefaultHeuristicOptions())
	}
	return &LLM{
		completer: c,
		fallback:  fallback,
		maxTokens: 512,
		chunk:     chunker.DefaultOptions(),
		log:       logging.OrDefault(log, "extractor"),
	}
}

func (e *LLM) Extract(ctx context.Context, turn model.Turn) ([]Candidate, error) {
	log := e.log.WithField("owner_id", turn.OwnerID)
	var cands []Candidate
	for _, p := range chunker.Chunk(turn.Text(), e.chunk) {
		out, err := e.completer.Complete(ctx, fmt.Sprintf(extractPrompt, p.Text), e.maxTokens)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.WithError(err).WithField("lines", fmt.Sprintf("%d-%d", p.StartLine, p.EndLine)).
				Warn("llm extraction failed, using heuristics")
			return e.fallback.Extract(ctx, turn)
		}
		found, err := parseCandidates(out)
		if err != nil {
			log.WithError(err).WithField("lines", fmt.Sprintf("%d-%d", p.StartLine, p.EndLine)).
				Warn("unparseable llm extraction, using heuristics")
			return e.fallback.Extract(ctx, turn)
		}
		cands = append(cands, found...)
	}
	return Normalize(cands), nil
}

// parseCandidates reads the first JSON array in s. Models often wrap the
// array in prose or code fences.
func parseCandidates(s string) ([]Candidate, error) {
	start := strings.Index(s, "[")
	end := strings.LastIndex(s, "]")
	if start < 0 || end < start {
		return nil, fmt.Errorf("no JSON array in response: %w", model.ErrInvalidInput)
	}
	var cands []Candidate
	if err := json.Unmarshal([]byte(s[start:end+1]), &cands); err != nil {
		return nil, fmt.Errorf("decode facts: %w", err)
	}
	return cands, nil
}
