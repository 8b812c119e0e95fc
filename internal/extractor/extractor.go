// Package extractor turns conversation turns into candidate memories.
package extractor

import (
	"context"
	"strings"

	"github.com/rcliao/agent-recall/internal/model"
)

// Candidate is a fact proposed for storage. It has no id or embedding yet.
type Candidate struct {
	Content    string   `json:"content"`
	Importance float64  `json:"importance"`
	Kind       string   `json:"kind,omitempty"`
	Tags       []string `json:"tags,omitempty"`
}

// Extractor proposes candidates from one turn. It has no side effects.
type Extractor interface {
	Extract(ctx context.Context, turn model.Turn) ([]Candidate, error)
}

// Normalize cleans a batch: content is trimmed and whitespace collapsed,
// empty content is dropped, importance is clamped, unknown kinds become
// semantic, and candidates equal ignoring case are merged keeping the first
// position and the highest importance.
func Normalize(cands []Candidate) []Candidate {
	out := make([]Candidate, 0, len(cands))
	seen := make(map[string]int, len(cands))
	for _, c := range cands {
		c.Content = strings.Join(strings.Fields(c.Content), " ")
		if c.Content == "" {
			continue
		}
		c.Importance = model.ClampImportance(c.Importance)
		if !model.ValidKinds[c.Kind] {
			c.Kind = model.KindSemantic
		}
		c.Tags = normalizeTags(c.Tags)

		key := strings.ToLower(c.Content)
		if i, ok := seen[key]; ok {
			if c.Importance > out[i].Importance {
				out[i].Importance = c.Importance
			}
			continue
		}
		seen[key] = len(out)
		out = append(out, c)
	}
	return out
}

func normalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	var out []string
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
