package extractor

import (
	"context"
	"strings"

	"github.com/rcliao/agent-recall/internal/chunker"
	"github.com/rcliao/agent-recall/internal/model"
)

// HeuristicOptions tunes the rule-based extractor.
type HeuristicOptions struct {
	// MinWords drops sentences shorter than this. Default 3.
	MinWords int `yaml:"min_words"`
	// Episodic also records the start of the assistant's reply as an
	// episodic memory.
	Episodic           bool    `yaml:"episodic"`
	EpisodicImportance float64 `yaml:"episodic_importance"`
}

// DefaultHeuristicOptions returns the defaults.
func DefaultHeuristicOptions() HeuristicOptions {
	return HeuristicOptions{MinWords: 3, EpisodicImportance: 0.3}
}

// Heuristic extracts first-person disclosures, stated preferences and
// standing instructions from the user's side of a turn.
type Heuristic struct {
	opts HeuristicOptions
}

// NewHeuristic returns a rule-based extractor.
func NewHeuristic(opts HeuristicOptions) *Heuristic {
	if opts.MinWords <= 0 {
		opts.MinWords = 3
	}
	return &Heuristic{opts: opts}
}

type rule struct {
	tag        string
	kind       string
	importance float64
	prefixes   []string
	contains   []string
}

// Rules are tried in order; the first match classifies the sentence.
var rules = []rule{
	{
		tag: "instruction", kind: model.KindProcedural, importance: 0.8,
		prefixes: []string{"always ", "never ", "don't ", "do not ", "make sure ", "remember "},
		contains: []string{" remember that ", " from now on ", " call me ", " in the future "},
	},
	{
		tag: "preference", kind: model.KindSemantic, importance: 0.7,
		contains: []string{
			" i like ", " i love ", " i prefer ", " i hate ", " i dislike ", " i enjoy ",
			" my favorite ", " my favourite ", " i'd rather ", " i don't like ", " i can't stand ",
		},
	},
	{
		tag: "personal", kind: model.KindSemantic, importance: 0.6,
		prefixes: []string{"i am ", "i'm ", "my ", "i have ", "i've ", "i was ", "i use "},
		contains: []string{" i work ", " i live ", " i study ", " i own ", " i speak ", " i'm a ", " i am a "},
	},
}

var (
	boosts = []string{" important ", " must ", " always ", " never ", " remember ", " allergic ", " birthday "}
	hedges = []string{" maybe ", " might ", " i think ", " probably ", " sometimes ", " not sure "}
)

func (h *Heuristic) Extract(ctx context.Context, turn model.Turn) ([]Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []Candidate
	for _, s := range chunker.Sentences(turn.UserText) {
		if c, ok := h.classify(s); ok {
			out = append(out, c)
		}
	}
	if h.opts.Episodic {
		if c, ok := h.episode(turn); ok {
			out = append(out, c)
		}
	}
	return Normalize(out), nil
}

func (h *Heuristic) classify(sentence string) (Candidate, bool) {
	if strings.HasSuffix(sentence, "?") || len(strings.Fields(sentence)) < h.opts.MinWords {
		return Candidate{}, false
	}
	padded := pad(sentence)
	for _, r := range rules {
		if !r.matches(padded) {
			continue
		}
		imp := r.importance
		for _, b := range boosts {
			if strings.Contains(padded, b) {
				imp += 0.1
			}
		}
		for _, hd := range hedges {
			if strings.Contains(padded, hd) {
				imp -= 0.15
			}
		}
		return Candidate{
			Content:    sentence,
			Importance: model.ClampImportance(imp),
			Kind:       r.kind,
			Tags:       []string{r.tag},
		}, true
	}
	return Candidate{}, false
}

func (r rule) matches(padded string) bool {
	for _, p := range r.prefixes {
		if strings.HasPrefix(padded[1:], p) {
			return true
		}
	}
	for _, c := range r.contains {
		if strings.Contains(padded, c) {
			return true
		}
	}
	return false
}

// pad lowercases s, straightens apostrophes, replaces punctuation with
// spaces and surrounds the result with spaces so cues match whole words.
func pad(s string) string {
	s = strings.ToLower(strings.ReplaceAll(s, "’", "'"))
	s = strings.Map(func(r rune) rune {
		switch r {
		case '.', ',', '!', '?', ';', ':', '"', '(', ')':
			return ' '
		}
		return r
	}, s)
	return " " + strings.Join(strings.Fields(s), " ") + " "
}

func (h *Heuristic) episode(turn model.Turn) (Candidate, bool) {
	sentences := chunker.Sentences(turn.AssistantText)
	if len(sentences) == 0 {
		return Candidate{}, false
	}
	if len(sentences) > 2 {
		sentences = sentences[:2]
	}
	return Candidate{
		Content:    "Assistant said: " + strings.Join(sentences, " "),
		Importance: h.opts.EpisodicImportance,
		Kind:       model.KindEpisodic,
		Tags:       []string{"episode"},
	}, true
}
