// Package assembler packs a system prompt, recent turns and ranked memories
// into a prompt context that never exceeds a token budget.
package assembler

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/rcliao/agent-recall/internal/logging"
	"github.com/rcliao/agent-recall/internal/model"
	"github.com/rcliao/agent-recall/internal/ranker"
	"github.com/rcliao/agent-recall/internal/tokenizer"
)

// Params is one packing request.
type Params struct {
	Budget       int
	SystemPrompt string
	RecentTurns  []model.Turn    // oldest first
	Memories     []ranker.Ranked // highest score first
}

// Assembler packs context windows. It is stateless and safe for
// concurrent use if its Counter is.
type Assembler struct {
	counter tokenizer.Counter
}

// New creates an Assembler. A nil counter uses tokenizer.Approx.
func New(counter tokenizer.Counter) *Assembler {
	if counter == nil {
		counter = tokenizer.Approx{}
	}
	return &Assembler{counter: counter}
}

// Count reports the token count of text under the assembler's counter.
func (a *Assembler) Count(text string) int { return a.counter.Count(text) }

// Assemble packs p greedily:
//
//  1. the system prompt is always included; model.ErrBudgetTooSmall if it
//     alone exceeds the budget
//  2. recent turns are added newest to oldest, stopping at the first turn
//     that does not fit; older turns are dropped whole
//  3. memories are added in rank order, skipping any that do not fit
//
// Every block after the first is also charged for the separator that
// joins it to the previous one. The window lists the system prompt, then
// memories in rank order, then turns oldest to newest. TotalTokens is the
// count of the rendered prompt and never exceeds Budget.
func (a *Assembler) Assemble(ctx context.Context, p Params) (*model.ContextWindow, error) {
	_, span := logging.StartSpan(ctx, "assembler.Assemble")
	defer span.End()

	w := &model.ContextWindow{Budget: p.Budget}

	sysTokens := a.counter.Count(p.SystemPrompt)
	if p.Budget < 0 || sysTokens > p.Budget {
		return nil, fmt.Errorf("system prompt needs %d tokens, budget is %d: %w", sysTokens, p.Budget, model.ErrBudgetTooSmall)
	}
	remaining := p.Budget - sysTokens
	var sys *model.Block
	if p.SystemPrompt != "" {
		sys = &model.Block{Kind: model.BlockSystem, Text: p.SystemPrompt, Tokens: sysTokens}
	}

	sepTokens := a.counter.Count(model.PromptSeparator)
	packed := sys != nil
	// cost is what adding text takes from the remaining budget.
	cost := func(text string) (int, int) {
		n := a.counter.Count(text)
		if packed && text != "" {
			return n, n + sepTokens
		}
		return n, n
	}

	var turns []model.Block
	for i := len(p.RecentTurns) - 1; i >= 0; i-- {
		t := p.RecentTurns[i]
		text := t.Text()
		n, c := cost(text)
		if c > remaining {
			w.DroppedTurns = i + 1
			break
		}
		remaining -= c
		packed = packed || text != ""
		turns = append(turns, model.Block{Kind: model.BlockTurn, Text: text, Tokens: n, TurnID: t.ID})
	}

	var memories []model.Block
	seen := make(map[string]bool, len(p.Memories))
	for _, m := range p.Memories {
		if seen[m.Memory.ID] {
			continue
		}
		seen[m.Memory.ID] = true
		n, c := cost(m.Memory.Content)
		if c > remaining {
			w.SkippedMemories++
			continue
		}
		remaining -= c
		packed = packed || m.Memory.Content != ""
		memories = append(memories, model.Block{
			Kind:     model.BlockMemory,
			Text:     m.Memory.Content,
			Tokens:   n,
			MemoryID: m.Memory.ID,
			Score:    m.Score,
		})
	}

	// Counters that merge across block boundaries can price the joined
	// prompt above the per-block sum; shed the lowest priority blocks
	// until the rendered prompt fits.
	for {
		w.Blocks = w.Blocks[:0]
		if sys != nil {
			w.Blocks = append(w.Blocks, *sys)
		}
		w.Blocks = append(w.Blocks, memories...)
		for i := len(turns) - 1; i >= 0; i-- {
			w.Blocks = append(w.Blocks, turns[i])
		}
		w.TotalTokens = a.counter.Count(w.Prompt())
		if w.TotalTokens <= p.Budget || len(memories)+len(turns) == 0 {
			break
		}
		if len(memories) > 0 {
			memories = memories[:len(memories)-1]
			w.SkippedMemories++
			continue
		}
		turns = turns[:len(turns)-1]
		w.DroppedTurns++
	}

	span.SetAttributes(
		attribute.Int("budget", p.Budget),
		attribute.Int("tokens", w.TotalTokens),
		attribute.Int("memories", len(memories)),
		attribute.Int("turns", len(turns)),
	)
	return w, nil
}
