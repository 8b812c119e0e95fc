package model

import "strings"

// BlockKind identifies the section a context block belongs to.
type BlockKind string

const (
	BlockSystem BlockKind = "system"
	BlockMemory BlockKind = "memory"
	BlockTurn   BlockKind = "turn"
)

// Block is one atomic unit of an assembled prompt.
type Block struct {
	Kind     BlockKind `json:"kind"`
	Text     string    `json:"text"`
	Tokens   int       `json:"tokens"`
	MemoryID string    `json:"memory_id,omitempty"`
	TurnID   string    `json:"turn_id,omitempty"`
	Score    float64   `json:"score,omitempty"`
}

// PromptSeparator joins consecutive blocks in a rendered prompt.
const PromptSeparator = "\n\n"

// ContextWindow is the assembled, budget-bounded prompt context.
// It is never persisted.
type ContextWindow struct {
	Budget          int     `json:"budget"`
	TotalTokens     int     `json:"total_tokens"`
	Blocks          []Block `json:"blocks"`
	DroppedTurns    int     `json:"dropped_turns"`
	SkippedMemories int     `json:"skipped_memories"`
}

// Memories returns the memory blocks in window order.
func (w *ContextWindow) Memories() []Block {
	return w.filter(BlockMemory)
}

// Turns returns the turn blocks in window order.
func (w *ContextWindow) Turns() []Block {
	return w.filter(BlockTurn)
}

func (w *ContextWindow) filter(k BlockKind) []Block {
	var out []Block
	for _, b := range w.Blocks {
		if b.Kind == k {
			out = append(out, b)
		}
	}
	return out
}

// Prompt joins the block texts, separated by blank lines, in window order.
func (w *ContextWindow) Prompt() string {
	parts := make([]string, 0, len(w.Blocks))
	for _, b := range w.Blocks {
		if b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, PromptSeparator)
}
