// Package model defines the core memory data types.
package model

import "time"

// Memory represents a stored memory record.
type Memory struct {
	ID             string    `json:"id"`
	OwnerID        string    `json:"owner_id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Content        string    `json:"content"`
	Kind           string    `json:"kind"`
	Tags           []string  `json:"tags,omitempty"`
	Embedding      []float32 `json:"embedding,omitempty"`
	Importance     float64   `json:"importance"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	AccessCount    int       `json:"access_count"`
	CompressedFrom []string  `json:"compressed_from,omitempty"`
	Meta           string    `json:"meta,omitempty"`
}

// Clone returns a deep copy so callers never share slices with the store.
func (m Memory) Clone() Memory {
	c := m
	if m.Tags != nil {
		c.Tags = append([]string(nil), m.Tags...)
	}
	if m.Embedding != nil {
		c.Embedding = append([]float32(nil), m.Embedding...)
	}
	if m.CompressedFrom != nil {
		c.CompressedFrom = append([]string(nil), m.CompressedFrom...)
	}
	return c
}

// IsCompressed reports whether the record was produced by compression.
func (m Memory) IsCompressed() bool {
	return len(m.CompressedFrom) > 0
}

// Turn is one completed exchange in a conversation.
type Turn struct {
	ID             string    `json:"id"`
	OwnerID        string    `json:"owner_id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	UserText       string    `json:"user"`
	AssistantText  string    `json:"assistant"`
	CreatedAt      time.Time `json:"created_at"`
}

// Text renders the turn the way it appears in a prompt.
func (t Turn) Text() string {
	switch {
	case t.AssistantText == "":
		return "user: " + t.UserText
	case t.UserText == "":
		return "assistant: " + t.AssistantText
	}
	return "user: " + t.UserText + "\nassistant: " + t.AssistantText
}

// Kind values.
const (
	KindSemantic   = "semantic"
	KindEpisodic   = "episodic"
	KindProcedural = "procedural"
)

// ValidKinds are the allowed memory kinds.
var ValidKinds = map[string]bool{
	KindSemantic:   true,
	KindEpisodic:   true,
	KindProcedural: true,
}

// ClampImportance bounds v to [0,1].
func ClampImportance(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
