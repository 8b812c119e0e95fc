package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rcliao/agent-recall/internal/model"
)

// AppendTurn records a completed exchange and returns it with its id.
func (s *SQLiteStore) AppendTurn(ctx context.Context, t model.Turn) (model.Turn, error) {
	if t.OwnerID == "" {
		return t, fmt.Errorf("append turn: owner is required: %w", model.ErrInvalidInput)
	}
	if strings.TrimSpace(t.UserText) == "" && strings.TrimSpace(t.AssistantText) == "" {
		return t, fmt.Errorf("append turn: empty turn: %w", model.ErrInvalidInput)
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now()
	}
	t.CreatedAt = t.CreatedAt.UTC()
	if t.ID == "" {
		t.ID = s.newID(t.CreatedAt)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (id, owner_id, conversation_id, user_text, assistant_text, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.OwnerID, t.ConversationID, t.UserText, t.AssistantText, formatTime(t.CreatedAt))
	if err != nil {
		return t, fmt.Errorf("insert turn: %w", err)
	}
	return t, nil
}

// RecentTurns returns the last n turns of a conversation, oldest first.
func (s *SQLiteStore) RecentTurns(ctx context.Context, owner, conversationID string, n int) ([]model.Turn, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, conversation_id, user_text, assistant_text, created_at FROM turns
		 WHERE owner_id = ? AND conversation_id = ?
		 ORDER BY id DESC LIMIT ?`, owner, conversationID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []model.Turn
	for rows.Next() {
		var t model.Turn
		var createdAt string
		if err := rows.Scan(&t.ID, &t.OwnerID, &t.ConversationID, &t.UserText, &t.AssistantText, &createdAt); err != nil {
			return nil, err
		}
		t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}
