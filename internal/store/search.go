package store

import (
	"context"
	"strings"

	"github.com/rcliao/agent-recall/internal/model"
)

// SearchParams holds parameters for keyword search.
type SearchParams struct {
	Owner string
	Query string
	Kind  string
	Limit int
}

// Search finds memories of an owner whose content matches the query
// keywords, best match first. Queries the full-text index rejects fall
// back to a substring match.
func (s *SQLiteStore) Search(ctx context.Context, p SearchParams) ([]model.Memory, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = 20
	}
	if strings.TrimSpace(p.Query) == "" {
		return nil, nil
	}

	kindFilter := ""
	args := []interface{}{ftsQuery(p.Query), p.Owner}
	if p.Kind != "" {
		kindFilter = " AND m.kind = ?"
		args = append(args, p.Kind)
	}
	args = append(args, limit)

	mems, err := s.queryMemories(ctx, `
		SELECT `+prefixed("m", memoryColumns)+`
		FROM memories_fts f
		JOIN memories m ON m.rowid = f.rowid
		WHERE memories_fts MATCH ? AND m.owner_id = ?`+kindFilter+`
		ORDER BY bm25(memories_fts), m.id DESC
		LIMIT ?`, args...)
	if err == nil {
		return mems, nil
	}

	args = []interface{}{p.Owner, "%" + p.Query + "%"}
	if p.Kind != "" {
		args = append(args, p.Kind)
	}
	args = append(args, limit)
	return s.queryMemories(ctx, `
		SELECT `+memoryColumns+` FROM memories m
		WHERE m.owner_id = ? AND m.content LIKE ?`+kindFilter+`
		ORDER BY m.id DESC LIMIT ?`, args...)
}

// ftsQuery quotes each term so user text is never parsed as FTS syntax.
func ftsQuery(q string) string {
	terms := strings.Fields(q)
	for i, t := range terms {
		terms[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}
	return strings.Join(terms, " ")
}

func prefixed(alias, columns string) string {
	cols := strings.Split(columns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}
