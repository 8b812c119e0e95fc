package store

import (
	"context"
	"time"
)

// LineageRow records that a source memory was folded into a compression
// product.
type LineageRow struct {
	SourceID      string    `json:"source_id"`
	ProductID     string    `json:"product_id"`
	OwnerID       string    `json:"owner_id"`
	SourceContent string    `json:"source_content"`
	CreatedAt     time.Time `json:"created_at"`
}

// Lineage returns the rows where id is either the product or a source.
func (s *SQLiteStore) Lineage(ctx context.Context, owner, id string) ([]LineageRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source_id, product_id, owner_id, source_content, created_at FROM memory_lineage
		 WHERE owner_id = ? AND (product_id = ? OR source_id = ?)
		 ORDER BY source_id`, owner, id, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LineageRow
	for rows.Next() {
		var l LineageRow
		var createdAt string
		if err := rows.Scan(&l.SourceID, &l.ProductID, &l.OwnerID, &l.SourceContent, &createdAt); err != nil {
			return nil, err
		}
		l.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, l)
	}
	return out, rows.Err()
}
