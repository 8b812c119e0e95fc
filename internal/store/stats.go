package store

import (
	"context"
	"os"
)

// Stats holds database statistics.
type Stats struct {
	DBPath        string       `json:"db_path"`
	DBSizeBytes   int64        `json:"db_size_bytes"`
	TotalMemories int          `json:"total_memories"`
	TotalTurns    int          `json:"total_turns"`
	LineageRows   int          `json:"lineage_rows"`
	Owners        []OwnerStats `json:"owners"`
}

// OwnerStats holds per-owner figures.
type OwnerStats struct {
	Owner         string         `json:"owner"`
	Count         int            `json:"count"`
	Compressed    int            `json:"compressed"`
	AvgImportance float64        `json:"avg_importance"`
	TotalAccesses int            `json:"total_accesses"`
	Kinds         map[string]int `json:"kinds"`
	Index         *IndexInfo     `json:"index,omitempty"`
}

// Stats returns database statistics, optionally restricted to one owner.
// Index details are reported only for partitions already in memory.
func (s *SQLiteStore) Stats(ctx context.Context, owner string) (*Stats, error) {
	st := &Stats{DBPath: s.path}

	if info, err := os.Stat(s.path); err == nil {
		st.DBSizeBytes = info.Size()
	}

	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories`).Scan(&st.TotalMemories)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM turns`).Scan(&st.TotalTurns)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memory_lineage`).Scan(&st.LineageRows)

	query := `
		SELECT owner_id, kind, COUNT(*), SUM(importance), SUM(access_count),
		       SUM(CASE WHEN compressed_from IS NOT NULL THEN 1 ELSE 0 END)
		FROM memories`
	var args []interface{}
	if owner != "" {
		query += ` WHERE owner_id = ?`
		args = append(args, owner)
	}
	query += ` GROUP BY owner_id, kind ORDER BY owner_id, kind`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return st, err
	}
	defer rows.Close()

	byOwner := map[string]*OwnerStats{}
	sums := map[string]float64{}
	for rows.Next() {
		var o, kind string
		var n, accesses, compressed int
		var impSum float64
		if err := rows.Scan(&o, &kind, &n, &impSum, &accesses, &compressed); err != nil {
			return st, err
		}
		ost, ok := byOwner[o]
		if !ok {
			ost = &OwnerStats{Owner: o, Kinds: map[string]int{}}
			byOwner[o] = ost
		}
		ost.Count += n
		ost.Compressed += compressed
		ost.TotalAccesses += accesses
		ost.Kinds[kind] = n
		sums[o] += impSum
	}
	if err := rows.Err(); err != nil {
		return st, err
	}

	for _, o := range sortedKeys(byOwner) {
		ost := byOwner[o]
		if ost.Count > 0 {
			ost.AvgImportance = sums[o] / float64(ost.Count)
		}
		s.mu.Lock()
		p, loaded := s.parts[o]
		s.mu.Unlock()
		if loaded {
			p.mu.RLock()
			idx := p.index()
			ost.Index = &IndexInfo{Kind: idx.Kind(), Len: idx.Len(), Tombstones: idx.Tombstones()}
			p.mu.RUnlock()
		}
		st.Owners = append(st.Owners, *ost)
	}
	return st, nil
}
