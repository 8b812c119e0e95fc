package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/rcliao/agent-recall/internal/model"
)

// ExportAll returns every memory, optionally restricted to one owner,
// embeddings included.
func (s *SQLiteStore) ExportAll(ctx context.Context, owner string) ([]model.Memory, error) {
	query := `SELECT ` + memoryColumns + ` FROM memories`
	var args []interface{}
	if owner != "" {
		query += ` WHERE owner_id = ?`
		args = append(args, owner)
	}
	query += ` ORDER BY owner_id, id`
	return s.queryMemories(ctx, query, args...)
}

// Import stores memories from an export, one transaction per owner.
// Records whose id already exists for the same owner are skipped. An id
// held by a different owner, in the store or elsewhere in the input, fails
// the import with model.ErrInvalidInput before anything is written. An
// owner that would exceed the cap fails with model.ErrQuotaExceeded and
// imports nothing.
func (s *SQLiteStore) Import(ctx context.Context, memories []model.Memory) (int, error) {
	byOwner := map[string][]model.Memory{}
	idOwner := map[string]string{}
	for _, m := range memories {
		if m.OwnerID == "" {
			return 0, fmt.Errorf("import %s: owner is required: %w", m.ID, model.ErrInvalidInput)
		}
		if m.ID != "" {
			if o, ok := idOwner[m.ID]; ok && o != m.OwnerID {
				return 0, fmt.Errorf("import %s: id appears under owners %s and %s: %w", m.ID, o, m.OwnerID, model.ErrInvalidInput)
			}
			idOwner[m.ID] = m.OwnerID
		}
		byOwner[m.OwnerID] = append(byOwner[m.OwnerID], m)
	}
	for id, owner := range idOwner {
		var held string
		err := s.db.QueryRowContext(ctx, `SELECT owner_id FROM memories WHERE id = ?`, id).Scan(&held)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return 0, fmt.Errorf("import %s: %w", id, err)
		case held != owner:
			return 0, fmt.Errorf("import %s: id already belongs to owner %s: %w", id, held, model.ErrInvalidInput)
		}
	}
	owners := make([]string, 0, len(byOwner))
	for o := range byOwner {
		owners = append(owners, o)
	}
	sort.Strings(owners)

	imported := 0
	for _, owner := range owners {
		n := 0
		err := s.Update(ctx, owner, func(tx *Tx) error {
			for _, m := range byOwner[owner] {
				if _, exists := tx.Get(m.ID); exists && m.ID != "" {
					continue
				}
				if _, err := tx.Insert(m); err != nil {
					return err
				}
				n++
			}
			return nil
		})
		if err != nil {
			return imported, fmt.Errorf("import owner %s: %w", owner, err)
		}
		imported += n
	}
	return imported, nil
}
