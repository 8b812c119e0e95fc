package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/rcliao/agent-recall/internal/model"
)

// Tx is an owner-scoped transaction. It presents the owner's records as
// they will be after commit and buffers every change until Update returns.
// A Tx must not be used after its Update call returns.
type Tx struct {
	s     *SQLiteStore
	owner string
	now   time.Time
	dims  int

	view        map[string]*model.Memory
	inserted    []string
	deleted     map[string]bool
	importance  map[string]float64
	lineage     []LineageRow
	checkpoints map[string]time.Time
}

// Owner returns the transaction's owner.
func (tx *Tx) Owner() string { return tx.owner }

// Now returns the transaction's clock reading.
func (tx *Tx) Now() time.Time { return tx.now }

// Cap returns the per-owner record limit enforced at commit.
func (tx *Tx) Cap() int { return tx.s.opts.Cap }

// Count returns the number of records the owner will have after commit.
func (tx *Tx) Count() int { return len(tx.view) }

// Records returns copies of the owner's records, ordered by id.
func (tx *Tx) Records() []model.Memory {
	out := make([]model.Memory, 0, len(tx.view))
	for _, r := range tx.view {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns a copy of one record.
func (tx *Tx) Get(id string) (model.Memory, bool) {
	r, ok := tx.view[id]
	if !ok {
		return model.Memory{}, false
	}
	return r.Clone(), true
}

// Insert stages a new record. An empty ID is assigned from CreatedAt;
// zero timestamps default to the transaction clock.
func (tx *Tx) Insert(rec model.Memory) (model.Memory, error) {
	rec = rec.Clone()
	if rec.OwnerID == "" {
		rec.OwnerID = tx.owner
	}
	if rec.OwnerID != tx.owner {
		return model.Memory{}, fmt.Errorf("insert: record owner %q in transaction for %q: %w", rec.OwnerID, tx.owner, model.ErrInvalidInput)
	}
	rec.Content = strings.TrimSpace(rec.Content)
	if rec.Content == "" {
		return model.Memory{}, fmt.Errorf("insert: empty content: %w", model.ErrInvalidInput)
	}
	if len(rec.Embedding) == 0 {
		return model.Memory{}, fmt.Errorf("insert: missing embedding: %w", model.ErrInvalidInput)
	}
	if tx.dims != 0 && len(rec.Embedding) != tx.dims {
		return model.Memory{}, fmt.Errorf("insert: embedding has %d dims, partition has %d: %w", len(rec.Embedding), tx.dims, model.ErrInvalidInput)
	}
	if rec.Kind == "" {
		rec.Kind = model.KindSemantic
	}
	if !model.ValidKinds[rec.Kind] {
		return model.Memory{}, fmt.Errorf("insert: invalid kind %q: %w", rec.Kind, model.ErrInvalidInput)
	}
	rec.Importance = model.ClampImportance(rec.Importance)
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = tx.now
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	if rec.LastAccessedAt.IsZero() {
		rec.LastAccessedAt = rec.CreatedAt
	}
	rec.LastAccessedAt = rec.LastAccessedAt.UTC()

	if rec.ID == "" {
		rec.ID = tx.s.newID(rec.CreatedAt)
	} else if _, err := ulid.ParseStrict(rec.ID); err != nil {
		return model.Memory{}, fmt.Errorf("insert: invalid id %q: %w", rec.ID, model.ErrInvalidInput)
	}
	if _, exists := tx.view[rec.ID]; exists {
		return model.Memory{}, fmt.Errorf("insert: duplicate id %s: %w", rec.ID, model.ErrInvalidInput)
	}

	tx.view[rec.ID] = &rec
	tx.inserted = append(tx.inserted, rec.ID)
	tx.dims = len(rec.Embedding)
	return rec.Clone(), nil
}

// Delete stages removal of ids and reports how many were present.
func (tx *Tx) Delete(ids ...string) int {
	n := 0
	for _, id := range ids {
		if _, ok := tx.view[id]; !ok {
			continue
		}
		delete(tx.view, id)
		delete(tx.importance, id)
		n++
		if i := indexOf(tx.inserted, id); i >= 0 {
			tx.inserted = append(tx.inserted[:i], tx.inserted[i+1:]...)
			continue
		}
		tx.deleted[id] = true
	}
	return n
}

// SetImportance stages a new importance for id, clamped to [0,1].
func (tx *Tx) SetImportance(id string, v float64) error {
	r, ok := tx.view[id]
	if !ok {
		return fmt.Errorf("set importance %s: %w", id, model.ErrNotFound)
	}
	c := r.Clone()
	c.Importance = model.ClampImportance(v)
	tx.view[id] = &c
	if indexOf(tx.inserted, id) < 0 {
		tx.importance[id] = c.Importance
	}
	return nil
}

// AddLineage records that product replaced sources. Each source may be
// part of at most one lineage; a repeat fails the commit.
func (tx *Tx) AddLineage(productID string, sources []model.Memory) {
	for _, src := range sources {
		tx.lineage = append(tx.lineage, LineageRow{
			SourceID:      src.ID,
			ProductID:     productID,
			OwnerID:       tx.owner,
			SourceContent: src.Content,
			CreatedAt:     tx.now,
		})
	}
}

// SetCheckpoint stages the named maintenance checkpoint.
func (tx *Tx) SetCheckpoint(name string, at time.Time) {
	tx.checkpoints[name] = at.UTC()
}

// Checkpoint returns the named checkpoint as this transaction sees it.
func (tx *Tx) Checkpoint(ctx context.Context, name string) (time.Time, bool, error) {
	if at, ok := tx.checkpoints[name]; ok {
		return at, true, nil
	}
	return tx.s.Checkpoint(ctx, tx.owner, name)
}

func indexOf(ids []string, id string) int {
	for i, x := range ids {
		if x == id {
			return i
		}
	}
	return -1
}

// Update runs fn in an owner-scoped transaction. Writers for the same owner
// are serialized. If fn returns an error, or fn inserts and the owner would
// end above the cap, nothing is applied. On success the SQLite commit and
// the in-memory partition swap happen together, so readers see all of it or
// none of it.
func (s *SQLiteStore) Update(ctx context.Context, owner string, fn func(tx *Tx) error) error {
	p, err := s.partition(ctx, owner)
	if err != nil {
		return err
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	p.mu.RLock()
	tx := &Tx{
		s:           s,
		owner:       owner,
		now:         s.now(),
		dims:        p.dims(),
		view:        make(map[string]*model.Memory, len(p.records)+1),
		deleted:     make(map[string]bool),
		importance:  make(map[string]float64),
		checkpoints: make(map[string]time.Time),
	}
	for id, r := range p.records {
		tx.view[id] = r
	}
	p.mu.RUnlock()

	if err := fn(tx); err != nil {
		return err
	}
	if len(tx.inserted) > 0 && len(tx.view) > s.opts.Cap {
		return fmt.Errorf("owner %s would hold %d records, cap %d: %w", owner, len(tx.view), s.opts.Cap, model.ErrQuotaExceeded)
	}
	if tx.empty() {
		return nil
	}
	return s.commit(ctx, p, tx)
}

func (tx *Tx) empty() bool {
	return len(tx.inserted) == 0 && len(tx.deleted) == 0 && len(tx.importance) == 0 &&
		len(tx.lineage) == 0 && len(tx.checkpoints) == 0
}

func (s *SQLiteStore) commit(ctx context.Context, p *partition, tx *Tx) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer sqlTx.Rollback()

	for _, id := range sortedKeys(tx.deleted) {
		if _, err := sqlTx.ExecContext(ctx, `DELETE FROM memories WHERE id = ? AND owner_id = ?`, id, tx.owner); err != nil {
			return fmt.Errorf("delete memory %s: %w", id, err)
		}
	}
	for _, id := range tx.inserted {
		r := tx.view[id]
		vec, err := encodeVector(r.Embedding)
		if err != nil {
			return fmt.Errorf("encode embedding: %w", err)
		}
		_, err = sqlTx.ExecContext(ctx,
			`INSERT INTO memories (id, owner_id, conversation_id, content, kind, tags, embedding, importance,
			                       created_at, last_accessed_at, access_count, compressed_from, meta)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.OwnerID, r.ConversationID, r.Content, r.Kind,
			nullJSON(r.Tags, len(r.Tags) == 0), vec, r.Importance,
			formatTime(r.CreatedAt), formatTime(r.LastAccessedAt), r.AccessCount,
			nullJSON(r.CompressedFrom, len(r.CompressedFrom) == 0), nullString(r.Meta))
		if err != nil {
			return fmt.Errorf("insert memory: %w", err)
		}
	}
	for _, id := range sortedKeys(tx.importance) {
		if _, err := sqlTx.ExecContext(ctx,
			`UPDATE memories SET importance = ? WHERE id = ? AND owner_id = ?`,
			tx.importance[id], id, tx.owner); err != nil {
			return fmt.Errorf("update importance %s: %w", id, err)
		}
	}
	for _, l := range tx.lineage {
		if _, err := sqlTx.ExecContext(ctx,
			`INSERT INTO memory_lineage (source_id, product_id, owner_id, source_content, created_at)
			 VALUES (?, ?, ?, ?, ?)`,
			l.SourceID, l.ProductID, l.OwnerID, l.SourceContent, formatTime(l.CreatedAt)); err != nil {
			return fmt.Errorf("insert lineage for %s: %w", l.SourceID, err)
		}
	}
	for _, name := range sortedKeys(tx.checkpoints) {
		if _, err := sqlTx.ExecContext(ctx,
			`INSERT INTO maintenance_checkpoints (owner_id, name, at) VALUES (?, ?, ?)
			 ON CONFLICT(owner_id, name) DO UPDATE SET at = excluded.at`,
			tx.owner, name, formatTime(tx.checkpoints[name])); err != nil {
			return fmt.Errorf("save checkpoint %s: %w", name, err)
		}
	}

	p.mu.Lock()
	if err := sqlTx.Commit(); err != nil {
		p.mu.Unlock()
		return fmt.Errorf("commit: %w", err)
	}
	idx := p.index()
	for id := range tx.deleted {
		delete(p.records, id)
		idx.Remove(id)
	}
	for _, id := range tx.inserted {
		r := tx.view[id]
		p.records[id] = r
		idx.Add(id, r.Embedding)
	}
	for id, v := range tx.importance {
		cur, ok := p.records[id]
		if !ok {
			continue
		}
		c := cur.Clone()
		c.Importance = v
		p.records[id] = &c
	}
	p.version++
	p.mu.Unlock()

	s.maybeRebuild(p)
	return nil
}

// Insert adds rec outside any lifecycle policy. It fails with
// model.ErrQuotaExceeded when the owner is already at the cap.
func (s *SQLiteStore) Insert(ctx context.Context, rec model.Memory) (model.Memory, error) {
	var out model.Memory
	err := s.Update(ctx, rec.OwnerID, func(tx *Tx) error {
		var err error
		out, err = tx.Insert(rec)
		return err
	})
	if err != nil {
		return model.Memory{}, err
	}
	return out, nil
}

// Delete removes ids from owner and reports how many existed.
func (s *SQLiteStore) Delete(ctx context.Context, owner string, ids []string) (int, error) {
	n := 0
	err := s.Update(ctx, owner, func(tx *Tx) error {
		n = tx.Delete(ids...)
		return nil
	})
	return n, err
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
