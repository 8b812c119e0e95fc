package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/rcliao/agent-recall/internal/index"
	"github.com/rcliao/agent-recall/internal/logging"
	"github.com/rcliao/agent-recall/internal/model"
)

// partition is one owner's in-memory view: the live records and the
// similarity index over them. writeMu serializes transactions; mu guards
// records and index swaps so readers observe whole commits only. Records
// in the map are never mutated in place; updates replace the pointer.
type partition struct {
	owner   string
	writeMu sync.Mutex

	mu      sync.RWMutex
	records map[string]*model.Memory
	idx     atomic.Pointer[indexRef]
	version uint64

	rebuilding atomic.Bool
}

type indexRef struct {
	index.Index
}

func (p *partition) index() index.Index {
	return p.idx.Load().Index
}

func (p *partition) dims() int {
	for _, r := range p.records {
		return len(r.Embedding)
	}
	return 0
}

// partition returns the loaded partition of owner, loading it from SQLite
// on first use. Concurrent first uses share one load.
func (s *SQLiteStore) partition(ctx context.Context, owner string) (*partition, error) {
	if owner == "" {
		return nil, fmt.Errorf("owner is required: %w", model.ErrInvalidInput)
	}
	s.mu.Lock()
	p, ok := s.parts[owner]
	s.mu.Unlock()
	if ok {
		return p, nil
	}

	v, err, _ := s.loads.Do(owner, func() (interface{}, error) {
		s.mu.Lock()
		p, ok := s.parts[owner]
		s.mu.Unlock()
		if ok {
			return p, nil
		}
		p, err := s.loadPartition(ctx, owner)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.parts[owner] = p
		s.mu.Unlock()
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*partition), nil
}

func (s *SQLiteStore) loadPartition(ctx context.Context, owner string) (*partition, error) {
	mems, err := s.queryMemories(ctx, `SELECT `+memoryColumns+` FROM memories WHERE owner_id = ? ORDER BY id`, owner)
	if err != nil {
		return nil, fmt.Errorf("load partition %s: %w", owner, err)
	}
	p := &partition{owner: owner, records: make(map[string]*model.Memory, len(mems))}
	entries := make([]index.Entry, len(mems))
	for i := range mems {
		m := mems[i]
		p.records[m.ID] = &m
		entries[i] = index.Entry{ID: m.ID, Vec: m.Embedding}
	}
	p.idx.Store(&indexRef{index.Build(s.opts.Index, entries)})
	s.log.WithField("owner_id", owner).WithField("records", len(mems)).
		WithField("index", p.index().Kind()).Debug("partition loaded")
	return p, nil
}

// Query returns up to k records of owner whose similarity to vec is at
// least minSim. Results are ordered by similarity descending, then by more
// recent last access, then by id.
func (s *SQLiteStore) Query(ctx context.Context, owner string, vec []float32, k int, minSim float64) ([]Hit, error) {
	ctx, span := logging.StartSpan(ctx, "store.Query")
	defer span.End()

	if k <= 0 {
		return nil, nil
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("query: empty vector: %w", model.ErrInvalidInput)
	}
	p, err := s.partition(ctx, owner)
	if err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if d := p.dims(); d != 0 && d != len(vec) {
		return nil, fmt.Errorf("query: vector has %d dims, partition has %d: %w", len(vec), d, model.ErrInvalidInput)
	}

	idx := p.index()
	want := idx.Len()
	if idx.Kind() == index.KindHNSW {
		want = max(4*k, k+32)
	}
	var hits []Hit
	for _, h := range idx.Search(vec, want) {
		if h.Score < minSim {
			break
		}
		rec, ok := p.records[h.ID]
		if !ok {
			continue
		}
		hits = append(hits, Hit{Memory: rec.Clone(), Similarity: h.Score})
	}
	sortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	span.SetAttributes(attribute.Int("hits", len(hits)), attribute.String("index", idx.Kind()))
	return hits, nil
}

func sortHits(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		if !a.Memory.LastAccessedAt.Equal(b.Memory.LastAccessedAt) {
			return a.Memory.LastAccessedAt.After(b.Memory.LastAccessedAt)
		}
		return a.Memory.ID < b.Memory.ID
	})
}

// Touch records an access to ids: access_count is incremented and
// last_accessed_at moves forward to at. Unknown ids are ignored.
func (s *SQLiteStore) Touch(ctx context.Context, owner string, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	p, err := s.partition(ctx, owner)
	if err != nil {
		return err
	}
	at = at.UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx,
			`UPDATE memories SET access_count = access_count + 1,
			        last_accessed_at = MAX(last_accessed_at, ?)
			 WHERE id = ? AND owner_id = ?`, formatTime(at), id, owner); err != nil {
			return fmt.Errorf("touch %s: %w", id, err)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := tx.Commit(); err != nil {
		return err
	}
	for _, id := range ids {
		rec, ok := p.records[id]
		if !ok {
			continue
		}
		c := rec.Clone()
		c.AccessCount++
		if at.After(c.LastAccessedAt) {
			c.LastAccessedAt = at
		}
		p.records[id] = &c
	}
	return nil
}

// Rebuild replaces owner's index with a freshly built one.
func (s *SQLiteStore) Rebuild(ctx context.Context, owner string) error {
	p, err := s.partition(ctx, owner)
	if err != nil {
		return err
	}
	s.rebuild(p)
	return nil
}

// maybeRebuild starts a background rebuild when the index has crossed the
// flat/HNSW threshold or carries too many tombstones.
func (s *SQLiteStore) maybeRebuild(p *partition) {
	if s.closed.Load() || !index.NeedsRebuild(s.opts.Index, p.index()) {
		return
	}
	if !p.rebuilding.CompareAndSwap(false, true) {
		return
	}
	s.rebuilds.Add(1)
	go func() {
		defer s.rebuilds.Done()
		defer p.rebuilding.Store(false)
		s.rebuild(p)
	}()
}

// rebuild builds a new index from a snapshot without holding the write
// lock, then swaps it in. Commits that landed during the build are
// reconciled before the swap.
func (s *SQLiteStore) rebuild(p *partition) {
	p.mu.RLock()
	entries := make([]index.Entry, 0, len(p.records))
	for id, r := range p.records {
		entries = append(entries, index.Entry{ID: id, Vec: r.Embedding})
	}
	version := p.version
	p.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	fresh := index.Build(s.opts.Index, entries)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.version != version {
		for _, id := range fresh.IDs() {
			if _, ok := p.records[id]; !ok {
				fresh.Remove(id)
			}
		}
		for id, r := range p.records {
			if !fresh.Has(id) {
				fresh.Add(id, r.Embedding)
			}
		}
	}
	old := p.index()
	p.idx.Store(&indexRef{fresh})
	s.log.WithField("owner_id", p.owner).WithField("from", old.Kind()).WithField("to", fresh.Kind()).
		WithField("records", fresh.Len()).Debug("index rebuilt")
}

// IndexInfo describes an owner's loaded index.
type IndexInfo struct {
	Kind       string `json:"kind"`
	Len        int    `json:"len"`
	Tombstones int    `json:"tombstones"`
}

// IndexInfo reports the state of owner's index, loading it if needed.
func (s *SQLiteStore) IndexInfo(ctx context.Context, owner string) (IndexInfo, error) {
	p, err := s.partition(ctx, owner)
	if err != nil {
		return IndexInfo{}, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	idx := p.index()
	return IndexInfo{Kind: idx.Kind(), Len: idx.Len(), Tombstones: idx.Tombstones()}, nil
}
