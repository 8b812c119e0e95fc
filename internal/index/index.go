// Package index provides the per-owner approximate-nearest-neighbour
// structures behind similarity queries: an exact flat scan for small
// partitions and an HNSW graph for large ones.
package index

import (
	"math"
	"sort"
)

// Kind names.
const (
	KindFlat = "flat"
	KindHNSW = "hnsw"
)

// Hit is a search result. Score is cosine similarity.
type Hit struct {
	ID    string
	Score float64
}

// Entry is an id and its vector, used to build an index in bulk.
type Entry struct {
	ID  string
	Vec []float32
}

// Index is a mutable vector index. Implementations are not safe for
// concurrent mutation; callers serialize writes and may search
// concurrently only while no write is in progress.
type Index interface {
	Add(id string, vec []float32)
	Remove(id string) bool
	Has(id string) bool
	Search(query []float32, k int) []Hit
	IDs() []string
	Len() int
	Tombstones() int
	Kind() string
}

// Config tunes index selection and the HNSW graph.
type Config struct {
	Threshold      int     `yaml:"threshold"`       // records at which a partition switches to HNSW
	M              int     `yaml:"m"`               // HNSW links per node per layer (2M on layer 0)
	EfConstruction int     `yaml:"ef_construction"` // HNSW candidate list size while inserting
	EfSearch       int     `yaml:"ef_search"`       // HNSW candidate list size while searching
	TombstoneRatio float64 `yaml:"tombstone_ratio"` // rebuild once tombstones/total exceeds this
	Seed           int64   `yaml:"seed"`            // level generator seed
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Threshold:      2000,
		M:              16,
		EfConstruction: 200,
		EfSearch:       64,
		TombstoneRatio: 0.25,
		Seed:           1,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Threshold <= 0 {
		c.Threshold = d.Threshold
	}
	if c.M <= 1 {
		c.M = d.M
	}
	if c.EfConstruction <= 0 {
		c.EfConstruction = d.EfConstruction
	}
	if c.EfSearch <= 0 {
		c.EfSearch = d.EfSearch
	}
	if c.TombstoneRatio <= 0 {
		c.TombstoneRatio = d.TombstoneRatio
	}
	return c
}

// Build creates the index kind suited to len(entries) and loads entries.
func Build(cfg Config, entries []Entry) Index {
	cfg = cfg.withDefaults()
	var idx Index
	if len(entries) >= cfg.Threshold {
		idx = NewHNSW(cfg)
	} else {
		idx = NewFlat()
	}
	for _, e := range entries {
		idx.Add(e.ID, e.Vec)
	}
	return idx
}

// NeedsRebuild reports whether idx should be replaced by a fresh Build:
// a flat index has reached the threshold, an HNSW graph has shrunk well
// below it, or tombstones make up too much of the graph.
func NeedsRebuild(cfg Config, idx Index) bool {
	cfg = cfg.withDefaults()
	switch idx.Kind() {
	case KindFlat:
		return idx.Len() >= cfg.Threshold
	case KindHNSW:
		if idx.Len() < cfg.Threshold/2 {
			return true
		}
		total := idx.Len() + idx.Tombstones()
		return total > 0 && float64(idx.Tombstones())/float64(total) > cfg.TombstoneRatio
	}
	return false
}

func sortHits(hits []Hit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
}

func normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		copy(out, v)
		return out
	}
	norm = math.Sqrt(norm)
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

func dot(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}
