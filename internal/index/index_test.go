package index

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomVectors(n, dim int, seed int64) []Entry {
	rng := rand.New(rand.NewSource(seed))
	out := make([]Entry, n)
	for i := range out {
		v := make([]float32, dim)
		for j := range v {
			v[j] = float32(rng.NormFloat64())
		}
		out[i] = Entry{ID: fmt.Sprintf("m%05d", i), Vec: v}
	}
	return out
}

func TestFlat_SearchOrder(t *testing.T) {
	f := NewFlat()
	f.Add("b", []float32{1, 0})
	f.Add("a", []float32{2, 0}) // same direction as b, ties on score
	f.Add("c", []float32{0, 1})
	f.Add("d", []float32{1, 1})

	hits := f.Search([]float32{1, 0}, 3)
	require.Len(t, hits, 3)
	assert.Equal(t, "a", hits[0].ID, "exact ties order by id")
	assert.Equal(t, "b", hits[1].ID)
	assert.Equal(t, "d", hits[2].ID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
	assert.InDelta(t, 0.7071, hits[2].Score, 1e-3)
}

func TestFlat_Remove(t *testing.T) {
	f := NewFlat()
	f.Add("a", []float32{1, 0})
	f.Add("b", []float32{0, 1})
	f.Add("c", []float32{1, 1})

	assert.True(t, f.Remove("a"))
	assert.False(t, f.Remove("a"))
	assert.False(t, f.Has("a"))
	assert.Equal(t, 2, f.Len())
	assert.ElementsMatch(t, []string{"b", "c"}, f.IDs())

	for _, h := range f.Search([]float32{1, 0}, 10) {
		assert.NotEqual(t, "a", h.ID)
	}
}

func TestHNSW_RecallAgainstFlat(t *testing.T) {
	entries := randomVectors(2500, 16, 7)
	cfg := DefaultConfig()
	cfg.EfSearch = 100
	h := NewHNSW(cfg)
	f := NewFlat()
	for _, e := range entries {
		h.Add(e.ID, e.Vec)
		f.Add(e.ID, e.Vec)
	}
	require.Equal(t, 2500, h.Len())

	queries := randomVectors(20, 16, 99)
	found, total := 0, 0
	for _, q := range queries {
		want := map[string]bool{}
		for _, hit := range f.Search(q.Vec, 10) {
			want[hit.ID] = true
		}
		for _, hit := range h.Search(q.Vec, 10) {
			if want[hit.ID] {
				found++
			}
		}
		total += 10
	}
	recall := float64(found) / float64(total)
	assert.GreaterOrEqual(t, recall, 0.9, "recall@10 too low")
}

func TestHNSW_Tombstones(t *testing.T) {
	entries := randomVectors(300, 8, 3)
	h := NewHNSW(DefaultConfig())
	for _, e := range entries {
		h.Add(e.ID, e.Vec)
	}

	target := entries[42]
	hits := h.Search(target.Vec, 1)
	require.Len(t, hits, 1)
	assert.Equal(t, target.ID, hits[0].ID)

	require.True(t, h.Remove(target.ID))
	assert.Equal(t, 299, h.Len())
	assert.Equal(t, 1, h.Tombstones())
	assert.False(t, h.Has(target.ID))
	for _, hit := range h.Search(target.Vec, 20) {
		assert.NotEqual(t, target.ID, hit.ID)
	}
	assert.NotContains(t, h.IDs(), target.ID)
}

func TestHNSW_RemoveAllResets(t *testing.T) {
	h := NewHNSW(DefaultConfig())
	h.Add("a", []float32{1, 0})
	h.Add("b", []float32{0, 1})
	h.Remove("a")
	h.Remove("b")
	assert.Equal(t, 0, h.Len())
	assert.Equal(t, 0, h.Tombstones())
	assert.Nil(t, h.Search([]float32{1, 0}, 5))

	h.Add("c", []float32{1, 0})
	hits := h.Search([]float32{1, 0}, 5)
	require.Len(t, hits, 1)
	assert.Equal(t, "c", hits[0].ID)
}

func TestBuild_SelectsKind(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Threshold = 50

	small := Build(cfg, randomVectors(49, 4, 1))
	assert.Equal(t, KindFlat, small.Kind())
	assert.Equal(t, 49, small.Len())

	large := Build(cfg, randomVectors(50, 4, 1))
	assert.Equal(t, KindHNSW, large.Kind())
	assert.Equal(t, 50, large.Len())
}

func TestNeedsRebuild(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Threshold = 20

	f := Build(cfg, randomVectors(19, 4, 1))
	assert.False(t, NeedsRebuild(cfg, f))
	f.Add("extra", []float32{1, 2, 3, 4})
	assert.True(t, NeedsRebuild(cfg, f), "flat at threshold should rebuild")

	entries := randomVectors(40, 4, 2)
	h := Build(cfg, entries)
	assert.False(t, NeedsRebuild(cfg, h))
	for _, e := range entries[:14] {
		h.Remove(e.ID)
	}
	assert.True(t, NeedsRebuild(cfg, h), "14/40 tombstones exceeds 0.25")
}
