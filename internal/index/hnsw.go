package index

import (
	"container/heap"
	"math"
	"math/rand"
	"sort"
)

const maxLevel = 16

// HNSW is a hierarchical navigable small world graph. Removal marks a node
// as a tombstone; it stays in the graph for navigation but is never
// returned. Tombstones are cleared by rebuilding.
type HNSW struct {
	cfg      Config
	nodes    []hnswNode
	byID     map[string]int32
	entry    int32
	top      int
	live     int
	dead     int
	levelMul float64
	rng      *rand.Rand
}

type hnswNode struct {
	id      string
	vec     []float32
	friends [][]int32
	deleted bool
}

// NewHNSW returns an empty graph.
func NewHNSW(cfg Config) *HNSW {
	cfg = cfg.withDefaults()
	return &HNSW{
		cfg:      cfg,
		byID:     make(map[string]int32),
		entry:    -1,
		levelMul: 1 / math.Log(float64(cfg.M)),
		rng:      rand.New(rand.NewSource(cfg.Seed)),
	}
}

func (h *HNSW) randomLevel() int {
	l := int(math.Floor(-math.Log(1-h.rng.Float64()) * h.levelMul))
	if l > maxLevel {
		l = maxLevel
	}
	return l
}

func (h *HNSW) Add(id string, vec []float32) {
	if old, ok := h.byID[id]; ok {
		h.tombstone(old)
	}
	v := normalize(vec)
	level := h.randomLevel()
	idx := int32(len(h.nodes))
	h.nodes = append(h.nodes, hnswNode{id: id, vec: v, friends: make([][]int32, level+1)})
	h.byID[id] = idx
	h.live++

	if h.entry < 0 {
		h.entry, h.top = idx, level
		return
	}

	ep := h.entry
	for l := h.top; l > level; l-- {
		ep = h.greedy(v, ep, l)
	}
	eps := []int32{ep}
	for l := min(level, h.top); l >= 0; l-- {
		cands := h.searchLayer(v, eps, h.cfg.EfConstruction, l)
		maxConn := h.cfg.M
		if l == 0 {
			maxConn = 2 * h.cfg.M
		}
		n := min(h.cfg.M, len(cands))
		friends := make([]int32, n)
		for i := 0; i < n; i++ {
			friends[i] = cands[i].node
			h.link(cands[i].node, idx, l, maxConn)
		}
		h.nodes[idx].friends[l] = friends
		eps = eps[:0]
		for _, c := range cands {
			eps = append(eps, c.node)
		}
	}
	if level > h.top {
		h.entry, h.top = idx, level
	}
}

// link adds a directed edge from -> to on layer l, pruning from's
// neighbour list to the maxConn closest when it overflows.
func (h *HNSW) link(from, to int32, l, maxConn int) {
	friends := append(h.nodes[from].friends[l], to)
	if len(friends) > maxConn {
		base := h.nodes[from].vec
		sort.Slice(friends, func(i, j int) bool {
			return dot(base, h.nodes[friends[i]].vec) > dot(base, h.nodes[friends[j]].vec)
		})
		friends = friends[:maxConn]
	}
	h.nodes[from].friends[l] = friends
}

// greedy walks layer l from ep towards q and returns the closest node found.
func (h *HNSW) greedy(q []float32, ep int32, l int) int32 {
	best := ep
	bestSim := dot(q, h.nodes[ep].vec)
	for changed := true; changed; {
		changed = false
		for _, nb := range h.nodes[best].friends[l] {
			if s := dot(q, h.nodes[nb].vec); s > bestSim {
				best, bestSim, changed = nb, s, true
			}
		}
	}
	return best
}

// searchLayer returns up to ef nodes on layer l closest to q, best first.
func (h *HNSW) searchLayer(q []float32, eps []int32, ef, l int) []candidate {
	visited := make(map[int32]struct{}, ef*4)
	cands := &maxHeap{}
	results := &minHeap{}
	for _, e := range eps {
		if _, seen := visited[e]; seen {
			continue
		}
		visited[e] = struct{}{}
		c := candidate{node: e, sim: dot(q, h.nodes[e].vec)}
		heap.Push(cands, c)
		heap.Push(results, c)
		if results.Len() > ef {
			heap.Pop(results)
		}
	}
	for cands.Len() > 0 {
		c := heap.Pop(cands).(candidate)
		if results.Len() >= ef && c.sim < (*results)[0].sim {
			break
		}
		for _, nb := range h.nodes[c.node].friends[l] {
			if _, seen := visited[nb]; seen {
				continue
			}
			visited[nb] = struct{}{}
			s := dot(q, h.nodes[nb].vec)
			if results.Len() < ef || s > (*results)[0].sim {
				next := candidate{node: nb, sim: s}
				heap.Push(cands, next)
				heap.Push(results, next)
				if results.Len() > ef {
					heap.Pop(results)
				}
			}
		}
	}
	out := make([]candidate, results.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(results).(candidate)
	}
	return out
}

func (h *HNSW) tombstone(idx int32) {
	n := &h.nodes[idx]
	if n.deleted {
		return
	}
	n.deleted = true
	delete(h.byID, n.id)
	h.live--
	h.dead++
	if h.live == 0 {
		h.nodes, h.entry, h.top, h.dead = nil, -1, 0, 0
	}
}

func (h *HNSW) Remove(id string) bool {
	idx, ok := h.byID[id]
	if !ok {
		return false
	}
	h.tombstone(idx)
	return true
}

func (h *HNSW) Has(id string) bool {
	_, ok := h.byID[id]
	return ok
}

func (h *HNSW) Search(query []float32, k int) []Hit {
	if k <= 0 || h.live == 0 {
		return nil
	}
	q := normalize(query)
	ep := h.entry
	for l := h.top; l > 0; l-- {
		ep = h.greedy(q, ep, l)
	}
	ef := max(h.cfg.EfSearch, k)
	ef += min(h.dead, ef)
	var hits []Hit
	for _, c := range h.searchLayer(q, []int32{ep}, ef, 0) {
		n := h.nodes[c.node]
		if n.deleted {
			continue
		}
		hits = append(hits, Hit{ID: n.id, Score: c.sim})
	}
	sortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

func (h *HNSW) IDs() []string {
	ids := make([]string, 0, h.live)
	for _, n := range h.nodes {
		if !n.deleted {
			ids = append(ids, n.id)
		}
	}
	return ids
}

func (h *HNSW) Len() int        { return h.live }
func (h *HNSW) Tombstones() int { return h.dead }
func (h *HNSW) Kind() string    { return KindHNSW }

type candidate struct {
	node int32
	sim  float64
}

type maxHeap []candidate

func (h maxHeap) Len() int           { return len(h) }
func (h maxHeap) Less(i, j int) bool { return h[i].sim > h[j].sim }
func (h maxHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x any)        { *h = append(*h, x.(candidate)) }
func (h *maxHeap) Pop() any {
	old := *h
	x := old[len(old)-1]
	*h = old[:len(old)-1]
	return x
}

type minHeap []candidate

func (h minHeap) Len() int           { return len(h) }
func (h minHeap) Less(i, j int) bool { return h[i].sim < h[j].sim }
func (h minHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x any)        { *h = append(*h, x.(candidate)) }
func (h *minHeap) Pop() any {
	old := *h
	x := old[len(old)-1]
	*h = old[:len(old)-1]
	return x
}
