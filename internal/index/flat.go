package index

// Flat is an exact brute-force index.
type Flat struct {
	ids  []string
	vecs [][]float32
	pos  map[string]int
}

// NewFlat returns an empty flat index.
func NewFlat() *Flat {
	return &Flat{pos: make(map[string]int)}
}

func (f *Flat) Add(id string, vec []float32) {
	v := normalize(vec)
	if i, ok := f.pos[id]; ok {
		f.vecs[i] = v
		return
	}
	f.pos[id] = len(f.ids)
	f.ids = append(f.ids, id)
	f.vecs = append(f.vecs, v)
}

func (f *Flat) Remove(id string) bool {
	i, ok := f.pos[id]
	if !ok {
		return false
	}
	last := len(f.ids) - 1
	if i != last {
		f.ids[i], f.vecs[i] = f.ids[last], f.vecs[last]
		f.pos[f.ids[i]] = i
	}
	f.ids, f.vecs = f.ids[:last], f.vecs[:last]
	delete(f.pos, id)
	return true
}

func (f *Flat) Has(id string) bool {
	_, ok := f.pos[id]
	return ok
}

func (f *Flat) Search(query []float32, k int) []Hit {
	if k <= 0 || len(f.ids) == 0 {
		return nil
	}
	q := normalize(query)
	hits := make([]Hit, len(f.ids))
	for i, v := range f.vecs {
		hits[i] = Hit{ID: f.ids[i], Score: dot(q, v)}
	}
	sortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

func (f *Flat) IDs() []string   { return append([]string(nil), f.ids...) }
func (f *Flat) Len() int        { return len(f.ids) }
func (f *Flat) Tombstones() int { return 0 }
func (f *Flat) Kind() string    { return KindFlat }
