package extractor

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/rcliao/agent-recall/internal/embedding"
	"github.com/rcliao/agent-recall/internal/logging"
	"github.com/rcliao/agent-recall/internal/store"
)

// DefaultDuplicateThreshold is the similarity above which a candidate
// repeats something already known.
const DefaultDuplicateThreshold = 0.92

// Querier is the part of the store the duplicate filter reads.
type Querier interface {
	Query(ctx context.Context, owner string, vec []float32, k int, minSim float64) ([]store.Hit, error)
}

// Embedded is a candidate with its embedding, ready for admission.
type Embedded struct {
	Candidate
	Embedding embedding.Vector
}

// DuplicateFilter embeds candidates and drops those that repeat a stored
// memory of the same owner or an earlier candidate of the batch.
type DuplicateFilter struct {
	embedder  embedding.Embedder
	store     Querier
	threshold float64
	log       *logrus.Entry
}

// NewDuplicateFilter returns a filter. A threshold outside (0,1] uses the
// default.
func NewDuplicateFilter(e embedding.Embedder, q Querier, threshold float64, log *logrus.Entry) *DuplicateFilter {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultDuplicateThreshold
	}
	return &DuplicateFilter{embedder: e, store: q, threshold: threshold, log: logging.OrDefault(log, "extractor")}
}

// Filter returns the candidates worth storing, embedded. A candidate whose
// embedding or lookup fails is dropped and logged; one failed candidate
// never affects the others.
func (f *DuplicateFilter) Filter(ctx context.Context, owner string, cands []Candidate) []Embedded {
	log := f.log.WithField("owner_id", owner)
	var kept []Embedded
	for _, c := range cands {
		if ctx.Err() != nil {
			return kept
		}
		vec, err := f.embedder.Embed(ctx, c.Content)
		if err != nil {
			log.WithError(err).Warn("dropping candidate: embed failed")
			continue
		}
		if i := f.batchDuplicate(kept, vec); i >= 0 {
			if c.Importance > kept[i].Importance {
				kept[i].Importance = c.Importance
			}
			continue
		}
		hits, err := f.store.Query(ctx, owner, vec, 1, f.threshold)
		if err != nil {
			log.WithError(err).Warn("dropping candidate: duplicate lookup failed")
			continue
		}
		if len(hits) > 0 && hits[0].Similarity > f.threshold {
			log.WithField("memory_id", hits[0].Memory.ID).Debug("candidate duplicates stored memory")
			continue
		}
		kept = append(kept, Embedded{Candidate: c, Embedding: vec})
	}
	return kept
}

func (f *DuplicateFilter) batchDuplicate(kept []Embedded, vec embedding.Vector) int {
	for i, k := range kept {
		if embedding.CosineSimilarity(k.Embedding, vec) > f.threshold {
			return i
		}
	}
	return -1
}
