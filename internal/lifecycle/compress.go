package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/rcliao/agent-recall/internal/embedding"
	"github.com/rcliao/agent-recall/internal/logging"
	"github.com/rcliao/agent-recall/internal/model"
	"github.com/rcliao/agent-recall/internal/store"
)

// CompressResult summarizes one compression pass.
type CompressResult struct {
	Clusters   int      `json:"clusters"`
	Compressed int      `json:"compressed"` // source records replaced
	Failed     int      `json:"failed"`     // clusters left intact after an error
	Products   []string `json:"products,omitempty"`
}

// errSourcesChanged aborts a cluster whose sources changed while its
// summary was being produced.
var errSourcesChanged = errors.New("cluster sources changed")

// Compress replaces clusters of similar, old memories with one summary
// each. A cluster is a set of uncompressed records, all older than
// CompressMinAge, whose pairwise similarity exceeds CompressThreshold.
// Each cluster commits on its own: the summary is inserted, lineage is
// written and the sources are deleted together. A cluster whose summary or
// embedding fails is left untouched and tried again on the next pass.
func (m *Manager) Compress(ctx context.Context, owner string) (CompressResult, error) {
	ctx, span := logging.StartSpan(ctx, "lifecycle.Compress")
	defer span.End()
	done := m.enter(owner, StateCompressing)
	defer done()

	var snapshot []model.Memory
	var now time.Time
	err := m.store.Update(ctx, owner, func(tx *store.Tx) error {
		snapshot, now = tx.Records(), tx.Now()
		return nil
	})
	if err != nil {
		return CompressResult{}, fmt.Errorf("compress %s: %w", owner, err)
	}

	clusters := Clusters(m.eligible(snapshot, now), m.cfg.CompressThreshold, m.cfg.MaxClusterSize)
	res := CompressResult{Clusters: len(clusters)}
	log := m.log.WithField("owner_id", owner)
	for _, c := range clusters {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		id, err := m.compressCluster(ctx, owner, c)
		if err != nil {
			res.Failed++
			log.WithError(err).WithField("sources", ids(c)).Error("compression aborted, sources kept")
			continue
		}
		res.Compressed += len(c)
		res.Products = append(res.Products, id)
	}
	if err := m.store.Update(ctx, owner, func(tx *store.Tx) error {
		tx.SetCheckpoint(checkpointCompress, tx.Now())
		return nil
	}); err != nil {
		return res, fmt.Errorf("compress %s: %w", owner, err)
	}
	span.SetAttributes(attribute.Int("clusters", res.Clusters), attribute.Int("compressed", res.Compressed))
	if res.Clusters > 0 {
		log.WithField("clusters", res.Clusters).WithField("compressed", res.Compressed).
			WithField("failed", res.Failed).Info("compression pass complete")
	}
	return res, nil
}

func (m *Manager) eligible(recs []model.Memory, now time.Time) []model.Memory {
	var out []model.Memory
	for _, r := range recs {
		if r.IsCompressed() || now.Sub(r.CreatedAt) <= m.cfg.CompressMinAge {
			continue
		}
		out = append(out, r)
	}
	return out
}

func (m *Manager) compressCluster(ctx context.Context, owner string, sources []model.Memory) (string, error) {
	summary, err := m.summarizer.Summarize(ctx, sources)
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	vec, err := m.embedder.Embed(ctx, summary)
	if err != nil {
		return "", fmt.Errorf("embed summary: %w", err)
	}

	product := merge(sources)
	product.Content = summary
	product.Embedding = vec

	var id string
	err = m.store.Update(ctx, owner, func(tx *store.Tx) error {
		for _, s := range sources {
			if _, ok := tx.Get(s.ID); !ok {
				return fmt.Errorf("%w: %s is gone", errSourcesChanged, s.ID)
			}
		}
		product.CreatedAt = tx.Now()
		rec, err := tx.Insert(product)
		if err != nil {
			return err
		}
		tx.AddLineage(rec.ID, sources)
		tx.Delete(ids(sources)...)
		id = rec.ID
		return nil
	})
	return id, err
}

// merge builds the compression product's metadata from its sources.
func merge(sources []model.Memory) model.Memory {
	var p model.Memory
	p.Kind = sources[0].Kind
	p.ConversationID = sources[0].ConversationID
	tags := make(map[string]bool)
	for _, s := range sources {
		if s.Importance > p.Importance {
			p.Importance = s.Importance
		}
		if s.LastAccessedAt.After(p.LastAccessedAt) {
			p.LastAccessedAt = s.LastAccessedAt
		}
		p.AccessCount += s.AccessCount
		if s.ConversationID != p.ConversationID {
			p.ConversationID = ""
		}
		if s.Kind != p.Kind {
			p.Kind = model.KindSemantic
		}
		for _, t := range s.Tags {
			tags[t] = true
		}
		p.CompressedFrom = append(p.CompressedFrom, s.ID)
	}
	for t := range tags {
		p.Tags = append(p.Tags, t)
	}
	sort.Strings(p.Tags)
	return p
}

// Clusters groups recs by complete linkage: every pair inside a cluster has
// cosine similarity above threshold. Seeds are taken in id order and each
// seed gathers its most similar unassigned neighbours first, up to maxSize.
// Only clusters of two or more records are returned.
func Clusters(recs []model.Memory, threshold float64, maxSize int) [][]model.Memory {
	recs = append([]model.Memory(nil), recs...)
	sort.Slice(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })
	n := len(recs)
	sim := make([][]float64, n)
	for i := range sim {
		sim[i] = make([]float64, n)
		for j := 0; j < i; j++ {
			s := embedding.CosineSimilarity(recs[i].Embedding, recs[j].Embedding)
			sim[i][j], sim[j][i] = s, s
		}
	}

	assigned := make([]bool, n)
	var out [][]model.Memory
	for seed := 0; seed < n; seed++ {
		if assigned[seed] {
			continue
		}
		var neighbours []int
		for j := 0; j < n; j++ {
			if j != seed && !assigned[j] && sim[seed][j] > threshold {
				neighbours = append(neighbours, j)
			}
		}
		sort.SliceStable(neighbours, func(a, b int) bool {
			return sim[seed][neighbours[a]] > sim[seed][neighbours[b]]
		})
		members := []int{seed}
		for _, j := range neighbours {
			if len(members) >= maxSize {
				break
			}
			if linked(sim, members, j, threshold) {
				members = append(members, j)
			}
		}
		if len(members) < 2 {
			continue
		}
		sort.Ints(members)
		cluster := make([]model.Memory, len(members))
		for i, idx := range members {
			assigned[idx] = true
			cluster[i] = recs[idx]
		}
		out = append(out, cluster)
	}
	return out
}

func linked(sim [][]float64, members []int, j int, threshold float64) bool {
	for _, i := range members {
		if sim[i][j] <= threshold {
			return false
		}
	}
	return true
}

func ids(mems []model.Memory) []string {
	out := make([]string, len(mems))
	for i, m := range mems {
		out[i] = m.ID
	}
	return out
}
