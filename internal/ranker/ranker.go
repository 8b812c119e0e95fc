// Package ranker orders retrieved memories by a weighted blend of
// similarity, importance and recency.
package ranker

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rcliao/agent-recall/internal/logging"
	"github.com/rcliao/agent-recall/internal/model"
	"github.com/rcliao/agent-recall/internal/store"
)

// Weights of the three score components. They must sum to 1.
type Weights struct {
	Similarity float64 `yaml:"similarity"`
	Importance float64 `yaml:"importance"`
	Recency    float64 `yaml:"recency"`
}

// DefaultWeights returns 0.6 / 0.25 / 0.15.
func DefaultWeights() Weights {
	return Weights{Similarity: 0.6, Importance: 0.25, Recency: 0.15}
}

// Validate checks that the weights are non-negative and sum to 1.
func (w Weights) Validate() error {
	if w.Similarity < 0 || w.Importance < 0 || w.Recency < 0 {
		return fmt.Errorf("ranker weights must be non-negative: %w", model.ErrInvalidInput)
	}
	if sum := w.Similarity + w.Importance + w.Recency; math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("ranker weights sum to %.4f, want 1: %w", sum, model.ErrInvalidInput)
	}
	return nil
}

// Config tunes ranking.
type Config struct {
	Weights       Weights       `yaml:"weights"`
	HalfLife      time.Duration `yaml:"half_life"`
	MinSimilarity float64       `yaml:"min_similarity"`
	PoolFactor    int           `yaml:"pool_factor"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Weights:       DefaultWeights(),
		HalfLife:      14 * 24 * time.Hour,
		MinSimilarity: 0.7,
		PoolFactor:    3,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := c.Weights.Validate(); err != nil {
		return err
	}
	if c.HalfLife <= 0 {
		return fmt.Errorf("ranker half-life must be positive: %w", model.ErrInvalidInput)
	}
	if c.MinSimilarity < -1 || c.MinSimilarity > 1 {
		return fmt.Errorf("ranker min similarity %.2f outside [-1,1]: %w", c.MinSimilarity, model.ErrInvalidInput)
	}
	return nil
}

// Ranked is a memory with its ranking breakdown.
type Ranked struct {
	Memory     model.Memory `json:"memory"`
	Similarity float64      `json:"similarity"`
	Recency    float64      `json:"recency"`
	Score      float64      `json:"score"`
}

// Querier is the part of the store the ranker reads from.
type Querier interface {
	Query(ctx context.Context, owner string, vec []float32, k int, minSim float64) ([]store.Hit, error)
}

// Ranker pulls a candidate pool from the store and scores it.
type Ranker struct {
	cfg Config
	q   Querier
	now func() time.Time
}

// New creates a Ranker. A nil now uses time.Now.
func New(q Querier, cfg Config, now func() time.Time) (*Ranker, error) {
	if cfg.PoolFactor <= 0 {
		cfg.PoolFactor = DefaultConfig().PoolFactor
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if now == nil {
		now = time.Now
	}
	return &Ranker{cfg: cfg, q: q, now: now}, nil
}

// Config returns the ranker's configuration.
func (r *Ranker) Config() Config { return r.cfg }

// Rank returns up to k memories of owner most relevant to vec.
func (r *Ranker) Rank(ctx context.Context, owner string, vec []float32, k int) ([]Ranked, error) {
	ctx, span := logging.StartSpan(ctx, "ranker.Rank")
	defer span.End()

	if k <= 0 {
		return nil, nil
	}
	hits, err := r.q.Query(ctx, owner, vec, k*r.cfg.PoolFactor, r.cfg.MinSimilarity)
	if err != nil {
		return nil, fmt.Errorf("rank: %w", err)
	}
	return RankCandidates(r.cfg, hits, r.now(), k), nil
}

// RankCandidates scores hits and returns the best k, highest score first.
// Hits below the similarity floor are dropped whatever their importance.
// Exact score ties order by ascending id.
func RankCandidates(cfg Config, hits []store.Hit, now time.Time, k int) []Ranked {
	out := make([]Ranked, 0, len(hits))
	for _, h := range hits {
		if h.Similarity < cfg.MinSimilarity {
			continue
		}
		rec := RecencyDecay(h.Memory.LastAccessedAt, now, cfg.HalfLife)
		out = append(out, Ranked{
			Memory:     h.Memory,
			Similarity: h.Similarity,
			Recency:    rec,
			Score:      Score(cfg.Weights, h.Similarity, h.Memory.Importance, rec),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Memory.ID < out[j].Memory.ID
	})
	if k >= 0 && len(out) > k {
		out = out[:k]
	}
	return out
}

// Score combines the three components.
func Score(w Weights, similarity, importance, recency float64) float64 {
	return w.Similarity*similarity + w.Importance*importance + w.Recency*recency
}

// RecencyDecay is 0.5^(age/halfLife): 1 for a record accessed now, 0.5
// one half-life ago. Future timestamps count as now.
func RecencyDecay(lastAccess, now time.Time, halfLife time.Duration) float64 {
	age := now.Sub(lastAccess)
	if age <= 0 || halfLife <= 0 {
		return 1
	}
	return math.Pow(0.5, float64(age)/float64(halfLife))
}
