package lifecycle

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rcliao/agent-recall/internal/model"
	"github.com/rcliao/agent-recall/internal/ranker"
	"github.com/rcliao/agent-recall/internal/store"
)

// Admit inserts recs for owner, first evicting as many existing records as
// needed to stay within the cap. Eviction and insertion commit together.
// New records are never eviction candidates; if the batch alone exceeds the
// cap, only its most important records are kept. A record that fails
// validation is skipped and logged.
func (m *Manager) Admit(ctx context.Context, owner string, recs []model.Memory) ([]model.Memory, error) {
	if len(recs) == 0 {
		return nil, nil
	}
	log := m.log.WithField("owner_id", owner)
	var admitted []model.Memory
	var evicted []string
	err := m.store.Update(ctx, owner, func(tx *store.Tx) error {
		admitted, evicted = nil, nil
		batch := recs
		if len(batch) > tx.Cap() {
			batch = mostImportant(batch, tx.Cap())
			log.WithField("dropped", len(recs)-len(batch)).Warn("batch exceeds cap, keeping most important")
		}
		existing := tx.Records()
		for _, r := range batch {
			r.OwnerID = owner
			rec, err := tx.Insert(r)
			if err != nil {
				log.WithError(err).Warn("skipping invalid record")
				continue
			}
			admitted = append(admitted, rec)
		}
		if over := tx.Count() - tx.Cap(); over > 0 {
			done := m.enter(owner, StateEvicting)
			defer done()
			evicted = m.evictionOrder(existing, tx.Now())[:over]
			tx.Delete(evicted...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("admit for %s: %w", owner, err)
	}
	if len(evicted) > 0 {
		log.WithField("evicted", len(evicted)).WithField("admitted", len(admitted)).Info("evicted to admit new memories")
	}
	return admitted, nil
}

// Evict removes records until owner is within the cap and returns the ids
// removed. All removals commit in one transaction.
func (m *Manager) Evict(ctx context.Context, owner string) ([]string, error) {
	var evicted []string
	err := m.store.Update(ctx, owner, func(tx *store.Tx) error {
		evicted = nil
		over := tx.Count() - tx.Cap()
		if over <= 0 {
			return nil
		}
		done := m.enter(owner, StateEvicting)
		defer done()
		evicted = m.evictionOrder(tx.Records(), tx.Now())[:over]
		tx.Delete(evicted...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("evict %s: %w", owner, err)
	}
	return evicted, nil
}

// evictionOrder returns ids from first to last evicted: lowest
// importance × recency weight first, then older last access, then id.
func (m *Manager) evictionOrder(recs []model.Memory, now time.Time) []string {
	type keyed struct {
		rec   model.Memory
		value float64
	}
	ks := make([]keyed, len(recs))
	for i, r := range recs {
		ks[i] = keyed{rec: r, value: r.Importance * ranker.RecencyDecay(r.LastAccessedAt, now, m.cfg.RecencyHalfLife)}
	}
	sort.Slice(ks, func(i, j int) bool {
		a, b := ks[i], ks[j]
		if a.value != b.value {
			return a.value < b.value
		}
		if !a.rec.LastAccessedAt.Equal(b.rec.LastAccessedAt) {
			return a.rec.LastAccessedAt.Before(b.rec.LastAccessedAt)
		}
		return a.rec.ID < b.rec.ID
	})
	ids := make([]string, len(ks))
	for i, k := range ks {
		ids[i] = k.rec.ID
	}
	return ids
}

func mostImportant(recs []model.Memory, n int) []model.Memory {
	out := append([]model.Memory(nil), recs...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Importance > out[j].Importance })
	return out[:n]
}

// Decay multiplies every importance of owner by DecayFactor once per whole
// DecayPeriod elapsed since the last decay. The first pass only records the
// checkpoint. Repeated passes at the same time change nothing.
func (m *Manager) Decay(ctx context.Context, owner string) (int, error) {
	changed := 0
	err := m.store.Update(ctx, owner, func(tx *store.Tx) error {
		changed = 0
		now := tx.Now()
		last, ok, err := tx.Checkpoint(ctx, checkpointDecay)
		if err != nil {
			return err
		}
		if !ok {
			tx.SetCheckpoint(checkpointDecay, now)
			return nil
		}
		periods := int(now.Sub(last) / m.cfg.DecayPeriod)
		if periods <= 0 {
			return nil
		}
		f := math.Pow(m.cfg.DecayFactor, float64(periods))
		for _, r := range tx.Records() {
			v := r.Importance * f
			if v >= r.Importance {
				continue
			}
			if err := tx.SetImportance(r.ID, v); err != nil {
				return err
			}
			changed++
		}
		tx.SetCheckpoint(checkpointDecay, last.Add(time.Duration(periods)*m.cfg.DecayPeriod))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("decay %s: %w", owner, err)
	}
	return changed, nil
}

// Prune deletes records older than PruneAge whose importance is below
// PruneImportance and that were never retrieved. A zero PruneAge disables
// pruning.
func (m *Manager) Prune(ctx context.Context, owner string) (int, error) {
	if m.cfg.PruneAge <= 0 {
		return 0, nil
	}
	n := 0
	err := m.store.Update(ctx, owner, func(tx *store.Tx) error {
		var stale []string
		for _, r := range tx.Records() {
			if tx.Now().Sub(r.CreatedAt) > m.cfg.PruneAge && r.Importance < m.cfg.PruneImportance && r.AccessCount == 0 {
				stale = append(stale, r.ID)
			}
		}
		n = tx.Delete(stale...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("prune %s: %w", owner, err)
	}
	return n, nil
}
