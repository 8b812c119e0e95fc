package lifecycle

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/rcliao/agent-recall/internal/logging"
)

// Report describes one maintenance pass over an owner.
type Report struct {
	Owner    string         `json:"owner_id"`
	Decayed  int            `json:"decayed"`
	Pruned   int            `json:"pruned"`
	Evicted  int            `json:"evicted"`
	Compress CompressResult `json:"compress"`
	Count    int            `json:"count"`
	Duration time.Duration  `json:"duration_ns"`
}

// RunMaintenance decays, prunes, evicts and compresses owner's memories,
// then rebuilds the similarity index. Passes for the same owner run one at
// a time. Running it twice in a row leaves the second pass with nothing to
// do.
func (m *Manager) RunMaintenance(ctx context.Context, owner string) (Report, error) {
	ctx, span := logging.StartSpan(ctx, "lifecycle.RunMaintenance")
	defer span.End()
	span.SetAttributes(attribute.String("owner_id", owner))

	st := m.owner(owner)
	st.maint.Lock()
	defer st.maint.Unlock()

	start := time.Now()
	rep := Report{Owner: owner}
	var err error
	if rep.Decayed, err = m.Decay(ctx, owner); err != nil {
		return rep, err
	}
	if rep.Pruned, err = m.Prune(ctx, owner); err != nil {
		return rep, err
	}
	evicted, err := m.Evict(ctx, owner)
	if err != nil {
		return rep, err
	}
	rep.Evicted = len(evicted)
	if rep.Compress, err = m.Compress(ctx, owner); err != nil {
		return rep, err
	}
	if err := m.store.Rebuild(ctx, owner); err != nil {
		return rep, err
	}
	if rep.Count, err = m.store.Count(ctx, owner); err != nil {
		return rep, err
	}
	rep.Duration = time.Since(start)

	m.log.WithField("owner_id", owner).WithField("decayed", rep.Decayed).WithField("pruned", rep.Pruned).
		WithField("evicted", rep.Evicted).WithField("compressed", rep.Compress.Compressed).
		WithField("count", rep.Count).Debug("maintenance pass complete")
	return rep, nil
}
