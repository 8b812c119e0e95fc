package engine

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/rcliao/agent-recall/internal/logging"
	"github.com/rcliao/agent-recall/internal/model"
)

// ExtractAndStore turns a completed turn into stored memories and returns
// the new ids. It never fails the turn: extraction, embedding and storage
// problems are logged and the affected candidates are dropped.
func (e *Engine) ExtractAndStore(ctx context.Context, turn model.Turn) []string {
	ctx, span := logging.StartSpan(ctx, "engine.ExtractAndStore")
	defer span.End()
	span.SetAttributes(attribute.String("owner_id", turn.OwnerID))

	log := e.log.WithField("owner_id", turn.OwnerID)
	if turn.OwnerID == "" {
		log.Warn("turn has no owner, nothing stored")
		return nil
	}

	cands, err := e.deps.Extractor.Extract(ctx, turn)
	if err != nil {
		log.WithError(err).Warn("extraction failed")
		return nil
	}
	if len(cands) == 0 {
		return nil
	}

	embedded := e.deps.Duplicates.Filter(ctx, turn.OwnerID, cands)
	if len(embedded) == 0 {
		log.WithField("candidates", len(cands)).Debug("all candidates dropped")
		return nil
	}

	recs := make([]model.Memory, len(embedded))
	for i, c := range embedded {
		recs[i] = model.Memory{
			OwnerID:        turn.OwnerID,
			ConversationID: turn.ConversationID,
			Content:        c.Content,
			Kind:           c.Kind,
			Tags:           c.Tags,
			Embedding:      c.Embedding,
			Importance:     c.Importance,
		}
	}
	stored, err := e.deps.Lifecycle.Admit(ctx, turn.OwnerID, recs)
	if err != nil {
		log.WithError(err).WithField("candidates", len(recs)).Error("storing memories failed")
		return nil
	}

	ids := make([]string, len(stored))
	for i, m := range stored {
		ids[i] = m.ID
	}
	span.SetAttributes(attribute.Int("stored", len(ids)))
	log.WithField("candidates", len(cands)).WithField("stored", len(ids)).Debug("memories stored")
	return ids
}

// ExtractAndStoreAsync runs ExtractAndStore in the background. The work is
// detached from ctx's cancellation, bounded by the extraction timeout and
// drained by Close. It reports false when the engine is already closed.
func (e *Engine) ExtractAndStoreAsync(ctx context.Context, turn model.Turn) bool {
	detached := context.WithoutCancel(ctx)
	return e.goBackground(func() {
		ctx, cancel := context.WithTimeout(detached, e.cfg.ExtractTimeout)
		defer cancel()
		e.ExtractAndStore(ctx, turn)
	})
}
