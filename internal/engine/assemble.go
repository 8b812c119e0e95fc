package engine

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/rcliao/agent-recall/internal/assembler"
	"github.com/rcliao/agent-recall/internal/logging"
	"github.com/rcliao/agent-recall/internal/model"
	"github.com/rcliao/agent-recall/internal/ranker"
)

// AssembleRequest asks for the context of the next reply. Zero fields take
// the engine defaults; set NoSystemPrompt to send none at all. A nil
// Budget takes the default, any other value is used as given.
type AssembleRequest struct {
	Owner          string
	ConversationID string
	Query          string // text the memories should be relevant to
	Budget         *int
	SystemPrompt   string
	NoSystemPrompt bool
	RecentN        int
	K              int
	// RecentTurns, when non-nil, is used instead of the conversation source.
	RecentTurns []model.Turn
}

// AssembleContext builds a context window for owner. Only
// model.ErrBudgetTooSmall (and a missing owner) is returned; failures to
// fetch turns, embed the query or rank memories degrade to a window
// without them. Memories that were ranked are marked as accessed.
func (e *Engine) AssembleContext(ctx context.Context, req AssembleRequest) (*model.ContextWindow, error) {
	ctx, span := logging.StartSpan(ctx, "engine.AssembleContext")
	defer span.End()

	if req.Owner == "" {
		return nil, fmt.Errorf("assemble context: owner is required: %w", model.ErrInvalidInput)
	}
	req = e.withDefaults(req)
	log := e.log.WithField("owner_id", req.Owner)

	turns := req.RecentTurns
	if turns == nil && e.deps.Conversations != nil && req.RecentN > 0 {
		var err error
		turns, err = e.deps.Conversations.RecentTurns(ctx, req.Owner, req.ConversationID, req.RecentN)
		if err != nil {
			log.WithError(err).Warn("recent turns unavailable, assembling without them")
			turns = nil
		}
	}
	if len(turns) > req.RecentN {
		turns = turns[len(turns)-req.RecentN:]
	}

	ranked := e.retrieve(ctx, req, turns)

	w, err := e.deps.Assembler.Assemble(ctx, assembler.Params{
		Budget:       *req.Budget,
		SystemPrompt: req.SystemPrompt,
		RecentTurns:  turns,
		Memories:     ranked,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if len(ranked) > 0 {
		ids := make([]string, len(ranked))
		for i, r := range ranked {
			ids[i] = r.Memory.ID
		}
		if err := e.deps.Store.Touch(ctx, req.Owner, ids, e.now()); err != nil {
			log.WithError(err).Warn("recording memory access failed")
		}
	}

	span.SetAttributes(
		attribute.Int("tokens", w.TotalTokens),
		attribute.Int("memories", len(w.Memories())),
		attribute.Int("turns", len(w.Turns())),
	)
	return w, nil
}

func (e *Engine) withDefaults(req AssembleRequest) AssembleRequest {
	if req.Budget == nil {
		b := e.cfg.Budget
		req.Budget = &b
	}
	if req.SystemPrompt == "" && !req.NoSystemPrompt {
		req.SystemPrompt = e.cfg.SystemPrompt
	}
	if req.RecentN == 0 {
		req.RecentN = e.cfg.RecentTurns
	}
	if req.K == 0 {
		req.K = e.cfg.TopK
	}
	return req
}

// retrieve ranks memories for the request query, or for the latest user
// message when the query is empty.
func (e *Engine) retrieve(ctx context.Context, req AssembleRequest, turns []model.Turn) []ranker.Ranked {
	q := strings.TrimSpace(req.Query)
	if q == "" && len(turns) > 0 {
		q = strings.TrimSpace(turns[len(turns)-1].UserText)
	}
	if q == "" || req.K <= 0 {
		return nil
	}
	log := e.log.WithField("owner_id", req.Owner)
	vec, err := e.deps.Embedder.Embed(ctx, q)
	if err != nil {
		log.WithError(err).Warn("query embedding failed, assembling without memories")
		return nil
	}
	ranked, err := e.deps.Ranker.Rank(ctx, req.Owner, vec, req.K)
	if err != nil {
		log.WithError(err).Warn("ranking failed, assembling without memories")
		return nil
	}
	return ranked
}
