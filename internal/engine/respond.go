package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rcliao/agent-recall/internal/llm"
	"github.com/rcliao/agent-recall/internal/model"
)

// RespondRequest is one user message to answer.
type RespondRequest struct {
	Owner          string
	ConversationID string
	Message        string
	SystemPrompt   string
	Budget         *int // whole prompt, nil for the engine default
	MaxTokens      int
	Stream         llm.StreamFunc // optional; receives output as it arrives
}

// Response is the reply and the context it was generated from.
type Response struct {
	Text     string               `json:"text"`
	Provider string               `json:"provider"`
	Window   *model.ContextWindow `json:"window"`
	Turn     model.Turn           `json:"turn"`
}

// Respond assembles context for req.Message, asks the provider chain for a
// reply, records the turn and schedules extraction from it.
func (e *Engine) Respond(ctx context.Context, req RespondRequest) (*Response, error) {
	if e.deps.Dispatcher == nil {
		return nil, errors.New("respond: no completion providers configured")
	}
	if req.Owner == "" {
		return nil, fmt.Errorf("respond: owner is required: %w", model.ErrInvalidInput)
	}
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		return nil, fmt.Errorf("respond: empty message: %w", model.ErrInvalidInput)
	}
	budget := e.cfg.Budget
	if req.Budget != nil {
		budget = *req.Budget
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = e.cfg.MaxResponseTokens
	}

	// The user line and reply cue are always sent, so the window gets what
	// is left after them and the separator before them.
	tail := "user: " + msg + "\nassistant:"
	reserve := e.deps.Assembler.Count(model.PromptSeparator + tail)
	if reserve > budget {
		return nil, fmt.Errorf("message needs %d tokens, budget is %d: %w", reserve, budget, model.ErrBudgetTooSmall)
	}
	windowBudget := budget - reserve
	w, err := e.AssembleContext(ctx, AssembleRequest{
		Owner:          req.Owner,
		ConversationID: req.ConversationID,
		Query:          msg,
		Budget:         &windowBudget,
		SystemPrompt:   req.SystemPrompt,
	})
	if err != nil {
		return nil, err
	}

	prompt := tail
	if p := w.Prompt(); p != "" {
		prompt = p + model.PromptSeparator + tail
	}
	promptTokens := e.deps.Assembler.Count(prompt)
	if promptTokens > budget {
		return nil, fmt.Errorf("prompt needs %d tokens, budget is %d: %w", promptTokens, budget, model.ErrBudgetTooSmall)
	}
	creq := llm.Request{
		Prompt:       prompt,
		PromptTokens: promptTokens,
		MaxTokens:    req.MaxTokens,
	}

	var res llm.Result
	if req.Stream != nil {
		res, err = e.deps.Dispatcher.Stream(ctx, creq, req.Stream)
	} else {
		res, err = e.deps.Dispatcher.Complete(ctx, creq)
	}
	if err != nil {
		return nil, err
	}

	turn := model.Turn{
		OwnerID:        req.Owner,
		ConversationID: req.ConversationID,
		UserText:       msg,
		AssistantText:  strings.TrimSpace(res.Text),
		CreatedAt:      e.now(),
	}
	if rec, ok := e.deps.Conversations.(TurnRecorder); ok {
		stored, err := rec.AppendTurn(ctx, turn)
		if err != nil {
			e.log.WithError(err).WithField("owner_id", req.Owner).Warn("recording turn failed")
		} else {
			turn = stored
		}
	}
	e.ExtractAndStoreAsync(ctx, turn)

	return &Response{Text: turn.AssistantText, Provider: res.Provider, Window: w, Turn: turn}, nil
}
