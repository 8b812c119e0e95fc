package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rcliao/agent-recall/internal/assembler"
	"github.com/rcliao/agent-recall/internal/config"
	"github.com/rcliao/agent-recall/internal/embedding"
	"github.com/rcliao/agent-recall/internal/engine"
	"github.com/rcliao/agent-recall/internal/extractor"
	"github.com/rcliao/agent-recall/internal/lifecycle"
	"github.com/rcliao/agent-recall/internal/llm"
	"github.com/rcliao/agent-recall/internal/logging"
	"github.com/rcliao/agent-recall/internal/ranker"
	"github.com/rcliao/agent-recall/internal/store"
	"github.com/rcliao/agent-recall/internal/tokenizer"
)

// app is the fully wired engine plus the pieces commands use directly.
type app struct {
	store     *store.SQLiteStore
	embedder  *embedding.Gateway
	lifecycle *lifecycle.Manager
	ranker    *ranker.Ranker
	engine    *engine.Engine

	inner embedding.Embedder
}

func openApp(ctx context.Context) (*app, error) {
	s, err := openStore()
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a, err := wire(ctx, cfg, s)
	if err != nil {
		s.Close()
		return nil, err
	}
	return a, nil
}

func wire(ctx context.Context, c *config.Config, s *store.SQLiteStore) (*app, error) {
	inner, err := embedding.New(ctx, c.Embedding)
	if err != nil {
		return nil, fmt.Errorf("embedding provider: %w", err)
	}
	gwOpts := c.GatewayOptions()
	gwOpts.Logger = logging.New("embedding")
	gw, err := embedding.NewGateway(inner, gwOpts)
	if err != nil {
		return nil, err
	}

	counter, err := tokenizer.New(c.Tokenizer)
	if err != nil {
		if counter == nil {
			return nil, err
		}
		logging.New("cli").WithError(err).Warn("tokenizer unavailable, estimating tokens")
	}

	providers, err := llm.NewAll(c.LLM.Providers)
	if err != nil {
		return nil, fmt.Errorf("llm provider: %w", err)
	}
	dOpts := c.DispatchOptions()
	dOpts.Logger = logging.New("llm")
	disp, err := llm.NewDispatcher(providers, dOpts)
	if err != nil {
		return nil, err
	}

	var ext extractor.Extractor = extractor.NewHeuristic(c.Extractor.Heuristic)
	if c.Extractor.Kind == config.ExtractorLLM {
		ext = extractor.NewLLM(disp.Completer(), ext, logging.New("extractor"))
	}
	var sum lifecycle.Summarizer
	if c.Summarizer == config.SummarizerLLM {
		sum = lifecycle.NewLLMSummarizer(disp.Completer(), logging.New("lifecycle"))
	}

	lc, err := lifecycle.New(s, gw, sum, c.Lifecycle, logging.New("lifecycle"))
	if err != nil {
		return nil, err
	}
	rk, err := ranker.New(s, c.Ranker, time.Now)
	if err != nil {
		return nil, err
	}
	eng, err := engine.New(engine.Deps{
		Store:      s,
		Embedder:   gw,
		Extractor:  ext,
		Duplicates: extractor.NewDuplicateFilter(gw, s, c.Extractor.DuplicateThreshold, logging.New("extractor")),
		Ranker:     rk,
		Assembler:  assembler.New(counter),
		Lifecycle:  lc,
		Dispatcher: disp,
		Logger:     logging.New("engine"),
	}, c.Engine)
	if err != nil {
		return nil, err
	}
	return &app{store: s, embedder: gw, lifecycle: lc, ranker: rk, engine: eng, inner: inner}, nil
}

// Close drains background work before closing the store.
func (a *app) Close() error {
	a.engine.Close()
	a.embedder.Close()
	if c, ok := a.inner.(io.Closer); ok {
		c.Close()
	}
	return a.store.Close()
}
