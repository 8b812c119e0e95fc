// Package engine is the facade the chat backend calls each turn: it stores
// what a turn taught us and assembles the context for the next reply.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rcliao/agent-recall/internal/assembler"
	"github.com/rcliao/agent-recall/internal/embedding"
	"github.com/rcliao/agent-recall/internal/extractor"
	"github.com/rcliao/agent-recall/internal/lifecycle"
	"github.com/rcliao/agent-recall/internal/llm"
	"github.com/rcliao/agent-recall/internal/logging"
	"github.com/rcliao/agent-recall/internal/model"
	"github.com/rcliao/agent-recall/internal/ranker"
	"github.com/rcliao/agent-recall/internal/store"
)

// ConversationSource supplies recent turns, oldest first.
type ConversationSource interface {
	RecentTurns(ctx context.Context, owner, conversationID string, n int) ([]model.Turn, error)
}

// TurnRecorder persists completed turns. Respond uses it when the
// conversation source also implements it.
type TurnRecorder interface {
	AppendTurn(ctx context.Context, t model.Turn) (model.Turn, error)
}

// Config holds request defaults and background limits.
type Config struct {
	Budget                 int           `yaml:"budget"`
	RecentTurns            int           `yaml:"recent_turns"`
	TopK                   int           `yaml:"top_k"`
	SystemPrompt           string        `yaml:"system_prompt"`
	MaxResponseTokens      int           `yaml:"max_response_tokens"`
	ExtractTimeout         time.Duration `yaml:"extract_timeout"`
	MaintenanceInterval    time.Duration `yaml:"maintenance_interval"`
	MaintenanceConcurrency int           `yaml:"maintenance_concurrency"`
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{
		Budget:                 4096,
		RecentTurns:            6,
		TopK:                   8,
		SystemPrompt:           "You are a helpful assistant. Use the remembered facts when they are relevant.",
		MaxResponseTokens:      512,
		ExtractTimeout:         30 * time.Second,
		MaintenanceInterval:    time.Hour,
		MaintenanceConcurrency: 4,
	}
}

// Deps are the components an Engine drives. Store, Embedder, Extractor,
// Ranker, Assembler and Lifecycle are required.
type Deps struct {
	Store         store.Store
	Conversations ConversationSource // defaults to Store when it implements it
	Embedder      embedding.Embedder
	Extractor     extractor.Extractor
	Duplicates    *extractor.DuplicateFilter // defaults to a filter over Store
	Ranker        *ranker.Ranker
	Assembler     *assembler.Assembler
	Lifecycle     *lifecycle.Manager
	Dispatcher    *llm.Dispatcher // only needed by Respond
	Logger        *logrus.Entry
}

// Engine is safe for concurrent use.
type Engine struct {
	deps Deps
	cfg  Config
	log  *logrus.Entry
	now  func() time.Time

	mu     sync.Mutex
	closed bool
	stop   context.CancelFunc
	wg     sync.WaitGroup
}

// New validates deps and returns an Engine.
func New(d Deps, cfg Config) (*Engine, error) {
	var missing []error
	for _, dep := range []struct {
		name string
		ok   bool
	}{
		{"store", d.Store != nil},
		{"embedder", d.Embedder != nil},
		{"extractor", d.Extractor != nil},
		{"ranker", d.Ranker != nil},
		{"assembler", d.Assembler != nil},
		{"lifecycle", d.Lifecycle != nil},
	} {
		if !dep.ok {
			missing = append(missing, fmt.Errorf("engine: %s is required", dep.name))
		}
	}
	if err := errors.Join(missing...); err != nil {
		return nil, err
	}

	def := DefaultConfig()
	if cfg.Budget <= 0 {
		cfg.Budget = def.Budget
	}
	if cfg.RecentTurns < 0 {
		cfg.RecentTurns = 0
	}
	if cfg.TopK <= 0 {
		cfg.TopK = def.TopK
	}
	if cfg.MaxResponseTokens <= 0 {
		cfg.MaxResponseTokens = def.MaxResponseTokens
	}
	if cfg.ExtractTimeout <= 0 {
		cfg.ExtractTimeout = def.ExtractTimeout
	}
	if cfg.MaintenanceConcurrency <= 0 {
		cfg.MaintenanceConcurrency = def.MaintenanceConcurrency
	}

	d.Logger = logging.OrDefault(d.Logger, "engine")
	if d.Conversations == nil {
		if cs, ok := d.Store.(ConversationSource); ok {
			d.Conversations = cs
		}
	}
	if d.Duplicates == nil {
		d.Duplicates = extractor.NewDuplicateFilter(d.Embedder, d.Store, extractor.DefaultDuplicateThreshold, d.Logger)
	}
	return &Engine{deps: d, cfg: cfg, log: d.Logger, now: time.Now}, nil
}

// Config returns the engine's effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// Close stops background maintenance and waits for in-flight async
// extractions. It does not close the store.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	stop := e.stop
	e.mu.Unlock()

	if stop != nil {
		stop()
	}
	e.wg.Wait()
	return nil
}

// goBackground runs fn on a tracked goroutine unless the engine is closed.
func (e *Engine) goBackground(fn func()) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn()
	}()
	return true
}
