// Package config loads agent-recall settings from a YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rcliao/agent-recall/internal/embedding"
	"github.com/rcliao/agent-recall/internal/engine"
	"github.com/rcliao/agent-recall/internal/extractor"
	"github.com/rcliao/agent-recall/internal/index"
	"github.com/rcliao/agent-recall/internal/lifecycle"
	"github.com/rcliao/agent-recall/internal/llm"
	"github.com/rcliao/agent-recall/internal/ranker"
	"github.com/rcliao/agent-recall/internal/retry"
	"github.com/rcliao/agent-recall/internal/store"
)

// Extractor and summarizer kinds.
const (
	ExtractorHeuristic = "heuristic"
	ExtractorLLM       = "llm"

	SummarizerExtractive = "extractive"
	SummarizerLLM        = "llm"
)

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

type StoreConfig struct {
	Cap   int          `yaml:"cap"`
	Index index.Config `yaml:"index"`
}

type GatewayConfig struct {
	Timeout   time.Duration `yaml:"timeout"`
	Attempts  int           `yaml:"attempts"`
	MaxChars  int           `yaml:"max_chars"`
	CacheSize int64         `yaml:"cache_size"`
}

type ExtractorConfig struct {
	Kind               string                     `yaml:"kind"`
	DuplicateThreshold float64                    `yaml:"duplicate_threshold"`
	Heuristic          extractor.HeuristicOptions `yaml:"heuristic"`
}

type LLMConfig struct {
	Timeout   time.Duration `yaml:"timeout"`
	Attempts  int           `yaml:"attempts"`
	Providers []llm.Options `yaml:"providers"` // failover order
}

// Config is the whole application configuration.
type Config struct {
	DB         string            `yaml:"db"`
	Log        LogConfig         `yaml:"log"`
	Tokenizer  string            `yaml:"tokenizer"`
	Store      StoreConfig       `yaml:"store"`
	Embedding  embedding.Options `yaml:"embedding"`
	Gateway    GatewayConfig     `yaml:"gateway"`
	Extractor  ExtractorConfig   `yaml:"extractor"`
	Ranker     ranker.Config     `yaml:"ranker"`
	Lifecycle  lifecycle.Config  `yaml:"lifecycle"`
	Summarizer string            `yaml:"summarizer"`
	Engine     engine.Config     `yaml:"engine"`
	LLM        LLMConfig         `yaml:"llm"`
}

// Default returns a configuration that runs fully offline: hash
// embeddings, heuristic extraction and the stub completion provider.
func Default() Config {
	gw := embedding.DefaultGatewayOptions()
	return Config{
		DB:        DefaultDBPath(),
		Log:       LogConfig{Level: "info", Format: "text"},
		Tokenizer: "approx",
		Store:     StoreConfig{Cap: store.DefaultCap, Index: index.DefaultConfig()},
		Embedding: embedding.Options{Provider: embedding.ProviderHash, Dims: 256},
		Gateway: GatewayConfig{
			Timeout:   gw.Timeout,
			Attempts:  gw.Retry.Attempts,
			MaxChars:  gw.MaxChars,
			CacheSize: gw.CacheSize,
		},
		Extractor: ExtractorConfig{
			Kind:               ExtractorHeuristic,
			DuplicateThreshold: extractor.DefaultDuplicateThreshold,
			Heuristic:          extractor.DefaultHeuristicOptions(),
		},
		Ranker:     ranker.DefaultConfig(),
		Lifecycle:  lifecycle.DefaultConfig(),
		Summarizer: SummarizerExtractive,
		Engine:     engine.DefaultConfig(),
		LLM: LLMConfig{
			Timeout:   30 * time.Second,
			Attempts:  3,
			Providers: []llm.Options{{Provider: llm.ProviderStub}},
		},
	}
}

// DefaultDBPath is $AGENT_RECALL_DB or ~/.agent-recall/recall.db.
func DefaultDBPath() string {
	if env := os.Getenv("AGENT_RECALL_DB"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".agent-recall", "recall.db")
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyEnv overlays environment variables. Provider API keys are only
// ever read from the environment.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("AGENT_RECALL_DB"); v != "" {
		c.DB = v
	}
	if v := os.Getenv("AGENT_RECALL_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("AGENT_RECALL_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	c.Embedding.ApplyEnv()
	for i := range c.LLM.Providers {
		c.LLM.Providers[i].ApplyEnv()
	}
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	if c.DB == "" {
		errs = append(errs, errors.New("db path is required"))
	}
	if c.Store.Cap <= 0 {
		errs = append(errs, fmt.Errorf("store.cap must be positive, got %d", c.Store.Cap))
	}
	switch c.Extractor.Kind {
	case ExtractorHeuristic, ExtractorLLM:
	default:
		errs = append(errs, fmt.Errorf("unknown extractor %q (valid: heuristic, llm)", c.Extractor.Kind))
	}
	if t := c.Extractor.DuplicateThreshold; t <= 0 || t > 1 {
		errs = append(errs, fmt.Errorf("extractor.duplicate_threshold must be in (0,1], got %v", t))
	}
	switch c.Summarizer {
	case SummarizerExtractive, SummarizerLLM:
	default:
		errs = append(errs, fmt.Errorf("unknown summarizer %q (valid: extractive, llm)", c.Summarizer))
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q (valid: text, json)", c.Log.Format))
	}
	if err := c.Ranker.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("ranker: %w", err))
	}
	if err := c.Lifecycle.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("lifecycle: %w", err))
	}
	if c.Engine.Budget <= 0 {
		errs = append(errs, fmt.Errorf("engine.budget must be positive, got %d", c.Engine.Budget))
	}
	if len(c.LLM.Providers) == 0 {
		errs = append(errs, errors.New("llm.providers must list at least one provider"))
	}
	return errors.Join(errs...)
}

// GatewayOptions converts the gateway section for embedding.NewGateway.
func (c *Config) GatewayOptions() embedding.GatewayOptions {
	opts := embedding.DefaultGatewayOptions()
	if c.Gateway.Timeout > 0 {
		opts.Timeout = c.Gateway.Timeout
	}
	if c.Gateway.Attempts > 0 {
		opts.Retry.Attempts = c.Gateway.Attempts
	}
	if c.Gateway.MaxChars > 0 {
		opts.MaxChars = c.Gateway.MaxChars
	}
	opts.CacheSize = c.Gateway.CacheSize
	return opts
}

// DispatchOptions converts the llm section for llm.NewDispatcher.
func (c *Config) DispatchOptions() llm.DispatchOptions {
	opts := llm.DispatchOptions{Timeout: c.LLM.Timeout}
	if c.LLM.Attempts > 0 {
		opts.Retry = retry.DefaultPolicy()
		opts.Retry.Attempts = c.LLM.Attempts
	}
	return opts
}
