package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/agent-recall/internal/llm"
	"github.com/rcliao/agent-recall/internal/store"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "recall.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("AGENT_RECALL_DB", "/tmp/recall-test.db")
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/tmp/recall-test.db", cfg.DB)
	assert.Equal(t, store.DefaultCap, cfg.Store.Cap)
	assert.Equal(t, 2000, cfg.Store.Index.Threshold)
	assert.Equal(t, 0.92, cfg.Extractor.DuplicateThreshold)
	assert.Equal(t, 0.6, cfg.Ranker.Weights.Similarity)
	assert.Equal(t, 14*24*time.Hour, cfg.Ranker.HalfLife)
	assert.Equal(t, 0.85, cfg.Lifecycle.CompressThreshold)
	assert.Equal(t, 5*time.Second, cfg.Gateway.Timeout)
	require.Len(t, cfg.LLM.Providers, 1)
	assert.Equal(t, llm.ProviderStub, cfg.LLM.Providers[0].Provider)
}

func TestLoad_File(t *testing.T) {
	t.Setenv("AGENT_RECALL_DB", "")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("ANTHROPIC_API_KEY", "")
	path := writeFile(t, `
db: /var/lib/recall.db
store:
  cap: 250
  index:
    threshold: 500
ranker:
  weights:
    similarity: 0.5
    importance: 0.3
    recency: 0.2
  half_life: 168h
lifecycle:
  decay_period: 12h
engine:
  budget: 2048
llm:
  timeout: 10s
  providers:
    - provider: openai
      model: gpt-4o-mini
    - provider: anthropic
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/recall.db", cfg.DB)
	assert.Equal(t, 250, cfg.Store.Cap)
	assert.Equal(t, 500, cfg.Store.Index.Threshold)
	assert.Equal(t, 16, cfg.Store.Index.M, "unset fields keep their defaults")
	assert.Equal(t, 0.5, cfg.Ranker.Weights.Similarity)
	assert.Equal(t, 7*24*time.Hour, cfg.Ranker.HalfLife)
	assert.Equal(t, 12*time.Hour, cfg.Lifecycle.DecayPeriod)
	assert.Equal(t, 0.98, cfg.Lifecycle.DecayFactor)
	assert.Equal(t, 2048, cfg.Engine.Budget)

	require.Len(t, cfg.LLM.Providers, 2)
	assert.Equal(t, "sk-test", cfg.LLM.Providers[0].APIKey)
	assert.Empty(t, cfg.LLM.Providers[1].APIKey)
	assert.Equal(t, 10*time.Second, cfg.DispatchOptions().Timeout)
}

func TestLoad_Invalid(t *testing.T) {
	path := writeFile(t, `
store:
  cap: 0
ranker:
  weights:
    similarity: 0.9
    importance: 0.3
    recency: 0.2
extractor:
  kind: magic
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.cap")
	assert.Contains(t, err.Error(), "ranker")
	assert.Contains(t, err.Error(), "magic")
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "store: [not, a, map]"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("AGENT_RECALL_LOG_LEVEL", "debug")
	t.Setenv("AGENT_RECALL_EMBED_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "sk-env")

	cfg := Default()
	cfg.ApplyEnv()
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "openai", cfg.Embedding.Provider)
	assert.Equal(t, "sk-env", cfg.Embedding.APIKey)
}

func TestGatewayOptions(t *testing.T) {
	cfg := Default()
	cfg.Gateway.Attempts = 5
	cfg.Gateway.CacheSize = 0

	opts := cfg.GatewayOptions()
	assert.Equal(t, 5, opts.Retry.Attempts)
	assert.Zero(t, opts.CacheSize)
	assert.Equal(t, 8000, opts.MaxChars)
}
