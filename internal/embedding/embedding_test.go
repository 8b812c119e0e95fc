package embedding

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/rcliao/agent-recall/internal/model"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Vector
		expected float64
		delta    float64
	}{
		{"identical", Vector{1, 0, 0}, Vector{1, 0, 0}, 1.0, 0.001},
		{"orthogonal", Vector{1, 0, 0}, Vector{0, 1, 0}, 0.0, 0.001},
		{"opposite", Vector{1, 0, 0}, Vector{-1, 0, 0}, -1.0, 0.001},
		{"similar", Vector{1, 1, 0}, Vector{1, 0, 0}, 0.707, 0.01},
		{"empty", Vector{}, Vector{}, 0.0, 0.001},
		{"different lengths", Vector{1, 0}, Vector{1, 0, 0}, 0.0, 0.001},
		{"zero vector", Vector{0, 0, 0}, Vector{1, 0, 0}, 0.0, 0.001},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.expected) > tt.delta {
				t.Errorf("CosineSimilarity(%v, %v) = %f, want %f (±%f)", tt.a, tt.b, got, tt.expected, tt.delta)
			}
		})
	}
}

func TestNew_DefaultsToHash(t *testing.T) {
	e, err := New(context.Background(), Options{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, ok := e.(*HashEmbedder); !ok {
		t.Errorf("expected hash embedder, got %T", e)
	}
	if e.Dims() != 256 {
		t.Errorf("expected 256 dims, got %d", e.Dims())
	}
}

func TestNew_Errors(t *testing.T) {
	if _, err := New(context.Background(), Options{Provider: "word2vec"}); err == nil {
		t.Error("expected error for unknown provider")
	}
	if _, err := New(context.Background(), Options{Provider: ProviderOpenAI}); err == nil {
		t.Error("expected error for openai without API key")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("AGENT_RECALL_EMBED_PROVIDER", "openai")
	t.Setenv("AGENT_RECALL_EMBED_MODEL", "text-embedding-3-large")
	t.Setenv("AGENT_RECALL_EMBED_DIMS", "3072")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	var opts Options
	opts.ApplyEnv()
	if opts.Provider != "openai" || opts.Model != "text-embedding-3-large" || opts.Dims != 3072 || opts.APIKey != "sk-test" {
		t.Errorf("unexpected options: %+v", opts)
	}
}

func TestNormalize(t *testing.T) {
	v := Normalize(Vector{3, 4})
	if math.Abs(float64(v[0])-0.6) > 1e-6 || math.Abs(float64(v[1])-0.8) > 1e-6 {
		t.Errorf("Normalize = %v", v)
	}
	if math.Abs(Dot(v, v)-1) > 1e-6 {
		t.Errorf("expected unit length, got %f", Dot(v, v))
	}
	z := Normalize(Vector{0, 0})
	if z[0] != 0 || z[1] != 0 {
		t.Errorf("zero vector changed: %v", z)
	}
}

func TestClassifyStatus(t *testing.T) {
	base := errors.New("upstream")
	tests := []struct {
		status int
		want   error
	}{
		{429, model.ErrProviderRateLimited},
		{503, model.ErrProviderUnavailable},
		{0, model.ErrProviderUnavailable},
		{400, model.ErrInvalidInput},
	}
	for _, tt := range tests {
		if err := classifyStatus(tt.status, base); !errors.Is(err, tt.want) {
			t.Errorf("classifyStatus(%d) = %v, want %v", tt.status, err, tt.want)
		}
	}
	if err := classifyStatus(401, base); err != base {
		t.Errorf("401 should pass through, got %v", err)
	}
}
