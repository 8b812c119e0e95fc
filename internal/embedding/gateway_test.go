package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/agent-recall/internal/logging"
	"github.com/rcliao/agent-recall/internal/model"
	"github.com/rcliao/agent-recall/internal/retry"
)

func fastOptions() GatewayOptions {
	return GatewayOptions{
		Timeout:  50 * time.Millisecond,
		Retry:    retry.Policy{Attempts: 3, Base: time.Millisecond, Max: 2 * time.Millisecond},
		MaxChars: 100,
		Logger:   logging.Discard(),
	}
}

func TestGateway_RejectsBadInput(t *testing.T) {
	inner := NewStaticEmbedder(3)
	g, err := NewGateway(inner, fastOptions())
	require.NoError(t, err)

	_, err = g.Embed(context.Background(), "   ")
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	_, err = g.Embed(context.Background(), strings.Repeat("x", 101))
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	assert.Equal(t, 0, inner.Calls(), "invalid input must not reach the provider")
}

func TestGateway_RetriesTransientThenSucceeds(t *testing.T) {
	inner := NewStaticEmbedder(3)
	inner.Set("hello", Vector{1, 0, 0})
	var failures atomic.Int32
	inner.Fail = func(string) error {
		if failures.Add(1) <= 2 {
			return fmt.Errorf("boom: %w", model.ErrProviderRateLimited)
		}
		return nil
	}
	g, err := NewGateway(inner, fastOptions())
	require.NoError(t, err)

	v, err := g.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, Vector{1, 0, 0}, v)
	assert.Equal(t, 3, inner.Calls())
}

func TestGateway_GivesUpAfterAttempts(t *testing.T) {
	inner := NewStaticEmbedder(3)
	inner.Fail = func(string) error { return model.ErrProviderUnavailable }
	g, err := NewGateway(inner, fastOptions())
	require.NoError(t, err)

	_, err = g.Embed(context.Background(), "hello")
	assert.ErrorIs(t, err, model.ErrProviderUnavailable)
	assert.Equal(t, 3, inner.Calls())
}

type slowEmbedder struct{}

func (slowEmbedder) Embed(ctx context.Context, _ string) (Vector, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
func (slowEmbedder) Dims() int { return 3 }

func TestGateway_TimeoutIsUnavailable(t *testing.T) {
	opts := fastOptions()
	opts.Timeout = 5 * time.Millisecond
	opts.Retry.Attempts = 2
	g, err := NewGateway(slowEmbedder{}, opts)
	require.NoError(t, err)

	_, err = g.Embed(context.Background(), "hello")
	assert.ErrorIs(t, err, model.ErrProviderUnavailable)
}

func TestGateway_DimensionMismatch(t *testing.T) {
	inner := NewStaticEmbedder(4)
	inner.Set("hello", Vector{1, 0, 0})
	g, err := NewGateway(inner, fastOptions())
	require.NoError(t, err)

	_, err = g.Embed(context.Background(), "hello")
	assert.ErrorIs(t, err, model.ErrProviderUnavailable)
}

func TestGateway_Cache(t *testing.T) {
	inner := NewStaticEmbedder(3)
	inner.Set("hello", Vector{0, 1, 0})
	opts := fastOptions()
	opts.CacheSize = 16
	g, err := NewGateway(inner, opts)
	require.NoError(t, err)
	defer g.Close()

	_, err = g.Embed(context.Background(), "hello")
	require.NoError(t, err)
	g.Wait()

	v, err := g.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, Vector{0, 1, 0}, v)
	assert.Equal(t, 1, inner.Calls(), "second call should be served from cache")

	// Mutating a returned vector must not poison the cache.
	v[1] = 42
	v2, _ := g.Embed(context.Background(), "hello")
	assert.Equal(t, float32(1), v2[1])
}

func TestGateway_CanceledContext(t *testing.T) {
	inner := NewStaticEmbedder(3)
	inner.Fail = func(string) error { return model.ErrProviderUnavailable }
	g, err := NewGateway(inner, fastOptions())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = g.Embed(ctx, "hello")
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestHashEmbedder_LexicalOverlap(t *testing.T) {
	e := NewHashEmbedder(256)
	ctx := context.Background()
	a, _ := e.Embed(ctx, "I live in Lisbon")
	b, _ := e.Embed(ctx, "i LIVE in lisbon!")
	c, _ := e.Embed(ctx, "quantum chromodynamics lecture")

	assert.InDelta(t, 1.0, CosineSimilarity(a, b), 1e-6)
	assert.Less(t, CosineSimilarity(a, c), 0.5)
	assert.Len(t, a, 256)
}
