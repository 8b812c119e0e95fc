package embedding

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/rcliao/agent-recall/internal/logging"
	"github.com/rcliao/agent-recall/internal/model"
	"github.com/rcliao/agent-recall/internal/retry"
)

// GatewayOptions configures a Gateway.
type GatewayOptions struct {
	Timeout   time.Duration // per attempt, default 5s
	Retry     retry.Policy  // default retry.DefaultPolicy()
	MaxChars  int           // longest accepted input, default 8000
	CacheSize int64         // cached vectors, 0 disables the cache
	Logger    *logrus.Entry
}

// DefaultGatewayOptions returns the production defaults.
func DefaultGatewayOptions() GatewayOptions {
	return GatewayOptions{
		Timeout:   5 * time.Second,
		Retry:     retry.DefaultPolicy(),
		MaxChars:  8000,
		CacheSize: 4096,
	}
}

// Gateway is the single path from the engine to an embedding provider.
// It validates input, bounds each call with a timeout, retries transient
// failures with backoff, checks the vector dimension and caches results.
type Gateway struct {
	inner Embedder
	opts  GatewayOptions
	cache *ristretto.Cache
	log   *logrus.Entry
}

// NewGateway wraps inner.
func NewGateway(inner Embedder, opts GatewayOptions) (*Gateway, error) {
	def := DefaultGatewayOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.Retry.Attempts <= 0 {
		opts.Retry = def.Retry
	}
	if opts.MaxChars <= 0 {
		opts.MaxChars = def.MaxChars
	}
	opts.Retry.Timeout = opts.Timeout

	g := &Gateway{
		inner: inner,
		opts:  opts,
		log:   logging.OrDefault(opts.Logger, "embedding"),
	}
	if opts.CacheSize > 0 {
		c, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: opts.CacheSize * 10,
			MaxCost:     opts.CacheSize,
			BufferItems: 64,
		})
		if err != nil {
			return nil, fmt.Errorf("create embedding cache: %w", err)
		}
		g.cache = c
	}
	return g, nil
}

// Embed returns the embedding for text. Errors wrap ErrInvalidInput,
// ErrProviderUnavailable or ErrProviderRateLimited.
func (g *Gateway) Embed(ctx context.Context, text string) (Vector, error) {
	ctx, span := logging.StartSpan(ctx, "embedding.Embed")
	defer span.End()
	span.SetAttributes(attribute.Int("text.len", len(text)))

	vec, err := g.embed(ctx, text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return vec, err
}

func (g *Gateway) embed(ctx context.Context, text string) (Vector, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("embed: empty text: %w", model.ErrInvalidInput)
	}
	if len(text) > g.opts.MaxChars {
		return nil, fmt.Errorf("embed: text is %d chars, limit %d: %w", len(text), g.opts.MaxChars, model.ErrInvalidInput)
	}

	if g.cache != nil {
		if v, ok := g.cache.Get(text); ok {
			return append(Vector(nil), v.(Vector)...), nil
		}
	}

	var vec Vector
	attempt := 0
	err := retry.Do(ctx, g.opts.Retry, func(actx context.Context) error {
		attempt++
		v, err := g.inner.Embed(actx, text)
		if err != nil {
			if actx.Err() != nil && ctx.Err() == nil {
				err = fmt.Errorf("%w: no response within %s", model.ErrProviderUnavailable, g.opts.Timeout)
			}
			if model.IsTransient(err) {
				g.log.WithError(err).WithField("attempt", attempt).Warn("embedding attempt failed")
			}
			return err
		}
		vec = v
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("embed: %w", ctx.Err())
		}
		return nil, fmt.Errorf("embed: %w", err)
	}

	if want := g.inner.Dims(); want > 0 && len(vec) != want {
		return nil, fmt.Errorf("embed: provider returned %d dims, want %d: %w", len(vec), want, model.ErrProviderUnavailable)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("embed: provider returned an empty vector: %w", model.ErrProviderUnavailable)
	}

	if g.cache != nil {
		g.cache.Set(text, append(Vector(nil), vec...), 1)
	}
	return vec, nil
}

// Dims reports the provider's vector dimension.
func (g *Gateway) Dims() int { return g.inner.Dims() }

// Wait blocks until pending cache writes are visible.
func (g *Gateway) Wait() {
	if g.cache != nil {
		g.cache.Wait()
	}
}

// Close releases the cache.
func (g *Gateway) Close() {
	if g.cache != nil {
		g.cache.Close()
	}
}
