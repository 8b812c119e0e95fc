package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"unicode"

	"github.com/rcliao/agent-recall/internal/model"
)

// HashEmbedder is an offline embedder. Each lowercased word is hashed into
// a signed bucket, so texts that share words land close together. It needs
// no network and is deterministic, which makes it the default for tests and
// for running without a provider.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder returns a hash embedder with the given dimension (default 256).
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = 256
	}
	return &HashEmbedder{dims: dims}
}

func (e *HashEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v := make(Vector, e.dims)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New64a()
		h.Write([]byte(w))
		sum := h.Sum64()
		idx := int(sum % uint64(e.dims))
		if sum&(1<<63) != 0 {
			v[idx] -= 1
		} else {
			v[idx] += 1
		}
	}
	return Normalize(v), nil
}

func (e *HashEmbedder) Dims() int { return e.dims }

// StaticEmbedder returns fixed vectors per text. Unknown text is an
// ErrInvalidInput unless Fallback is set. Fail, when non-nil, is consulted
// before every call and its error returned instead.
type StaticEmbedder struct {
	Dim      int
	Fallback Embedder
	Fail     func(text string) error

	mu      sync.Mutex
	vectors map[string]Vector
	calls   int
}

// NewStaticEmbedder creates an empty static embedder of the given dimension.
func NewStaticEmbedder(dim int) *StaticEmbedder {
	return &StaticEmbedder{Dim: dim, vectors: make(map[string]Vector)}
}

// Set registers the vector returned for text.
func (e *StaticEmbedder) Set(text string, v Vector) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vectors[text] = append(Vector(nil), v...)
}

// Calls reports how many Embed calls reached the embedder.
func (e *StaticEmbedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func (e *StaticEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	e.mu.Lock()
	e.calls++
	v, ok := e.vectors[text]
	fail := e.Fail
	e.mu.Unlock()

	if fail != nil {
		if err := fail(text); err != nil {
			return nil, err
		}
	}
	if ok {
		return append(Vector(nil), v...), nil
	}
	if e.Fallback != nil {
		return e.Fallback.Embed(ctx, text)
	}
	return nil, fmt.Errorf("static embedder: no vector for %q: %w", text, model.ErrInvalidInput)
}

func (e *StaticEmbedder) Dims() int { return e.Dim }
