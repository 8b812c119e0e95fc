// Package retry runs provider calls with bounded exponential backoff.
package retry

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/rcliao/agent-recall/internal/model"
)

// Policy bounds a retry loop.
type Policy struct {
	Attempts int           // total tries including the first
	Base     time.Duration // delay before the second try
	Max      time.Duration // cap on any single delay before jitter
	Jitter   float64       // spread each delay by up to this fraction either way
	Timeout  time.Duration // per-attempt timeout, 0 disables
}

// DefaultPolicy is three attempts starting at 200ms, jittered by 20%.
func DefaultPolicy() Policy {
	return Policy{Attempts: 3, Base: 200 * time.Millisecond, Max: 2 * time.Second, Jitter: 0.2}
}

// Delay returns the backoff before attempt n (n >= 1 is the first retry).
func (p Policy) Delay(n int) time.Duration {
	if n <= 0 || p.Base <= 0 {
		return 0
	}
	d := p.Base << (n - 1)
	if d <= 0 || (p.Max > 0 && d > p.Max) {
		d = p.Max
	}
	if j := min(p.Jitter, 1); j > 0 {
		d = time.Duration(float64(d) * (1 + j*(2*rand.Float64()-1)))
	}
	return d
}

// Do calls fn until it succeeds, returns a non-transient error, or the
// attempts run out. The last error is returned unchanged.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return err
			case <-time.After(p.Delay(i)):
			}
		}
		err = attempt(ctx, p.Timeout, fn)
		if err == nil || !model.IsTransient(err) {
			return err
		}
	}
	return err
}

func attempt(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(actx)
}
