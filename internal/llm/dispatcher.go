package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/rcliao/agent-recall/internal/logging"
	"github.com/rcliao/agent-recall/internal/model"
	"github.com/rcliao/agent-recall/internal/retry"
)

// DispatchOptions configures a Dispatcher.
type DispatchOptions struct {
	Timeout time.Duration // per attempt, default 30s
	Retry   retry.Policy  // per provider, default retry.DefaultPolicy()
	Logger  *logrus.Entry
}

// Request is one completion call. PromptTokens is the assembled context
// size, used to skip providers whose window is too small.
type Request struct {
	Prompt       string
	PromptTokens int
	MaxTokens    int
}

// Result is a completion and the provider that produced it.
type Result struct {
	Provider string `json:"provider"`
	Text     string `json:"text"`
}

// Dispatcher sends a request to the first capable provider and fails over
// to the next one on transient or capacity errors.
type Dispatcher struct {
	providers []Provider
	opts      DispatchOptions
	log       *logrus.Entry
}

// NewDispatcher orders failover by the order of providers.
func NewDispatcher(providers []Provider, opts DispatchOptions) (*Dispatcher, error) {
	if len(providers) == 0 {
		return nil, errors.New("dispatcher: at least one provider is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Retry.Attempts <= 0 {
		opts.Retry = retry.DefaultPolicy()
	}
	opts.Retry.Timeout = opts.Timeout
	return &Dispatcher{
		providers: providers,
		opts:      opts,
		log:       logging.OrDefault(opts.Logger, "llm"),
	}, nil
}

// Providers returns the configured providers in failover order.
func (d *Dispatcher) Providers() []Provider { return d.providers }

// Complete runs req against the providers in order.
func (d *Dispatcher) Complete(ctx context.Context, req Request) (Result, error) {
	return d.dispatch(ctx, "llm.Complete", req, func(ctx context.Context, p Provider) (string, error) {
		return p.Complete(ctx, req.Prompt, req.MaxTokens)
	})
}

// Completer adapts d to the single-provider Complete signature. The prompt
// size is estimated at four bytes per token.
func (d *Dispatcher) Completer() Completer { return dispatchCompleter{d} }

type dispatchCompleter struct{ d *Dispatcher }

func (c dispatchCompleter) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	res, err := c.d.Complete(ctx, Request{Prompt: prompt, PromptTokens: (len(prompt) + 3) / 4, MaxTokens: maxTokens})
	return res.Text, err
}

// Stream is Complete with incremental delivery. Once a provider has
// delivered output there is no failover or retry, since fn has already
// seen its text.
func (d *Dispatcher) Stream(ctx context.Context, req Request, fn StreamFunc) (Result, error) {
	return d.dispatch(ctx, "llm.Stream", req, func(ctx context.Context, p Provider) (string, error) {
		started := false
		out, err := p.Stream(ctx, req.Prompt, req.MaxTokens, func(chunk string) error {
			started = true
			return fn(chunk)
		})
		if err != nil && started {
			return out, &interruptedError{err: err}
		}
		return out, err
	})
}

// interruptedError marks a stream that failed after delivering output. It
// does not unwrap, so it is never retried or failed over.
type interruptedError struct{ err error }

func (e *interruptedError) Error() string { return "stream interrupted: " + e.err.Error() }

func (d *Dispatcher) dispatch(ctx context.Context, span string, req Request, call func(context.Context, Provider) (string, error)) (Result, error) {
	ctx, sp := logging.StartSpan(ctx, span)
	defer sp.End()
	sp.SetAttributes(attribute.Int("prompt.tokens", req.PromptTokens), attribute.Int("max.tokens", req.MaxTokens))

	res, err := d.run(ctx, req, call)
	if err != nil {
		sp.RecordError(err)
		sp.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}
	sp.SetAttributes(attribute.String("provider", res.Provider))
	return res, nil
}

func (d *Dispatcher) run(ctx context.Context, req Request, call func(context.Context, Provider) (string, error)) (Result, error) {
	need := req.PromptTokens + req.MaxTokens
	var lastErr error
	tried := 0
	for _, p := range d.providers {
		if p.ContextWindow() < need {
			d.log.WithField("provider", p.Name()).WithField("window", p.ContextWindow()).
				WithField("need", need).Debug("provider window too small")
			continue
		}
		tried++
		var text string
		err := retry.Do(ctx, d.opts.Retry, func(actx context.Context) error {
			out, err := call(actx, p)
			if err != nil {
				var ie *interruptedError
				if actx.Err() != nil && ctx.Err() == nil && !errors.As(err, &ie) {
					err = fmt.Errorf("%w: no response within %s", model.ErrProviderUnavailable, d.opts.Timeout)
				}
				return err
			}
			text = out
			return nil
		})
		if err == nil {
			return Result{Provider: p.Name(), Text: text}, nil
		}
		if ctx.Err() != nil {
			return Result{}, fmt.Errorf("dispatch: %w", ctx.Err())
		}
		lastErr = err
		if !failover(err) {
			return Result{}, fmt.Errorf("dispatch %s: %w", p.Name(), err)
		}
		d.log.WithError(err).WithField("provider", p.Name()).Warn("provider failed, trying next")
	}
	if tried == 0 {
		return Result{}, fmt.Errorf("dispatch: no provider fits %d tokens: %w", need, model.ErrContextTooLarge)
	}
	return Result{}, fmt.Errorf("dispatch: all providers failed: %w", lastErr)
}

func failover(err error) bool {
	return model.IsTransient(err) || errors.Is(err, model.ErrContextTooLarge)
}
