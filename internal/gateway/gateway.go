// Package gateway is the single entry point for remote model capabilities.
// Every call gets a bounded timeout, a fixed retry budget for transient
// failures and a typed *Error when the remote path cannot produce output.
package gateway

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
)

type Capability string

const (
	CapabilitySegment Capability = "segment"
	CapabilityRewrite Capability = "rewrite"
	CapabilityRisk    Capability = "risk"
	CapabilityAnswer  Capability = "answer"
)

// Payload carries the inputs of a capability. Unused fields stay empty.
type Payload struct {
	Text     string   `json:"text,omitempty"`
	Question string   `json:"question,omitempty"`
	Context  string   `json:"context,omitempty"`
	Labels   []string `json:"labels,omitempty"`
}

type Result struct {
	Output   string
	Attempts int
	Latency  time.Duration
}

// Invoker is implemented by *Gateway and by test doubles in the stage packages.
type Invoker interface {
	Invoke(ctx context.Context, capability Capability, payload Payload) (Result, error)
}

// Backend performs one remote call. It must honour ctx cancellation.
type Backend interface {
	Call(ctx context.Context, capability Capability, payload Payload) (string, error)
}

type BackendFunc func(ctx context.Context, capability Capability, payload Payload) (string, error)

func (f BackendFunc) Call(ctx context.Context, capability Capability, payload Payload) (string, error) {
	return f(ctx, capability, payload)
}

type Options struct {
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	MaxBackoff   time.Duration
	Concurrency  int
}

type Option func(*Gateway)

func WithObserver(o Observer) Option {
	return func(g *Gateway) {
		if o != nil {
			g.observers = append(g.observers, o)
		}
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(g *Gateway) {
		if log != nil {
			g.log = log
		}
	}
}

type Gateway struct {
	backends  map[Capability]Backend
	opts      Options
	sem       chan struct{}
	observers []Observer
	log       *zap.Logger
}

func New(backends map[Capability]Backend, opts Options, options ...Option) *Gateway {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 5
	}
	g := &Gateway{
		backends: make(map[Capability]Backend, len(backends)),
		opts:     opts,
		sem:      make(chan struct{}, opts.Concurrency),
		log:      zap.NewNop(),
	}
	for c, b := range backends {
		if b != nil {
			g.backends[c] = b
		}
	}
	for _, o := range options {
		o(g)
	}
	return g
}

// Enabled reports whether a backend is configured for the capability.
func (g *Gateway) Enabled(c Capability) bool {
	_, ok := g.backends[c]
	return ok
}

// Invoke runs the capability with retries. The returned error is always a *Error.
func (g *Gateway) Invoke(ctx context.Context, c Capability, p Payload) (Result, error) {
	start := time.Now()
	backend, ok := g.backends[c]
	if !ok {
		return g.finish(c, start, 0, "", &Error{Kind: KindNonTransient, Capability: c, Err: ErrNoBackend})
	}

	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= g.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, g.backoff(attempt)); err != nil {
				return g.finish(c, start, attempts, "", &Error{Kind: KindNonTransient, Capability: c, Attempts: attempts, Err: err})
			}
		}

		attempts++
		out, err := g.call(ctx, backend, c, p)
		if err == nil {
			out = strings.TrimSpace(out)
			if out != "" {
				return g.finish(c, start, attempts, out, nil)
			}
			err = invalidResponse("empty output")
		}

		if ctx.Err() != nil {
			return g.finish(c, start, attempts, "", &Error{Kind: KindNonTransient, Capability: c, Attempts: attempts, Err: ctx.Err()})
		}
		kind := classify(err)
		if kind != KindTransientExhausted {
			return g.finish(c, start, attempts, "", &Error{Kind: kind, Capability: c, Attempts: attempts, Err: err})
		}

		lastErr = err
		g.log.Debug("gateway.invoke.retry",
			zap.String("capability", string(c)),
			zap.Int("attempt", attempts),
			zap.Error(err))
	}

	return g.finish(c, start, attempts, "", &Error{Kind: KindTransientExhausted, Capability: c, Attempts: attempts, Err: lastErr})
}

// call runs one attempt under the per-call timeout and the concurrency limit.
func (g *Gateway) call(ctx context.Context, backend Backend, c Capability, p Payload) (string, error) {
	select {
	case g.sem <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	callCtx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()

	type reply struct {
		out string
		err error
	}
	done := make(chan reply, 1)
	// The slot is held until the backend returns, even after a timeout.
	go func() {
		defer func() { <-g.sem }()
		out, err := backend.Call(callCtx, c, p)
		done <- reply{out, err}
	}()

	select {
	case r := <-done:
		if r.err != nil && callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return "", ErrTimeout
		}
		return r.out, r.err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", ErrTimeout
	}
}

func (g *Gateway) backoff(attempt int) time.Duration {
	d := g.opts.RetryBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if g.opts.MaxBackoff > 0 && d >= g.opts.MaxBackoff {
			return g.opts.MaxBackoff
		}
	}
	if g.opts.MaxBackoff > 0 && d > g.opts.MaxBackoff {
		return g.opts.MaxBackoff
	}
	return d
}

func (g *Gateway) finish(c Capability, start time.Time, attempts int, out string, gerr *Error) (Result, error) {
	res := Result{Output: out, Attempts: attempts, Latency: time.Since(start)}
	obs := Observation{
		Capability: c,
		Outcome:    OutcomeOK,
		Attempts:   attempts,
		Latency:    res.Latency,
		At:         start,
	}
	if gerr != nil {
		obs.Outcome = string(gerr.Kind)
		obs.Error = gerr.Err.Error()
		g.log.Warn("gateway.invoke.failed",
			zap.String("capability", string(c)),
			zap.String("kind", string(gerr.Kind)),
			zap.Int("attempts", attempts),
			zap.Duration("latency", res.Latency),
			zap.Error(gerr.Err))
	} else {
		g.log.Debug("gateway.invoke.ok",
			zap.String("capability", string(c)),
			zap.Int("attempts", attempts),
			zap.Duration("latency", res.Latency))
	}
	for _, o := range g.observers {
		o.Observe(obs)
	}
	if gerr != nil {
		return res, gerr
	}
	return res, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
