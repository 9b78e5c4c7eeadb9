// Package retry runs upstream calls with exponential backoff and honours
// explicit rate-limit waits signalled by the upstream.
package retry

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"github.com/blacktop/xpostd/internal/logutil"
)

const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = 3 * time.Second
	DefaultRetryAfter = 60 * time.Second
)

// Class is how a failure should be treated.
type Class int

const (
	Permanent Class = iota
	Transient
	RateLimited
)

func (c Class) String() string {
	switch c {
	case Transient:
		return "transient"
	case RateLimited:
		return "rate_limited"
	default:
		return "permanent"
	}
}

// Decision is a classified failure. After is only meaningful for RateLimited;
// zero means the executor's default wait.
type Decision struct {
	Class Class
	After time.Duration
}

// Classifier maps an error returned by an upstream call to a Decision.
type Classifier func(err error) Decision

// Executor holds a retry policy. It carries no per-call state and is safe for
// concurrent use.
type Executor struct {
	MaxRetries int
	BaseDelay  time.Duration
	RetryAfter time.Duration
	Classify   Classifier
	Name       string

	// Sleep waits for d or until ctx is done. Nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
	Log   *log.Logger
}

// New returns an Executor with the package defaults and the given classifier.
func New(name string, classify Classifier) *Executor {
	return &Executor{
		MaxRetries: DefaultMaxRetries,
		BaseDelay:  DefaultBaseDelay,
		RetryAfter: DefaultRetryAfter,
		Classify:   classify,
		Name:       name,
	}
}

// WithClassifier returns a copy of e using classify.
func (e *Executor) WithClassifier(name string, classify Classifier) *Executor {
	cp := *e
	cp.Name = name
	cp.Classify = classify
	return &cp
}

// Do runs op until it succeeds, fails permanently, or the retry budget is
// spent. The error from the last attempt is returned unchanged.
func Do[T any](ctx context.Context, e *Executor, op func(ctx context.Context) (T, error)) (T, error) {
	retries := e.MaxRetries
	if retries < 0 {
		retries = 0
	}
	delay := e.BaseDelay
	if delay <= 0 {
		delay = DefaultBaseDelay
	}
	lg := e.logger()

	for attempt := 1; ; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil {
			return v, err
		}

		d := e.classify(err)
		switch d.Class {
		case RateLimited:
			wait := d.After
			if wait <= 0 {
				wait = e.RetryAfter
			}
			if wait <= 0 {
				wait = DefaultRetryAfter
			}
			lg.Warn("rate limited, waiting", "attempt", attempt, "wait", wait, "retries_left", retries)
			if serr := e.sleep(ctx, wait); serr != nil {
				return v, err
			}
			if retries == 0 {
				return v, err
			}
			retries--
		case Transient:
			if retries == 0 {
				return v, err
			}
			lg.Warn("transient error, retrying", "attempt", attempt, "wait", delay, "retries_left", retries, "err", err)
			if serr := e.sleep(ctx, delay); serr != nil {
				return v, err
			}
			delay *= 2
			retries--
		default:
			return v, err
		}
	}
}

// Run is Do for operations without a result value.
func Run(ctx context.Context, e *Executor, op func(ctx context.Context) error) error {
	_, err := Do(ctx, e, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

func (e *Executor) classify(err error) Decision {
	if e.Classify == nil {
		return Decision{Class: Permanent}
	}
	return e.Classify(err)
}

func (e *Executor) sleep(ctx context.Context, d time.Duration) error {
	if e.Sleep != nil {
		return e.Sleep(ctx, d)
	}
	return Sleep(ctx, d)
}

func (e *Executor) logger() *log.Logger {
	lg := e.Log
	if lg == nil {
		lg = logutil.Logger()
	}
	if e.Name != "" {
		lg = lg.With("platform", e.Name)
	}
	return lg
}

// Sleep blocks for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
