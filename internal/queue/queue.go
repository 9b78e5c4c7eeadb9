// Package queue schedules work per destination: a general lane capped by a
// process-wide ceiling and a serialized, rate-windowed publish lane.
package queue

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/blacktop/xpostd/internal/logutil"
	"github.com/blacktop/xpostd/internal/xpost"
)

const DefaultGeneralConcurrency = 100

// Kind selects a lane.
type Kind int

const (
	General Kind = iota
	Publish
)

func (k Kind) String() string {
	if k == Publish {
		return "publish"
	}
	return "general"
}

// Stats is a snapshot of one destination's lanes.
type Stats struct {
	GeneralQueueDepth int `json:"generalQueueDepth"`
	GeneralInFlight   int `json:"generalInFlight"`
	PublishQueueDepth int `json:"publishQueueDepth"`
	PublishInFlight   int `json:"publishInFlight"`
	PublishedInWindow int `json:"publishedInWindow"`
}

// PoolStats is a snapshot of the process-wide general lane.
type PoolStats struct {
	Queued   int `json:"queued"`
	InFlight int `json:"inFlight"`
	Limit    int `json:"limit"`
}

// Pool is the general lane shared by every destination.
type Pool struct {
	lane *Lane
}

// NewPool starts a general lane with the given ceiling.
func NewPool(concurrency int) *Pool {
	if concurrency <= 0 {
		concurrency = DefaultGeneralConcurrency
	}
	return &Pool{lane: NewLane(concurrency, nil)}
}

// Stats returns the process-wide general lane snapshot.
func (p *Pool) Stats() PoolStats {
	q, f := p.lane.Stats()
	return PoolStats{Queued: q, InFlight: f, Limit: p.lane.Limit()}
}

// Close aborts queued general work.
func (p *Pool) Close() { p.lane.Close() }

// PublishConfig sets the publish lane's rate window.
type PublishConfig struct {
	Limit      int
	Window     time.Duration
	MinSpacing time.Duration
}

// DestinationQueue is one destination's view of the general pool plus its
// own publish lane.
type DestinationQueue struct {
	id      string
	pool    *Pool
	publish *Lane
	window  *Window

	generalQueued   atomic.Int64
	generalInFlight atomic.Int64
}

// New creates the queue for destination id on pool.
func New(id string, pool *Pool, cfg PublishConfig) *DestinationQueue {
	w := NewWindow(cfg.Limit, cfg.Window, cfg.MinSpacing)
	return &DestinationQueue{
		id:      id,
		pool:    pool,
		publish: NewLane(1, w),
		window:  w,
	}
}

// ID is the destination this queue serves.
func (q *DestinationQueue) ID() string { return q.id }

// Stats returns a snapshot of this destination's lanes.
func (q *DestinationQueue) Stats() Stats {
	pq, pf := q.publish.Stats()
	return Stats{
		GeneralQueueDepth: int(q.generalQueued.Load()),
		GeneralInFlight:   int(q.generalInFlight.Load()),
		PublishQueueDepth: pq,
		PublishInFlight:   pf,
		PublishedInWindow: q.window.Recent(),
	}
}

// Close aborts this destination's queued publish work. The shared pool is
// left running.
func (q *DestinationQueue) Close() { q.publish.Close() }

// Add queues task on the chosen lane and waits for it. It returns exactly what
// task returns, or ErrClosed if the lane shut down before task started.
func Add[T any](ctx context.Context, q *DestinationQueue, pri xpost.Priority, kind Kind, task func(ctx context.Context) (T, error)) (T, error) {
	type outcome struct {
		v   T
		err error
	}
	done := make(chan outcome, 1)

	run := func() {
		var out outcome
		defer func() {
			if r := recover(); r != nil {
				logutil.Logger().Error("queued task panic", "destination", q.id, "lane", kind, "panic", r, "stack", string(debug.Stack()))
				out.err = fmt.Errorf("panic: %v", r)
			}
			done <- out
		}()
		out.v, out.err = task(ctx)
	}
	abort := func(err error) {
		var zero T
		done <- outcome{v: zero, err: err}
	}

	var err error
	switch kind {
	case Publish:
		err = q.publish.Submit(pri, run, abort)
	case General:
		q.generalQueued.Add(1)
		err = q.pool.lane.Submit(pri, func() {
			q.generalQueued.Add(-1)
			q.generalInFlight.Add(1)
			defer q.generalInFlight.Add(-1)
			run()
		}, func(err error) {
			q.generalQueued.Add(-1)
			abort(err)
		})
		if err != nil {
			q.generalQueued.Add(-1)
		}
	default:
		err = fmt.Errorf("unknown lane %d", int(kind))
	}
	if err != nil {
		var zero T
		return zero, err
	}

	out := <-done
	return out.v, out.err
}
