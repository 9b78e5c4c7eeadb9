package queue

import (
	"context"
	"sync"
	"time"
)

const (
	DefaultPublishLimit  = 10
	DefaultPublishWindow = time.Minute
)

// Window admits at most Limit completions per rolling Period and, when
// MinSpacing is set, keeps at least that gap after the previous completion.
// Completions are recorded by Done, so it is only exact for a lane of
// concurrency one, where nothing else finishes between Wait and Done.
type Window struct {
	Limit      int
	Period     time.Duration
	MinSpacing time.Duration

	mu     sync.Mutex
	stamps []time.Time

	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

// NewWindow returns a window with real time.
func NewWindow(limit int, period, minSpacing time.Duration) *Window {
	if limit <= 0 {
		limit = DefaultPublishLimit
	}
	if period <= 0 {
		period = DefaultPublishWindow
	}
	return &Window{
		Limit:      limit,
		Period:     period,
		MinSpacing: minSpacing,
		now:        time.Now,
		after:      time.After,
	}
}

// Wait blocks until another completion fits in the window.
func (w *Window) Wait(ctx context.Context) error {
	for {
		d := w.Delay()
		if d <= 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.after(d):
		}
	}
}

// Done records a completion.
func (w *Window) Done() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stamps = append(w.stamps, w.now())
}

// Delay reports how long until the window admits another task.
func (w *Window) Delay() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	w.prune(now)

	var d time.Duration
	if w.countSince(now.Add(-w.Period)) >= w.Limit {
		oldest := w.stamps[len(w.stamps)-w.Limit]
		d = oldest.Add(w.Period).Sub(now)
	}
	if w.MinSpacing > 0 && len(w.stamps) > 0 {
		if s := w.stamps[len(w.stamps)-1].Add(w.MinSpacing).Sub(now); s > d {
			d = s
		}
	}
	return d
}

// Recent is the number of completions inside the current window.
func (w *Window) Recent() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.now()
	w.prune(now)
	return w.countSince(now.Add(-w.Period))
}

func (w *Window) countSince(from time.Time) int {
	n := 0
	for i := len(w.stamps) - 1; i >= 0 && w.stamps[i].After(from); i-- {
		n++
	}
	return n
}

func (w *Window) prune(now time.Time) {
	keepFrom := now.Add(-w.Period)
	if w.MinSpacing > w.Period {
		keepFrom = now.Add(-w.MinSpacing)
	}
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(keepFrom) {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}
