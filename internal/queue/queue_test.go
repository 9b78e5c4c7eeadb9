package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/blacktop/xpostd/internal/xpost"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func newTestQueue(pool *Pool) *DestinationQueue {
	return New("dest", pool, PublishConfig{Limit: 1000, Window: time.Minute})
}

func TestAddReturnsTaskResult(t *testing.T) {
	pool := NewPool(4)
	defer pool.Close()
	q := newTestQueue(pool)
	defer q.Close()

	v, err := Add(context.Background(), q, xpost.PriorityNormal, Publish, func(context.Context) (string, error) {
		return "post-1", nil
	})
	if err != nil || v != "post-1" {
		t.Fatalf("expected post-1, got %q, %v", v, err)
	}

	boom := errors.New("boom")
	_, err = Add(context.Background(), q, xpost.PriorityNormal, General, func(context.Context) (int, error) {
		return 0, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected task error, got %v", err)
	}
}

func TestAddRecoversPanic(t *testing.T) {
	pool := NewPool(1)
	defer pool.Close()
	q := newTestQueue(pool)
	defer q.Close()

	_, err := Add(context.Background(), q, xpost.PriorityNormal, Publish, func(context.Context) (int, error) {
		panic("kaboom")
	})
	if err == nil {
		t.Fatal("expected error from panicking task")
	}
	// The lane must still be usable.
	if _, err := Add(context.Background(), q, xpost.PriorityNormal, Publish, func(context.Context) (int, error) { return 1, nil }); err != nil {
		t.Fatalf("lane unusable after panic: %v", err)
	}
}

func TestPublishLanePriorityOrder(t *testing.T) {
	pool := NewPool(4)
	defer pool.Close()
	q := newTestQueue(pool)
	defer q.Close()

	release := make(chan struct{})
	go Add(context.Background(), q, xpost.PriorityNormal, Publish, func(context.Context) (int, error) {
		<-release
		return 0, nil
	})
	waitFor(t, func() bool { return q.Stats().PublishInFlight == 1 })

	prios := []xpost.Priority{xpost.PriorityLow, xpost.PriorityHigh, xpost.PriorityNormal, xpost.PriorityHigh, xpost.PriorityLow}
	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	for i, p := range prios {
		wg.Add(1)
		go func() {
			defer wg.Done()
			Add(context.Background(), q, p, Publish, func(context.Context) (int, error) {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return i, nil
			})
		}()
		waitFor(t, func() bool { return q.Stats().PublishQueueDepth == i+1 })
	}

	close(release)
	wg.Wait()

	want := []int{1, 3, 2, 0, 4}
	if len(order) != len(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, order)
		}
	}
}

func TestPublishLaneIsSerialized(t *testing.T) {
	pool := NewPool(8)
	defer pool.Close()
	q := newTestQueue(pool)
	defer q.Close()

	var cur, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			Add(context.Background(), q, xpost.PriorityNormal, Publish, func(context.Context) (int, error) {
				n := cur.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				cur.Add(-1)
				return 0, nil
			})
		}()
	}
	wg.Wait()
	if peak.Load() != 1 {
		t.Errorf("expected at most 1 publish in flight, saw %d", peak.Load())
	}
}

func TestGeneralPoolCeilingAcrossDestinations(t *testing.T) {
	pool := NewPool(2)
	defer pool.Close()
	a := New("a", pool, PublishConfig{})
	b := New("b", pool, PublishConfig{})
	defer a.Close()
	defer b.Close()

	var cur, peak atomic.Int32
	task := func(context.Context) (int, error) {
		n := cur.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		cur.Add(-1)
		return 0, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		q := a
		if i%2 == 1 {
			q = b
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			Add(context.Background(), q, xpost.PriorityNormal, General, task)
		}()
	}
	wg.Wait()
	if peak.Load() > 2 {
		t.Errorf("expected at most 2 general tasks in flight, saw %d", peak.Load())
	}
	if s := pool.Stats(); s.InFlight != 0 || s.Queued != 0 || s.Limit != 2 {
		t.Errorf("unexpected pool stats after drain: %+v", s)
	}
}

func TestGeneralStatsPerDestination(t *testing.T) {
	pool := NewPool(1)
	defer pool.Close()
	q := newTestQueue(pool)
	defer q.Close()

	release := make(chan struct{})
	for i := 0; i < 2; i++ {
		go Add(context.Background(), q, xpost.PriorityNormal, General, func(context.Context) (int, error) {
			<-release
			return 0, nil
		})
	}
	waitFor(t, func() bool {
		s := q.Stats()
		return s.GeneralInFlight == 1 && s.GeneralQueueDepth == 1
	})
	close(release)
	waitFor(t, func() bool {
		s := q.Stats()
		return s.GeneralInFlight == 0 && s.GeneralQueueDepth == 0
	})
}

func TestCloseAbortsQueued(t *testing.T) {
	pool := NewPool(1)
	defer pool.Close()
	q := newTestQueue(pool)

	release := make(chan struct{})
	go Add(context.Background(), q, xpost.PriorityNormal, Publish, func(context.Context) (int, error) {
		<-release
		return 0, nil
	})
	waitFor(t, func() bool { return q.Stats().PublishInFlight == 1 })

	errc := make(chan error, 1)
	go func() {
		_, err := Add(context.Background(), q, xpost.PriorityNormal, Publish, func(context.Context) (int, error) { return 1, nil })
		errc <- err
	}()
	waitFor(t, func() bool { return q.Stats().PublishQueueDepth == 1 })

	q.Close()
	if err := <-errc; !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	close(release)

	if _, err := Add(context.Background(), q, xpost.PriorityNormal, Publish, func(context.Context) (int, error) { return 1, nil }); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after close, got %v", err)
	}
}

func TestWindowDelay(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	w := NewWindow(2, time.Minute, 0)
	w.now = func() time.Time { return clock }

	if d := w.Delay(); d != 0 {
		t.Fatalf("empty window should admit, got %s", d)
	}
	w.Done()
	clock = clock.Add(10 * time.Second)
	w.Done()

	clock = clock.Add(5 * time.Second)
	if d := w.Delay(); d != 45*time.Second {
		t.Errorf("expected 45s until the first completion expires, got %s", d)
	}

	clock = clock.Add(45 * time.Second)
	if d := w.Delay(); d > 0 {
		t.Errorf("expected capacity after expiry, got %s", d)
	}
	if n := w.Recent(); n != 1 {
		t.Errorf("expected 1 completion in window, got %d", n)
	}
}

func TestWindowNoCarryover(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	w := NewWindow(3, time.Minute, 0)
	w.now = func() time.Time { return clock }

	// A long idle period does not bank extra capacity.
	clock = clock.Add(10 * time.Minute)
	for i := 0; i < 3; i++ {
		if d := w.Delay(); d > 0 {
			t.Fatalf("completion %d should be admitted, got delay %s", i, d)
		}
		w.Done()
	}
	if d := w.Delay(); d != time.Minute {
		t.Errorf("fourth completion should wait a full window, got %s", d)
	}
}

func TestWindowMinSpacing(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	w := NewWindow(10, time.Minute, 45*time.Second)
	w.now = func() time.Time { return clock }

	w.Done()
	clock = clock.Add(15 * time.Second)
	if d := w.Delay(); d != 30*time.Second {
		t.Errorf("expected 30s of spacing left, got %s", d)
	}
}

func TestPublishLaneRespectsWindow(t *testing.T) {
	pool := NewPool(4)
	defer pool.Close()
	q := New("dest", pool, PublishConfig{Limit: 2, Window: 150 * time.Millisecond})
	defer q.Close()

	var (
		mu    sync.Mutex
		stamp []time.Time
		wg    sync.WaitGroup
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			Add(context.Background(), q, xpost.PriorityNormal, Publish, func(context.Context) (int, error) {
				mu.Lock()
				stamp = append(stamp, time.Now())
				mu.Unlock()
				return 0, nil
			})
		}()
	}
	wg.Wait()

	if len(stamp) != 4 {
		t.Fatalf("expected 4 runs, got %d", len(stamp))
	}
	for i := 2; i < len(stamp); i++ {
		if gap := stamp[i].Sub(stamp[i-2]); gap < 150*time.Millisecond {
			t.Errorf("runs %d and %d only %s apart, window allows 2 per 150ms", i-2, i, gap)
		}
	}
}
