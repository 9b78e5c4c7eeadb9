package queue

import (
	"container/heap"
	"context"
	"errors"
	"sync"

	"github.com/blacktop/xpostd/internal/xpost"
)

// ErrClosed is returned for work submitted to, or still queued on, a closed lane.
var ErrClosed = errors.New("queue closed")

// Gate holds back dispatch until it admits the next task. Done is called
// after each admitted task finishes.
type Gate interface {
	Wait(ctx context.Context) error
	Done()
}

type item struct {
	pri   xpost.Priority
	seq   uint64
	run   func()
	abort func(error)
}

type itemHeap []*item

func (h itemHeap) Len() int { return len(h) }
func (h itemHeap) Less(i, j int) bool {
	if h[i].pri != h[j].pri {
		return h[i].pri > h[j].pri
	}
	return h[i].seq < h[j].seq
}
func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *itemHeap) Push(x any)   { *h = append(*h, x.(*item)) }
func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// Lane runs submitted work with at most limit tasks in flight, highest
// priority first and FIFO within a priority.
type Lane struct {
	limit int
	gate  Gate

	mu      sync.Mutex
	items   itemHeap
	seq     uint64
	running int
	closed  bool

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewLane starts a lane. gate may be nil.
func NewLane(limit int, gate Gate) *Lane {
	if limit <= 0 {
		limit = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &Lane{
		limit:  limit,
		gate:   gate,
		wake:   make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go l.loop()
	return l
}

// Submit queues run. abort is called instead of run if the lane closes first.
func (l *Lane) Submit(pri xpost.Priority, run func(), abort func(error)) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.seq++
	heap.Push(&l.items, &item{pri: pri, seq: l.seq, run: run, abort: abort})
	l.mu.Unlock()
	l.signal()
	return nil
}

// Stats returns the number of queued and running tasks.
func (l *Lane) Stats() (queued, inFlight int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items), l.running
}

// Limit is the lane's concurrency.
func (l *Lane) Limit() int { return l.limit }

// Close stops dispatch and aborts everything still queued. Running tasks are
// left to finish.
func (l *Lane) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	pending := make([]*item, 0, len(l.items))
	for l.items.Len() > 0 {
		pending = append(pending, heap.Pop(&l.items).(*item))
	}
	l.mu.Unlock()

	l.cancel()
	<-l.done
	for _, it := range pending {
		if it.abort != nil {
			it.abort(ErrClosed)
		}
	}
}

func (l *Lane) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Lane) ready() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.closed && l.items.Len() > 0 && l.running < l.limit
}

func (l *Lane) loop() {
	defer close(l.done)
	for {
		for !l.ready() {
			select {
			case <-l.ctx.Done():
				return
			case <-l.wake:
			}
		}

		if l.gate != nil {
			if err := l.gate.Wait(l.ctx); err != nil {
				return
			}
		}

		l.mu.Lock()
		if l.closed || l.items.Len() == 0 {
			l.mu.Unlock()
			continue
		}
		it := heap.Pop(&l.items).(*item)
		l.running++
		l.mu.Unlock()

		go l.exec(it)
	}
}

func (l *Lane) exec(it *item) {
	defer func() {
		if l.gate != nil {
			l.gate.Done()
		}
		l.mu.Lock()
		l.running--
		l.mu.Unlock()
		l.signal()
	}()
	it.run()
}
