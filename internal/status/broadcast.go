package status

import (
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// Broadcaster fans events out to in-process subscribers such as the live
// event stream. Slow subscribers lose events. Non-terminal events beyond the
// configured rate are dropped; terminal events are always offered.
type Broadcaster struct {
	limiter *rate.Limiter

	mu     sync.RWMutex
	subs   map[uint64]chan Event
	seq    atomic.Uint64
	closed bool

	dropped atomic.Uint64
}

// NewBroadcaster returns a broadcaster admitting rps non-terminal events per
// second. rps <= 0 disables the limit.
func NewBroadcaster(rps int) *Broadcaster {
	b := &Broadcaster{subs: map[uint64]chan Event{}}
	if rps > 0 {
		b.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	}
	return b
}

// Emit offers ev to every subscriber without blocking.
func (b *Broadcaster) Emit(ev Event) {
	if b.limiter != nil && !ev.Status.Terminal() && !b.limiter.Allow() {
		b.dropped.Add(1)
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribe registers a buffered subscriber. The returned func unsubscribes
// and closes the channel.
func (b *Broadcaster) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(ch)
			}
		})
	}
}

// Close closes every subscriber channel. Later subscribers get a closed
// channel and Emit becomes a no-op.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

// Subscribers is the number of live subscribers.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped is the number of events not delivered to some subscriber.
func (b *Broadcaster) Dropped() uint64 { return b.dropped.Load() }
