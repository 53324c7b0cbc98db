// Package eventbus is an in-process fan-out for task lifecycle events.
//
// Contract:
//   - Publish never blocks; a subscriber whose buffer is full misses the event
//     and the miss is counted in Dropped.
//   - A subscription with a match func only buffers the events it accepts.
//   - Subscribers drain their channel until unsubscribe closes it.
package eventbus

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Event is a small, JSON-friendly signal. Type uses dotted names ("task.finished").
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
	// SubscribeMatch filters on the publishing side: events match rejects
	// never take buffer space. A nil match accepts everything.
	SubscribeMatch(buffer int, match func(Event) bool) (ch <-chan Event, unsubscribe func())
	// Dropped counts deliveries lost to full subscriber buffers.
	Dropped() uint64
}

// Types matches events whose Type is one of types.
func Types(types ...string) func(Event) bool {
	set := make(map[string]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return func(e Event) bool {
		_, ok := set[e.Type]
		return ok
	}
}

func New() Bus {
	return &memBus{subs: map[uint64]subscriber{}}
}

type subscriber struct {
	ch    chan Event
	match func(Event) bool
}

type memBus struct {
	mu      sync.RWMutex
	subs    map[uint64]subscriber
	seq     atomic.Uint64
	dropped atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Sends happen under the read lock so unsubscribe (write lock) cannot close a
	// channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.match != nil && !sub.match(e) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *memBus) Dropped() uint64 { return b.dropped.Load() }

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	return b.SubscribeMatch(buffer, nil)
}

func (b *memBus) SubscribeMatch(buffer int, match func(Event) bool) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = subscriber{ch: ch, match: match}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}

// Consume calls fn for every event whose Type starts with prefix until ctx is
// done or ch is closed. An empty prefix matches everything.
func Consume(ctx context.Context, ch <-chan Event, prefix string, fn func(Event)) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if prefix == "" || strings.HasPrefix(e.Type, prefix) {
				fn(e)
			}
		}
	}
}
