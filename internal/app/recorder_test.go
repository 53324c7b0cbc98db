package app

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"stripesd/internal/eventbus"
	"stripesd/internal/storage"
	"stripesd/internal/task/striped"
	logx "stripesd/pkg/logx"
)

// blockingStore holds every append until released.
type blockingStore struct {
	release chan struct{}
	mu      sync.Mutex
	runs    []storage.Run
}

func (s *blockingStore) AppendRun(ctx context.Context, r storage.Run) error {
	select {
	case <-s.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.mu.Lock()
	s.runs = append(s.runs, r)
	s.mu.Unlock()
	return nil
}

func (s *blockingStore) RecentRuns(context.Context, storage.RunFilter) ([]storage.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]storage.Run(nil), s.runs...), nil
}

func (s *blockingStore) Close() error { return nil }

func TestRecorderKeepsTerminalRunsUnderBurst(t *testing.T) {
	bus := eventbus.New()
	store := &blockingStore{release: make(chan struct{})}
	rec := newRecorder(store, logx.Nop(), bus.Dropped)
	events, unsub := rec.subscribe(bus)

	// Submit and start traffic for a burst well beyond the buffer, while the
	// store is stalled and nothing drains the subscription.
	const burst = 500
	for i := 0; i < burst; i++ {
		te := striped.TaskEvent{Key: fmt.Sprintf("k%d", i), Group: "g"}
		bus.Publish(eventbus.Event{Type: striped.EventSubmitted, Data: te})
		bus.Publish(eventbus.Event{Type: striped.EventStarted, Data: te})
		te.Outcome = striped.OutcomeOK
		bus.Publish(eventbus.Event{Type: striped.EventFinished, Data: te})
	}
	if got := bus.Dropped(); got != 0 {
		t.Fatalf("Dropped = %d, want 0", got)
	}
	if len(events) != burst {
		t.Fatalf("buffered = %d, want %d terminal events", len(events), burst)
	}

	close(store.release)
	unsub()
	rec.run(context.Background(), events)
	runs, _ := store.RecentRuns(context.Background(), storage.RunFilter{})
	if len(runs) != burst {
		t.Fatalf("journaled %d runs, want %d", len(runs), burst)
	}
}

func TestRecorderNoticesDrops(t *testing.T) {
	bus := eventbus.New()
	rec := newRecorder(&blockingStore{release: make(chan struct{})}, logx.Nop(), bus.Dropped)
	_, unsub := bus.SubscribeMatch(1, nil)
	defer unsub()

	for i := 0; i < 4; i++ {
		bus.Publish(eventbus.Event{Type: striped.EventSubmitted})
	}
	rec.handle(eventbus.Event{Type: striped.EventSubmitted})
	if rec.seen != 3 {
		t.Fatalf("seen = %d, want 3 dropped deliveries", rec.seen)
	}
	rec.handle(eventbus.Event{Type: striped.EventStarted})
	if rec.seen != 3 {
		t.Fatalf("seen = %d after no new drops, want 3", rec.seen)
	}
}
