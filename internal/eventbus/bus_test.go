package eventbus

import (
	"context"
	"testing"
	"time"
)

func TestPublishFanout(t *testing.T) {
	t.Parallel()
	b := New()
	ch1, unsub1 := b.Subscribe(4)
	ch2, unsub2 := b.Subscribe(4)
	defer unsub1()
	defer unsub2()

	b.Publish(Event{Type: "task.started"})

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case e := <-ch:
			if e.Type != "task.started" || e.Time.IsZero() {
				t.Fatalf("subscriber %d got %+v", i, e)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d got nothing", i)
		}
	}
}

func TestPublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	t.Parallel()
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish(Event{Type: "task.finished"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
}

func TestUnsubscribeClosesAndIsIdempotent(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel")
	}
	b.Publish(Event{Type: "task.failed"})
}

func TestConsumeFiltersByPrefix(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(8)

	b.Publish(Event{Type: "task.finished"})
	b.Publish(Event{Type: "config.reloaded"})
	b.Publish(Event{Type: "task.failed"})
	unsub()

	var got []string
	Consume(context.Background(), ch, "task.", func(e Event) { got = append(got, e.Type) })
	if len(got) != 2 || got[0] != "task.finished" || got[1] != "task.failed" {
		t.Fatalf("got %v", got)
	}
}

func TestFullSubscriberCountsDrops(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(4)
	defer unsub()

	for i := 0; i < 10; i++ {
		b.Publish(Event{Type: "task.finished"})
	}
	if got := b.Dropped(); got != 6 {
		t.Fatalf("Dropped = %d, want 6", got)
	}
	if len(ch) != 4 {
		t.Fatalf("buffered = %d, want 4", len(ch))
	}
}

func TestSubscribeMatchFiltersBeforeBuffering(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.SubscribeMatch(2, Types("task.finished", "task.failed"))
	defer unsub()

	// Non-matching traffic must not crowd out the events the subscriber wants.
	for i := 0; i < 100; i++ {
		b.Publish(Event{Type: "task.submitted"})
		b.Publish(Event{Type: "task.started"})
	}
	b.Publish(Event{Type: "task.finished"})
	b.Publish(Event{Type: "task.failed"})

	if got := b.Dropped(); got != 0 {
		t.Fatalf("Dropped = %d, want 0", got)
	}
	for _, want := range []string{"task.finished", "task.failed"} {
		select {
		case e := <-ch:
			if e.Type != want {
				t.Fatalf("got %q, want %q", e.Type, want)
			}
		default:
			t.Fatalf("missing %q", want)
		}
	}
}
