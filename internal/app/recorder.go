package app

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"stripesd/internal/eventbus"
	"stripesd/internal/storage"
	"stripesd/internal/task/striped"
	logx "stripesd/pkg/logx"
)

// recorderBuffer holds terminal events only; the subscription filters the rest.
const recorderBuffer = 1024

// recorder writes every finished execution to the run journal.
type recorder struct {
	store storage.Store
	log   logx.Logger

	// dropped reports the bus-wide count of lost deliveries.
	dropped func() uint64
	seen    uint64
	warn    rate.Sometimes
}

func newRecorder(store storage.Store, log logx.Logger, dropped func() uint64) *recorder {
	return &recorder{store: store, log: log, dropped: dropped, warn: rate.Sometimes{First: 1, Interval: time.Minute}}
}

var isTerminal = eventbus.Types(striped.EventFinished, striped.EventFailed, striped.EventCancelled)

// subscribe registers for terminal task events only, so submit and start
// traffic cannot crowd finished runs out of the buffer.
func (r *recorder) subscribe(bus eventbus.Bus) (<-chan eventbus.Event, func()) {
	return bus.SubscribeMatch(recorderBuffer, isTerminal)
}

// run records events until ctx is done, then drains what is already buffered.
func (r *recorder) run(ctx context.Context, events <-chan eventbus.Event) {
	eventbus.Consume(ctx, events, "task.", r.handle)
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return
			}
			r.handle(e)
		default:
			return
		}
	}
}

func (r *recorder) handle(e eventbus.Event) {
	defer r.checkDropped()
	if !isTerminal(e) {
		return
	}
	te, ok := e.Data.(striped.TaskEvent)
	if !ok {
		return
	}
	wctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := r.store.AppendRun(wctx, storage.Run{
		Scheduler:  te.Scheduler,
		Key:        te.Key,
		Group:      te.Group,
		Outcome:    te.Outcome,
		Error:      te.Error,
		Started:    te.Started,
		QueueDelay: te.QueueDelay,
		Duration:   te.Duration,
	})
	if err != nil {
		r.log.Warn("run journal append failed", logx.String("task", te.Key), logx.Err(err))
	}
}

// checkDropped warns, at most once a minute, when the bus has lost events
// since the last check. The journal may be missing runs from that window.
func (r *recorder) checkDropped() {
	if r.dropped == nil {
		return
	}
	n := r.dropped()
	if n <= r.seen {
		return
	}
	prev := r.seen
	r.seen = n
	r.warn.Do(func() {
		r.log.Warn("event bus dropped events, run journal may be incomplete",
			logx.Uint64("dropped", n-prev), logx.Uint64("dropped_total", n))
	})
}
