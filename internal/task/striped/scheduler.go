package striped

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"stripesd/internal/eventbus"
	"stripesd/internal/runtime/supervisor"
	logx "stripesd/pkg/logx"
)

type Scheduler struct {
	log logx.Logger
	bus eventbus.Bus
	sup *supervisor.Supervisor

	// ctx is the parent of every task context. Shutdown cancels it.
	ctx    context.Context
	cancel context.CancelFunc

	// wake has one token per pending notification; waiters re-check the queue.
	wake chan struct{}

	mu         sync.Mutex
	cfg        Config
	groupIndex map[string]*stripe
	taskIndex  map[string]*stripe
	running    map[string][]*task
	queue      dispatchQueue
	active     int
	idle       int
	inFlight   int
	stopped    bool
	workerSeq  uint64

	submitted  atomic.Uint64
	superseded atomic.Uint64
	cancelled  atomic.Uint64
	completed  atomic.Uint64
	failed     atomic.Uint64

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Scheduler {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("scheduler", cfg.Name))
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		log:        log,
		bus:        bus,
		sup:        supervisor.New(context.Background(), supervisor.WithLogger(log)),
		ctx:        ctx,
		cancel:     cancel,
		wake:       make(chan struct{}, cfg.MaxWorkers),
		cfg:        cfg,
		groupIndex: map[string]*stripe{},
		taskIndex:  map[string]*stripe{},
		running:    map[string][]*task{},
	}
}

func (s *Scheduler) Name() string { return s.cfg.Name }

// Submit queues work under taskKey for groupKey. It never blocks.
//
// A pending task with the same key is replaced and will not run. Otherwise the
// task joins the group's stripe, or a new stripe is created and put on the
// dispatch queue. The only error after shutdown is ErrStopped.
func (s *Scheduler) Submit(taskKey, groupKey string, work Work) (bool, error) {
	if taskKey == "" || groupKey == "" || work == nil {
		return false, fmt.Errorf("%w: task key, group key and work are required", ErrInvalidTask)
	}
	t := &task{key: taskKey, group: groupKey, work: work, enqueuedAt: time.Now()}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return false, ErrStopped
	}
	var replaced *task
	created := false
	if st, ok := s.taskIndex[taskKey]; ok {
		// A pending key stays in the stripe it was first queued on.
		t.group = st.group
		replaced = st.enqueueOrReplace(t)
	} else if st, ok := s.groupIndex[groupKey]; ok {
		// Already on the dispatch queue: a stripe leaves groupIndex in the same
		// critical section that takes it off the queue for good.
		replaced = st.enqueueOrReplace(t)
		s.taskIndex[taskKey] = st
		// A busy stripe is picked up again when its running task finishes.
		if !st.busy {
			s.signalLocked()
		}
	} else {
		st := newStripe(groupKey)
		st.enqueueOrReplace(t)
		s.groupIndex[groupKey] = st
		s.taskIndex[taskKey] = st
		s.queue.pushBack(st)
		s.signalLocked()
		created = true
	}
	s.mu.Unlock()

	s.submitted.Add(1)
	ev := TaskEvent{Scheduler: s.cfg.Name, Key: taskKey, Group: groupKey}
	if replaced != nil {
		s.superseded.Add(1)
		s.log.Debug("task.superseded", logx.String("task", taskKey), logx.String("group", replaced.group))
		s.publish(EventSuperseded, ev)
	}
	s.log.Trace("task.submitted", logx.String("task", taskKey), logx.String("group", groupKey), logx.Bool("new_stripe", created))
	s.publish(EventSubmitted, ev)
	return true, nil
}

// IsPending reports whether taskKey is queued and not yet taken by a worker.
// A task that is currently running is not pending.
func (s *Scheduler) IsPending(taskKey string) bool {
	s.mu.Lock()
	_, ok := s.taskIndex[taskKey]
	s.mu.Unlock()
	return ok
}

// IsRunning reports whether a worker is currently executing taskKey.
func (s *Scheduler) IsRunning(taskKey string) bool {
	s.mu.Lock()
	n := len(s.running[taskKey])
	s.mu.Unlock()
	return n > 0
}

// Cancel drops the pending task with taskKey and cancels the context of any
// running execution of it. Reports whether anything was found.
func (s *Scheduler) Cancel(taskKey string) bool {
	s.mu.Lock()
	found := false
	if st, ok := s.taskIndex[taskKey]; ok {
		if st.cancelByKey(taskKey) {
			found = true
			s.cancelled.Add(1)
		}
		delete(s.taskIndex, taskKey)
	}
	for _, t := range s.running[taskKey] {
		if t.interrupt() {
			found = true
		}
	}
	s.mu.Unlock()

	if found {
		s.log.Debug("task cancel requested", logx.String("task", taskKey))
	}
	return found
}

// SetMaxWorkers changes the worker limit. Growing starts workers for queued
// stripes right away; shrinking retires workers as they next poll.
func (s *Scheduler) SetMaxWorkers(n int) {
	if n <= 0 {
		n = defaultMaxWorkers
	}
	s.mu.Lock()
	prev := s.cfg.MaxWorkers
	s.cfg.MaxWorkers = n
	if !s.stopped {
		for s.active < n && s.active < s.queue.len() {
			s.spawnLocked()
		}
		if n < prev {
			for i := 0; i < prev-n; i++ {
				s.notifyLocked()
			}
		}
	}
	s.mu.Unlock()
	if prev != n {
		s.log.Info("worker limit changed", logx.Int("from", prev), logx.Int("to", n))
	}
}

// SetPollTimeout changes how long idle workers wait before retiring.
func (s *Scheduler) SetPollTimeout(d time.Duration) {
	if d <= 0 {
		d = defaultPollTimeout
	}
	s.mu.Lock()
	s.cfg.PollTimeout = d
	s.mu.Unlock()
}

// Shutdown stops accepting work, cancels every running task and waits for the
// workers until ctx is done. Pending tasks are dropped. Calling it again is a no-op.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	slots := s.cfg.MaxWorkers
	if s.active > slots {
		slots = s.active
	}
	for i := 0; i < slots; i++ {
		s.queue.pushFront(poison)
		s.notifyLocked()
	}
	pending := len(s.taskIndex)
	inFlight := s.inFlight
	s.mu.Unlock()

	s.log.Info("shutdown requested", logx.Int("pending", pending), logx.Int("in_flight", inFlight))
	s.cancel()

	err := s.sup.Wait(ctx)
	s.sup.Cancel()

	s.mu.Lock()
	s.groupIndex = map[string]*stripe{}
	s.taskIndex = map[string]*stripe{}
	s.queue.reset()
	s.mu.Unlock()

	if err != nil {
		s.log.Warn("shutdown timed out waiting for workers", logx.Err(err), logx.Int64("workers", s.sup.Active()))
		return err
	}
	s.log.Info("shutdown complete", logx.Duration("took", time.Since(start)), logx.Int("dropped_pending", pending))
	return nil
}

func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		Name:          s.cfg.Name,
		Stopped:       s.stopped,
		MaxWorkers:    s.cfg.MaxWorkers,
		ActiveWorkers: s.active,
		InFlight:      s.inFlight,
		Groups:        len(s.groupIndex),
		Pending:       len(s.taskIndex),
		QueueLen:      s.queue.len(),
	}
	s.mu.Unlock()

	snap.Submitted = s.submitted.Load()
	snap.Superseded = s.superseded.Load()
	snap.Cancelled = s.cancelled.Load()
	snap.Completed = s.completed.Load()
	snap.Failed = s.failed.Load()

	s.hmu.Lock()
	snap.History = make([]HistoryItem, len(s.history))
	copy(snap.History, s.history)
	s.hmu.Unlock()
	return snap
}

// Supervisor exposes worker goroutine stats.
func (s *Scheduler) Supervisor() *supervisor.Supervisor { return s.sup }

// spawnLocked starts one worker if below the limit. Call with s.mu held.
func (s *Scheduler) spawnLocked() bool {
	if s.stopped || s.active >= s.cfg.MaxWorkers {
		return false
	}
	s.active++
	s.workerSeq++
	id := s.workerSeq
	s.sup.Go(fmt.Sprintf("%s.selector.%d", s.cfg.Name, id), func(ctx context.Context) error {
		s.selector(id)
		return nil
	})
	return true
}

// signalLocked hands new work to an idle worker, or starts one.
func (s *Scheduler) signalLocked() {
	if s.idle > 0 {
		s.notifyLocked()
		return
	}
	if !s.spawnLocked() {
		s.notifyLocked()
	}
}

// notifyLocked wakes at most one waiting worker.
func (s *Scheduler) notifyLocked() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) publish(typ string, ev TaskEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: ev})
}

func (s *Scheduler) record(item HistoryItem) {
	s.hmu.Lock()
	s.history = append(s.history, item)
	if n := s.cfg.HistorySize; len(s.history) > n {
		s.history = s.history[len(s.history)-n:]
	}
	s.hmu.Unlock()
}
