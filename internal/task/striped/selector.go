package striped

import (
	"context"
	"errors"
	"runtime/debug"
	"time"

	logx "stripesd/pkg/logx"
)

// selector is the worker loop. It returns when the worker retires; a panic
// outside of work unwinds through it and the worker is replaced.
func (s *Scheduler) selector(id uint64) {
	clean := false
	defer func() {
		if !clean {
			s.replaceWorker(id)
		}
	}()

	log := s.log.With(logx.Uint64("worker", id))
	log.Trace("worker started")
	for {
		t, ctx, ok := s.next()
		if !ok {
			clean = true
			log.Trace("worker retired")
			return
		}
		s.execute(ctx, t)
	}
}

// next blocks until a task is taken or the worker should exit.
func (s *Scheduler) next() (*task, context.Context, bool) {
	idleSince := time.Now()
	waited := false
	for {
		t, ctx, exit, wait := s.poll(idleSince, waited)
		if t != nil {
			return t, ctx, true
		}
		if exit {
			return nil, nil, false
		}
		waited = true
		timer := time.NewTimer(wait)
		select {
		case <-s.wake:
		case <-timer.C:
		case <-s.ctx.Done():
		}
		timer.Stop()
	}
}

// poll is one critical section of the worker loop. Taking a stripe off the
// queue and dequeuing its oldest task happen together, and the stripe goes
// back on the tail before the task runs. A stripe whose previous task is still
// running is passed over, so a group never runs two tasks at once.
func (s *Scheduler) poll(idleSince time.Time, waited bool) (t *task, ctx context.Context, exit bool, wait time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if waited {
		s.idle--
	}

	if s.stopped || s.active > s.cfg.MaxWorkers {
		s.active--
		s.notifyLocked()
		return nil, nil, true, 0
	}

	// Each stripe is looked at once; busy ones rotate to the tail.
	for n := s.queue.len(); n > 0; n-- {
		st := s.queue.popFront()
		if st == poison {
			s.active--
			if s.queue.len() > 0 {
				s.notifyLocked()
			}
			return nil, nil, true, 0
		}
		if st.busy {
			s.queue.pushBack(st)
			continue
		}
		t = st.dequeueOldest()
		if t == nil {
			if s.groupIndex[st.group] == st {
				delete(s.groupIndex, st.group)
			}
			continue
		}
		if s.taskIndex[t.key] == st {
			delete(s.taskIndex, t.key)
		}
		st.busy = true
		t.stripe = st
		s.queue.pushBack(st)

		runCtx, cancel := context.WithCancel(s.ctx)
		t.cancel = cancel
		s.running[t.key] = append(s.running[t.key], t)
		s.inFlight++

		if s.queue.runnable(st) {
			s.signalLocked()
		}
		return t, runCtx, false, 0
	}

	idle := time.Since(idleSince)
	if idle >= s.cfg.PollTimeout {
		s.active--
		return nil, nil, true, 0
	}
	s.idle++
	return nil, nil, false, s.cfg.PollTimeout - idle
}

func (s *Scheduler) execute(ctx context.Context, t *task) {
	// Releases the run if anything below unwinds before the explicit finish.
	defer s.finish(t)

	started := time.Now()
	delay := started.Sub(t.enqueuedAt)
	log := s.log.With(logx.String("group", t.group), logx.String("task", t.key))
	ctx = logx.NewContext(ctx, log)

	ev := TaskEvent{Scheduler: s.cfg.Name, Key: t.key, Group: t.group, Started: started, QueueDelay: delay}
	s.publish(EventStarted, ev)
	log.Debug("task started", logx.Duration("queue_delay", delay))

	err := invoke(ctx, t.work)
	ev.Duration = time.Since(started)

	var pe *PanicError
	switch {
	case err == nil:
		ev.Outcome = OutcomeOK
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		ev.Outcome = OutcomeCancelled
	default:
		ev.Outcome = OutcomeFailed
	}
	if err != nil {
		ev.Error = err.Error()
	}
	s.finish(t)

	s.record(HistoryItem{
		Key:        t.key,
		Group:      t.group,
		Started:    started,
		QueueDelay: delay,
		Duration:   ev.Duration,
		Outcome:    ev.Outcome,
		Error:      ev.Error,
	})

	switch ev.Outcome {
	case OutcomeOK:
		s.completed.Add(1)
		log.Debug("task finished", logx.Duration("took", ev.Duration))
		s.publish(EventFinished, ev)
	case OutcomeCancelled:
		s.cancelled.Add(1)
		log.Debug("task cancelled", logx.Duration("took", ev.Duration))
		s.publish(EventCancelled, ev)
	default:
		s.failed.Add(1)
		if errors.As(err, &pe) {
			log.Error("task panicked", logx.Any("panic", pe.Value), logx.Stack(pe.Stack))
		} else {
			log.Warn("task failed", logx.Duration("took", ev.Duration), logx.Err(err))
		}
		s.publish(EventFailed, ev)
	}
}

// invoke runs work and turns a panic into a *PanicError.
func invoke(ctx context.Context, work Work) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: string(debug.Stack())}
		}
	}()
	return work(ctx)
}

// finish releases the run's context, drops it from the running set and frees
// its stripe for the next task of the group. Only the first call has effect.
func (s *Scheduler) finish(t *task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.released {
		return
	}
	t.released = true
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	runs := s.running[t.key]
	for i, r := range runs {
		if r == t {
			runs = append(runs[:i], runs[i+1:]...)
			break
		}
	}
	if len(runs) == 0 {
		delete(s.running, t.key)
	} else {
		s.running[t.key] = runs
	}
	s.inFlight--

	if st := t.stripe; st != nil {
		st.busy = false
		// The calling worker polls again next; an idle one may take the
		// group sooner.
		if !st.isEmpty() && s.idle > 0 {
			s.notifyLocked()
		}
	}
}

// replaceWorker accounts for a worker that exited abnormally and starts one
// replacement unless the scheduler is stopped.
func (s *Scheduler) replaceWorker(id uint64) {
	s.mu.Lock()
	s.active--
	replaced := s.spawnLocked()
	s.mu.Unlock()
	s.log.Warn("worker exited abnormally", logx.Uint64("worker", id), logx.Bool("replaced", replaced))
}
