package striped

import (
	"context"
	"time"
)

type task struct {
	key   string
	group string
	work  Work

	enqueuedAt time.Time

	// cancel is set only while work runs. Read and written under Scheduler.mu.
	cancel context.CancelFunc
	// stripe the task was taken from, and whether finish has released it.
	// Both guarded by Scheduler.mu.
	stripe   *stripe
	released bool
}

// interrupt asks a running task to stop. Reports whether it was running.
func (t *task) interrupt() bool {
	if t == nil || t.cancel == nil {
		return false
	}
	t.cancel()
	return true
}
