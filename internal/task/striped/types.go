package striped

import (
	"context"
	"time"
)

// Work is the opaque unit executed by the scheduler.
//
// ctx is cancelled when the task is superseded, cancelled or the scheduler shuts
// down. Implementations must return promptly once ctx is done. The logger for the
// run is available through logx.FromContext(ctx).
type Work func(ctx context.Context) error

type Config struct {
	// Name identifies the scheduler in logs and worker goroutine names.
	Name string

	// MaxWorkers bounds concurrent executions.
	MaxWorkers int

	// PollTimeout is how long an idle worker waits for a stripe before retiring.
	PollTimeout time.Duration

	// HistorySize caps the in-memory ring of recent runs kept for Snapshot.
	HistorySize int
}

const (
	defaultName        = "striped"
	defaultMaxWorkers  = 4
	defaultPollTimeout = 10 * time.Second
	defaultHistorySize = 200
)

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = defaultName
	}
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = defaultMaxWorkers
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = defaultPollTimeout
	}
	if c.HistorySize <= 0 {
		c.HistorySize = defaultHistorySize
	}
	return c
}

// Event types published on the bus.
const (
	EventSubmitted  = "task.submitted"
	EventSuperseded = "task.superseded"
	EventStarted    = "task.started"
	EventFinished   = "task.finished"
	EventFailed     = "task.failed"
	EventCancelled  = "task.cancelled"
)

// Outcome of a finished run.
const (
	OutcomeOK        = "ok"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// TaskEvent is the payload of every task.* event.
type TaskEvent struct {
	Scheduler  string        `json:"scheduler"`
	Key        string        `json:"key"`
	Group      string        `json:"group"`
	Started    time.Time     `json:"started"`
	QueueDelay time.Duration `json:"queue_delay,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
	Outcome    string        `json:"outcome,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// HistoryItem is one finished run in the Snapshot history.
type HistoryItem struct {
	Key        string        `json:"key"`
	Group      string        `json:"group"`
	Started    time.Time     `json:"started"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Outcome    string        `json:"outcome"`
	Error      string        `json:"error,omitempty"`
}

// Snapshot is a point-in-time view for diagnostics.
type Snapshot struct {
	Name          string `json:"name"`
	Stopped       bool   `json:"stopped"`
	MaxWorkers    int    `json:"max_workers"`
	ActiveWorkers int    `json:"active_workers"`
	InFlight      int    `json:"in_flight"`

	Groups   int `json:"groups"`    // live stripes (groupIndex)
	Pending  int `json:"pending"`   // queued, not yet dequeued tasks (taskIndex)
	QueueLen int `json:"queue_len"` // stripes waiting on the dispatch queue

	Submitted  uint64 `json:"submitted"`
	Superseded uint64 `json:"superseded"`
	Cancelled  uint64 `json:"cancelled"`
	Completed  uint64 `json:"completed"`
	Failed     uint64 `json:"failed"`

	History []HistoryItem `json:"history"`
}
