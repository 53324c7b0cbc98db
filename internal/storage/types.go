package storage

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default

	// MaxRuns bounds retained records. 0 means defaultMaxRuns.
	MaxRuns int
}

const defaultMaxRuns = 10000

func (c Config) maxRuns() int {
	if c.MaxRuns <= 0 {
		return defaultMaxRuns
	}
	return c.MaxRuns
}

// Run is one finished execution.
type Run struct {
	ID         string        `json:"id"`
	Scheduler  string        `json:"scheduler"`
	Key        string        `json:"key"`
	Group      string        `json:"group"`
	Outcome    string        `json:"outcome"`
	Error      string        `json:"error,omitempty"`
	Started    time.Time     `json:"started"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
}

// RunFilter narrows RecentRuns. Empty fields match everything.
type RunFilter struct {
	Group string
	Key   string
	Limit int
}

func (f RunFilter) match(r Run) bool {
	return (f.Group == "" || f.Group == r.Group) && (f.Key == "" || f.Key == r.Key)
}

func (f RunFilter) limit() int {
	if f.Limit <= 0 {
		return 50
	}
	return f.Limit
}

// normalize fills the ID and timestamp of a record about to be written.
func normalize(r Run) Run {
	if strings.TrimSpace(r.ID) == "" {
		r.ID = uuid.NewString()
	}
	if r.Started.IsZero() {
		r.Started = time.Now()
	}
	return r
}
