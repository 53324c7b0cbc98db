package status

import (
	"context"
	"errors"
	"net/http"
	"net/http/pprof"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"

	"stripesd/internal/runtime/supervisor"
	"stripesd/internal/storage"
	"stripesd/internal/task/striped"
	"stripesd/internal/trigger"
	logx "stripesd/pkg/logx"
)

const maxRunsLimit = 500

// Scheduler is the part of the striped scheduler the API reads and controls.
type Scheduler interface {
	Snapshot() striped.Snapshot
	IsPending(taskKey string) bool
	IsRunning(taskKey string) bool
	Cancel(taskKey string) bool
}

type Triggers interface {
	Schedules() []trigger.ScheduleInfo
	RunNow(name string) error
}

type RunReader interface {
	RecentRuns(ctx context.Context, f storage.RunFilter) ([]storage.Run, error)
}

// Deps are the components behind the API. Only Scheduler is required.
type Deps struct {
	Scheduler Scheduler
	Triggers  Triggers
	Runs      RunReader
	// Workers reports the scheduler's worker goroutines.
	Workers func() supervisor.Snapshot
	// EventsDropped reports events lost to full bus subscribers.
	EventsDropped func() uint64
}

var ginOnce sync.Once

func initGin() {
	ginOnce.Do(func() { gin.SetMode(gin.ReleaseMode) })
}

type statusResponse struct {
	Scheduler striped.Snapshot     `json:"scheduler"`
	Workers   *supervisor.Snapshot `json:"workers,omitempty"`
	Triggers  int                  `json:"triggers"`
	Journal   bool                 `json:"journal"`

	// EventsDropped is non-zero when the journal may be missing runs.
	EventsDropped uint64 `json:"events_dropped"`
}

type taskResponse struct {
	Key     string `json:"key"`
	Pending bool   `json:"pending"`
	Running bool   `json:"running"`
}

func (s *Service) router(cfg Config) *gin.Engine {
	r := gin.New()
	r.Use(recovery(s.log), requestLog(s.log))

	r.GET("/healthz", s.getHealth)

	api := r.Group("/", bearerAuth(cfg.Token))
	api.GET("/status", s.getStatus)
	api.GET("/runs", s.getRuns)
	api.GET("/triggers", s.getTriggers)
	api.POST("/triggers/:name/run", s.runTrigger)
	api.GET("/tasks/:key", s.getTask)
	api.DELETE("/tasks/:key", s.cancelTask)

	if cfg.Pprof {
		dbg := api.Group("/debug/pprof")
		dbg.GET("/", gin.WrapF(pprof.Index))
		dbg.GET("/cmdline", gin.WrapF(pprof.Cmdline))
		dbg.GET("/profile", gin.WrapF(pprof.Profile))
		dbg.GET("/symbol", gin.WrapF(pprof.Symbol))
		dbg.POST("/symbol", gin.WrapF(pprof.Symbol))
		dbg.GET("/trace", gin.WrapF(pprof.Trace))
		dbg.GET("/:profile", gin.WrapF(pprof.Index))
	}
	return r
}

// getHealth is unauthenticated so supervisors and load balancers can probe it.
// (GET /healthz)
func (s *Service) getHealth(c *gin.Context) {
	if s.deps.Scheduler == nil || s.deps.Scheduler.Snapshot().Stopped {
		c.String(http.StatusServiceUnavailable, "stopping")
		return
	}
	c.String(http.StatusOK, "ok")
}

// (GET /status)
func (s *Service) getStatus(c *gin.Context) {
	resp := statusResponse{Scheduler: s.deps.Scheduler.Snapshot(), Journal: s.deps.Runs != nil}
	if s.deps.Workers != nil {
		w := s.deps.Workers()
		resp.Workers = &w
	}
	if s.deps.Triggers != nil {
		resp.Triggers = len(s.deps.Triggers.Schedules())
	}
	if s.deps.EventsDropped != nil {
		resp.EventsDropped = s.deps.EventsDropped()
	}
	c.JSON(http.StatusOK, resp)
}

// getRuns lists journaled runs, newest first.
// (GET /runs?group=&key=&limit=)
func (s *Service) getRuns(c *gin.Context) {
	if s.deps.Runs == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run journal disabled"})
		return
	}
	f := storage.RunFilter{Group: c.Query("group"), Key: c.Query("key")}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		f.Limit = min(n, maxRunsLimit)
	}
	runs, err := s.deps.Runs.RecentRuns(c.Request.Context(), f)
	if err != nil {
		s.log.Warn("list runs failed", logx.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs"})
		return
	}
	if runs == nil {
		runs = []storage.Run{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// (GET /triggers)
func (s *Service) getTriggers(c *gin.Context) {
	items := []trigger.ScheduleInfo{}
	if s.deps.Triggers != nil {
		items = append(items, s.deps.Triggers.Schedules()...)
	}
	c.JSON(http.StatusOK, gin.H{"triggers": items})
}

// (POST /triggers/:name/run)
func (s *Service) runTrigger(c *gin.Context) {
	name := c.Param("name")
	if s.deps.Triggers == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no triggers configured"})
		return
	}
	err := s.deps.Triggers.RunNow(name)
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{"trigger": name, "submitted": true})
	case errors.Is(err, trigger.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, striped.ErrStopped):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		s.log.Warn("manual trigger run failed", logx.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// (GET /tasks/:key)
func (s *Service) getTask(c *gin.Context) {
	key := c.Param("key")
	c.JSON(http.StatusOK, taskResponse{
		Key:     key,
		Pending: s.deps.Scheduler.IsPending(key),
		Running: s.deps.Scheduler.IsRunning(key),
	})
}

// cancelTask drops a pending task and interrupts running ones.
// (DELETE /tasks/:key)
func (s *Service) cancelTask(c *gin.Context) {
	key := c.Param("key")
	if !s.deps.Scheduler.Cancel(key) {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not pending or running", "key": key})
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "cancelled": true})
}
