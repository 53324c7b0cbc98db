package trigger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"stripesd/internal/task/striped"
	logx "stripesd/pkg/logx"
)

// ErrNotFound is returned by RunNow for an unknown trigger name.
var ErrNotFound = errors.New("trigger not found")

// Submitter is the part of the scheduler a trigger needs.
type Submitter interface {
	Submit(taskKey, groupKey string, work striped.Work) (bool, error)
}

type Config struct {
	Timezone string // IANA TZ, e.g. "Asia/Jakarta"; empty means Local
}

// Def is one named trigger. TaskKey and GroupKey default to Name.
type Def struct {
	Name     string
	Schedule string
	TaskKey  string
	GroupKey string
	Timeout  time.Duration
	Job      striped.Work
}

type ScheduleInfo struct {
	Name     string        `json:"name"`
	Spec     string        `json:"spec"`
	Kind     string        `json:"kind"`
	TaskKey  string        `json:"task_key"`
	GroupKey string        `json:"group_key"`
	Timeout  time.Duration `json:"timeout,omitempty"`
	Spread   time.Duration `json:"spread,omitempty"`
	Next     time.Time     `json:"next"`
	Prev     time.Time     `json:"prev"`
}

type entry struct {
	def    Def
	parsed ParsedSpec
	id     cron.EntryID
	spread time.Duration
}

type Service struct {
	mu     sync.Mutex
	log    logx.Logger
	cfg    Config
	loc    *time.Location
	sub    Submitter
	parser cron.Parser
	c      *cron.Cron
	defs   map[string]*entry

	warnMu   sync.Mutex
	lastWarn map[string]time.Time
}

func New(cfg Config, sub Submitter, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg: cfg,
		log: log.With(logx.String("component", "trigger")),
		sub: sub,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser:   cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		defs:     map[string]*entry{},
		lastWarn: map[string]time.Time{},
	}
}

// Add registers def, replacing any trigger with the same name. Registration
// before Start is kept and armed when Start runs.
func (s *Service) Add(def Def) error {
	def.Name = strings.TrimSpace(def.Name)
	if def.Name == "" {
		return errors.New("trigger name required")
	}
	if def.Job == nil {
		return fmt.Errorf("trigger %s: job required", def.Name)
	}
	if def.TaskKey == "" {
		def.TaskKey = def.Name
	}
	if def.GroupKey == "" {
		def.GroupKey = def.Name
	}
	ps, err := ParseSchedule(def.Schedule)
	if err != nil {
		return fmt.Errorf("trigger %s: %w", def.Name, err)
	}
	if ps.Kind == SpecCron {
		if _, err := s.parser.Parse(ps.Cron); err != nil {
			return fmt.Errorf("trigger %s: %w", def.Name, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(def.Name)
	e := &entry{def: def, parsed: ps}
	s.defs[def.Name] = e
	if s.c != nil {
		s.armLocked(e)
		s.log.Debug("trigger registered",
			logx.String("name", def.Name),
			logx.String("spec", ps.Spec()),
			logx.String("next", s.previewLocked(e, 3)),
		)
	}
	return nil
}

// Remove unregisters name. Reports whether it existed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	removed := s.removeLocked(strings.TrimSpace(name))
	s.mu.Unlock()
	if removed {
		s.log.Debug("trigger removed", logx.String("name", name))
	}
	return removed
}

// Replace makes defs the complete trigger set. Used on config reload.
func (s *Service) Replace(defs []Def) error {
	keep := map[string]bool{}
	var errs []error
	for _, d := range defs {
		if err := s.Add(d); err != nil {
			errs = append(errs, err)
			continue
		}
		keep[strings.TrimSpace(d.Name)] = true
	}
	s.mu.Lock()
	for name := range s.defs {
		if !keep[name] {
			s.removeLocked(name)
		}
	}
	s.mu.Unlock()
	return errors.Join(errs...)
}

// RunNow submits the trigger's job immediately, outside its schedule.
func (s *Service) RunNow(name string) error {
	s.mu.Lock()
	e, ok := s.defs[strings.TrimSpace(name)]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	_, err := s.fire(e.def)
	return err
}

func (s *Service) removeLocked(name string) bool {
	e, ok := s.defs[name]
	if !ok {
		return false
	}
	if s.c != nil && e.id != 0 {
		s.c.Remove(e.id)
	}
	delete(s.defs, name)
	return true
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	s.cfg = cfg
	if s.c != nil && oldTZ != strings.TrimSpace(cfg.Timezone) {
		s.stopCronLocked()
		s.startCronLocked()
		s.log.Info("trigger service restarted", logx.String("tz", s.loc.String()))
	}
}

func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.startCronLocked()
	s.log.Info("trigger service started", logx.String("tz", s.loc.String()), logx.Int("triggers", len(s.defs)))
}

// Stop halts firing. Jobs already submitted stay with the scheduler.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	for _, e := range s.defs {
		e.id = 0
	}
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("trigger service stopped")
}

func (s *Service) startCronLocked() {
	s.loc = s.loadLocationLocked()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for _, e := range s.defs {
		s.armLocked(e)
	}
	s.c.Start()
}

func (s *Service) stopCronLocked() {
	if s.c == nil {
		return
	}
	<-s.c.Stop().Done()
	s.c = nil
}

func (s *Service) armLocked(e *entry) {
	def := e.def
	job := cron.FuncJob(func() {
		if _, err := s.fire(def); err != nil {
			s.reportSubmitError(def.Name, err)
		}
	})
	if e.parsed.Kind == SpecInterval {
		sched, jitter := intervalWithSpread(e.parsed.Every, time.Now().In(s.loc), def.Name)
		e.spread = jitter
		e.id = s.c.Schedule(sched, job)
		return
	}
	e.spread = 0
	id, err := s.c.AddJob(e.parsed.Cron, job)
	if err != nil {
		// Add already validated the cron expression.
		s.log.Error("trigger register failed", logx.String("name", def.Name), logx.Err(err))
		return
	}
	e.id = id
}

func (s *Service) fire(def Def) (bool, error) {
	work := def.Job
	if def.Timeout > 0 {
		timeout, job := def.Timeout, def.Job
		work = func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return job(ctx)
		}
	}
	s.log.Debug("trigger fired", logx.String("name", def.Name), logx.String("task", def.TaskKey), logx.String("group", def.GroupKey))
	return s.sub.Submit(def.TaskKey, def.GroupKey, work)
}

// Schedules lists registered triggers by name.
func (s *Service) Schedules() []ScheduleInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScheduleInfo, 0, len(s.defs))
	for _, e := range s.defs {
		info := ScheduleInfo{
			Name:     e.def.Name,
			Spec:     e.parsed.Spec(),
			Kind:     e.parsed.Kind.String(),
			TaskKey:  e.def.TaskKey,
			GroupKey: e.def.GroupKey,
			Timeout:  e.def.Timeout,
			Spread:   e.spread,
		}
		if s.c != nil && e.id != 0 {
			ce := s.c.Entry(e.id)
			info.Next, info.Prev = ce.Next, ce.Prev
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// previewLocked lists the next n run times for debug logs.
func (s *Service) previewLocked(e *entry, n int) string {
	if !s.log.Enabled(logx.LevelDebug) || e.parsed.Kind != SpecCron {
		return ""
	}
	sched, err := s.parser.Parse(e.parsed.Cron)
	if err != nil {
		return ""
	}
	t := time.Now().In(s.loc)
	var b strings.Builder
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(t.Format("2006-01-02 15:04:05"))
	}
	return b.String()
}

const submitWarnThrottle = 5 * time.Second

func (s *Service) reportSubmitError(name string, err error) {
	if errors.Is(err, striped.ErrStopped) {
		s.log.Debug("trigger skipped; scheduler stopped", logx.String("name", name))
		return
	}
	now := time.Now()
	s.warnMu.Lock()
	last := s.lastWarn[name]
	if !last.IsZero() && now.Sub(last) < submitWarnThrottle {
		s.warnMu.Unlock()
		return
	}
	s.lastWarn[name] = now
	s.warnMu.Unlock()
	s.log.Warn("trigger failed to submit", logx.String("name", name), logx.Err(err))
}
