package trigger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"stripesd/internal/task/striped"
	logx "stripesd/pkg/logx"
)

type submission struct {
	key, group string
	work       striped.Work
}

type fakeSubmitter struct {
	mu   sync.Mutex
	subs []submission
	err  error
	ch   chan submission
}

func newFakeSubmitter() *fakeSubmitter { return &fakeSubmitter{ch: make(chan submission, 16)} }

func (f *fakeSubmitter) Submit(key, group string, w striped.Work) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	s := submission{key: key, group: group, work: w}
	f.subs = append(f.subs, s)
	select {
	case f.ch <- s:
	default:
	}
	return true, nil
}

func noop(context.Context) error { return nil }

func TestParseSchedule(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw   string
		kind  SpecKind
		every time.Duration
		cron  string
		bad   bool
	}{
		{raw: "*/5 * * * *", kind: SpecCron, cron: "*/5 * * * *"},
		{raw: "@hourly", kind: SpecCron, cron: "@hourly"},
		{raw: "@every 55m", kind: SpecInterval, every: 55 * time.Minute},
		{raw: "2h30m", kind: SpecInterval, every: 150 * time.Minute},
		{raw: "00:50", kind: SpecInterval, every: 50 * time.Minute},
		{raw: "interval:02:30", kind: SpecInterval, every: 150 * time.Minute},
		{raw: "cron:0 3 * * *", kind: SpecCron, cron: "0 3 * * *"},
		{raw: "daily:03:30", kind: SpecCron, cron: "30 3 * * *"},
		{raw: "", bad: true},
		{raw: "0s", bad: true},
		{raw: "01:75", bad: true},
		{raw: "daily:25:00", bad: true},
		{raw: "whenever", bad: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			ps, err := ParseSchedule(tt.raw)
			if tt.bad {
				if err == nil {
					t.Fatalf("ParseSchedule(%q) accepted: %+v", tt.raw, ps)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSchedule(%q): %v", tt.raw, err)
			}
			if ps.Kind != tt.kind || ps.Every != tt.every || ps.Cron != tt.cron {
				t.Fatalf("ParseSchedule(%q) = %+v", tt.raw, ps)
			}
		})
	}
}

func TestSpreadDelaysOnlyFirstRun(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sched, jitter := intervalWithSpread(10*time.Second, now, "t")
	if jitter < 0 || jitter >= 10*time.Second {
		t.Fatalf("jitter = %v", jitter)
	}
	first := sched.Next(now)
	if want := now.Add(10*time.Second + jitter); !first.Equal(want) {
		t.Fatalf("first = %v, want %v", first, want)
	}
	if second := sched.Next(first); second.Sub(first) != 10*time.Second {
		t.Fatalf("second run gap = %v", second.Sub(first))
	}
}

func TestAddValidates(t *testing.T) {
	t.Parallel()
	s := New(Config{}, newFakeSubmitter(), logx.Nop())
	if err := s.Add(Def{Name: "", Schedule: "1m", Job: noop}); err == nil {
		t.Fatal("empty name accepted")
	}
	if err := s.Add(Def{Name: "a", Schedule: "1m"}); err == nil {
		t.Fatal("nil job accepted")
	}
	if err := s.Add(Def{Name: "a", Schedule: "61 * * * *", Job: noop}); err == nil {
		t.Fatal("invalid cron accepted")
	}
}

func TestRunNowUsesKeys(t *testing.T) {
	t.Parallel()
	sub := newFakeSubmitter()
	s := New(Config{}, sub, logx.Nop())
	if err := s.Add(Def{Name: "backup", Schedule: "1h", GroupKey: "tenant-a", Job: noop}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.RunNow("backup"); err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if err := s.RunNow("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("RunNow(missing) = %v, want ErrNotFound", err)
	}
	got := <-sub.ch
	if got.key != "backup" || got.group != "tenant-a" {
		t.Fatalf("submitted %s/%s, want backup/tenant-a", got.key, got.group)
	}

	sub.err = striped.ErrStopped
	if err := s.RunNow("backup"); !errors.Is(err, striped.ErrStopped) {
		t.Fatalf("RunNow err = %v, want ErrStopped", err)
	}
}

func TestTimeoutWrapsJob(t *testing.T) {
	t.Parallel()
	sub := newFakeSubmitter()
	s := New(Config{}, sub, logx.Nop())
	err := s.Add(Def{Name: "slow", Schedule: "1h", Timeout: 20 * time.Millisecond, Job: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.RunNow("slow"); err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	got := <-sub.ch
	if err := got.work(context.Background()); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("work err = %v, want deadline exceeded", err)
	}
}

func TestScheduleFires(t *testing.T) {
	t.Parallel()
	sub := newFakeSubmitter()
	s := New(Config{Timezone: "UTC"}, sub, logx.Nop())
	if err := s.Add(Def{Name: "tick", Schedule: "1s", Job: noop}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	s.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Stop(ctx)
	}()

	infos := s.Schedules()
	if len(infos) != 1 || infos[0].Kind != "interval" || infos[0].Next.IsZero() {
		t.Fatalf("Schedules = %+v", infos)
	}
	select {
	case got := <-sub.ch:
		if got.key != "tick" {
			t.Fatalf("fired %s", got.key)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("trigger never fired")
	}
}

func TestReplaceAndRemove(t *testing.T) {
	t.Parallel()
	s := New(Config{}, newFakeSubmitter(), logx.Nop())
	for _, name := range []string{"a", "b", "c"} {
		if err := s.Add(Def{Name: name, Schedule: "@daily", Job: noop}); err != nil {
			t.Fatalf("Add(%s): %v", name, err)
		}
	}
	s.Start()
	defer s.Stop(context.Background())

	if !s.Remove("a") || s.Remove("a") {
		t.Fatal("Remove should report existence once")
	}
	err := s.Replace([]Def{
		{Name: "c", Schedule: "5m", Job: noop},
		{Name: "d", Schedule: "daily:04:00", Job: noop},
		{Name: "bad", Schedule: "nope", Job: noop},
	})
	if err == nil {
		t.Fatal("Replace should report the invalid definition")
	}
	infos := s.Schedules()
	if len(infos) != 2 || infos[0].Name != "c" || infos[1].Name != "d" {
		t.Fatalf("after Replace = %+v", infos)
	}
	if infos[0].Kind != "interval" || infos[1].Spec != "0 4 * * *" {
		t.Fatalf("specs not updated: %+v", infos)
	}
}
