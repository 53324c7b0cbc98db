package app

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"stripesd/internal/config"
	"stripesd/internal/storage"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	p := filepath.Join(dir, "stripesd.yaml")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestAppRecordsRuns(t *testing.T) {
	dir := t.TempDir()
	p := writeConfig(t, dir, `
logging:
  level: error
  console: false
  file:
    enabled: false
    path: ""
scheduler:
  max_workers: 2
  poll_timeout: 100ms
storage:
  driver: file
  path: `+filepath.Join(dir, "journal")+`
triggers:
  - name: nightly
    schedule: daily:03:00
    group_key: tenant-a
    command: ["sh", "-c", "exit 0"]
`)
	a, err := New(p)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if _, err := a.Scheduler().Submit("direct", "tenant-b", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := a.Triggers().RunNow("nightly"); err != nil {
		t.Fatalf("RunNow: %v", err)
	}

	waitFor(t, "journal records", func() bool {
		runs, err := a.Store().RecentRuns(context.Background(), storage.RunFilter{})
		return err == nil && len(runs) == 2
	})
	runs, _ := a.Store().RecentRuns(context.Background(), storage.RunFilter{Group: "tenant-a"})
	if len(runs) != 1 || runs[0].Key != "nightly" {
		t.Fatalf("trigger run = %+v", runs)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, StopAppStop); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, err := a.Scheduler().Submit("late", "g", func(context.Context) error { return nil }); err == nil {
		t.Fatal("submit after stop should fail")
	}
}

func TestApplyConfigUpdatesWorkersAndTriggers(t *testing.T) {
	dir := t.TempDir()
	p := writeConfig(t, dir, "scheduler:\n  max_workers: 1\n")
	a, err := New(p)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.sched.Shutdown(context.Background())

	oldCfg := a.cfgm.Get()
	newCfg := *oldCfg
	newCfg.Scheduler.MaxWorkers = 3
	newCfg.Triggers = []config.TriggerConfig{{Name: "hourly", Schedule: "@hourly", Command: []string{"true"}}}
	a.applyConfig(oldCfg, &newCfg)

	if got := a.sched.Snapshot().MaxWorkers; got != 3 {
		t.Fatalf("MaxWorkers = %d, want 3", got)
	}
	if infos := a.trig.Schedules(); len(infos) != 1 || infos[0].Name != "hourly" {
		t.Fatalf("triggers = %+v", infos)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	p := writeConfig(t, t.TempDir(), "storage:\n  driver: redis\n")
	if _, err := New(p); err == nil {
		t.Fatal("invalid storage driver accepted")
	}
}

func TestStatusAPIServesSnapshot(t *testing.T) {
	dir := t.TempDir()
	p := writeConfig(t, dir, `
scheduler:
  name: api
  max_workers: 2
http:
  enabled: true
  addr: "127.0.0.1:0"
`)
	a, err := New(p)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Stop(ctx, StopAppStop)
	}()

	waitFor(t, "status listener", func() bool { return a.StatusAddr() != "" })
	resp, err := http.Get("http://" + a.StatusAddr() + "/status")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code = %d", resp.StatusCode)
	}
	var body struct {
		Scheduler struct {
			Name       string `json:"name"`
			MaxWorkers int    `json:"max_workers"`
		} `json:"scheduler"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Scheduler.Name != "api" || body.Scheduler.MaxWorkers != 2 {
		t.Fatalf("scheduler = %+v", body.Scheduler)
	}
}
