package config

// Config is the daemon configuration. JSON or YAML; unknown keys are rejected.
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Triggers  []TriggerConfig `json:"triggers,omitempty"`
	HTTP      *HTTPConfig     `json:"http,omitempty"`
	Systemd   SystemdConfig   `json:"systemd,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`

	// MaxPerSec throttles records below WARN. 0 disables throttling.
	MaxPerSec int `json:"max_per_sec,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the striped scheduler.
//
// Defaults (when fields are omitted/zero):
//   - name: "striped"
//   - max_workers: 4
//   - poll_timeout: "10s"
//   - history_size: 200
//   - shutdown_timeout: "30s"
type SchedulerConfig struct {
	Name        string `json:"name,omitempty"`
	MaxWorkers  int    `json:"max_workers,omitempty"`
	PollTimeout string `json:"poll_timeout,omitempty"`
	HistorySize int    `json:"history_size,omitempty"`

	// ShutdownTimeout bounds how long the daemon waits for running tasks.
	ShutdownTimeout string `json:"shutdown_timeout,omitempty"`

	// Timezone for cron triggers. Empty means local time.
	Timezone string `json:"timezone,omitempty"`
}

// StorageConfig controls the run journal.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./stripesd.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	MaxRuns     int    `json:"max_runs,omitempty"`
}

// TriggerConfig submits a command into the scheduler on a schedule.
//
// Schedule accepts a cron spec, descriptors (@hourly, @every 5m), a Go duration
// ("90s"), an HH:MM interval ("02:30") or a wall-clock time ("daily:03:30").
type TriggerConfig struct {
	Name     string   `json:"name"`
	Schedule string   `json:"schedule"`
	TaskKey  string   `json:"task_key,omitempty"`  // defaults to name
	GroupKey string   `json:"group_key,omitempty"` // defaults to name
	Command  []string `json:"command"`
	Dir      string   `json:"dir,omitempty"`
	Env      []string `json:"env,omitempty"`
	Timeout  string   `json:"timeout,omitempty"`
	Disabled bool     `json:"disabled,omitempty"`
}

// HTTPConfig controls the operator status API. Disabled unless enabled is set.
//
// Defaults:
//   - addr: "127.0.0.1:7070"
//   - read_timeout: "10s", write_timeout: "60s" (pprof profiles stream), idle_timeout: "2m"
type HTTPConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
}

type SystemdConfig struct {
	// Notify sends READY=1/STOPPING=1 when NOTIFY_SOCKET is set.
	Notify bool `json:"notify"`
}
