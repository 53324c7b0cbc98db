package config

import (
	"reflect"
	"strings"

	logx "stripesd/pkg/logx"
)

// Change describes what a reload touched. Sections lists changed top-level keys.
type Change struct {
	Sections []string
	Fields   []logx.Field

	Logging   bool
	Scheduler bool
	Storage   bool
	Triggers  bool
	HTTP      bool
	Systemd   bool
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

// Summarize compares two configs. Fields are safe to log.
func Summarize(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var c Change

	if oldCfg.Logging != newCfg.Logging {
		c.Logging = true
		c.Sections = append(c.Sections, "logging")
		c.Fields = append(c.Fields,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Int("logging.max_per_sec", newCfg.Logging.MaxPerSec),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		c.Scheduler = true
		c.Sections = append(c.Sections, "scheduler")
		c.Fields = append(c.Fields,
			logx.Int("scheduler.max_workers", newCfg.Scheduler.MaxWorkers),
			logx.String("scheduler.poll_timeout", strings.TrimSpace(newCfg.Scheduler.PollTimeout)),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		c.Storage = true
		c.Sections = append(c.Sections, "storage")
		if newCfg.Storage != nil {
			c.Fields = append(c.Fields, logx.String("storage.driver", newCfg.Storage.Driver))
		}
	}

	if !reflect.DeepEqual(oldCfg.Triggers, newCfg.Triggers) {
		c.Triggers = true
		c.Sections = append(c.Sections, "triggers")
		c.Fields = append(c.Fields, logx.Int("triggers.count", len(newCfg.Triggers)))
	}

	if !reflect.DeepEqual(oldCfg.HTTP, newCfg.HTTP) {
		c.HTTP = true
		c.Sections = append(c.Sections, "http")
		if h := newCfg.HTTP; h != nil {
			c.Fields = append(c.Fields,
				logx.Bool("http.enabled", h.Enabled),
				logx.String("http.addr", strings.TrimSpace(h.Addr)),
				logx.Bool("http.pprof", h.Pprof),
			)
		}
	}

	if oldCfg.Systemd != newCfg.Systemd {
		c.Systemd = true
		c.Sections = append(c.Sections, "systemd")
	}
	return c
}
