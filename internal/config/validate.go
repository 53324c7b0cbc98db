package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Validate checks values the decoder cannot. Errors name the offending path.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if cfg.Scheduler.MaxWorkers < 0 {
		errs = append(errs, fmt.Errorf("scheduler.max_workers: must be >= 0"))
	}
	if cfg.Scheduler.HistorySize < 0 {
		errs = append(errs, fmt.Errorf("scheduler.history_size: must be >= 0"))
	}
	if _, err := ParseDurationField("scheduler.poll_timeout", cfg.Scheduler.PollTimeout); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("scheduler.shutdown_timeout", cfg.Scheduler.ShutdownTimeout); err != nil {
		errs = append(errs, err)
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
		}
	}

	if st := cfg.Storage; st != nil {
		switch d := strings.ToLower(strings.TrimSpace(st.Driver)); d {
		case "", "none":
		case "file", "sqlite":
			if strings.TrimSpace(st.Path) == "" {
				errs = append(errs, fmt.Errorf("storage.path: required for driver %q", d))
			}
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", st.Driver))
		}
		if _, err := ParseDurationField("storage.busy_timeout", st.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}

	if h := cfg.HTTP; h != nil && h.Enabled {
		if addr := strings.TrimSpace(h.Addr); addr != "" {
			if _, _, err := net.SplitHostPort(addr); err != nil {
				errs = append(errs, fmt.Errorf("http.addr: %w", err))
			}
		}
		for field, raw := range map[string]string{
			"http.read_timeout":  h.ReadTimeout,
			"http.write_timeout": h.WriteTimeout,
			"http.idle_timeout":  h.IdleTimeout,
		} {
			if _, err := ParseDurationField(field, raw); err != nil {
				errs = append(errs, err)
			}
		}
	}

	seen := map[string]bool{}
	for i, tr := range cfg.Triggers {
		path := fmt.Sprintf("triggers[%d]", i)
		name := strings.TrimSpace(tr.Name)
		if name == "" {
			errs = append(errs, fmt.Errorf("%s.name: required", path))
		} else if seen[name] {
			errs = append(errs, fmt.Errorf("%s.name: duplicate %q", path, name))
		}
		seen[name] = true
		if strings.TrimSpace(tr.Schedule) == "" {
			errs = append(errs, fmt.Errorf("%s.schedule: required", path))
		}
		if len(tr.Command) == 0 || strings.TrimSpace(tr.Command[0]) == "" {
			errs = append(errs, fmt.Errorf("%s.command: required", path))
		}
		if _, err := ParseDurationField(path+".timeout", tr.Timeout); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
