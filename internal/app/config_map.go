package app

import (
	"fmt"
	"strings"
	"time"

	"stripesd/internal/config"
	"stripesd/internal/task/striped"
	"stripesd/internal/trigger"
	"stripesd/pkg/command"
	logx "stripesd/pkg/logx"
)

const defaultShutdownTimeout = 30 * time.Second

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		MaxPerSec: cfg.Logging.MaxPerSec,
	}
}

func mapSchedulerConfig(cfg *config.Config) (striped.Config, error) {
	poll, err := config.ParseDurationField("scheduler.poll_timeout", cfg.Scheduler.PollTimeout)
	if err != nil {
		return striped.Config{}, err
	}
	// Zero values fall back to the scheduler defaults.
	return striped.Config{
		Name:        strings.TrimSpace(cfg.Scheduler.Name),
		MaxWorkers:  cfg.Scheduler.MaxWorkers,
		PollTimeout: poll,
		HistorySize: cfg.Scheduler.HistorySize,
	}, nil
}

func shutdownTimeout(cfg *config.Config) time.Duration {
	d, err := config.ParseDurationOrDefault("scheduler.shutdown_timeout", cfg.Scheduler.ShutdownTimeout, defaultShutdownTimeout)
	if err != nil {
		return defaultShutdownTimeout
	}
	return d
}

// mapTriggerDefs turns configured commands into trigger definitions.
// Disabled triggers are skipped.
func mapTriggerDefs(cfg *config.Config) ([]trigger.Def, error) {
	defs := make([]trigger.Def, 0, len(cfg.Triggers))
	for i, tc := range cfg.Triggers {
		if tc.Disabled {
			continue
		}
		timeout, err := config.ParseDurationField(fmt.Sprintf("triggers[%d].timeout", i), tc.Timeout)
		if err != nil {
			return nil, err
		}
		defs = append(defs, trigger.Def{
			Name:     strings.TrimSpace(tc.Name),
			Schedule: tc.Schedule,
			TaskKey:  strings.TrimSpace(tc.TaskKey),
			GroupKey: strings.TrimSpace(tc.GroupKey),
			Job: command.Work(command.Spec{
				Argv:    append([]string(nil), tc.Command...),
				Dir:     tc.Dir,
				Env:     append([]string(nil), tc.Env...),
				Timeout: timeout,
			}),
		})
	}
	return defs, nil
}
