package app

import (
	"fmt"
	"strings"
	"time"

	"stripesd/internal/config"
	"stripesd/internal/observability/status"
)

// mapHTTPConfig converts the http section into the status server config.
// A missing section disables the server.
func mapHTTPConfig(cfg *config.Config) (status.Config, error) {
	var out status.Config
	if cfg == nil || cfg.HTTP == nil {
		return out, nil
	}
	hc := cfg.HTTP

	out.Enabled = hc.Enabled
	out.Addr = strings.TrimSpace(hc.Addr)
	out.Token = strings.TrimSpace(hc.Token)
	out.AllowInsecure = hc.AllowInsecure
	out.Pprof = hc.Pprof

	var err error
	if out.ReadTimeout, err = config.ParseDurationOrDefault("http.read_timeout", hc.ReadTimeout, 10*time.Second); err != nil {
		return out, err
	}
	if out.WriteTimeout, err = config.ParseDurationOrDefault("http.write_timeout", hc.WriteTimeout, 60*time.Second); err != nil {
		return out, err
	}
	if out.IdleTimeout, err = config.ParseDurationOrDefault("http.idle_timeout", hc.IdleTimeout, 2*time.Minute); err != nil {
		return out, err
	}

	if hc.MutexProfileFraction < 0 {
		return out, fmt.Errorf("http.mutex_profile_fraction must be >= 0")
	}
	if hc.BlockProfileRate < 0 {
		return out, fmt.Errorf("http.block_profile_rate must be >= 0")
	}
	out.MutexProfileFraction = hc.MutexProfileFraction
	out.BlockProfileRate = hc.BlockProfileRate
	return out, nil
}
