package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"qseq/internal/task/scheduler"
)

const (
	DefaultSlowThreshold   = time.Second
	DefaultShutdownTimeout = 10 * time.Second
)

// Settings holds the parsed form of the duration and schedule strings.
type Settings struct {
	SlowThreshold       time.Duration
	CacheMinInterval    time.Duration
	StorageBusyTimeout  time.Duration
	MetricsReadTimeout  time.Duration
	MetricsWriteTimeout time.Duration
	ShutdownTimeout     time.Duration
	Location            *time.Location
	// Schedule is zero when daemon.schedule is empty.
	Schedule scheduler.ParsedSpec
}

// Resolve validates cfg and parses its string fields.
func (c *Config) Resolve() (Settings, error) {
	if c == nil {
		c = Default()
	}
	var (
		s    Settings
		errs []error
		err  error
	)
	dur := func(dst *time.Duration, path, raw string, def time.Duration) {
		if *dst, err = ParseDurationOrDefault(path, raw, def); err != nil {
			errs = append(errs, err)
		}
	}
	dur(&s.SlowThreshold, "sequencer.slow_threshold", c.Sequencer.SlowThreshold, DefaultSlowThreshold)
	dur(&s.CacheMinInterval, "cache.min_interval", c.Cache.MinInterval, 0)
	dur(&s.MetricsReadTimeout, "metrics.read_timeout", c.Metrics.ReadTimeout, 0)
	dur(&s.MetricsWriteTimeout, "metrics.write_timeout", c.Metrics.WriteTimeout, 0)
	dur(&s.ShutdownTimeout, "daemon.shutdown_timeout", c.Daemon.ShutdownTimeout, DefaultShutdownTimeout)

	if st := c.EventLog.Storage; st != nil {
		dur(&s.StorageBusyTimeout, "eventlog.storage.busy_timeout", st.BusyTimeout, 0)
		switch strings.ToLower(strings.TrimSpace(st.Driver)) {
		case "", "none":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(st.Path) == "" {
				errs = append(errs, errors.New("eventlog.storage.path is required"))
			}
		default:
			errs = append(errs, fmt.Errorf("eventlog.storage.driver: unknown driver %q", st.Driver))
		}
	}
	if n := c.EventLog.NATS; n != nil && strings.TrimSpace(n.URL) == "" {
		errs = append(errs, errors.New("eventlog.nats.url is required"))
	}

	s.Location = time.Local
	if tz := strings.TrimSpace(c.Daemon.Timezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			errs = append(errs, fmt.Errorf("daemon.timezone: %w", err))
		} else {
			s.Location = loc
		}
	}
	if raw := strings.TrimSpace(c.Daemon.Schedule); raw != "" {
		spec, err := scheduler.ParseSchedule(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("daemon.schedule: %w", err))
		}
		s.Schedule = spec
	}

	if err := errors.Join(errs...); err != nil {
		return Settings{}, err
	}
	return s, nil
}
