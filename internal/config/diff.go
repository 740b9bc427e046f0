package config

import (
	"reflect"
	"strings"

	logx "qseq/pkg/logx"
)

// SummarizeConfigChange returns the names of the sections that differ and
// safe structured attrs for logging. Secrets (metrics token) are never
// included, only whether they are set.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Sequencer != newCfg.Sequencer {
		changed = append(changed, "sequencer")
		attrs = append(attrs,
			logx.String("sequencer.slow_threshold", strings.TrimSpace(newCfg.Sequencer.SlowThreshold)),
			logx.Bool("sequencer.dry_run", newCfg.Sequencer.DryRun),
		)
	}

	if !reflect.DeepEqual(oldCfg.Sandbox, newCfg.Sandbox) {
		changed = append(changed, "sandbox")
		attrs = append(attrs, logx.String("sandbox.stdlib", strings.Join(newCfg.Sandbox.Stdlib, ",")))
	}

	if oldCfg.Cache != newCfg.Cache {
		changed = append(changed, "cache")
		attrs = append(attrs,
			logx.Bool("cache.halt_on_error", newCfg.Cache.HaltOnError),
			logx.String("cache.min_interval", strings.TrimSpace(newCfg.Cache.MinInterval)),
		)
	}

	if !reflect.DeepEqual(oldCfg.EventLog, newCfg.EventLog) {
		changed = append(changed, "eventlog")
		attrs = append(attrs,
			logx.Bool("eventlog.csv", !newCfg.EventLog.CSV.Disabled),
			logx.Bool("eventlog.storage", newCfg.EventLog.Storage != nil),
			logx.Bool("eventlog.nats", newCfg.EventLog.NATS != nil),
		)
	}

	if oldCfg.Metrics != newCfg.Metrics {
		changed = append(changed, "metrics")
		attrs = append(attrs,
			logx.Bool("metrics.enabled", newCfg.Metrics.Enabled),
			logx.String("metrics.addr", strings.TrimSpace(newCfg.Metrics.Addr)),
			logx.Bool("metrics.pprof", newCfg.Metrics.Pprof),
			logx.Bool("metrics.token_set", strings.TrimSpace(newCfg.Metrics.Token) != ""),
		)
	}

	if oldCfg.Daemon != newCfg.Daemon {
		changed = append(changed, "daemon")
		attrs = append(attrs,
			logx.String("daemon.schedule", strings.TrimSpace(newCfg.Daemon.Schedule)),
			logx.String("daemon.timezone", strings.TrimSpace(newCfg.Daemon.Timezone)),
		)
	}

	return changed, attrs
}
