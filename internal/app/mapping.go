package app

import (
	"fmt"
	"io"
	"strings"

	"qseq/internal/config"
	"qseq/internal/datacache"
	"qseq/internal/eventlog"
	"qseq/internal/observability/metrics"
	"qseq/internal/storage"
	logx "qseq/pkg/logx"
)

func mapLogConfig(cfg *config.Config, verbose bool) logx.Config {
	lc := logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
	if verbose {
		lc.Level = "debug"
	}
	return lc
}

func mapStorageConfig(cfg *config.Config, s config.Settings) (storage.Config, bool) {
	sc := cfg.EventLog.Storage
	if sc == nil {
		return storage.Config{}, false
	}
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false
	}
	return storage.Config{Driver: driver, Path: strings.TrimSpace(sc.Path), BusyTimeout: s.StorageBusyTimeout}, true
}

func mapServerConfig(cfg *config.Config, s config.Settings) metrics.ServerConfig {
	return metrics.ServerConfig{
		Enabled:       cfg.Metrics.Enabled,
		Addr:          cfg.Metrics.Addr,
		Pprof:         cfg.Metrics.Pprof,
		Token:         cfg.Metrics.Token,
		AllowInsecure: cfg.Metrics.AllowInsecure,
		ReadTimeout:   s.MetricsReadTimeout,
		WriteTimeout:  s.MetricsWriteTimeout,
	}
}

func mapCacheOptions(cfg *config.Config, s config.Settings) datacache.Options {
	return datacache.Options{
		HaltOnError: cfg.Cache.HaltOnError,
		MinInterval: s.CacheMinInterval,
	}
}

// openSinks builds the event sinks named by cfg. Sinks that hold resources
// are also returned as closers, in opening order.
func openSinks(cfg *config.Config, store storage.Store, stdout io.Writer, log logx.Logger) ([]eventlog.Sink, []io.Closer, error) {
	var (
		sinks   []eventlog.Sink
		closers []io.Closer
	)
	fail := func(err error) ([]eventlog.Sink, []io.Closer, error) {
		closeAll(closers, log)
		return nil, nil, err
	}

	if c := cfg.EventLog.CSV; !c.Disabled {
		if path := strings.TrimSpace(c.Path); path != "" {
			s, err := eventlog.OpenCSVFile(path)
			if err != nil {
				return fail(fmt.Errorf("eventlog.csv: %w", err))
			}
			sinks = append(sinks, s)
			closers = append(closers, s)
		} else {
			s := eventlog.NewCSVSink(stdout)
			sinks = append(sinks, s)
			closers = append(closers, s)
		}
	}
	if store != nil {
		sinks = append(sinks, eventlog.NewStoreSink(store, 0))
	}
	if n := cfg.EventLog.NATS; n != nil {
		s, err := eventlog.DialNATS(n.URL, n.SubjectPrefix, log.With(logx.String("comp", "nats")))
		if err != nil {
			return fail(fmt.Errorf("eventlog.nats: %w", err))
		}
		sinks = append(sinks, s)
		closers = append(closers, s)
	}
	return sinks, closers, nil
}

func closeAll(closers []io.Closer, log logx.Logger) {
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			log.Warn("close failed", logx.String("what", fmt.Sprintf("%T", closers[i])), logx.Err(err))
		}
	}
}
