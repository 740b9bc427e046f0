// Package app assembles the qseq command: configuration, logging, event
// sinks, metrics and the executor, run once or repeatedly in daemon mode.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"qseq/internal/config"
	"qseq/internal/eventbus"
	"qseq/internal/eventlog"
	"qseq/internal/executor"
	"qseq/internal/observability/metrics"
	rtsup "qseq/internal/runtime/supervisor"
	"qseq/internal/sandbox"
	"qseq/internal/schedule"
	"qseq/internal/sequence"
	"qseq/internal/storage"
	"qseq/internal/task/scheduler"
	logx "qseq/pkg/logx"
)

var ErrNoSequence = errors.New("no sequence file given")

type Options struct {
	ConfigPath   string
	SequencePath string
	// Verbose forces debug logging regardless of the config.
	Verbose bool
	// DryRun is OR-ed with sequencer.dry_run.
	DryRun bool
	// Daemon repeats the run on daemon.schedule until ctx ends.
	Daemon bool
	// Stdout receives CSV events when eventlog.csv.path is empty.
	// Defaults to os.Stdout.
	Stdout io.Writer
}

type App struct {
	opts Options

	cfgm *config.ConfigManager
	mu   sync.Mutex
	sets config.Settings

	logs *logx.Service
	log  logx.Logger

	bus     eventbus.Bus
	metrics *metrics.Metrics
	server  *metrics.Server
	board   *board

	store   storage.Store
	sinks   []eventlog.Sink
	closers []io.Closer

	exec *executor.Executor
	trig *scheduler.Trigger
	sup  *rtsup.Supervisor
}

// New loads the configuration and opens every configured output. Call
// Close when done, also after a failed Run.
func New(opts Options) (*App, error) {
	if opts.SequencePath == "" {
		return nil, ErrNoSequence
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}

	cfgm := config.NewConfigManager(opts.ConfigPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	sets, err := cfg.Resolve()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg, opts.Verbose))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	log = log.With(logx.String("comp", "app"))

	a := &App{
		opts:    opts,
		cfgm:    cfgm,
		sets:    sets,
		logs:    logSvc,
		log:     log,
		bus:     eventbus.New(),
		metrics: metrics.New(),
		board:   newBoard(filepath.Base(opts.SequencePath)),
	}
	a.server = metrics.NewServer(mapServerConfig(cfg, sets), a.metrics, log)
	a.server.Handle("/schedule", a.board)

	if sc, enabled := mapStorageConfig(cfg, sets); enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			_ = logSvc.Close()
			return nil, err
		}
		a.store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	a.sinks, a.closers, err = openSinks(cfg, a.store, opts.Stdout, log)
	if err != nil {
		if a.store != nil {
			_ = a.store.Close()
		}
		_ = logSvc.Close()
		return nil, err
	}

	cacheOpts := mapCacheOptions(cfg, sets)
	cacheOpts.Log = log.With(logx.String("comp", "datacache"))
	a.exec = executor.New(executor.Options{
		Log:           log.With(logx.String("comp", "executor")),
		Sinks:         a.sinks,
		Bus:           a.bus,
		Metrics:       a.metrics,
		SlowThreshold: sets.SlowThreshold,
		DryRun:        opts.DryRun || cfg.Sequencer.DryRun,
		Cache:         cacheOpts,
		Sequence:      opts.SequencePath,
	})
	return a, nil
}

func (a *App) settings() config.Settings {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sets
}

// Run executes the sequence once, or in daemon mode on every firing of
// daemon.schedule until ctx ends.
func (a *App) Run(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	defer a.sup.Cancel()

	a.server.Start(a.sup.Context())

	boardEvents, unsubBoard := a.bus.Subscribe(256)
	a.sup.Go0("board.follow", func(c context.Context) {
		defer unsubBoard()
		a.board.follow(c, boardEvents)
	})
	if a.log.Enabled(logx.LevelDebug) {
		events, unsub := a.bus.Subscribe(128)
		a.sup.Go0("eventbus.log", func(c context.Context) {
			defer unsub()
			for {
				select {
				case <-c.Done():
					return
				case e, ok := <-events:
					if !ok {
						return
					}
					a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				}
			}
		})
	}

	if a.opts.Daemon {
		return a.serve(ctx)
	}
	_, err := a.RunOnce(ctx)
	return err
}

// RunOnce parses, compiles and executes the sequence file once.
func (a *App) RunOnce(ctx context.Context) (executor.Report, error) {
	prog, err := sequence.ParseFile(a.opts.SequencePath)
	if err != nil {
		return executor.Report{}, err
	}
	sched, err := schedule.Build(prog.Instructions)
	if err != nil {
		return executor.Report{}, fmt.Errorf("%s: %w", a.opts.SequencePath, err)
	}
	sched.Dump(a.log)
	a.board.load(sched)

	cfg := a.cfgm.Get()
	env, err := sandbox.New(sandbox.Config{Stdlib: cfg.Sandbox.Stdlib}, a.log)
	if err != nil {
		return executor.Report{}, err
	}
	rep, err := a.exec.Run(ctx, sched, env)
	if rep.RunID != "" && !rep.DryRun {
		a.recordRun(rep, err)
	}
	return rep, err
}

func (a *App) recordRun(rep executor.Report, runErr error) {
	if a.store == nil {
		return
	}
	r := storage.Run{
		RunID:    rep.RunID,
		Sequence: rep.Sequence,
		Started:  rep.Started,
		Finished: rep.Finished,
		Steps:    rep.Steps,
		Failed:   rep.Failed,
		Slow:     rep.Slow,
	}
	if runErr != nil {
		r.Error = runErr.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.store.RecordRun(ctx, r); err != nil {
		a.log.Warn("record run failed", logx.String("run_id", rep.RunID), logx.Err(err))
	}
}

// Close stops background services and releases every output. It is safe
// to call more than once.
func (a *App) Close(ctx context.Context) error {
	if a.sup != nil {
		a.sup.Cancel()
	}
	a.stopStep(ctx, "metrics", time.Second, func(c context.Context) error {
		a.server.Stop(c)
		return nil
	})
	if a.sup != nil {
		a.stopStep(ctx, "supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	}
	a.stopStep(ctx, "sinks", 2*time.Second, func(context.Context) error {
		closeAll(a.closers, a.log)
		a.closers = nil
		return nil
	})
	a.stopStep(ctx, "storage", time.Second, func(context.Context) error {
		if a.store == nil {
			return nil
		}
		st := a.store
		a.store = nil
		return st.Close()
	})
	if a.logs != nil {
		err := a.logs.Close()
		a.logs = nil
		return err
	}
	return nil
}
