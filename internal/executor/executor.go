// Package executor runs a compiled schedule against a sandbox environment.
//
// A run injects the standard bindings, loads resources, evaluates the
// initializers, then invokes every step at its offset from the run start
// and finally evaluates the finalizers. Waits are computed from the run
// start rather than from the previous step, so a late step does not push
// later steps back.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"qseq/internal/datacache"
	"qseq/internal/eventbus"
	"qseq/internal/eventlog"
	"qseq/internal/observability/metrics"
	"qseq/internal/sandbox"
	"qseq/internal/schedule"
	logx "qseq/pkg/logx"
)

const DefaultSlowThreshold = time.Second

const (
	phaseInit = "init"
	phaseStep = "step"
	phaseFini = "fini"
)

var ErrNilSchedule = errors.New("nil schedule")

type Options struct {
	Log logx.Logger
	// Sinks receive the events scripts write through Log and Header.
	Sinks   []eventlog.Sink
	Bus     eventbus.Bus
	Metrics *metrics.Metrics
	// SlowThreshold is the step duration above which a warning is logged.
	// Zero means DefaultSlowThreshold.
	SlowThreshold time.Duration
	// DryRun logs the plan without loading or invoking anything.
	DryRun bool
	// Cache holds defaults for data caches created by scripts.
	Cache datacache.Options
	// Sequence names the description being run, for logs and events.
	Sequence string
}

// Report summarizes one run.
type Report struct {
	RunID      string
	Sequence   string
	Started    time.Time
	Finished   time.Time
	Steps      int
	Failed     int
	Slow       int
	InitFailed int
	FiniFailed int
	MaxLag     time.Duration
	DryRun     bool
}

func (r Report) Duration() time.Duration { return r.Finished.Sub(r.Started) }

type Executor struct {
	opts Options
	log  logx.Logger
	slow atomic.Int64
}

func New(opts Options) *Executor {
	if opts.Log.IsZero() {
		opts.Log = logx.Nop()
	}
	if opts.SlowThreshold <= 0 {
		opts.SlowThreshold = DefaultSlowThreshold
	}
	if opts.Cache.Log.IsZero() {
		opts.Cache.Log = opts.Log.With(logx.String("comp", "datacache"))
	}
	if opts.Cache.Metrics == nil {
		opts.Cache.Metrics = opts.Metrics
	}
	x := &Executor{opts: opts, log: opts.Log}
	x.slow.Store(int64(opts.SlowThreshold))
	return x
}

// SetSlowThreshold changes the slow step threshold. It is safe to call
// during a run.
func (x *Executor) SetSlowThreshold(d time.Duration) {
	if d <= 0 {
		d = DefaultSlowThreshold
	}
	x.slow.Store(int64(d))
}

func (x *Executor) SlowThreshold() time.Duration { return time.Duration(x.slow.Load()) }

// Run executes sched in env. env must be fresh: resources are loaded into
// it and bindings are (re)injected.
//
// Errors raised by initializers, steps and finalizers are logged and do not
// stop the run. A resource that fails to load aborts the run with an error
// wrapping sandbox.ErrResourceLoad. When ctx ends, Run returns ctx.Err()
// without evaluating finalizers.
func (x *Executor) Run(ctx context.Context, sched *schedule.Schedule, env *sandbox.Environment) (rep Report, err error) {
	if sched == nil {
		return Report{}, ErrNilSchedule
	}
	start := time.Now()
	rep = Report{
		RunID:    uuid.NewString(),
		Sequence: x.opts.Sequence,
		Started:  start,
		Steps:    len(sched.Steps),
		DryRun:   x.opts.DryRun,
	}
	log := x.log.With(logx.String("run_id", rep.RunID))

	if x.opts.DryRun {
		x.dryRun(log, sched)
		rep.Finished = time.Now()
		return rep, nil
	}
	if env == nil {
		return rep, errors.New("nil environment")
	}

	x.publish(eventbus.TypeRunStarted, eventbus.RunInfo{RunID: rep.RunID, Sequence: rep.Sequence, Steps: rep.Steps})
	log.Info("run started",
		logx.String("sequence", rep.Sequence),
		logx.Int("steps", rep.Steps),
		logx.Float64("run_time", sched.RunTime),
	)
	defer func() {
		rep.Finished = time.Now()
		x.opts.Metrics.RunFinished(err)
		info := eventbus.RunInfo{
			RunID:    rep.RunID,
			Sequence: rep.Sequence,
			Steps:    rep.Steps,
			Failed:   rep.Failed,
			Slow:     rep.Slow,
			Took:     rep.Duration(),
		}
		if err != nil {
			info.Err = err.Error()
		}
		x.publish(eventbus.TypeRunDone, info)
		fields := []logx.Field{
			logx.Duration("took", rep.Duration()),
			logx.Int("failed", rep.Failed),
			logx.Int("slow", rep.Slow),
			logx.Duration("max_lag", rep.MaxLag),
		}
		switch {
		case err == nil:
			log.Info("run finished", fields...)
		case ctx.Err() != nil && errors.Is(err, ctx.Err()):
			log.Warn("run interrupted", fields...)
		default:
			log.Error("run failed", append(fields, logx.Err(err))...)
		}
	}()

	events := eventlog.New(eventlog.Options{
		RunID:   rep.RunID,
		Epoch:   start,
		Log:     log,
		Metrics: x.opts.Metrics,
	}, x.opts.Sinks...)
	caches := datacache.NewRegistry(ctx, x.opts.Cache)
	defer func() {
		if cerr := caches.StopAll(); cerr != nil {
			log.Error("data cache halted", logx.Err(cerr))
		}
	}()

	if err := injectBindings(env, start, events, caches, log); err != nil {
		return rep, err
	}
	for _, path := range sched.Resources {
		if err := env.LoadResource(path); err != nil {
			return rep, err
		}
	}

	for i, expr := range sched.Init {
		if err := x.invoke(ctx, log, env, &rep, phaseInit, i, 0, expr, 0); err != nil {
			return rep, err
		}
	}

	for i, st := range sched.Steps {
		target := start.Add(st.Offset())
		if wait := time.Until(target); wait > 0 {
			if err := sleep(ctx, wait); err != nil {
				return rep, err
			}
		}
		lag := max(time.Since(target), 0)
		rep.MaxLag = max(rep.MaxLag, lag)
		if err := x.invoke(ctx, log, env, &rep, phaseStep, i, st.Line, st.Expr, lag); err != nil {
			return rep, err
		}
	}

	for i, expr := range sched.Fini {
		if err := x.invoke(ctx, log, env, &rep, phaseFini, i, 0, expr, 0); err != nil {
			return rep, err
		}
	}
	return rep, nil
}

// invoke evaluates one expression. It only returns an error when ctx has
// ended; every other failure is logged and counted.
func (x *Executor) invoke(ctx context.Context, log logx.Logger, env *sandbox.Environment, rep *Report, phase string, idx, line int, expr string, lag time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	began := time.Now()
	_, err := env.Invoke(ctx, expr)
	took := time.Since(began)

	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return err
	}
	x.opts.Metrics.StepDone(phase, took, lag, err)
	info := eventbus.StepInfo{RunID: rep.RunID, Phase: phase, Index: idx, Line: line, Expr: expr, Took: took, Lag: lag}

	fields := []logx.Field{logx.String("phase", phase), logx.String("expr", expr), logx.Duration("took", took)}
	if line > 0 {
		fields = append(fields, logx.Int("line", line))
	}
	if err != nil {
		info.Err = err.Error()
		switch phase {
		case phaseInit:
			rep.InitFailed++
			log.Error("initialization failed", append(fields, logx.Err(err))...)
		case phaseFini:
			rep.FiniFailed++
			log.Error("finalization failed", append(fields, logx.Err(err))...)
		default:
			rep.Failed++
			log.Error("step failed", append(fields, logx.Err(err))...)
		}
	} else if log.Enabled(logx.LevelDebug) {
		log.Debug("evaluated", append(fields, logx.Duration("lag", lag))...)
	}

	if threshold := x.SlowThreshold(); phase == phaseStep && took > threshold {
		rep.Slow++
		x.opts.Metrics.SlowStep()
		log.Warn("step is slow; move data acquisition into a data cache (Cache/CacheGet)",
			append(fields, logx.Duration("threshold", threshold))...)
	}
	x.publish(eventbus.TypeStepDone, info)
	return nil
}

func (x *Executor) dryRun(log logx.Logger, sched *schedule.Schedule) {
	log.Info("dry run; nothing is evaluated",
		logx.Int("resources", len(sched.Resources)),
		logx.Int("init", len(sched.Init)),
		logx.Int("steps", len(sched.Steps)),
		logx.Int("fini", len(sched.Fini)),
		logx.Float64("run_time", sched.RunTime),
	)
	for _, st := range sched.Steps {
		log.Info("step", logx.String("at", fmt.Sprintf("%6.2f", st.At)), logx.String("expr", st.Expr), logx.Int("line", st.Line))
	}
}

func (x *Executor) publish(typ string, data any) {
	if x.opts.Bus == nil {
		return
	}
	x.opts.Bus.Publish(eventbus.Event{Type: typ, Data: data})
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
