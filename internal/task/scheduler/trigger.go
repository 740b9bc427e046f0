package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"qseq/internal/eventbus"
	logx "qseq/pkg/logx"
)

var (
	ErrNoSchedule     = errors.New("no schedule configured")
	ErrAlreadyStarted = errors.New("trigger already started")
	ErrNotStarted     = errors.New("trigger not started")
)

// Job is one repeated unit of work. ctx is canceled when the trigger's
// parent context ends.
type Job func(ctx context.Context) error

type Options struct {
	Log      logx.Logger
	Bus      eventbus.Bus
	Location *time.Location
	// RunOnStart fires the job once right after Start, before the first
	// scheduled firing.
	RunOnStart bool
}

// Stats is a point-in-time view of the trigger.
type Stats struct {
	Schedule string
	Runs     uint64
	Failed   uint64
	Skipped  uint64
	Running  bool
	Next     time.Time
	LastErr  error
}

// Trigger fires a Job on a ParsedSpec. Overlapping firings are skipped.
type Trigger struct {
	job  Job
	opts Options
	log  logx.Logger

	mu      sync.Mutex
	c       *cron.Cron
	entry   cron.EntryID
	spec    ParsedSpec
	ctx     context.Context
	lastErr error
	wg      sync.WaitGroup

	running atomic.Bool
	runs    atomic.Uint64
	failed  atomic.Uint64
	skipped atomic.Uint64
}

func New(job Job, opts Options) *Trigger {
	if opts.Log.IsZero() {
		opts.Log = logx.Nop()
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Trigger{job: job, opts: opts, log: opts.Log}
}

// Start begins firing on spec until Stop is called or ctx ends.
func (t *Trigger) Start(ctx context.Context, spec ParsedSpec) error {
	if t.job == nil {
		return errors.New("trigger: nil job")
	}
	sched, err := scheduleFor(spec)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.c != nil {
		return ErrAlreadyStarted
	}
	t.ctx = ctx
	t.spec = spec
	t.c = cron.New(
		cron.WithLocation(t.opts.Location),
		cron.WithLogger(cronLogger{log: t.log}),
		cron.WithChain(cron.Recover(cronLogger{log: t.log})),
	)
	t.entry = t.c.Schedule(sched, cron.FuncJob(t.fire))
	t.c.Start()

	if t.opts.RunOnStart {
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			t.fire()
		}()
	}
	t.log.Info("trigger started", logx.String("schedule", spec.String()), logx.String("tz", t.opts.Location.String()))
	return nil
}

// Reschedule replaces the schedule of a started trigger. A run in progress
// is not interrupted.
func (t *Trigger) Reschedule(spec ParsedSpec) error {
	sched, err := scheduleFor(spec)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.c == nil {
		return ErrNotStarted
	}
	if spec == t.spec {
		return nil
	}
	t.c.Remove(t.entry)
	t.entry = t.c.Schedule(sched, cron.FuncJob(t.fire))
	old := t.spec
	t.spec = spec
	t.log.Info("trigger rescheduled", logx.String("from", old.String()), logx.String("to", spec.String()))
	return nil
}

// Stop prevents further firings and waits for an active run to return or
// ctx to end.
func (t *Trigger) Stop(ctx context.Context) error {
	t.mu.Lock()
	c := t.c
	t.c = nil
	t.mu.Unlock()
	if c == nil {
		return nil
	}

	cronDone := c.Stop()
	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		t.log.Debug("trigger stopped")
		return nil
	case <-ctx.Done():
		t.log.Warn("trigger stop timed out; run still active")
		return ctx.Err()
	}
}

func (t *Trigger) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := Stats{
		Schedule: t.spec.String(),
		Runs:     t.runs.Load(),
		Failed:   t.failed.Load(),
		Skipped:  t.skipped.Load(),
		Running:  t.running.Load(),
		LastErr:  t.lastErr,
	}
	if t.c != nil {
		st.Next = t.c.Entry(t.entry).Next
	}
	return st
}

func (t *Trigger) fire() {
	t.mu.Lock()
	ctx := t.ctx
	t.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	if !t.running.CompareAndSwap(false, true) {
		n := t.skipped.Add(1)
		t.log.Warn("previous run still active; skipping", logx.Uint64("skipped", n))
		t.publish(eventbus.TypeTriggerSkipped, eventbus.TriggerInfo{Skipped: n})
		return
	}
	defer t.running.Store(false)

	n := t.runs.Add(1)
	t.publish(eventbus.TypeTriggerFired, eventbus.TriggerInfo{Run: n})
	start := time.Now()
	err := t.runJob(ctx)

	t.mu.Lock()
	t.lastErr = err
	t.mu.Unlock()

	fields := []logx.Field{logx.Uint64("run", n), logx.Duration("took", time.Since(start))}
	switch {
	case err == nil:
		t.log.Debug("triggered run finished", fields...)
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		t.log.Info("triggered run canceled", fields...)
	default:
		t.failed.Add(1)
		t.log.Error("triggered run failed", append(fields, logx.Err(err))...)
	}
}

func (t *Trigger) runJob(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in triggered run: %v", r)
		}
	}()
	return t.job(ctx)
}

func (t *Trigger) publish(typ string, data any) {
	if t.opts.Bus == nil {
		return
	}
	t.opts.Bus.Publish(eventbus.Event{Type: typ, Data: data})
}

func scheduleFor(spec ParsedSpec) (cron.Schedule, error) {
	if spec.IsZero() {
		return nil, ErrNoSchedule
	}
	return spec.Schedule()
}

// cronLogger routes robfig/cron's internal logging to logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			k = fmt.Sprint(kv[i])
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
