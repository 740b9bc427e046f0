// Package datacache fetches data in the background so that timed steps can
// read the latest result without waiting for slow sources.
//
// A Worker acquires one dataset up front and then waits until it has been
// read before acquiring the next one. Reads always return a private copy.
package datacache

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"qseq/internal/observability/metrics"
	rtsup "qseq/internal/runtime/supervisor"
	logx "qseq/pkg/logx"
)

var (
	ErrAlreadyStarted = errors.New("cache worker already started")
	ErrAcquirePanic   = errors.New("acquire panicked")
)

// Acquirer produces one dataset. Implementations may also implement
// Cleaner to release resources when the worker exits.
type Acquirer interface {
	Acquire(ctx context.Context) (any, error)
}

type Cleaner interface {
	Cleanup()
}

type AcquireFunc func(ctx context.Context) (any, error)

func (f AcquireFunc) Acquire(ctx context.Context) (any, error) { return f(ctx) }

type Options struct {
	// HaltOnError stops the acquisition loop after the first failure.
	HaltOnError bool
	// MinInterval bounds how often acquisitions may start.
	MinInterval time.Duration
	// Clone copies a dataset for a reader. Defaults to DeepCopy.
	Clone   func(any) any
	Log     logx.Logger
	Metrics *metrics.Metrics
}

// Dataset is one acquisition result. Timestamp is when the acquisition
// started and Duration how long it took. FetchCount is the number of reads
// of this dataset before the current one.
type Dataset struct {
	FetchCount int
	Timestamp  time.Time
	Duration   time.Duration
	Data       any
}

type Worker struct {
	name    string
	acq     Acquirer
	opts    Options
	log     logx.Logger
	limiter *rate.Limiter

	wake     chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	started  atomic.Bool

	mu         sync.Mutex
	ds         *Dataset
	fetchCount int
	err        error
}

func New(name string, acq Acquirer, opts Options) *Worker {
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	if opts.Clone == nil {
		opts.Clone = DeepCopy
	}
	w := &Worker{
		name:   name,
		acq:    acq,
		opts:   opts,
		log:    log.With(logx.String("cache", name)),
		wake:   make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	if opts.MinInterval > 0 {
		w.limiter = rate.NewLimiter(rate.Every(opts.MinInterval), 1)
	}
	return w
}

func (w *Worker) Name() string { return w.name }

// Start runs the acquisition loop in its own goroutine.
func (w *Worker) Start() error {
	if !w.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	go func() { _ = w.loop(context.Background()) }()
	return nil
}

// StartUnder runs the acquisition loop as a goroutine of sup. Cancelling
// the supervisor context stops the worker like Stop does.
func (w *Worker) StartUnder(sup *rtsup.Supervisor) error {
	if !w.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	sup.Go("cache:"+w.name, w.loop)
	return nil
}

// Stop requests termination and waits until the loop has exited and
// Cleanup has run. It is safe to call more than once.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	if w.started.Load() {
		<-w.done
	}
}

// Err reports the error that halted the loop, if any.
func (w *Worker) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Done is closed when the loop has exited.
func (w *Worker) Done() <-chan struct{} { return w.done }

func (w *Worker) stopping() bool {
	select {
	case <-w.stopCh:
		return true
	default:
		return false
	}
}

func (w *Worker) loop(parent context.Context) error {
	defer close(w.done)
	defer w.cleanup()

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	go func() {
		select {
		case <-w.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		if w.stopping() || ctx.Err() != nil {
			return nil
		}
		if w.limiter != nil {
			if err := w.limiter.Wait(ctx); err != nil {
				return nil
			}
			if w.stopping() {
				return nil
			}
		}

		ds, err := w.acquire(ctx)
		w.mu.Lock()
		w.ds = &ds
		w.fetchCount = 0
		// Only a read of this dataset may start the next acquisition.
		select {
		case <-w.wake:
		default:
		}
		w.mu.Unlock()

		if err != nil {
			if w.stopping() || ctx.Err() != nil {
				return nil
			}
			w.log.Error("acquiring data failed", logx.Err(err))
			if w.opts.HaltOnError {
				w.mu.Lock()
				w.err = err
				w.mu.Unlock()
				return fmt.Errorf("cache %s: %w", w.name, err)
			}
		}

		select {
		case <-w.wake:
		case <-ctx.Done():
			return nil
		}
	}
}

func (w *Worker) acquire(ctx context.Context) (ds Dataset, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("acquire panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			err = fmt.Errorf("%w: %v", ErrAcquirePanic, r)
			ds.Data = nil
		}
		ds.Timestamp = start
		ds.Duration = time.Since(start)
		w.opts.Metrics.CacheAcquired(w.name, ds.Duration, err)
	}()

	data, err := w.acq.Acquire(ctx)
	if err != nil {
		return Dataset{}, err
	}
	return Dataset{Data: data}, nil
}

func (w *Worker) cleanup() {
	c, ok := w.acq.(Cleaner)
	if !ok {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("cleanup panicked", logx.Any("panic", r))
		}
	}()
	c.Cleanup()
}

// GetExtended returns a copy of the latest dataset. The first read of a
// dataset wakes the loop to acquire the next one. ok is false if nothing
// was acquired yet. Reading the same dataset twice logs a warning.
func (w *Worker) GetExtended() (Dataset, bool) {
	w.mu.Lock()
	if w.ds == nil {
		w.mu.Unlock()
		return Dataset{}, false
	}
	ds := *w.ds
	ds.FetchCount = w.fetchCount
	w.fetchCount++
	ds.Data = w.opts.Clone(ds.Data)
	if ds.FetchCount == 0 {
		w.signal()
	}
	w.mu.Unlock()

	if ds.FetchCount > 0 {
		w.log.Warn("fetch the same data multiple times", logx.Int("fetch_count", ds.FetchCount))
		w.opts.Metrics.CacheStaleRead(w.name)
	}
	return ds, true
}

// Get is GetExtended without the metadata.
func (w *Worker) Get() (any, bool) {
	ds, ok := w.GetExtended()
	return ds.Data, ok
}

func (w *Worker) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}
