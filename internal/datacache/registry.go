package datacache

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	rtsup "qseq/internal/runtime/supervisor"
)

var (
	ErrExists   = errors.New("cache already registered")
	ErrNotFound = errors.New("cache not found")
	ErrStopped  = errors.New("cache registry stopped")
	ErrNoName   = errors.New("cache name is empty")
)

// Registry owns the cache workers of one sequence run. Workers run under a
// shared supervisor and are stopped together.
type Registry struct {
	opts Options
	sup  *rtsup.Supervisor

	mu      sync.Mutex
	workers map[string]*Worker
	order   []string
	stopped bool
}

func NewRegistry(ctx context.Context, opts Options) *Registry {
	return &Registry{
		opts:    opts,
		sup:     rtsup.New(ctx, rtsup.WithLogger(opts.Log)),
		workers: map[string]*Worker{},
	}
}

// Register creates and starts a worker for acq.
func (r *Registry) Register(name string, acq Acquirer) (*Worker, error) {
	if name == "" {
		return nil, ErrNoName
	}
	if acq == nil {
		return nil, fmt.Errorf("cache %s: nil acquirer", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return nil, ErrStopped
	}
	if _, ok := r.workers[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrExists, name)
	}
	w := New(name, acq, r.opts)
	if err := w.StartUnder(r.sup); err != nil {
		return nil, err
	}
	r.workers[name] = w
	r.order = append(r.order, name)
	return w, nil
}

func (r *Registry) Get(name string) (*Worker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return w, nil
}

// Names returns registered cache names in registration order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.order)
}

// StopAll stops every worker, newest first, and returns the first halt
// error reported by any of them.
func (r *Registry) StopAll() error {
	r.mu.Lock()
	r.stopped = true
	ws := make([]*Worker, 0, len(r.order))
	for i := len(r.order) - 1; i >= 0; i-- {
		ws = append(ws, r.workers[r.order[i]])
	}
	r.mu.Unlock()

	for _, w := range ws {
		w.Stop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.sup.Stop(ctx)
}
