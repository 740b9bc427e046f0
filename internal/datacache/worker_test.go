package datacache

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	logx "qseq/pkg/logx"
)

const waitFor = 2 * time.Second
const tick = 2 * time.Millisecond

type countingAcquirer struct {
	calls   atomic.Int32
	cleaned atomic.Bool
	data    func(n int32) (any, error)
}

func (a *countingAcquirer) Acquire(ctx context.Context) (any, error) {
	n := a.calls.Add(1)
	if a.data == nil {
		return int(n), nil
	}
	return a.data(n)
}

func (a *countingAcquirer) Cleanup() { a.cleaned.Store(true) }

func waitDataset(t *testing.T, w *Worker) {
	t.Helper()
	require.Eventually(t, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.ds != nil
	}, waitFor, tick)
}

func TestWorkerAcquiresOnlyAfterRead(t *testing.T) {
	t.Parallel()
	acq := &countingAcquirer{}
	w := New("counter", acq, Options{})
	require.NoError(t, w.Start())
	defer w.Stop()

	waitDataset(t, w)
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, int32(1), acq.calls.Load())

	v, ok := w.Get()
	require.True(t, ok)
	require.Equal(t, 1, v)
	require.Eventually(t, func() bool { return acq.calls.Load() == 2 }, waitFor, tick)

	require.Eventually(t, func() bool {
		v, _ := w.Get()
		n, _ := v.(int)
		return n >= 2
	}, waitFor, tick)
}

func TestWorkerStaleReadWarns(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	acq := &countingAcquirer{data: func(n int32) (any, error) {
		if n > 1 {
			<-release
		}
		return "v", nil
	}}
	var buf syncBuffer
	w := New("slow", acq, Options{Log: logx.NewJSON(&buf, "debug")})
	require.NoError(t, w.Start())
	defer func() {
		close(release)
		w.Stop()
	}()
	waitDataset(t, w)

	first, ok := w.GetExtended()
	require.True(t, ok)
	require.Zero(t, first.FetchCount)
	require.False(t, first.Timestamp.IsZero())
	require.GreaterOrEqual(t, first.Duration, time.Duration(0))

	second, ok := w.GetExtended()
	require.True(t, ok)
	require.Equal(t, 1, second.FetchCount)
	require.Equal(t, first.Data, second.Data)
	require.Equal(t, first.Timestamp, second.Timestamp)
	require.Contains(t, buf.String(), "fetch the same data multiple times")
}

func TestWorkerReadBeforeFirstDatasetDoesNotWake(t *testing.T) {
	t.Parallel()
	gate := make(chan struct{})
	acq := &countingAcquirer{data: func(n int32) (any, error) {
		<-gate
		return int(n), nil
	}}
	w := New("early", acq, Options{})
	require.NoError(t, w.Start())
	defer func() {
		close(gate)
		w.Stop()
	}()

	_, ok := w.Get()
	require.False(t, ok)

	gate <- struct{}{}
	waitDataset(t, w)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, int32(1), acq.calls.Load())
}

func TestWorkerStaleReadDoesNotWake(t *testing.T) {
	t.Parallel()
	gate := make(chan struct{})
	acq := &countingAcquirer{data: func(n int32) (any, error) {
		<-gate
		return int(n), nil
	}}
	w := New("handoff", acq, Options{})
	require.NoError(t, w.Start())
	defer func() {
		close(gate)
		w.Stop()
	}()

	gate <- struct{}{}
	waitDataset(t, w)
	v, ok := w.Get()
	require.True(t, ok)
	require.Equal(t, 1, v)

	// The first read starts acquisition 2; a stale read must not queue a
	// third one.
	require.Eventually(t, func() bool { return acq.calls.Load() == 2 }, waitFor, tick)
	v, _ = w.Get()
	require.Equal(t, 1, v)

	gate <- struct{}{}
	require.Eventually(t, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.ds.Data == 2
	}, waitFor, tick)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, int32(2), acq.calls.Load())
}

func TestWorkerReadsAreCopies(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	acq := &countingAcquirer{data: func(n int32) (any, error) {
		if n > 1 {
			<-release
		}
		return map[string][]int{"a": {1, 2}}, nil
	}}
	w := New("copy", acq, Options{})
	require.NoError(t, w.Start())
	defer func() {
		close(release)
		w.Stop()
	}()
	waitDataset(t, w)

	v, _ := w.Get()
	m := v.(map[string][]int)
	m["a"][0] = 99
	m["b"] = nil

	v2, _ := w.Get()
	require.Equal(t, map[string][]int{"a": {1, 2}}, v2)
}

func TestWorkerErrorStoresNilDataset(t *testing.T) {
	t.Parallel()
	acq := &countingAcquirer{data: func(n int32) (any, error) {
		if n == 1 {
			return nil, errors.New("offline")
		}
		return "recovered", nil
	}}
	w := New("flaky", acq, Options{})
	require.NoError(t, w.Start())
	defer w.Stop()
	waitDataset(t, w)

	v, ok := w.Get()
	require.True(t, ok)
	require.Nil(t, v)
	require.NoError(t, w.Err())

	require.Eventually(t, func() bool {
		v, _ := w.Get()
		return v == "recovered"
	}, waitFor, tick)
}

func TestWorkerHaltOnError(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	acq := &countingAcquirer{data: func(int32) (any, error) { return nil, boom }}
	w := New("halting", acq, Options{HaltOnError: true})
	require.NoError(t, w.Start())

	select {
	case <-w.Done():
	case <-time.After(waitFor):
		t.Fatal("worker did not halt")
	}
	require.ErrorIs(t, w.Err(), boom)
	require.True(t, acq.cleaned.Load())
	require.Equal(t, int32(1), acq.calls.Load())

	v, ok := w.Get()
	require.True(t, ok)
	require.Nil(t, v)
	w.Stop()
}

func TestWorkerRecoversPanic(t *testing.T) {
	t.Parallel()
	acq := AcquireFunc(func(context.Context) (any, error) { panic("nope") })
	w := New("panicky", acq, Options{HaltOnError: true})
	require.NoError(t, w.Start())
	<-w.Done()
	require.ErrorIs(t, w.Err(), ErrAcquirePanic)
}

func TestWorkerStop(t *testing.T) {
	t.Parallel()
	acq := &countingAcquirer{}
	w := New("stop", acq, Options{})
	require.NoError(t, w.Start())
	require.ErrorIs(t, w.Start(), ErrAlreadyStarted)
	waitDataset(t, w)

	w.Stop()
	require.True(t, acq.cleaned.Load())
	calls := acq.calls.Load()

	// Reads after Stop still return the last dataset but never trigger
	// another acquisition.
	_, ok := w.Get()
	require.True(t, ok)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, calls, acq.calls.Load())
	w.Stop()
}

func TestWorkerStopBeforeStart(t *testing.T) {
	t.Parallel()
	acq := &countingAcquirer{}
	w := New("idle", acq, Options{})
	w.Stop()
	require.Zero(t, acq.calls.Load())
}

func TestWorkerStopCancelsAcquire(t *testing.T) {
	t.Parallel()
	acq := AcquireFunc(func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	w := New("blocked", acq, Options{HaltOnError: true})
	require.NoError(t, w.Start())

	stopped := make(chan struct{})
	go func() {
		w.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(waitFor):
		t.Fatal("Stop did not return")
	}
	require.NoError(t, w.Err())
}

func TestWorkerMinInterval(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	var starts []time.Time
	acq := AcquireFunc(func(context.Context) (any, error) {
		mu.Lock()
		starts = append(starts, time.Now())
		mu.Unlock()
		return 1, nil
	})
	w := New("limited", acq, Options{MinInterval: 50 * time.Millisecond})
	require.NoError(t, w.Start())
	defer w.Stop()
	waitDataset(t, w)

	w.Get()
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(starts) == 2
	}, waitFor, tick)

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, starts[1].Sub(starts[0]), 40*time.Millisecond)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
