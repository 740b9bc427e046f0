package datacache

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	t.Parallel()
	r := NewRegistry(context.Background(), Options{})

	a := &countingAcquirer{}
	w, err := r.Register("a", a)
	require.NoError(t, err)
	_, err = r.Register("b", AcquireFunc(func(context.Context) (any, error) { return "b", nil }))
	require.NoError(t, err)

	_, err = r.Register("a", a)
	require.ErrorIs(t, err, ErrExists)
	_, err = r.Register("", a)
	require.ErrorIs(t, err, ErrNoName)

	got, err := r.Get("a")
	require.NoError(t, err)
	require.Same(t, w, got)
	_, err = r.Get("zzz")
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, []string{"a", "b"}, r.Names())

	waitDataset(t, w)
	require.NoError(t, r.StopAll())
	require.True(t, a.cleaned.Load())

	_, err = r.Register("c", a)
	require.ErrorIs(t, err, ErrStopped)
}

func TestRegistryReportsHaltError(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	r := NewRegistry(context.Background(), Options{HaltOnError: true})
	w, err := r.Register("bad", AcquireFunc(func(context.Context) (any, error) { return nil, boom }))
	require.NoError(t, err)
	<-w.Done()

	err = r.StopAll()
	require.ErrorIs(t, err, boom)
	require.ErrorContains(t, err, "cache bad")
}

func TestRegistryContextCancelStopsWorkers(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	r := NewRegistry(ctx, Options{})
	w, err := r.Register("a", &countingAcquirer{})
	require.NoError(t, err)

	cancel()
	<-w.Done()
	require.NoError(t, r.StopAll())
}
