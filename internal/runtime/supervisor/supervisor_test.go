package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGoRecordsFirstError(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	boom := errors.New("boom")
	s.Go("fails", func(ctx context.Context) error { return boom })
	s.Go("clean", func(ctx context.Context) error { return context.Canceled })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := s.Stop(ctx)
	require.ErrorIs(t, err, boom)
	require.Contains(t, err.Error(), "fails")
	require.Equal(t, uint64(2), s.Counters().Started)
	require.Zero(t, s.Counters().Active)
}

func TestGoRecoversPanic(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), WithCancelOnError(true))
	s.Go0("panics", func(ctx context.Context) { panic("oops") })

	select {
	case <-s.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("context was not cancelled after panic")
	}
	require.ErrorContains(t, s.Wait(context.Background()), "panic in panics")
}

func TestGoRestartRetriesUntilNil(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	var calls atomic.Int32
	s.GoRestart("flaky", func(ctx context.Context) error {
		if calls.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, WithRestartBackoff(time.Millisecond, 2*time.Millisecond))

	require.Eventually(t, func() bool { return s.Counters().Active == 0 }, time.Second, 5*time.Millisecond)
	require.Equal(t, int32(3), calls.Load())
	require.NoError(t, s.Stop(context.Background()))
}

func TestGoRestartGivesUp(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	s.GoRestart("broken", func(ctx context.Context) error {
		return errors.New("always")
	}, WithRestartBackoff(time.Millisecond, time.Millisecond), WithMaxRestarts(2))

	require.Eventually(t, func() bool { return s.Err() != nil }, time.Second, 5*time.Millisecond)
	require.ErrorContains(t, s.Stop(context.Background()), "broken: always")
}
