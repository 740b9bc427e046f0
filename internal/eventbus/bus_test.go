package eventbus

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublishFanout(t *testing.T) {
	t.Parallel()
	b := New()
	a, unsubA := b.Subscribe(2)
	c, unsubC := b.Subscribe(2)
	defer unsubC()

	b.Publish(Event{Type: TypeRunStarted, Data: RunInfo{RunID: "r1"}})
	for _, ch := range []<-chan Event{a, c} {
		e := <-ch
		require.Equal(t, TypeRunStarted, e.Type)
		require.False(t, e.Time.IsZero())
		require.Equal(t, "r1", e.Data.(RunInfo).RunID)
	}

	unsubA()
	unsubA()
	_, ok := <-a
	require.False(t, ok)

	// Publishing after an unsubscribe must not panic.
	b.Publish(Event{Type: TypeRunDone})
	require.Equal(t, TypeRunDone, (<-c).Type)
}

func TestPublishDropsWhenFull(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: TypeStepDone})
	b.Publish(Event{Type: TypeStepDone})
	b.Publish(Event{Type: TypeStepDone})
	require.Equal(t, uint64(2), b.Dropped())
	require.Len(t, ch, 1)
}
