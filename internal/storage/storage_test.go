package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	logx "qseq/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		require.NoError(t, err)
		require.Nil(t, st)
	}
	_, err := Open(Config{Driver: "postgres"}, logx.Nop())
	require.ErrorContains(t, err, "unknown storage driver")
	_, err = Open(Config{Driver: "file"}, logx.Nop())
	require.Error(t, err)
}

func TestDrivers(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"file", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			st, err := Open(Config{Driver: driver, Path: filepath.Join(t.TempDir(), "data", "qseq.db")}, logx.Nop())
			require.NoError(t, err)
			defer st.Close()

			ctx := context.Background()
			at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
			want := []Event{
				{RunID: "r1", At: at, Offset: 0, Source: "temp", Header: true, Fields: []string{"sensor", "value"}},
				{RunID: "r1", At: at.Add(time.Second), Offset: 1.5, Source: "temp", Fields: []string{"a", "21.5"}},
			}
			for _, e := range want {
				require.NoError(t, st.AppendEvent(ctx, e))
			}
			require.NoError(t, st.AppendEvent(ctx, Event{RunID: "r2", At: at, Source: "other", Fields: []string{}}))
			require.NoError(t, st.RecordRun(ctx, Run{RunID: "r1", Sequence: "seq.txt", Started: at, Finished: at.Add(time.Minute), Steps: 3, Failed: 1}))

			got, err := st.Events(ctx, "r1")
			require.NoError(t, err)
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatalf("events mismatch (-want +got):\n%s", diff)
			}

			none, err := st.Events(ctx, "missing")
			require.NoError(t, err)
			require.Empty(t, none)
		})
	}
}

func TestFileStoreClosed(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "q.db")}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, st.Close())
	require.ErrorIs(t, st.AppendEvent(context.Background(), Event{}), ErrClosed)
	require.ErrorIs(t, st.RecordRun(context.Background(), Run{}), ErrClosed)
}
