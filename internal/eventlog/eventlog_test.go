package eventlog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"qseq/internal/storage"
	logx "qseq/pkg/logx"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestLog(sinks ...Sink) (*Log, *fakeClock) {
	clk := &fakeClock{t: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)}
	return New(Options{RunID: "run-1", Now: clk.now}, sinks...), clk
}

func TestCSVOutput(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	l, clk := newTestLog(NewCSVSink(&buf))

	l.Header("temp", "sensor", "celsius")
	l.Header("temp", "ignored")
	clk.t = clk.t.Add(1500 * time.Millisecond)
	l.Write("temp", "a, b", 21.5)
	clk.t = clk.t.Add(time.Microsecond)
	l.Write("temp", `say "hi", \o/`, 3)
	l.Write("other")

	want := "temp,HEADER,sensor,celsius\n" +
		"temp,1.500000,\"a, b\",21.5\n" +
		`temp,1.500001,"say \"hi\", \\o/",3` + "\n" +
		"other,1.500001\n"
	require.Equal(t, want, buf.String())
}

func TestQuoteOnlyWithComma(t *testing.T) {
	t.Parallel()
	require.Equal(t, `plain "quoted" \path`, quote(`plain "quoted" \path`))
	require.Equal(t, `"x,y"`, quote("x,y"))
}

func TestTimestamp(t *testing.T) {
	t.Parallel()
	l, clk := newTestLog()
	require.Zero(t, l.Timestamp())
	clk.t = clk.t.Add(2 * time.Second)
	require.Equal(t, 2.0, l.Timestamp())
	require.Equal(t, clk.t.Add(-2*time.Second), l.Epoch())
}

type failingSink struct{ calls int }

func (f *failingSink) Emit(Record) error {
	f.calls++
	return errors.New("sink down")
}

func TestSinkErrorsAreLogged(t *testing.T) {
	t.Parallel()
	var logs, out bytes.Buffer
	bad := &failingSink{}
	l := New(Options{Log: logx.NewJSON(&logs, "debug")}, bad, NewCSVSink(&out))

	l.Write("s", 1)
	require.Equal(t, 1, bad.calls)
	require.Contains(t, out.String(), "s,")
	require.Contains(t, logs.String(), "sink down")
}

func TestCSVFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "out", "events.csv")
	sink, err := OpenCSVFile(path)
	require.NoError(t, err)

	l, _ := newTestLog(sink)
	l.Header("x", "v")
	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close())
	require.ErrorIs(t, sink.Emit(Record{}), os.ErrClosed)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "x,HEADER,v\n", string(b))
}

type fakePublisher struct {
	subjects []string
	payloads [][]byte
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, data)
	return nil
}

func TestNATSSink(t *testing.T) {
	t.Parallel()
	pub := &fakePublisher{}
	l, clk := newTestLog(NewNATSSink(pub, "lab.events."))

	l.Header("room.temp", "value")
	clk.t = clk.t.Add(time.Second)
	l.Write("room.temp", 20)

	require.Equal(t, []string{"lab.events.room_temp", "lab.events.room_temp"}, pub.subjects)

	var rec Record
	require.NoError(t, json.Unmarshal(pub.payloads[1], &rec))
	require.Equal(t, "run-1", rec.RunID)
	require.Equal(t, "room.temp", rec.Source)
	require.Equal(t, 1.0, rec.Offset)
	require.Equal(t, []string{"20"}, rec.Fields)
	require.False(t, rec.Header)

	require.Equal(t, "qseq.events._", NewNATSSink(pub, "").Subject(""))
}

func TestStoreSink(t *testing.T) {
	t.Parallel()
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "ev.db")}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	l, clk := newTestLog(NewStoreSink(st, 0))
	l.Header("s", "a")
	clk.t = clk.t.Add(250 * time.Millisecond)
	l.Write("s", 1)

	evs, err := st.Events(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, evs, 2)
	require.True(t, evs[0].Header)
	require.Equal(t, 0.25, evs[1].Offset)
	require.Equal(t, []string{"1"}, evs[1].Fields)

	require.ErrorIs(t, NewStoreSink(nil, 0).Emit(Record{}), storage.ErrDisabled)
}
