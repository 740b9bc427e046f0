// Package eventlog records named, timestamped events emitted by sequence
// scripts and fans them out to sinks (CSV, storage, NATS).
//
// Every source may declare one header row; later declarations for the same
// source are ignored. Timestamps are seconds since the log's epoch, which
// is the start of the run.
package eventlog

import (
	"fmt"
	"sync"
	"time"

	"qseq/internal/observability/metrics"
	logx "qseq/pkg/logx"
)

// HeaderMarker takes the place of the timestamp in header rows.
const HeaderMarker = "HEADER"

// Record is one header or data row.
type Record struct {
	RunID  string    `json:"run_id,omitempty"`
	Source string    `json:"source"`
	Header bool      `json:"header,omitempty"`
	At     time.Time `json:"at"`
	Offset float64   `json:"offset"`
	Fields []string  `json:"fields"`
}

// Sink receives records in write order. Emit is called with the log's
// lock held, so sinks need no locking of their own for ordering.
type Sink interface {
	Emit(r Record) error
}

type Options struct {
	RunID string
	// Epoch is the run start. Zero means the time New was called.
	Epoch   time.Time
	Now     func() time.Time
	Log     logx.Logger
	Metrics *metrics.Metrics
}

type Log struct {
	mu      sync.Mutex
	sinks   []Sink
	headers map[string]struct{}

	runID   string
	epoch   time.Time
	now     func() time.Time
	log     logx.Logger
	metrics *metrics.Metrics
}

func New(opts Options, sinks ...Sink) *Log {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Epoch.IsZero() {
		opts.Epoch = opts.Now()
	}
	if opts.Log.IsZero() {
		opts.Log = logx.Nop()
	}
	return &Log{
		sinks:   sinks,
		headers: map[string]struct{}{},
		runID:   opts.RunID,
		epoch:   opts.Epoch,
		now:     opts.Now,
		log:     opts.Log.With(logx.String("comp", "eventlog")),
		metrics: opts.Metrics,
	}
}

func (l *Log) Epoch() time.Time { return l.epoch }

// Timestamp returns the seconds elapsed since the epoch.
func (l *Log) Timestamp() float64 {
	return l.now().Sub(l.epoch).Seconds()
}

// Header emits a header row for source unless one was emitted before.
func (l *Log) Header(source string, fields ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.headers[source]; ok {
		return
	}
	l.headers[source] = struct{}{}
	l.emit(Record{RunID: l.runID, Source: source, Header: true, At: l.now(), Fields: stringify(fields)})
}

// Write emits a data row for source stamped with the current offset.
func (l *Log) Write(source string, fields ...any) {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.emit(Record{
		RunID:  l.runID,
		Source: source,
		At:     now,
		Offset: now.Sub(l.epoch).Seconds(),
		Fields: stringify(fields),
	})
	l.metrics.EventWritten(source)
}

func (l *Log) emit(r Record) {
	for _, s := range l.sinks {
		if err := s.Emit(r); err != nil {
			l.log.Warn("event sink failed", logx.String("sink", fmt.Sprintf("%T", s)), logx.String("source", r.Source), logx.Err(err))
		}
	}
}

func stringify(items []any) []string {
	out := make([]string, len(items))
	for i, v := range items {
		out[i] = fmt.Sprint(v)
	}
	return out
}
