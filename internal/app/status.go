package app

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"qseq/internal/eventbus"
	"qseq/internal/schedule"
)

// Step states shown by the schedule board.
const (
	stateWaiting = "waiting"
	stateDone    = "done"
	stateFailed  = "failed"
)

type stepView struct {
	Index  int     `json:"index"`
	At     float64 `json:"at"`
	Line   int     `json:"line,omitempty"`
	Expr   string  `json:"expr"`
	Status string  `json:"status"`
	TookMS float64 `json:"took_ms,omitempty"`
	Error  string  `json:"error,omitempty"`
}

type boardView struct {
	Sequence string     `json:"sequence"`
	RunID    string     `json:"run_id,omitempty"`
	Started  *time.Time `json:"started,omitempty"`
	Running  bool       `json:"running"`
	Steps    []stepView `json:"steps"`
}

// board tracks the state of every step of the current run from bus
// events and serves it as JSON.
type board struct {
	mu   sync.Mutex
	view boardView
}

func newBoard(sequence string) *board {
	return &board{view: boardView{Sequence: sequence, Steps: []stepView{}}}
}

// load resets the board to sched with every step waiting.
func (b *board) load(sched *schedule.Schedule) {
	steps := make([]stepView, len(sched.Steps))
	for i, st := range sched.Steps {
		steps[i] = stepView{Index: i, At: st.At, Line: st.Line, Expr: st.Expr, Status: stateWaiting}
	}
	b.mu.Lock()
	b.view.RunID = ""
	b.view.Started = nil
	b.view.Running = false
	b.view.Steps = steps
	b.mu.Unlock()
}

func (b *board) apply(e eventbus.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch d := e.Data.(type) {
	case eventbus.RunInfo:
		switch e.Type {
		case eventbus.TypeRunStarted:
			t := e.Time
			b.view.RunID = d.RunID
			b.view.Started = &t
			b.view.Running = true
		case eventbus.TypeRunDone:
			if d.RunID == b.view.RunID {
				b.view.Running = false
			}
		}
	case eventbus.StepInfo:
		if d.Phase != "step" || d.RunID != b.view.RunID || d.Index < 0 || d.Index >= len(b.view.Steps) {
			return
		}
		sv := &b.view.Steps[d.Index]
		sv.Status = stateDone
		sv.TookMS = float64(d.Took) / float64(time.Millisecond)
		sv.Error = d.Err
		if d.Err != "" {
			sv.Status = stateFailed
		}
	}
}

func (b *board) snapshot() boardView {
	b.mu.Lock()
	defer b.mu.Unlock()
	v := b.view
	v.Steps = append([]stepView(nil), b.view.Steps...)
	return v
}

// follow applies events until ctx ends or events is closed.
func (b *board) follow(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			b.apply(e)
		}
	}
}

func (b *board) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(b.snapshot())
}
