// Package schedule compiles parsed sequence instructions into a time
// ordered list of steps.
package schedule

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"qseq/internal/sequence"
	"qseq/pkg/frange"
	logx "qseq/pkg/logx"
)

var (
	ErrUnsupported   = errors.New("repeats not supported yet")
	ErrInvalidPeriod = errors.New("periodic delay must be positive")
)

// Step is one timed evaluation. At is seconds from the run start.
type Step struct {
	At   float64
	Expr string
	Line int
}

func (s Step) Offset() time.Duration { return seconds(s.At) }

// Schedule is the compiled form of a sequence description.
type Schedule struct {
	Steps     []Step
	Init      []string
	Fini      []string
	Resources []string

	// RunTime is the sum of all single step delays.
	RunTime float64
}

func (s *Schedule) Duration() time.Duration { return seconds(s.RunTime) }

// Build turns instructions into a Schedule.
//
// Single steps fire at the running sum of their delays. Periodic steps fire
// at offset+delay, offset+2*delay, ... and never after the last single step.
func Build(instrs []sequence.Instruction) (*Schedule, error) {
	sched := &Schedule{}
	for _, in := range instrs {
		if in.Kind == sequence.KindSingle {
			sched.RunTime += in.Delay
		}
	}

	ts := 0.0
	for _, in := range instrs {
		switch in.Kind {
		case sequence.KindInit:
			sched.Init = append(sched.Init, in.Expr)
		case sequence.KindFini:
			sched.Fini = append(sched.Fini, in.Expr)
		case sequence.KindSingle:
			ts += in.Delay
			sched.Steps = append(sched.Steps, Step{At: ts, Expr: in.Expr, Line: in.Line})
		case sequence.KindPeriodic:
			if in.Delay <= 0 {
				return nil, fmt.Errorf("line %d: %w", in.Line, ErrInvalidPeriod)
			}
			r, err := frange.New(in.Offset, sched.RunTime, in.Delay)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", in.Line, err)
			}
			for at := range r.Values() {
				at += in.Delay
				// Fire times lie strictly inside the run.
				if at >= sched.RunTime {
					break
				}
				sched.Steps = append(sched.Steps, Step{At: at, Expr: in.Expr, Line: in.Line})
			}
		case sequence.KindLoadResource:
			sched.Resources = append(sched.Resources, in.Path)
		case sequence.KindRepeatBegin, sequence.KindRepeatEnd:
			return nil, fmt.Errorf("line %d: %w", in.Line, ErrUnsupported)
		default:
			return nil, fmt.Errorf("line %d: unexpected instruction %s", in.Line, in.Kind)
		}
	}

	slices.SortStableFunc(sched.Steps, func(a, b Step) int {
		switch {
		case a.At < b.At:
			return -1
		case a.At > b.At:
			return 1
		default:
			return 0
		}
	})
	return sched, nil
}

// Dump logs the compiled schedule at debug level.
func (s *Schedule) Dump(log logx.Logger) {
	if !log.Enabled(logx.LevelDebug) {
		return
	}
	for _, r := range s.Resources {
		log.Debug("resource file", logx.String("path", r))
	}
	for _, m := range s.Init {
		log.Debug("initialization", logx.String("expr", m))
	}
	for _, m := range s.Fini {
		log.Debug("finalization", logx.String("expr", m))
	}
	for _, st := range s.Steps {
		log.Debug("step", logx.String("at", fmt.Sprintf("%6.2f", st.At)), logx.String("expr", st.Expr))
	}
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
