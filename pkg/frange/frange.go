// Package frange enumerates floating point values between two bounds.
package frange

import (
	"errors"
	"iter"
)

var ErrZeroStep = errors.New("frange: step must not be zero")

// Range is a finite, restartable float sequence from Start toward Stop
// (exclusive) in increments of Step.
type Range struct {
	Start float64
	Stop  float64
	Step  float64
}

func New(start, stop, step float64) (Range, error) {
	if step == 0 {
		return Range{}, ErrZeroStep
	}
	return Range{Start: start, Stop: stop, Step: step}, nil
}

// Values yields the sequence lazily. Each call starts over from Start.
//
// The sequence is empty when Step points away from Stop or Start == Stop.
func (r Range) Values() iter.Seq[float64] {
	return func(yield func(float64) bool) {
		if r.Step == 0 {
			return
		}
		switch {
		case r.Start < r.Stop:
			if r.Step < 0 {
				return
			}
			for cur := r.Start; cur < r.Stop; cur += r.Step {
				if !yield(cur) {
					return
				}
			}
		case r.Start > r.Stop:
			if r.Step > 0 {
				return
			}
			for cur := r.Start; cur > r.Stop; cur += r.Step {
				if !yield(cur) {
					return
				}
			}
		}
	}
}

func (r Range) Slice() []float64 {
	var out []float64
	for v := range r.Values() {
		out = append(out, v)
	}
	return out
}
