package sequence

import (
	"errors"
	"fmt"
)

var (
	ErrBadFloat        = errors.New("could not convert to float")
	ErrOffsetTooLarge  = errors.New("offset is greater than or equal to delay for periodic command")
	ErrBadPeriod       = errors.New("periodic delay must be positive")
	ErrRepeatEnd       = errors.New("repeat end without begin")
	ErrRepeatBegin     = errors.New("repeat begin without end")
	ErrMissingArgument = errors.New("missing argument")
	ErrUnexpectedArg   = errors.New("unexpected argument")
	ErrUnknownCommand  = errors.New("unknown command")
	ErrNegativeRepeats = errors.New("repeat count must not be negative")
)

// ParseError reports a problem with a single description line.
type ParseError struct {
	Name string // file name, may be empty
	Line int
	Text string // raw line text without the trailing newline
	Err  error
}

func (e *ParseError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("ParseError: %v at %s line %d", e.Err, e.Name, e.Line)
	}
	return fmt.Sprintf("ParseError: %v at line %d", e.Err, e.Line)
}

func (e *ParseError) Unwrap() error { return e.Err }
