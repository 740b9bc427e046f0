package sequence

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

const maxLineBytes = 1 << 20

// ParseFile reads and parses the description at path.
func ParseFile(path string) (*Program, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sequence file: %w", err)
	}
	defer f.Close()
	return Parse(f, path)
}

// Parse converts a description into instructions. name is only used for
// error messages.
func Parse(r io.Reader, name string) (*Program, error) {
	p := &parser{prog: &Program{Name: name}}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxLineBytes)
	lineno := 0
	for sc.Scan() {
		lineno++
		raw := sc.Text()
		if lineno == 1 {
			raw = strings.TrimPrefix(raw, "\ufeff")
		}
		if err := p.parseLine(lineno, raw); err != nil {
			return nil, err
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", displayName(name), err)
	}

	p.prog.Depth = len(p.open)
	if len(p.open) > 0 {
		// Report the outermost block that was never closed.
		first := p.open[0]
		return nil, &ParseError{Name: name, Line: first.line, Text: first.text, Err: ErrRepeatBegin}
	}
	return p.prog, nil
}

type openRepeat struct {
	line int
	text string
}

type parser struct {
	prog *Program
	open []openRepeat
}

func (p *parser) fail(lineno int, raw string, err error) error {
	return &ParseError{Name: p.prog.Name, Line: lineno, Text: raw, Err: err}
}

func (p *parser) parseLine(lineno int, raw string) error {
	line := raw
	if idx := strings.IndexByte(line, '#'); idx >= 0 {
		line = line[:idx]
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	cmd, rest := splitCommand(line)
	in := Instruction{Line: lineno}

	switch cmd {
	case "i", "f":
		if rest == "" {
			return p.fail(lineno, raw, ErrMissingArgument)
		}
		in.Kind = KindInit
		if cmd == "f" {
			in.Kind = KindFini
		}
		in.Expr = rest

	case "s":
		delay, expr, err := leadingFloats(rest, 1)
		if err != nil {
			return p.fail(lineno, raw, err)
		}
		in.Kind = KindSingle
		in.Delay = delay[0]
		in.Expr = expr

	case "p", "P":
		n := 1
		if cmd == "P" {
			n = 2
		}
		nums, expr, err := leadingFloats(rest, n)
		if err != nil {
			return p.fail(lineno, raw, err)
		}
		in.Kind = KindPeriodic
		in.Delay = nums[0]
		if n == 2 {
			in.Offset = nums[1]
		}
		in.Expr = expr
		if in.Delay <= 0 {
			return p.fail(lineno, raw, ErrBadPeriod)
		}
		if math.Abs(in.Offset) >= in.Delay {
			return p.fail(lineno, raw, ErrOffsetTooLarge)
		}

	case "l":
		if rest == "" {
			return p.fail(lineno, raw, ErrMissingArgument)
		}
		in.Kind = KindLoadResource
		in.Path = rest

	case "r":
		field, tail := nextField(rest)
		if field == "" {
			return p.fail(lineno, raw, ErrMissingArgument)
		}
		if tail != "" {
			return p.fail(lineno, raw, ErrUnexpectedArg)
		}
		count, err := parseFloat(field)
		if err != nil {
			return p.fail(lineno, raw, err)
		}
		if count < 0 {
			return p.fail(lineno, raw, ErrNegativeRepeats)
		}
		in.Kind = KindRepeatBegin
		in.Count = count
		p.open = append(p.open, openRepeat{line: lineno, text: raw})

	case "R":
		if rest != "" {
			return p.fail(lineno, raw, ErrUnexpectedArg)
		}
		if len(p.open) == 0 {
			return p.fail(lineno, raw, ErrRepeatEnd)
		}
		in.Kind = KindRepeatEnd
		p.open = p.open[:len(p.open)-1]

	default:
		return p.fail(lineno, raw, fmt.Errorf("%w %q", ErrUnknownCommand, cmd))
	}

	p.prog.Instructions = append(p.prog.Instructions, in)
	return nil
}

// splitCommand returns the first whitespace delimited token and the rest of
// the line with leading whitespace removed.
func splitCommand(line string) (string, string) {
	idx := strings.IndexAny(line, " \t")
	if idx < 0 {
		return line, ""
	}
	return line[:idx], strings.TrimSpace(line[idx:])
}

func isSep(r rune) bool { return r == ' ' || r == '\t' || r == ',' }

// nextField cuts one whitespace or comma delimited field off s.
func nextField(s string) (string, string) {
	s = strings.TrimLeftFunc(s, isSep)
	idx := strings.IndexFunc(s, isSep)
	if idx < 0 {
		return s, ""
	}
	return s[:idx], strings.TrimLeftFunc(s[idx:], isSep)
}

// leadingFloats reads n numeric fields and returns the remaining text as
// the expression, which must not be empty.
func leadingFloats(s string, n int) ([]float64, string, error) {
	out := make([]float64, 0, n)
	rest := s
	for i := 0; i < n; i++ {
		var field string
		field, rest = nextField(rest)
		if field == "" {
			return nil, "", ErrMissingArgument
		}
		v, err := parseFloat(field)
		if err != nil {
			return nil, "", err
		}
		out = append(out, v)
	}
	if rest == "" {
		return nil, "", ErrMissingArgument
	}
	return out, rest, nil
}

func parseFloat(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %q", ErrBadFloat, s)
	}
	return v, nil
}

func displayName(name string) string {
	if name == "" {
		return "<input>"
	}
	return name
}
