package sequence

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func parseString(t *testing.T, src string) (*Program, error) {
	t.Helper()
	return Parse(strings.NewReader(src), "")
}

func TestParseCommands(t *testing.T) {
	t.Parallel()
	src := `# demo sequence
l resources/demo.go
i setup("a, b")   # comment after init
f teardown()

s 10 step(1, 2)
s 2.5, other()
p 5 poll()
P 5 1 poll("x")
P 4,-1,shifted()
r 3
R
`
	prog, err := parseString(t, src)
	require.NoError(t, err)
	require.Zero(t, prog.Depth)

	want := []Instruction{
		{Kind: KindLoadResource, Line: 2, Path: "resources/demo.go"},
		{Kind: KindInit, Line: 3, Expr: `setup("a, b")`},
		{Kind: KindFini, Line: 4, Expr: "teardown()"},
		{Kind: KindSingle, Line: 6, Delay: 10, Expr: "step(1, 2)"},
		{Kind: KindSingle, Line: 7, Delay: 2.5, Expr: "other()"},
		{Kind: KindPeriodic, Line: 8, Delay: 5, Expr: "poll()"},
		{Kind: KindPeriodic, Line: 9, Delay: 5, Offset: 1, Expr: `poll("x")`},
		{Kind: KindPeriodic, Line: 10, Delay: 4, Offset: -1, Expr: "shifted()"},
		{Kind: KindRepeatBegin, Line: 11, Count: 3},
		{Kind: KindRepeatEnd, Line: 12},
	}
	if diff := cmp.Diff(want, prog.Instructions); diff != "" {
		t.Fatalf("instructions mismatch (-want +got):\n%s", diff)
	}
}

func TestParseCommentsAndBlankLines(t *testing.T) {
	t.Parallel()
	prog, err := parseString(t, "\n   \n# only a comment\n\t# indented\n")
	require.NoError(t, err)
	require.Empty(t, prog.Instructions)
}

func TestParseErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		src  string
		line int
		want error
	}{
		{name: "bad single delay", src: "s abc m()", line: 1, want: ErrBadFloat},
		{name: "bad periodic offset", src: "P 5 x m()", line: 1, want: ErrBadFloat},
		{name: "infinite delay", src: "s inf m()", line: 1, want: ErrBadFloat},
		{name: "offset equals delay", src: "P 5 5 m()", line: 1, want: ErrOffsetTooLarge},
		{name: "negative offset too large", src: "P 5 -6 m()", line: 1, want: ErrOffsetTooLarge},
		{name: "zero period", src: "p 0 m()", line: 1, want: ErrBadPeriod},
		{name: "negative period", src: "\np -1 m()", line: 2, want: ErrBadPeriod},
		{name: "missing expression", src: "s 5", line: 1, want: ErrMissingArgument},
		{name: "missing init", src: "i", line: 1, want: ErrMissingArgument},
		{name: "missing path", src: "l   # nothing", line: 1, want: ErrMissingArgument},
		{name: "unknown command", src: "s 1 a()\nx foo()", line: 2, want: ErrUnknownCommand},
		{name: "unmatched end", src: "s 1 a()\nR", line: 2, want: ErrRepeatEnd},
		{name: "end with argument", src: "r 2\nR 2", line: 2, want: ErrUnexpectedArg},
		{name: "dangling begin", src: "r 2\ns 1 a()\n", line: 1, want: ErrRepeatBegin},
		{name: "nested dangling begin", src: "r 2\nr 3\nR\n", line: 1, want: ErrRepeatBegin},
		{name: "negative repeat", src: "r -1\nR", line: 1, want: ErrNegativeRepeats},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := parseString(t, tt.src)
			require.Error(t, err)
			require.ErrorIs(t, err, tt.want)

			var perr *ParseError
			require.True(t, errors.As(err, &perr))
			require.Equal(t, tt.line, perr.Line)
			require.Contains(t, err.Error(), "at line")
		})
	}
}

func TestParseErrorCarriesLineText(t *testing.T) {
	t.Parallel()
	_, err := parseString(t, "s 1 ok()\ns nope m()  # bad\n")
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, "s nope m()  # bad", perr.Text)
	require.Equal(t, `ParseError: could not convert to float: "nope" at line 2`, perr.Error())
}

func TestParseFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "seq.txt")
	require.NoError(t, os.WriteFile(path, []byte("\ufeffs 1 a()\n"), 0o644))

	prog, err := ParseFile(path)
	require.NoError(t, err)
	require.Len(t, prog.Instructions, 1)
	require.Equal(t, path, prog.Name)

	_, err = parseString(t, "s x a()")
	require.NotContains(t, err.Error(), path)

	_, err = ParseFile(filepath.Join(t.TempDir(), "missing.txt"))
	require.Error(t, err)
}

func TestKindString(t *testing.T) {
	t.Parallel()
	require.Equal(t, "periodic", KindPeriodic.String())
	require.Equal(t, "kind(42)", Kind(42).String())
}
