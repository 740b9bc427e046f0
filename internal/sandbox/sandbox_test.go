package sandbox

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	logx "qseq/pkg/logx"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "res.go")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func newEnv(t *testing.T, log logx.Logger) *Environment {
	t.Helper()
	env, err := New(Config{}, log)
	require.NoError(t, err)
	return env
}

const mathScript = `package main

import "errors"

func add(a, b int) int { return a + b }

func fail() error { return errors.New("boom") }

func explode() { panic("kaboom") }

func read() (int, error) { return 0, errors.New("sensor offline") }

func readOK() (int, error) { return 7, nil }
`

func TestInvokeResourceFunction(t *testing.T) {
	t.Parallel()
	env := newEnv(t, logx.Nop())
	require.NoError(t, env.LoadResource(writeScript(t, mathScript)))

	res, err := env.Invoke(context.Background(), "add(2, 3)")
	require.NoError(t, err)
	require.Equal(t, 5, res)
	require.Len(t, env.Resources(), 1)
}

func TestInvokeUsesBindings(t *testing.T) {
	t.Parallel()
	env := newEnv(t, logx.Nop())

	var got []string
	require.NoError(t, env.InjectBinding("Record", func(s string) { got = append(got, s) }))
	require.NoError(t, env.LoadResource(writeScript(t, `package main

func mark(n string) { Record("mark:" + n) }
`)))

	_, err := env.Invoke(context.Background(), `mark("a")`)
	require.NoError(t, err)
	_, err = env.Invoke(context.Background(), `Record("direct")`)
	require.NoError(t, err)
	require.Equal(t, []string{"mark:a", "direct"}, got)
}

func TestInvokeErrors(t *testing.T) {
	t.Parallel()
	env := newEnv(t, logx.Nop())
	require.NoError(t, env.LoadResource(writeScript(t, mathScript)))

	tests := []struct {
		name string
		expr string
	}{
		{name: "returned error", expr: "fail()"},
		{name: "trailing error", expr: "read()"},
		{name: "panic", expr: "explode()"},
		{name: "undefined", expr: "nothere()"},
		{name: "syntax", expr: "add(1,"},
		{name: "empty", expr: "   "},
	}
	for _, tt := range tests {
		_, err := env.Invoke(context.Background(), tt.expr)
		require.ErrorIs(t, err, ErrInvocation, tt.name)
	}

	_, err := env.Invoke(context.Background(), "read()")
	require.ErrorContains(t, err, "sensor offline")

	// The environment stays usable after failures.
	res, err := env.Invoke(context.Background(), "add(1, 1)")
	require.NoError(t, err)
	require.Equal(t, 2, res)

	res, err = env.Invoke(context.Background(), "readOK()")
	require.NoError(t, err)
	require.Equal(t, 7, res)
}

func TestInvokeCallableWarns(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	env := newEnv(t, logx.NewJSON(&buf, "debug"))
	require.NoError(t, env.LoadResource(writeScript(t, mathScript)))

	_, err := env.Invoke(context.Background(), "add")
	require.NoError(t, err)
	require.Contains(t, buf.String(), "forgot function call?")
}

func TestInvokeCancelled(t *testing.T) {
	t.Parallel()
	env := newEnv(t, logx.Nop())
	require.NoError(t, env.LoadResource(writeScript(t, `package main

import "time"

func slow() { time.Sleep(500 * time.Millisecond) }
`)))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := env.Invoke(ctx, "slow()")
	require.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
	require.NotErrorIs(t, err, ErrInvocation)
}

func TestLoadResourceErrors(t *testing.T) {
	t.Parallel()
	env := newEnv(t, logx.Nop())

	err := env.LoadResource(filepath.Join(t.TempDir(), "missing.go"))
	require.ErrorIs(t, err, ErrResourceLoad)

	err = env.LoadResource(writeScript(t, "  \n"))
	require.ErrorIs(t, err, ErrResourceLoad)

	err = env.LoadResource(writeScript(t, "package main\n\nfunc broken( {\n"))
	require.ErrorIs(t, err, ErrResourceLoad)

	require.Empty(t, env.Resources())
}

func TestStdlibAllowlist(t *testing.T) {
	t.Parallel()
	env := newEnv(t, logx.Nop())
	err := env.LoadResource(writeScript(t, `package main

import "os"

func bye() { os.Exit(1) }
`))
	require.ErrorIs(t, err, ErrResourceLoad)

	syms := stdlibSymbols([]string{"*"})
	for _, key := range []string{
		"os/os", "os/exec/exec", "net/http/http", "net/smtp/smtp", "net/rpc/rpc",
		"net/http/httputil/httputil", "path/filepath/filepath", "archive/zip/zip",
		"debug/elf/elf", "crypto/tls/tls", "log/syslog/syslog", "runtime/debug/debug",
	} {
		require.NotContains(t, syms, key)
	}
	require.Contains(t, syms, "fmt/fmt")
	require.Contains(t, syms, "encoding/json/json")
	require.NotContains(t, stdlibSymbols([]string{"path/filepath", "net/smtp"}), "path/filepath/filepath")

	wide, err := New(Config{Stdlib: []string{"*"}}, logx.Nop())
	require.NoError(t, err)
	for imp, use := range map[string]string{"path/filepath": "filepath.Glob", "net/smtp": "smtp.Dial"} {
		src := "package main\n\nimport \"" + imp + "\"\n\nvar f = " + use + "\n"
		require.ErrorIs(t, wide.LoadResource(writeScript(t, src)), ErrResourceLoad, imp)
	}

	require.Empty(t, stdlibSymbols([]string{}))
	require.Contains(t, stdlibSymbols(nil), "strings/strings")
	require.NotContains(t, stdlibSymbols(nil), "net/net")
}

func TestInjectBindingValidation(t *testing.T) {
	t.Parallel()
	env := newEnv(t, logx.Nop())
	require.ErrorIs(t, env.InjectBinding("not valid", 1), ErrBadBinding)
	require.ErrorIs(t, env.InjectBinding("_", 1), ErrBadBinding)
	require.ErrorIs(t, env.InjectBinding("Nil", nil), ErrBadBinding)
	require.NoError(t, env.InjectBinding("StartTimestamp", 12.5))

	res, err := env.Invoke(context.Background(), "StartTimestamp")
	require.NoError(t, err)
	require.Equal(t, 12.5, res)
}
