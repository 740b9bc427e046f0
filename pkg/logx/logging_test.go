package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestZeroLoggerIsNoop(t *testing.T) {
	var l Logger
	require.True(t, l.IsZero())
	l.Info("dropped", String("k", "v"))
}

func TestJSONLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewJSON(&buf, "debug").With(String("component", "test"))
	l.Warn("hello", Int("n", 3), Err(errors.New("boom")))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec))
	require.Equal(t, "warn", rec["level"])
	require.Equal(t, "hello", rec["message"])
	require.Equal(t, "test", rec["component"])
	require.EqualValues(t, 3, rec["n"])
	require.Equal(t, "boom", rec["err"])
	caller, _ := rec["caller"].(string)
	require.True(t, strings.HasPrefix(caller, "logging_test.go:"), caller)
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewJSON(&buf, "warn")
	l.Info("skip")
	require.Zero(t, buf.Len())
	require.False(t, l.Enabled(LevelDebug))
	require.True(t, l.Enabled(LevelError))
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, LevelWarn, parseLevel("warning", LevelInfo))
	require.Equal(t, LevelInfo, parseLevel("bogus", LevelInfo))
	require.Equal(t, LevelTrace, parseLevel(" trace ", LevelInfo))
}
