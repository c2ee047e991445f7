package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"info":    zapcore.InfoLevel,
		"":        zapcore.InfoLevel,
		"WARN":    zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		" error ": zapcore.ErrorLevel,
	}
	for s, lvl := range cases {
		got, ok := ParseLogLevel(s)
		require.True(t, ok, s)
		require.Equal(t, lvl, got, s)
	}

	_, ok := ParseLogLevel("verbose")
	require.False(t, ok)
}

func TestNewHonorsLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := New(&buf, zapcore.WarnLevel).Named("valve").With("valve", "solar")

	l.Debugf("hidden %d", 1)
	l.Warnf("write pin %d failed", 4)

	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, "write pin 4 failed")
	require.Contains(t, out, "valve")
	require.Contains(t, out, "solar")
	require.Contains(t, out, "WARN")
}
