package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"trace":   LevelTrace,
		"DEBUG":   LevelDebug,
		" info ":  LevelInfo,
		"warning": LevelWarn,
		"error":   LevelError,
		"bogus":   LevelInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestStdLoggerFiltersAndFormats(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "[test] ", LevelInfo)

	l.Debug("hidden", "k", "v")
	l.Info("lookup done", "entities", 3, "dangling")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.True(t, strings.HasPrefix(out, "[test] "))
	assert.Contains(t, out, "INFO lookup done entities=3 dangling=(MISSING)")
}

func TestDiscardDropsEverything(t *testing.T) {
	l := Discard()
	assert.NotPanics(t, func() { l.Error("nothing", "k", "v") })
}

func TestNewDefaultsToStderr(t *testing.T) {
	l := New(nil, "", LevelError)
	assert.NotNil(t, l.logger)
}
