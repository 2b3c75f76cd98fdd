package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  Level
	}{
		{"debug", LevelDebug},
		{"DEBUG", LevelDebug},
		{" warn ", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"info", LevelInfo},
		{"", LevelInfo},
		{"verbose", LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.input), "input %q", tt.input)
	}
}

func TestNewLogger_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, LevelWarn)

	logger.Info("quiet")
	assert.Empty(t, buf.String())

	logger.Warn("loud")
	assert.Contains(t, buf.String(), "loud")
}

func TestWriter_ForwardsLines(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(NewLogger(&buf, LevelInfo))

	n, err := w.Write([]byte("installing nginx\n"))
	require.NoError(t, err)
	assert.Equal(t, len("installing nginx\n"), n)
	assert.Contains(t, buf.String(), "installing nginx")
}

func TestWriter_SkipsBlankLines(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(NewLogger(&buf, LevelInfo))

	_, err := w.Write([]byte("\n"))
	require.NoError(t, err)
	assert.Empty(t, buf.String())
}

func TestWriter_NilLogger(t *testing.T) {
	w := NewWriter(nil)
	n, err := w.Write([]byte("dropped"))
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}
