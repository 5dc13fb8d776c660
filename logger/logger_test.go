package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    Level
		wantErr bool
	}{
		{input: "debug", want: DebugLevel},
		{input: "INFO", want: InfoLevel},
		{input: "", want: InfoLevel},
		{input: "warning", want: WarnLevel},
		{input: "error", want: ErrorLevel},
		{input: "loud", want: InfoLevel, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseLevel(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSlogLogger_JSONOutput(t *testing.T) {
	t.Setenv("ENV", "")
	var buf bytes.Buffer
	l := NewSlogWriter(&buf, InfoLevel, false)

	l.Debug("hidden")
	l.With("component", "gateway").Info("tick", "tank_level", 2.5)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "tick", rec["msg"])
	assert.Equal(t, "gateway", rec["component"])
	assert.Equal(t, 2.5, rec["tank_level"])
	assert.Contains(t, rec, "ts")
}

func TestSlogLogger_SetLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewSlogWriter(&buf, ErrorLevel, false)
	assert.Equal(t, ErrorLevel, l.Level())

	l.Warn("dropped")
	assert.Zero(t, buf.Len())

	l.SetLevel(DebugLevel)
	assert.Equal(t, DebugLevel, l.Level())
	l.Debug("kept")
	assert.NotZero(t, buf.Len())
}

func TestRotatingFile_Rotates(t *testing.T) {
	dir := t.TempDir()
	rf, err := OpenRotatingFile(dir, "gateway.log", 3)
	require.NoError(t, err)
	defer rf.Close()

	for i := 0; i < 4; i++ {
		_, err := rf.Write([]byte("line\n"))
		require.NoError(t, err)
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	data, err := os.ReadFile(filepath.Join(dir, "gateway.log"))
	require.NoError(t, err)
	assert.Equal(t, "line\n", string(data))
}

func TestRotatingFile_WriteAfterClose(t *testing.T) {
	rf, err := OpenRotatingFile(t.TempDir(), "c.log", 0)
	require.NoError(t, err)
	require.NoError(t, rf.Close())
	require.NoError(t, rf.Close())

	_, err = rf.Write([]byte("x\n"))
	assert.ErrorIs(t, err, os.ErrClosed)
}
