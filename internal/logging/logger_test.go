package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestLogger_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewJSON(&buf, slog.LevelDebug).WithPhase("write").WithWorker("writer-1")

	l.LogWrite(context.Background(), 150, 3, errors.New("device gone"))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "write", rec["phase"])
	assert.Equal(t, "writer-1", rec["worker"])
	assert.Equal(t, float64(150), rec["offset"])
	assert.Equal(t, "device gone", rec["error"])
}

func TestLogger_LogWriteSuccessIsSilent(t *testing.T) {
	var buf bytes.Buffer
	l := NewText(&buf, slog.LevelDebug)
	l.LogWrite(context.Background(), 0, 1, nil)
	assert.Zero(t, buf.Len())
}

func TestLogger_LogPhase(t *testing.T) {
	var buf bytes.Buffer
	l := NewText(&buf, slog.LevelInfo)
	l.LogPhase(context.Background(), "random-read", 1000, 50000, time.Second)
	out := buf.String()
	assert.True(t, strings.Contains(out, "phase=random-read"), out)
	assert.True(t, strings.Contains(out, "ops_per_sec=1000"), out)
}

func TestNoop(t *testing.T) {
	l := Noop()
	assert.False(t, l.Enabled(context.Background(), slog.LevelError))
}
