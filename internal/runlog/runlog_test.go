package runlog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func decodeLines(t *testing.T, data []byte) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		out = append(out, m)
	}
	return out
}

func TestWrite(t *testing.T) {
	var buf bytes.Buffer
	l := New(zapcore.AddSync(&buf))

	l.Write(Record{
		Event:     "reason",
		RequestID: "req-1",
		SessionID: "s-1",
		Model:     "qwen3-vl:8b",
		Latency:   1500 * time.Millisecond,
		Status:    StatusOK,
		Tier:      "primary_chat",
		Intent:    "concise",
		Turn:      2,
	})
	l.Write(Record{Event: "describe", RequestID: "req-2", Status: StatusError, Err: errors.New("boom")})

	lines := decodeLines(t, buf.Bytes())
	require.Len(t, lines, 2)

	assert.Equal(t, "reason", lines[0]["event"])
	assert.Equal(t, "s-1", lines[0]["session_id"])
	assert.EqualValues(t, 1500, lines[0]["latency_ms"])
	assert.EqualValues(t, 2, lines[0]["turn"])
	assert.Equal(t, "primary_chat", lines[0]["tier"])
	assert.NotContains(t, lines[0], "error")
	assert.Contains(t, lines[0], "ts")

	assert.Equal(t, "error", lines[1]["status"])
	assert.Equal(t, "boom", lines[1]["error"])
	assert.NotContains(t, lines[1], "session_id")
}

func TestOpen_Appends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "runs.jsonl")

	for i := 0; i < 2; i++ {
		l, err := Open(path)
		require.NoError(t, err)
		l.Write(Record{Event: "describe", Status: StatusOK})
		require.NoError(t, l.Close())
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, decodeLines(t, data), 2)
}

func TestNop(t *testing.T) {
	l := Nop()
	l.Write(Record{Event: "describe"})
	assert.NoError(t, l.Close())
}
