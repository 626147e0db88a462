package dicelog

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSONFormatEmitsParsableLines(t *testing.T) {
	var buf bytes.Buffer
	log := New(&Config{Level: LevelInfo, JSONFormat: true, Output: &buf})

	log.Info("pipeline.chunk_processed", F("context_id", "ctx-1"), F("count", 3))

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "pipeline.chunk_processed", decoded["message"])
	assert.Equal(t, "ctx-1", decoded["context_id"])
	assert.Equal(t, float64(3), decoded["count"])
	assert.Equal(t, "dice", decoded["component"])
}

func TestNew_NilConfigUsesDefaults(t *testing.T) {
	log := New(nil)
	assert.NotNil(t, log)
}

func TestWith_AttachesFieldsToSubsequentLogs(t *testing.T) {
	var buf bytes.Buffer
	log := New(&Config{Level: LevelInfo, JSONFormat: true, Output: &buf})
	scoped := log.With(F("source_id", "doc-1"))

	scoped.Info("analyzer.window_emitted")

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "doc-1", decoded["source_id"])
}

func TestWithContext_AddsTraceIDWhenPresent(t *testing.T) {
	var buf bytes.Buffer
	log := New(&Config{Level: LevelInfo, JSONFormat: true, Output: &buf})
	ctx := context.WithValue(context.Background(), TraceIDKey, "trace-42")

	log.WithContext(ctx).Info("pipeline.started")

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "trace-42", decoded["trace_id"])
}

func TestWithContext_NoTraceIDOmitsField(t *testing.T) {
	var buf bytes.Buffer
	log := New(&Config{Level: LevelInfo, JSONFormat: true, Output: &buf})

	log.WithContext(context.Background()).Info("pipeline.started")

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	_, ok := decoded["trace_id"]
	assert.False(t, ok)
}

func TestErr_SetsErrorField(t *testing.T) {
	var buf bytes.Buffer
	log := New(&Config{Level: LevelInfo, JSONFormat: true, Output: &buf})

	log.Error("store.write_failed", Err(assertError{"disk full"}))

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "disk full", decoded["error"])
}

type assertError struct{ msg string }

func (e assertError) Error() string { return e.msg }

func TestNewNop_DiscardsEverything(t *testing.T) {
	log := NewNop()
	log.Info("noop")
	log.With(F("a", "b")).Warn("still noop")
	assert.NotPanics(t, func() { log.Error("noop", Err(assertError{"x"})) })
}

func TestGlobal_DefaultsToNop(t *testing.T) {
	assert.Equal(t, NewNop(), Global())
}

func TestSetGlobal_InstallsLogger(t *testing.T) {
	custom := NewNop()
	SetGlobal(custom)
	defer SetGlobal(NewNop())
	assert.Equal(t, custom, Global())
}
