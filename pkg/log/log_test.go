package log

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/kittycat/pkg/errors"
)

func TestTestLoggerLevels(t *testing.T) {
	logger, buffer := NewTestLogger(LevelInfo)

	logger.Debug("hidden")
	logger.Info("shown", "key1", "value1", "number", 42)
	logger.Error("failed", ErrorKey, errors.New("boom"))

	assert.NotContains(t, buffer.String(), "hidden")
	assert.True(t, logger.ContainsMessage("shown"))
	assert.True(t, logger.ContainsField("key1", "value1"))
	assert.True(t, logger.ContainsField("number", 42.0))
	assert.True(t, logger.ContainsField(ErrorKey, "boom"))

	assert.True(t, logger.Enabled(context.Background(), LevelWarn))
	assert.False(t, logger.Enabled(context.Background(), LevelDebug))
}

func TestTestLoggerWith(t *testing.T) {
	logger, _ := NewTestLogger(LevelDebug)
	child := logger.With(ComponentKey, "attention", ModelNameKey, "KittyCatConv")
	child.Info("forward", OperationKey, OperationForward)

	entries := logger.EntriesWithMessage("forward")
	require.Len(t, entries, 1)
	assert.Equal(t, "attention", entries[0][ComponentKey])
	assert.Equal(t, "KittyCatConv", entries[0][ModelNameKey])
	assert.Equal(t, OperationForward, entries[0][OperationKey])
}

func TestZerologLoggerWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZerologLogger(&buf, LevelInfo)

	logger.Debug("not written")
	logger.With(ExperimentKey, "covid").Info("loaded", RandomSeedKey, 4293)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "loaded", entry["message"])
	assert.Equal(t, "covid", entry[ExperimentKey])
	assert.Equal(t, 4293.0, entry[RandomSeedKey])
}

func TestZerologLoggerRendersStack(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZerologLogger(&buf, LevelDebug)
	logger.Error("load failed", ErrorKey, errors.NewValueError("Load", "bad checkpoint"))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "kittycat: Load: bad checkpoint", entry["error"])
	assert.Contains(t, entry, "stack")
}

func TestZerologLoggerEnabled(t *testing.T) {
	logger := NewZerologLogger(&bytes.Buffer{}, LevelWarn)
	ctx := context.Background()
	assert.False(t, logger.Enabled(ctx, LevelInfo))
	assert.True(t, logger.Enabled(ctx, LevelWarn))
	assert.True(t, logger.Enabled(ctx, LevelError))
}

func TestSetupRoutesWarnings(t *testing.T) {
	prev := GetLogger()
	defer SetLogger(prev)
	defer errors.SetZerologWarnFunc(nil)

	var buf bytes.Buffer
	require.NoError(t, Setup("debug", &buf))
	errors.Warn(errors.NewDeviceFallbackWarning("cuda:0", "cpu"))

	out := buf.String()
	assert.Contains(t, out, `"type":"DeviceFallbackWarning"`)
	assert.Contains(t, out, `"requested":"cuda:0"`)

	assert.Error(t, Setup("verbose", &buf))
}

func TestParseLevel(t *testing.T) {
	for name, want := range map[string]Level{
		"debug": LevelDebug, "info": LevelInfo, "warn": LevelWarn, "error": LevelError,
	} {
		got, ok := ParseLevel(name)
		assert.True(t, ok, name)
		assert.Equal(t, want, got, name)
		assert.NotEqual(t, "UNKNOWN", got.String())
	}
	_, ok := ParseLevel("trace")
	assert.False(t, ok)
}

func TestGetLoggerWithName(t *testing.T) {
	previous := GetLogger()
	defer SetLogger(previous)

	logger, _ := NewTestLogger(LevelInfo)
	SetLogger(logger)

	GetLoggerWithName("data.formatter").Info("split")
	entries := logger.EntriesWithMessage("split")
	require.Len(t, entries, 1)
	assert.Equal(t, "data.formatter", entries[0][ComponentKey])
}
