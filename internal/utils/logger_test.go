package utils

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"instrument-service/internal/config"
)

func TestNewLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "instrument.log")
	logger, err := NewLogger(&config.LoggingConfig{
		Level:    "info",
		Format:   "json",
		Output:   "file",
		FilePath: path,
		MaxSize:  1,
	})
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("Instrument connected", zap.String("instrument", "psu"))
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &entry))
	assert.Equal(t, "Instrument connected", entry["message"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "psu", entry["instrument"])
	assert.Contains(t, entry, "timestamp")
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	_, err := NewLogger(&config.LoggingConfig{Level: "loud", Output: "stdout"})
	assert.Error(t, err)
}

func TestLogAPIRequest(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	sl := NewServiceLogger(zap.New(core), "http-server")

	sl.LogAPIRequest("GET", "/health", "curl", "127.0.0.1", "req-1", 200, time.Millisecond)
	sl.LogAPIRequest("GET", "/api/v1/instruments/x", "curl", "127.0.0.1", "req-2", 404, time.Millisecond)
	sl.LogAPIRequest("POST", "/api/v1/instruments/psu/query", "curl", "127.0.0.1", "req-3", 504, time.Second)

	entries := logs.FilterMessage("API request").All()
	require.Len(t, entries, 3)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
	assert.Equal(t, "req-1", entries[0].ContextMap()["request_id"])
	assert.Equal(t, "http-server", entries[0].ContextMap()["service"])
}

func TestAuditLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	audit := NewAuditLogger(zap.New(core))

	audit.LogRegisterWrite("pump", 0x31, 1200, "10.0.0.9", true)
	audit.LogErrorAcknowledge("psu", "10.0.0.9", 2)

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "0x0031", entries[0].ContextMap()["register"])
	assert.Equal(t, "audit", entries[0].ContextMap()["component"])
	assert.EqualValues(t, 2, entries[1].ContextMap()["cleared"])
}

func TestInstrumentLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	il := NewInstrumentLogger(zap.New(core), "chiller", "thermoflex")

	il.LogConnection("scan", "/dev/ttyUSB0", true, nil)
	il.LogConnection("fault", "/dev/ttyUSB0", false, assert.AnError)
	il.LogHealth(10, 1, 0, 20*time.Millisecond)

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "thermoflex", entries[2].ContextMap()["driver"])
	assert.EqualValues(t, 10, entries[2].ContextMap()["transactions"])
}
