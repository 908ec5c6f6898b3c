package observability

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewLoggerTo_JSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewLoggerTo(Config{Level: "debug", Format: "json"}, &buf)
	require.NoError(t, err)

	log.Debug("slot finished", zap.String("job_id", "daily"))
	require.NoError(t, log.Sync())

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "slot finished", rec["msg"])
	assert.Equal(t, "daily", rec["job_id"])
	assert.Equal(t, "debug", rec["level"])
}

func TestNewLoggerTo_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewLoggerTo(Config{Level: "WARN"}, &buf)
	require.NoError(t, err)

	log.Info("hidden")
	log.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
	assert.Contains(t, buf.String(), "WARN")
}

func TestNewLoggerTo_Invalid(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"level", Config{Level: "loud"}},
		{"format", Config{Format: "xml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLoggerTo(tt.cfg, &bytes.Buffer{})
			assert.Error(t, err)
		})
	}
}
