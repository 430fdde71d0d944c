package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	log := New("cache", Config{Level: "debug", Format: "json", Output: &buf})

	log.WithField("version", 3).Info("refreshed")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "cache", entry["component"])
	assert.Equal(t, float64(3), entry["version"])
	assert.Equal(t, "refreshed", entry["msg"])
}

func TestNew_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New("gateway", Config{Level: "warn", Output: &buf})

	log.Info("hidden")
	assert.Empty(t, buf.String())

	log.Warn("visible")
	assert.Contains(t, buf.String(), "visible")
}

func TestNew_InvalidLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := New("chain", Config{Level: "nonsense", Output: &buf})

	log.Debug("hidden")
	log.Info("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
}

func TestWithError(t *testing.T) {
	var buf bytes.Buffer
	log := New("session", Config{Level: "info", Output: &buf})

	log.WithError(assert.AnError).Error("init failed")
	assert.True(t, strings.Contains(buf.String(), assert.AnError.Error()))
}
