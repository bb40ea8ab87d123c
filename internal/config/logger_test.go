package config

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("warn", "json", &buf)

	logger.Info("hidden")
	logger.Warn("module_lost", "module", "cam")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "module_lost", line["msg"])
	assert.Equal(t, "cam", line["module"])
}

func TestNewLogger_TextFallback(t *testing.T) {
	var buf bytes.Buffer
	logger := (&Config{LogLevel: "chatty", LogFormat: "xml"}).Logger(&buf)

	logger.Debug("hidden")
	logger.Info("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "msg=shown")
}
