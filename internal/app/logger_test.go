package app

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	cfg := validConfig()
	cfg.AppEnv = "staging"
	cfg.LogFormat = "json"
	cfg.LogLevel = "warn"
	logger := newLogger(&buf, &cfg)

	logger.Info("dropped")
	logger.Warn("kept")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "kept", line["msg"])
	assert.Equal(t, "pricebook", line["service"])
	assert.Equal(t, "staging", line["env"])
}

func TestNewLoggerNilConfig(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, nil).Debug("hidden")
	assert.Empty(t, buf.String())
}
