package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSONFormatIncludesComponent(t *testing.T) {
	var buf bytes.Buffer
	log := New("feed", Config{Level: "debug", Format: "json", Output: &buf})

	log.WithField("post_id", "p1").Info("post liked")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "feed", line["component"])
	assert.Equal(t, "p1", line["post_id"])
	assert.Equal(t, "post liked", line["msg"])
}

func TestNew_InvalidLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := New("session", Config{Level: "loud", Output: &buf})

	log.Debug("hidden")
	assert.Empty(t, buf.String())

	log.Info("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestNamed(t *testing.T) {
	var buf bytes.Buffer
	log := New("app", Config{Format: "json", Output: &buf}).Named("profile")

	log.Info("x")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "profile", line["component"])
}
