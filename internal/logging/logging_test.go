package logging_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/headless-cms/authserver/internal/logging"
	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.Setup("json", "info", &buf)
	logger.Info("hello", "email", "ada@example.com")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "hello", entry["msg"])
	assert.Equal(t, "authserver", entry["service"])
}

func TestSetupTextRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.Setup("text", "warn", &buf)
	logger.Info("dropped")
	logger.Warn("kept")

	out := buf.String()
	assert.NotContains(t, out, "dropped")
	assert.Contains(t, out, "kept")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, logging.ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, logging.ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, logging.ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, logging.ParseLevel(""))
}

func TestLogErrorOops(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.Setup("json", "debug", &buf)

	err := oops.Code("AUTH_LOGIN_FAILED").With("operation", "get user by email").Wrap(errors.New("connection reset"))
	logging.LogError(logger, "login failed", err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "AUTH_LOGIN_FAILED", entry["code"])
	assert.Contains(t, entry["error"], "connection reset")
	ctx, ok := entry["context"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "get user by email", ctx["operation"])
}

func TestLogErrorPlain(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.Setup("text", "info", &buf)
	logging.LogError(logger, "boom", errors.New("plain failure"))
	assert.True(t, strings.Contains(buf.String(), "plain failure"))
}
