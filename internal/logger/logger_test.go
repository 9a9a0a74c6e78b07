package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewWritesJSONInProduction(t *testing.T) {
	var buf bytes.Buffer
	log, err := newWithOutput(Config{Level: "info"}, &buf)
	require.NoError(t, err)

	log.Debug("hidden")
	log.Info("sync finished", zap.String("account_id", "acct-1"))
	require.NoError(t, log.Sync())

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "sync finished", entry["message"])
	assert.Equal(t, "acct-1", entry["account_id"])
	assert.Equal(t, "info", entry["level"])
}

func TestNewFallsBackToInfoOnBadLevel(t *testing.T) {
	var buf bytes.Buffer
	log, err := newWithOutput(Config{Level: "loud"}, &buf)
	require.NoError(t, err)

	log.Debug("hidden")
	assert.Empty(t, buf.String())
}

func TestNewWritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "mailsync.log")

	var buf bytes.Buffer
	log, err := newWithOutput(Config{Level: "debug", Development: true, LogFile: path}, &buf)
	require.NoError(t, err)

	log.Warn("fallback identifier used")
	_ = log.Sync()

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "fallback identifier used")
	assert.Contains(t, buf.String(), "fallback identifier used")
}
