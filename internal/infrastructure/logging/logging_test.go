package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warning"))
	assert.Equal(t, slog.LevelError, parseLevel(" error "))
	assert.Equal(t, slog.LevelInfo, parseLevel(""))
}

func TestNewHandlerFormat(t *testing.T) {
	var buf bytes.Buffer
	slog.New(newHandler(&buf, "json", slog.LevelInfo)).Info("deposit", "amount", "5")
	assert.Contains(t, buf.String(), `"msg":"deposit"`)

	buf.Reset()
	slog.New(newHandler(&buf, "", slog.LevelInfo)).Debug("hidden")
	assert.Empty(t, buf.String())
}

func TestInitWritesFile(t *testing.T) {
	previous := slog.Default()
	defer slog.SetDefault(previous)

	path := filepath.Join(t.TempDir(), "logs", "vaultd.log")
	closer, err := Init(Config{Level: "info", File: path, MaxSizeMB: 1})
	require.NoError(t, err)
	require.NotNil(t, closer)

	slog.Info("genesis applied", "tokens", 1)
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "genesis applied")
}
