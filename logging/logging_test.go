package logging

import (
	"encoding/json"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel(" WARN "))
	assert.Equal(t, slog.LevelInfo, ParseLevel("chatty"))
}

func TestSetupFile(t *testing.T) {
	previous := slog.Default()
	defer func() {
		slog.SetDefault(previous)
		log.SetOutput(os.Stderr)
		log.SetFlags(log.LstdFlags)
	}()

	filename := filepath.Join(t.TempDir(), "tortoise.log")
	logger, closer := Setup("tortoised", "test", Options{Level: "info", File: filename, MaxSizeMB: 1})
	logger.Debug("hidden")
	logger.Info("hello", "entity", "homer")
	log.Printf("from std log")
	require.NoError(t, closer.Close())

	bs, err := os.ReadFile(filename)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(bs)), "\n")
	require.Len(t, lines, 2)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &m))
	assert.Equal(t, "hello", m["message"])
	assert.Equal(t, "INFO", m["severity"])
	assert.Equal(t, "tortoised", m["service"])
	assert.Equal(t, "test", m["env"])
	assert.Equal(t, "homer", m["entity"])
	assert.Contains(t, m, "timestamp")

	require.NoError(t, json.Unmarshal([]byte(lines[1]), &m))
	assert.Equal(t, "from std log", m["message"])
}
