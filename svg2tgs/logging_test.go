package svg2tgs

import (
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDBLogLevel(t *testing.T) {
	var lvl DBLogLevel

	require.NoError(t, lvl.Set("debug"))
	assert.Equal(t, slog.LevelDebug, lvl.Level())
	assert.Equal(t, "DEBUG", lvl.String())

	require.NoError(t, lvl.Scan("WARN"))
	assert.Equal(t, slog.LevelWarn, lvl.Level())

	require.NoError(t, lvl.Scan([]byte("error")))
	assert.Equal(t, slog.LevelError, lvl.Level())

	require.Error(t, lvl.Set("LOUD"))
	require.Error(t, lvl.Scan(42))

	v, err := DBLogLevelInfo.Value()
	require.NoError(t, err)
	assert.Equal(t, "INFO", v)
}

func TestDBLogLevelJSON(t *testing.T) {
	data, err := json.Marshal(DBLogLevelWarn)
	require.NoError(t, err)
	assert.Equal(t, `"WARN"`, string(data))

	var lvl DBLogLevel
	require.NoError(t, json.Unmarshal([]byte(`"info"`), &lvl))
	assert.Equal(t, slog.LevelInfo, lvl.Level())

	require.Error(t, json.Unmarshal([]byte(`"LOUD"`), &lvl))
}

func TestUnknownDBLogLevelDefaultsToInfo(t *testing.T) {
	lvl := DBLogLevel("BOGUS")
	assert.Equal(t, slog.LevelInfo, lvl.Level())
}
