package svg2tgs

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateDefaultConfig(t *testing.T) {
	// the default config has no Telegram token, so it shouldn't validate
	cfg := DefaultConfig()
	err := structValidator.Struct(cfg)
	require.Error(t, err)

	cfg.Telegram.Token = "123456:token"
	err = structValidator.Struct(cfg)
	require.NoError(t, err)
}

func TestValidateRuntimeConfigUpdate(t *testing.T) {
	badLevel := DBLogLevel("LOUD")
	update := RuntimeConfigUpdate{LogLevel: &badLevel}
	require.Error(t, update.validate())

	goodLevel := DBLogLevel(slog.LevelDebug.String())
	update = RuntimeConfigUpdate{LogLevel: &goodLevel}
	require.NoError(t, update.validate())

	empty := ""
	update = RuntimeConfigUpdate{WelcomeMessage: &empty}
	require.Error(t, update.validate())
}

func TestDefaultConfigValues(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, dbTypeSQLite, cfg.DatabaseType)
	assert.Equal(t, 3*time.Second, cfg.Batch.Window)
	assert.Equal(t, int64(5*1024*1024), cfg.Batch.MaxFileSize)
	assert.Equal(t, 512, cfg.Batch.RequiredWidth)
	assert.Equal(t, 512, cfg.Batch.RequiredHeight)
	assert.Equal(t, 60*time.Second, cfg.Converter.Timeout)
	assert.Equal(t, int64(64*1024), cfg.Converter.StickerSizeWarn)
	assert.Equal(t, slog.LevelWarn, cfg.Telegram.LogLevel.Level())
}

func DefaultTestConfig(t testing.TB) *Config {
	tmpdir := t.TempDir()
	cfg := DefaultConfig()

	cfg.DatabaseType = dbTypeSQLite
	cfg.Database = filepath.Join(tmpdir, fmt.Sprintf("%s.sqlite3", t.Name()))
	cfg.StartupTimeout = 5 * time.Second
	cfg.ShutdownTimeout = 10 * time.Second
	cfg.UserCacheTTL = time.Minute

	cfg.Telegram.Token = "123456:test-token"
	cfg.Telegram.AdminIDs = []int64{testAdminID}

	// a short window keeps coalescer-driven tests fast
	cfg.Batch.Window = 50 * time.Millisecond

	cfg.API.Listen = "127.0.0.1:0"
	cfg.API.CORS.AllowOrigins = []string{"*"}

	logLevel := slog.LevelWarn
	cfg.LogLevel.Set(logLevel)
	cfg.Telegram.LogLevel.Set(logLevel)
	cfg.DatabaseLogLevel.Set(logLevel)
	cfg.API.LogLevel.Set(logLevel)

	return cfg
}
