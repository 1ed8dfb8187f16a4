package cmd

import (
	"fmt"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viizet/svg2tgs/svg2tgs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfigFromEnvFile(t *testing.T) {
	// Save the original environment
	originalEnv := os.Environ()
	t.Cleanup(
		func() {
			os.Clearenv()
			for _, envVar := range originalEnv {
				parts := strings.SplitN(envVar, "=", 2)
				os.Setenv(parts[0], parts[1])
			}
		},
	)

	// Clear the environment before the test
	os.Clearenv()

	tmpdir := t.TempDir()

	// Set up the test environment file
	envFile := filepath.Join(tmpdir, "test.env")

	envContent := `
# General/database config

S2T_DATABASE=/home/foo/svg2tgs.sqlite3
S2T_DATABASE_TYPE=sqlite
S2T_DATABASE_LOG_LEVEL=INFO
S2T_DATABASE_SLOW_THRESHOLD=200ms
S2T_LOG_LEVEL=INFO
S2T_STARTUP_TIMEOUT=30s
S2T_SHUTDOWN_TIMEOUT=60s
S2T_USER_CACHE_TTL=30m

# Telegram bot config

S2T_TELEGRAM_TOKEN=your-telegram-bot-token
S2T_TELEGRAM_ADMIN_IDS=12345 67890
S2T_TELEGRAM_POLL_TIMEOUT=25s
S2T_TELEGRAM_LOG_LEVEL=WARN
S2T_TELEGRAM_BROADCAST_PER_SECOND=20
S2T_TELEGRAM_BROADCAST_BURST=4

# Batch config

S2T_BATCH_WINDOW=5s
S2T_BATCH_MAX_FILE_SIZE=1048576
S2T_BATCH_REQUIRED_WIDTH=512
S2T_BATCH_REQUIRED_HEIGHT=512

# Converter config

S2T_CONVERTER_LOTTIE_PATH=/usr/local/bin/lottie_convert.py
S2T_CONVERTER_TIMEOUT=90s
S2T_CONVERTER_STICKER_SIZE_WARN=65536

# API server

S2T_API_LISTEN=127.0.0.1:5000
S2T_API_SSL_CERT=/etc/ssl/cert.pem
S2T_API_SSL_KEY=/etc/ssl/key.pem
S2T_API_SSL_TLS_MIN_VERSION=771
S2T_API_LOG_LEVEL=DEBUG
S2T_API_CORS_ALLOW_ORIGINS=https://127.0.0.1:5000 https://localhost:5000
S2T_API_CORS_ALLOW_METHODS=GET POST PATCH OPTIONS HEAD
S2T_API_CORS_ALLOW_HEADERS=Origin Content-Length Content-Type Accept Authorization
S2T_API_CORS_ALLOW_CREDENTIALS=true
S2T_API_CORS_MAX_AGE=12h
S2T_API_READ_TIMEOUT=5s
S2T_API_READ_HEADER_TIMEOUT=5s
S2T_API_WRITE_TIMEOUT=10s
S2T_API_IDLE_TIMEOUT=30s
`

	err := os.WriteFile(envFile, []byte(envContent), 0644)
	assert.NoError(t, err)

	rootCmd.SetArgs([]string{fmt.Sprintf("--config=%s", envFile), "version"})
	require.NoError(t, rootCmd.Execute())

	assert.Equal(t, "/home/foo/svg2tgs.sqlite3", cfg.Database)
	assert.Equal(t, "/home/foo/svg2tgs.sqlite3", viper.GetString("database"))
	assert.Equal(t, "sqlite", viper.GetString("database_type"))

	assertLogLevel(t, slog.LevelInfo, viper.Get("database_log_level"))

	assert.Equal(t, 200*time.Millisecond, viper.GetDuration("database_slow_threshold"))
	assertLogLevel(t, slog.LevelInfo, viper.Get("log_level"))
	assert.Equal(t, 30*time.Second, viper.GetDuration("startup_timeout"))
	assert.Equal(t, 60*time.Second, viper.GetDuration("shutdown_timeout"))
	assert.Equal(t, 30*time.Minute, viper.GetDuration("user_cache_ttl"))

	assert.Equal(t, "your-telegram-bot-token", viper.GetString("telegram.token"))
	assert.Equal(t, []int{12345, 67890}, viper.GetIntSlice("telegram.admin_ids"))
	assert.Equal(t, 25*time.Second, viper.GetDuration("telegram.poll_timeout"))
	assertLogLevel(t, slog.LevelWarn, viper.Get("telegram.log_level"))
	assert.Equal(t, float64(20), viper.GetFloat64("telegram.broadcast_per_second"))
	assert.Equal(t, 4, viper.GetInt("telegram.broadcast_burst"))

	assert.Equal(t, 5*time.Second, viper.GetDuration("batch.window"))
	assert.Equal(t, int64(1048576), viper.GetInt64("batch.max_file_size"))
	assert.Equal(t, 512, viper.GetInt("batch.required_width"))
	assert.Equal(t, 512, viper.GetInt("batch.required_height"))

	assert.Equal(
		t,
		"/usr/local/bin/lottie_convert.py",
		viper.GetString("converter.lottie_path"),
	)
	assert.Equal(t, 90*time.Second, viper.GetDuration("converter.timeout"))
	assert.Equal(t, int64(65536), viper.GetInt64("converter.sticker_size_warn"))

	assert.Equal(t, "127.0.0.1:5000", viper.GetString("api.listen"))
	assert.Equal(t, "/etc/ssl/cert.pem", viper.GetString("api.ssl.cert"))
	assert.Equal(t, "/etc/ssl/key.pem", viper.GetString("api.ssl.key"))
	assert.Equal(t, 771, viper.GetInt("api.ssl.tls_min_version"))
	assertLogLevel(t, slog.LevelDebug, viper.Get("api.log_level"))
	assert.Equal(t, slog.LevelDebug, cfg.API.LogLevel.Level())
	assert.Equal(
		t,
		[]string{"https://127.0.0.1:5000", "https://localhost:5000"},
		viper.GetStringSlice("api.cors.allow_origins"),
	)
	assert.Equal(
		t,
		[]string{"GET", "POST", "PATCH", "OPTIONS", "HEAD"},
		viper.GetStringSlice("api.cors.allow_methods"),
	)
	assert.Equal(
		t,
		[]string{"GET", "POST", "PATCH", "OPTIONS", "HEAD"},
		cfg.API.CORS.AllowMethods,
	)
	assert.Equal(
		t,
		[]string{
			"Origin",
			"Content-Length",
			"Content-Type",
			"Accept",
			"Authorization",
		},
		viper.GetStringSlice("api.cors.allow_headers"),
	)
	assert.True(t, viper.GetBool("api.cors.allow_credentials"))
	assert.Equal(t, 12*time.Hour, viper.GetDuration("api.cors.max_age"))
	assert.Equal(t, 5*time.Second, viper.GetDuration("api.read_timeout"))
	assert.Equal(t, 5*time.Second, viper.GetDuration("api.read_header_timeout"))
	assert.Equal(t, 10*time.Second, viper.GetDuration("api.write_timeout"))
	assert.Equal(t, 30*time.Second, viper.GetDuration("api.idle_timeout"))

	// Unmarshal the configuration into a svg2tgs.Config struct
	var config svg2tgs.Config
	err = viper.Unmarshal(
		&config, viper.DecodeHook(
			mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				LevelToStringHookFunc(),
			),
		),
	)
	assert.NoError(t, err)

	// Verify some key fields in the Config struct
	assert.Equal(t, "/home/foo/svg2tgs.sqlite3", config.Database)
	assert.Equal(t, "sqlite", config.DatabaseType)
	assert.Equal(t, slog.LevelInfo, config.DatabaseLogLevel.Level())
	assert.Equal(t, 200*time.Millisecond, config.DatabaseSlowThreshold)
	assert.Equal(t, slog.LevelInfo, config.LogLevel.Level())
	assert.Equal(t, 30*time.Second, config.StartupTimeout)
	assert.Equal(t, 60*time.Second, config.ShutdownTimeout)
	assert.Equal(t, 30*time.Minute, config.UserCacheTTL)

	assert.Equal(t, "your-telegram-bot-token", config.Telegram.Token)
	assert.Equal(t, []int64{12345, 67890}, config.Telegram.AdminIDs)
	assert.Equal(t, 25*time.Second, config.Telegram.PollTimeout)
	assert.Equal(t, slog.LevelWarn, config.Telegram.LogLevel.Level())
	assert.Equal(t, float64(20), config.Telegram.BroadcastPerSecond)
	assert.Equal(t, 4, config.Telegram.BroadcastBurst)

	assert.Equal(t, 5*time.Second, config.Batch.Window)
	assert.Equal(t, int64(1048576), config.Batch.MaxFileSize)
	assert.Equal(t, 512, config.Batch.RequiredWidth)
	assert.Equal(t, 512, config.Batch.RequiredHeight)

	assert.Equal(t, "/usr/local/bin/lottie_convert.py", config.Converter.LottiePath)
	assert.Equal(t, 90*time.Second, config.Converter.Timeout)
	assert.Equal(t, int64(65536), config.Converter.StickerSizeWarn)

	assert.Equal(t, "127.0.0.1:5000", config.API.Listen)
	assert.Equal(t, "/etc/ssl/cert.pem", config.API.SSL.Cert)
	assert.Equal(t, "/etc/ssl/key.pem", config.API.SSL.Key)
	assert.Equal(t, uint16(771), config.API.SSL.TLSMinVersion)
	assert.Equal(t, slog.LevelDebug, config.API.LogLevel.Level())
	assert.Equal(
		t,
		[]string{"https://127.0.0.1:5000", "https://localhost:5000"},
		config.API.CORS.AllowOrigins,
	)
	assert.Equal(
		t,
		[]string{"GET", "POST", "PATCH", "OPTIONS", "HEAD"},
		config.API.CORS.AllowMethods,
	)
	assert.Equal(
		t,
		[]string{
			"Origin",
			"Content-Length",
			"Content-Type",
			"Accept",
			"Authorization",
		},
		config.API.CORS.AllowHeaders,
	)
}

func assertLogLevel(t testing.TB, expected slog.Level, v any) {
	t.Helper()

	lvl, ok := v.(*slog.LevelVar)
	require.Truef(t, ok, "could not convert %#v (%T) to *slog.LevelVar", v, v)
	assert.Equal(t, expected, lvl.Level())
}
