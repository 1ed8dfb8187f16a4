package svg2tgs

import (
	"log/slog"
	"net/http"
	"time"
)

const (
	EnvvarSetEnvPrefix = "SVG2TGS_ENV_PREFIX"
	DefaultEnvPrefix   = "S2T"

	DefaultDatabaseType          = "sqlite"
	DefaultDatabase              = "svg2tgs.sqlite3"
	DefaultDatabaseSlowThreshold = 200 * time.Millisecond
	DefaultDatabaseLogLevel      = slog.LevelInfo

	DefaultLogLevel         = slog.LevelInfo
	DefaultTelegramLogLevel = slog.LevelWarn
	DefaultAPILogLevel      = slog.LevelInfo

	DefaultStartupTimeout  = 30 * time.Second
	DefaultShutdownTimeout = 60 * time.Second

	// DefaultBatchWindow is the quiescence window: a user's batch is
	// processed once this much time has passed with no new submission.
	DefaultBatchWindow = 3 * time.Second

	// DefaultMaxFileSize is the maximum accepted SVG upload size (5 MiB).
	DefaultMaxFileSize = 5 * 1024 * 1024

	DefaultRequiredWidth  = 512
	DefaultRequiredHeight = 512

	// DefaultConvertTimeout bounds a single item's conversion, including
	// the external subprocess. Exceeding it fails that item only.
	DefaultConvertTimeout = 60 * time.Second

	// DefaultStickerSizeWarn is Telegram's TGS size limit. Larger outputs
	// are delivered anyway, with a warning logged.
	DefaultStickerSizeWarn = 64 * 1024

	DefaultPollTimeout = 30 * time.Second

	// DefaultBroadcastPerSecond caps outbound broadcast sends, staying
	// under Telegram's ~30 msg/s bot limit.
	DefaultBroadcastPerSecond = 25
	DefaultBroadcastBurst     = 5

	DefaultAPIListen     = "127.0.0.1:5000"
	defaultListenNetwork = "tcp"

	DefaultReadTimeout       = 5 * time.Second
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultIdleTimeout       = 30 * time.Second

	DefaultUserCacheTTL = time.Hour
)

// Config is the top-level static configuration, loaded once at startup.
// Settings that can change at runtime live on RuntimeConfig instead.
type Config struct {
	// Database connection string, or SQLite file path
	Database string `yaml:"database" mapstructure:"database" json:"database"`

	// DatabaseType specifies the type of database, either 'sqlite' or 'postgres'
	DatabaseType string `yaml:"database_type" mapstructure:"database_type" json:"database_type" binding:"oneof=sqlite postgres"`

	// DatabaseLogLevel sets the log level for database operations
	DatabaseLogLevel *slog.LevelVar `yaml:"database_log_level" mapstructure:"database_log_level" json:"database_log_level"`

	// DatabaseSlowThreshold is the duration threshold for identifying slow database queries
	DatabaseSlowThreshold time.Duration `yaml:"database_slow_threshold" mapstructure:"database_slow_threshold" json:"database_slow_threshold"`

	// Telegram configures the bot connection and admin identities
	Telegram *TelegramConfig `yaml:"telegram" mapstructure:"telegram" json:"telegram"`

	// Batch configures submission coalescing and acceptance limits
	Batch *BatchConfig `yaml:"batch" mapstructure:"batch" json:"batch"`

	// Converter configures the SVG-to-TGS conversion chain
	Converter *ConverterConfig `yaml:"converter" mapstructure:"converter" json:"converter"`

	// API configures the HTTP status server
	API *APIConfig `yaml:"api" mapstructure:"api" json:"api"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// StartupTimeout sets a limit on the amount of time the bot has to
	// initialize. If this is passed, the bot will abort startup.
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout"`

	// ShutdownTimeout is the time to allow for a graceful shutdown. After this
	// elapses, the bot will force close all connections and exit.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`

	// UserCacheTTL sets the time-to-live for cached User records used by
	// the per-message ban check.
	UserCacheTTL time.Duration `yaml:"user_cache_ttl" mapstructure:"user_cache_ttl" json:"user_cache_ttl"`

	HTTPClient *http.Client `log:"[redacted]"`
}

func (c Config) LogValue() slog.Value {
	return structToSlogValue(c)
}

// TelegramConfig configures the Telegram bot itself.
//
//nolint:lll // can't break tags
type TelegramConfig struct {
	// Bot token (from @BotFather)
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// AdminIDs are the Telegram user IDs permitted to use admin commands
	AdminIDs []int64 `yaml:"admin_ids" mapstructure:"admin_ids" json:"admin_ids"`

	// PollTimeout is the long-poll duration for the update stream
	PollTimeout time.Duration `yaml:"poll_timeout" mapstructure:"poll_timeout" json:"poll_timeout"`

	// Base telegram logging level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// BroadcastPerSecond limits outbound sends during /broadcast
	BroadcastPerSecond float64 `yaml:"broadcast_per_second" mapstructure:"broadcast_per_second" json:"broadcast_per_second" binding:"gte=0"`

	// BroadcastBurst is the burst size for the broadcast limiter
	BroadcastBurst int `yaml:"broadcast_burst" mapstructure:"broadcast_burst" json:"broadcast_burst" binding:"gte=0"`

	httpClient *http.Client
}

// BatchConfig configures submission coalescing and file acceptance.
type BatchConfig struct {
	// Window is the quiescence window. Each new submission from a user
	// restarts it; the accumulated batch is processed when it elapses.
	Window time.Duration `yaml:"window" mapstructure:"window" json:"window" binding:"gt=0"`

	// MaxFileSize is the maximum accepted upload size, in bytes
	MaxFileSize int64 `yaml:"max_file_size" mapstructure:"max_file_size" json:"max_file_size" binding:"gt=0"`

	// RequiredWidth and RequiredHeight are the exact SVG dimensions accepted
	RequiredWidth  int `yaml:"required_width" mapstructure:"required_width" json:"required_width" binding:"gt=0"`
	RequiredHeight int `yaml:"required_height" mapstructure:"required_height" json:"required_height" binding:"gt=0"`
}

// ConverterConfig configures the conversion strategy chain.
type ConverterConfig struct {
	// LottiePath is the path to lottie_convert.py. Empty means the
	// well-known locations and PATH are searched at startup.
	LottiePath string `yaml:"lottie_path" mapstructure:"lottie_path" json:"lottie_path"`

	// Timeout bounds a single conversion attempt
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout" json:"timeout" binding:"gt=0"`

	// StickerSizeWarn is the output size above which a warning is logged
	StickerSizeWarn int64 `yaml:"sticker_size_warn" mapstructure:"sticker_size_warn" json:"sticker_size_warn"`
}

// APIConfig configures the HTTP status server.
//
//nolint:lll // can't break tags
type APIConfig struct {
	// The address and port on which the server should listen (e.g., "127.0.0.1:5000")
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen" binding:"required"`

	// The network type for listening (e.g., "tcp", "tcp4", "tcp6", "unix")
	ListenNetwork string `yaml:"listen_network" mapstructure:"listen_network" json:"listen_network" binding:"oneof=tcp tcp4 tcp6 unix"`

	// Configuration for SSL/TLS
	SSL SSLConfig `yaml:"ssl" mapstructure:"ssl" json:"ssl"`

	// The logging level for the API server
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Cross-origin configuration
	CORS CORSConfig `yaml:"cors" mapstructure:"cors" json:"cors"`

	// Maximum duration for reading the entire request, including the body
	ReadTimeout time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout"`

	// Amount of time allowed to read request headers
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout"`

	// Maximum duration before timing out writes of the response
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout"`

	// Maximum amount of time to wait for the next request when keep-alives are enabled
	IdleTimeout time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout"`

	// EnablePprof mounts net/http/pprof handlers under /debug/pprof
	EnablePprof bool `yaml:"enable_pprof" mapstructure:"enable_pprof" json:"enable_pprof"`
}

// SSLConfig specifies cert paths and the TLS version to use
type SSLConfig struct {
	// Path to an SSL certificate
	Cert string `yaml:"cert" mapstructure:"cert" json:"cert"`

	// Path to an SSL cert key
	Key string `yaml:"key" mapstructure:"key" json:"key"`

	// Minimum TLS version
	TLSMinVersion uint16 `yaml:"tls_min_version" mapstructure:"tls_min_version" json:"tls_min_version"`
}

// CORSConfig specifies cross-origin resource sharing settings
type CORSConfig struct {
	AllowOrigins     []string      `yaml:"allow_origins" mapstructure:"allow_origins" json:"allow_origins"`
	AllowMethods     []string      `yaml:"allow_methods" mapstructure:"allow_methods" json:"allow_methods"`
	AllowHeaders     []string      `yaml:"allow_headers" mapstructure:"allow_headers" json:"allow_headers"`
	ExposeHeaders    []string      `yaml:"expose_headers" mapstructure:"expose_headers" json:"expose_headers"`
	AllowCredentials bool          `yaml:"allow_credentials" mapstructure:"allow_credentials" json:"allow_credentials"`
	MaxAge           time.Duration `yaml:"max_age" mapstructure:"max_age" json:"max_age"`
}

var (
	DefaultCORSAllowMethods = []string{
		http.MethodGet,
		http.MethodHead,
		http.MethodOptions,
	}
	DefaultCORSAllowHeaders = []string{
		"Origin",
		"Content-Length",
		"Content-Type",
		"Accept",
		"Authorization",
	}
	DefaultCORSMaxAge = 12 * time.Hour
)

func DefaultCORSConfig() CORSConfig {
	defaultMethods := make([]string, len(DefaultCORSAllowMethods))
	copy(defaultMethods, DefaultCORSAllowMethods)

	defaultHeaders := make([]string, len(DefaultCORSAllowHeaders))
	copy(defaultHeaders, DefaultCORSAllowHeaders)

	return CORSConfig{
		AllowOrigins: []string{},
		AllowMethods: defaultMethods,
		AllowHeaders: defaultHeaders,
		MaxAge:       DefaultCORSMaxAge,
	}
}

// DefaultConfig returns a Config with all default settings populated
func DefaultConfig() *Config {
	mainLogLevel := &slog.LevelVar{}
	telegramLogLevel := &slog.LevelVar{}
	dbLogLevel := &slog.LevelVar{}
	apiLogLevel := &slog.LevelVar{}

	mainLogLevel.Set(DefaultLogLevel)
	telegramLogLevel.Set(DefaultTelegramLogLevel)
	dbLogLevel.Set(DefaultDatabaseLogLevel)
	apiLogLevel.Set(DefaultAPILogLevel)

	return &Config{
		DatabaseType:          DefaultDatabaseType,
		Database:              DefaultDatabase,
		DatabaseLogLevel:      dbLogLevel,
		DatabaseSlowThreshold: DefaultDatabaseSlowThreshold,
		LogLevel:              mainLogLevel,
		StartupTimeout:        DefaultStartupTimeout,
		ShutdownTimeout:       DefaultShutdownTimeout,
		UserCacheTTL:          DefaultUserCacheTTL,
		Telegram: &TelegramConfig{
			PollTimeout:        DefaultPollTimeout,
			LogLevel:           telegramLogLevel,
			BroadcastPerSecond: DefaultBroadcastPerSecond,
			BroadcastBurst:     DefaultBroadcastBurst,
		},
		Batch: &BatchConfig{
			Window:         DefaultBatchWindow,
			MaxFileSize:    DefaultMaxFileSize,
			RequiredWidth:  DefaultRequiredWidth,
			RequiredHeight: DefaultRequiredHeight,
		},
		Converter: &ConverterConfig{
			Timeout:         DefaultConvertTimeout,
			StickerSizeWarn: DefaultStickerSizeWarn,
		},
		API: &APIConfig{
			Listen:            DefaultAPIListen,
			ListenNetwork:     defaultListenNetwork,
			LogLevel:          apiLogLevel,
			ReadTimeout:       DefaultReadTimeout,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
			CORS:              DefaultCORSConfig(),
		},
	}
}
