package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/viizet/svg2tgs/svg2tgs"
)

var (
	cfg        = svg2tgs.DefaultConfig()
	configFile string
)

var rootCmd = &cobra.Command{
	Use: "svg2tgs [flags]",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		err := viper.Unmarshal(
			cfg,
			viper.DecodeHook(
				mapstructure.ComposeDecodeHookFunc(
					mapstructure.StringToTimeDurationHookFunc(),
					LevelToStringHookFunc(),
				),
			),
		)
		if err != nil {
			log.Fatalln(err)
		}
	},
}

func getLogLevel(level string) (slog.Level, error) {
	switch level {
	case slog.LevelDebug.String():
		return slog.LevelDebug, nil
	case slog.LevelInfo.String():
		return slog.LevelInfo, nil
	case slog.LevelWarn.String():
		return slog.LevelWarn, nil
	case slog.LevelError.String():
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t.Kind() != reflect.Ptr {
			return data, nil
		}

		typ := t.Elem()

		if typ != reflect.TypeOf(slog.LevelVar{}) {
			return data, nil
		}
		lvl, err := getLogLevel(data.(string))
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %s", data)
		}
		lvlVar := &slog.LevelVar{}
		lvlVar.Set(lvl)
		return lvlVar, nil
	}
}

func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	rootCmd.SetContext(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(
		signals,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer func() {
		signal.Stop(signals)
		cancel()
	}()
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
			//
		}
	}()
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func initConfig() {
	if configFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else {
		fmt.Println("loading env from file", configFile)
		if err := godotenv.Load(configFile); err != nil {
			log.Println("No .env file found")
		}
	}

	viper.SetDefault("database", svg2tgs.DefaultDatabase)
	viper.SetDefault("database_type", svg2tgs.DefaultDatabaseType)
	viper.SetDefault(
		"database_slow_threshold",
		svg2tgs.DefaultDatabaseSlowThreshold,
	)
	viper.SetDefault(
		"database_log_level",
		svg2tgs.DefaultDatabaseLogLevel.String(),
	)

	viper.SetDefault("log_level", svg2tgs.DefaultLogLevel.String())

	viper.SetDefault("startup_timeout", svg2tgs.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", svg2tgs.DefaultShutdownTimeout)
	viper.SetDefault("user_cache_ttl", svg2tgs.DefaultUserCacheTTL)

	// Telegram config
	viper.SetDefault("telegram.token", "")
	viper.SetDefault("telegram.admin_ids", []int64{})
	viper.SetDefault("telegram.poll_timeout", svg2tgs.DefaultPollTimeout)
	viper.SetDefault(
		"telegram.log_level",
		svg2tgs.DefaultTelegramLogLevel.String(),
	)
	viper.SetDefault(
		"telegram.broadcast_per_second",
		svg2tgs.DefaultBroadcastPerSecond,
	)
	viper.SetDefault("telegram.broadcast_burst", svg2tgs.DefaultBroadcastBurst)

	// Batch config
	viper.SetDefault("batch.window", svg2tgs.DefaultBatchWindow)
	viper.SetDefault("batch.max_file_size", svg2tgs.DefaultMaxFileSize)
	viper.SetDefault("batch.required_width", svg2tgs.DefaultRequiredWidth)
	viper.SetDefault("batch.required_height", svg2tgs.DefaultRequiredHeight)

	// Converter config
	viper.SetDefault("converter.lottie_path", "")
	viper.SetDefault("converter.timeout", svg2tgs.DefaultConvertTimeout)
	viper.SetDefault(
		"converter.sticker_size_warn",
		svg2tgs.DefaultStickerSizeWarn,
	)

	fatalErr := func(err error) {
		if err != nil {
			log.Fatalf("error: %v", err)
		}
	}

	// API config
	viper.SetDefault("api.listen", svg2tgs.DefaultAPIListen)
	viper.SetDefault("api.listen_network", "tcp")
	viper.SetDefault("api.log_level", svg2tgs.DefaultAPILogLevel.String())
	viper.SetDefault("api.read_timeout", svg2tgs.DefaultReadTimeout)
	viper.SetDefault(
		"api.read_header_timeout",
		svg2tgs.DefaultReadHeaderTimeout,
	)
	viper.SetDefault("api.write_timeout", svg2tgs.DefaultWriteTimeout)
	viper.SetDefault("api.idle_timeout", svg2tgs.DefaultIdleTimeout)
	viper.SetDefault("api.enable_pprof", false)

	// API: SSL config
	fatalErr(viper.BindEnv("api.ssl.cert"))
	fatalErr(viper.BindEnv("api.ssl.key"))
	fatalErr(viper.BindEnv("api.ssl.tls_min_version"))

	// API: CORS config
	viper.SetDefault(
		"api.cors.allow_headers",
		svg2tgs.DefaultCORSAllowHeaders,
	)
	viper.SetDefault(
		"api.cors.allow_methods",
		svg2tgs.DefaultCORSAllowMethods,
	)
	viper.SetDefault("api.cors.allow_origins", []string{})
	viper.SetDefault("api.cors.max_age", svg2tgs.DefaultCORSMaxAge)
	viper.SetDefault("api.cors.allow_credentials", false)

	envPrefix := os.Getenv(svg2tgs.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = svg2tgs.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	// Convert values to correct types
	viper.Set(
		"api.cors.allow_headers",
		viper.GetStringSlice("api.cors.allow_headers"),
	)
	viper.Set(
		"api.cors.allow_origins",
		viper.GetStringSlice("api.cors.allow_origins"),
	)
	viper.Set(
		"api.cors.allow_methods",
		viper.GetStringSlice("api.cors.allow_methods"),
	)
	viper.Set(
		"telegram.admin_ids",
		viper.GetIntSlice("telegram.admin_ids"),
	)

	logLevelVar, err := levelStringToLevelVar(viper.GetString("log_level"))
	if err != nil {
		log.Fatalf("error parsing log_level: %v", err)
	}
	viper.Set("log_level", logLevelVar)

	logLevelVar, err = levelStringToLevelVar(viper.GetString("telegram.log_level"))
	if err != nil {
		log.Fatalf("error parsing telegram log level: %v", err)
	}
	viper.Set("telegram.log_level", logLevelVar)

	logLevelVar, err = levelStringToLevelVar(viper.GetString("database_log_level"))
	if err != nil {
		log.Fatalf("error parsing database log level: %v", err)
	}
	viper.Set("database_log_level", logLevelVar)

	logLevelVar, err = levelStringToLevelVar(viper.GetString("api.log_level"))
	if err != nil {
		log.Fatalf("error parsing api log level: %v", err)
	}
	viper.Set("api.log_level", logLevelVar)
}

func levelStringToLevelVar(lvl string) (*slog.LevelVar, error) {
	level := &slog.LevelVar{}
	err := level.UnmarshalText([]byte(lvl))
	return level, err
}

//goland:noinspection GoLinter,GoLinter
func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"Config file to use",
	)
}
