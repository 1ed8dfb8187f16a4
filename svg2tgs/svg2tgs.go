package svg2tgs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/lmittmann/tint"
	"gorm.io/gorm"
)

var (
	// When building, set these like:
	// -ldflags "-X github.com/viizet/svg2tgs/svg2tgs.Version=$$(date +'%Y%m%d')"

	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

var (
	defaultLogWriter io.Writer = os.Stdout
)

// Bot is the main application struct. It wires the Telegram transport,
// the submission coalescer, the batch processor, the database, and the
// HTTP status API together.
type Bot struct {
	config *Config

	// Pointer to a read-only GORM connection. This is from an
	// overabundance of caution for using SQLite.
	db *gorm.DB

	// gorm.DB wrapper for write/update/delete operations.
	// The only difference between this and [Bot.db] is that, when
	// using sqlite, a mutex is used. Otherwise, just use [Bot.db].
	writeDB DBI

	// Standard logger. Missing loggers will try to use this,
	// and fall back to slog.Default()
	logger *slog.Logger

	// Handler to use for the above
	logHandler slog.Handler

	// messenger handles all Telegram traffic. Set by initRun unless a
	// test injected one beforehand.
	messenger Messenger

	// coalescer merges rapid submissions into per-user batches
	coalescer *Coalescer

	// processor runs flushed batches
	processor *BatchProcessor

	validator SVGValidator
	converter *ConverterChain

	// Provides the HTTP status/admin API
	api *API

	// signalStop enables an explicit stop signal to be sent to the bot,
	// such as by the `/api/quit` endpoint
	signalStop chan struct{}

	// signalReady has a value sent on it once Run has finished
	// initializing and the update loop is live
	signalReady chan struct{}

	// A signal is sent on this channel when [Bot.shutdown] finishes
	eventShutdown chan struct{}

	// prevents Run from executing concurrently
	runMu sync.Mutex

	// The time Run was called
	startedAt time.Time

	// paused mirrors RuntimeConfig.Paused for cheap checks on the
	// update hot path
	paused atomic.Bool

	// batchesInProgress counts batches currently being processed
	batchesInProgress atomic.Int64

	// Runtime-configurable settings - things you may want to
	// change without restarting the bot.
	runtimeConfig *RuntimeConfig

	// protecc the runtime config
	cfgMu sync.RWMutex
}

// New creates and initializes a new Bot instance.
//
// This sets up logging and the API server, and prepares the conversion
// chain. Database and Telegram connections are established by [Bot.Run].
func New(config *Config) (*Bot, error) {
	var errs []error

	switch config.DatabaseType {
	case dbTypeSQLite, dbTypePostgres:
		//
	default:
		errs = append(
			errs,
			errors.New("invalid database type (must be 'sqlite' or 'postgres')"),
		)
	}

	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}

	b := &Bot{
		config:        config,
		signalReady:   make(chan struct{}, 1),
		eventShutdown: make(chan struct{}, 1),
	}

	b.logHandler = tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     b.config.LogLevel,
			AddSource: true,
		},
	)

	b.logger = slog.New(b.logHandler)
	slog.SetDefault(b.logger)

	b.config.Telegram.httpClient = b.config.HTTPClient

	b.validator = NewSVGValidator(
		config.Batch.RequiredWidth,
		config.Batch.RequiredHeight,
	)
	b.converter = newConverterChain(b.logger, config.Converter, config.Batch)

	api, err := newAPI(b, config.API)
	errs = append(errs, err)
	b.api = api

	return b, errors.Join(errs...)
}

func (b *Bot) ValidateConfig() error {
	return structValidator.Struct(b.config)
}

// RuntimeConfig returns a copy of the current runtime configuration
func (b *Bot) RuntimeConfig() RuntimeConfig {
	b.cfgMu.RLock()
	defer b.cfgMu.RUnlock()
	return *b.runtimeConfig
}

func (b *Bot) getLogger(ctx context.Context) (*slog.Logger, context.Context) {
	log, ok := ContextLogger(ctx)
	if log == nil || !ok {
		log = b.logger
		if log == nil {
			log = slog.Default()
		}
		ctx = WithLogger(ctx, log)
	}
	return log, ctx
}

// Run starts the bot: it connects the database and Telegram, starts
// the status API, and consumes updates until ctx is canceled or a stop
// signal arrives.
func (b *Bot) Run(ctx context.Context) error {
	// prevents concurrent runs
	b.runMu.Lock()
	defer b.runMu.Unlock()

	b.signalStop = make(chan struct{}, 1)
	b.startedAt = time.Now()
	logger := b.logger

	if err := b.ValidateConfig(); err != nil {
		logger.Error("invalid config", tint.Err(err))
		return err
	}

	ctx = WithLogger(ctx, logger)
	logger.LogAttrs(ctx, slog.LevelInfo, "starting", slog.Any("config", b.config))

	if b.signalReady == nil {
		b.signalReady = make(chan struct{}, 1)
	}

	// this is the 'runtime' context, which triggers a graceful shutdown
	// when canceled
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-b.signalStop:
			logger.Warn("got stop signal, canceling")
			cancel()
		case <-ctx.Done():
			logger.Warn("context canceled, sending stop signal")
			b.signalStop <- struct{}{}
		}
	}()

	go func() {
		httpErr := b.api.Serve(ctx)
		if httpErr != nil && !errors.Is(httpErr, http.ErrServerClosed) {
			logger.ErrorContext(ctx, "error serving api HTTP", tint.Err(httpErr))
		}
	}()

	startCtx, startCancel := context.WithTimeout(ctx, b.config.StartupTimeout)
	defer startCancel()

	initErr := make(chan error, 1)
	go func() {
		logger.Debug("initializing run...")
		initErr <- b.initRun(startCtx, ctx)
	}()

	select {
	case <-startCtx.Done():
		return fmt.Errorf("startup cancelled or timed out")
	case err := <-initErr:
		if err != nil {
			logger.ErrorContext(ctx, "init error", tint.Err(err))
			if b.api != nil && b.api.listener != nil {
				go func() {
					if e := b.api.listener.Close(); e != nil {
						logger.ErrorContext(ctx, "error closing listener", tint.Err(e))
					}
				}()
			}
			return err
		}
		logger.InfoContext(ctx, "init complete")
	}

	runtimeWG := &sync.WaitGroup{}

	updates := b.messenger.UpdatesChannel()
	runtimeWG.Add(1)
	go func() {
		defer runtimeWG.Done()
		b.watchUpdates(ctx, updates)
	}()

	b.signalReady <- struct{}{}
	logger.InfoContext(
		ctx,
		"ready",
		"username", b.messenger.Username(),
		"version", Version,
	)

	<-ctx.Done()

	return b.shutdown(context.WithoutCancel(ctx), runtimeWG)
}

// initRun connects the database, loads (or creates) the runtime config
// row, and authenticates against Telegram.
func (b *Bot) initRun(startCtx context.Context, ctx context.Context) error {
	logger, _ := b.getLogger(ctx)

	db, err := CreateDB(startCtx, b.config.DatabaseType, b.config.Database)
	if err != nil {
		return fmt.Errorf("error initializing database: %w", err)
	}
	b.db = db
	b.writeDB = NewDatabase(
		db,
		logger,
		b.config.UserCacheTTL,
		b.config.DatabaseType == dbTypePostgres,
	)

	if err = b.loadRuntimeConfig(startCtx); err != nil {
		return err
	}

	if b.messenger == nil {
		telegramLogger := slog.New(
			tint.NewHandler(
				defaultLogWriter, &tint.Options{
					Level:     b.config.Telegram.LogLevel,
					AddSource: true,
				},
			),
		)
		messenger, merr := newTelegramMessenger(ctx, b.config.Telegram, telegramLogger)
		if merr != nil {
			return merr
		}
		b.messenger = messenger
	}

	b.processor = NewBatchProcessor(
		b.writeDB,
		b.messenger,
		b.validator,
		b.converter,
		b.config.Converter.Timeout,
		b.logger,
	)
	b.coalescer = NewCoalescer(
		b.config.Batch.Window,
		b.logger,
		func(batch Batch) {
			b.batchesInProgress.Add(1)
			defer b.batchesInProgress.Add(-1)
			// Batches flushed during shutdown arrive after the runtime
			// context is canceled; they must still be processed. The
			// shutdown timeout bounds how long we wait for them.
			b.processor.Process(
				WithLogger(context.WithoutCancel(ctx), b.logger),
				batch,
			)
		},
	)
	return nil
}

// loadRuntimeConfig reads the persisted runtime configuration, creating
// the row with defaults on first startup.
func (b *Bot) loadRuntimeConfig(ctx context.Context) error {
	logger, ctx := b.getLogger(ctx)

	runtimeConfig := RuntimeConfig{}
	err := b.db.WithContext(ctx).Last(&runtimeConfig).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("error loading runtime config: %w", err)
		}
		runtimeConfig = DefaultRuntimeConfig()
		logger.InfoContext(ctx, "creating initial runtime config")
		if _, err = b.writeDB.Create(ctx, &runtimeConfig); err != nil {
			return fmt.Errorf("error creating runtime config: %w", err)
		}
	}

	b.cfgMu.Lock()
	b.runtimeConfig = &runtimeConfig
	b.cfgMu.Unlock()

	b.paused.Store(runtimeConfig.Paused)
	b.setRuntimeLevels(runtimeConfig)
	return nil
}

// setRuntimeLevels applies the log levels stored in the runtime config
func (b *Bot) setRuntimeLevels(state RuntimeConfig) {
	if b.config.LogLevel != nil {
		b.config.LogLevel.Set(state.LogLevel.Level())
	}
	if b.config.Telegram.LogLevel != nil {
		b.config.Telegram.LogLevel.Set(state.TelegramLogLevel.Level())
	}
	if b.config.DatabaseLogLevel != nil {
		b.config.DatabaseLogLevel.Set(state.DatabaseLogLevel.Level())
	}
	if b.config.API.LogLevel != nil {
		b.config.API.LogLevel.Set(state.APILogLevel.Level())
	}
}

// watchUpdates consumes the Telegram long-poll stream until it closes
func (b *Bot) watchUpdates(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	logger, ctx := b.getLogger(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				logger.WarnContext(ctx, "update channel closed")
				return
			}
			b.handleUpdate(ctx, update)
		}
	}
}

// Pause pauses the bot: submissions are rejected until Resume is
// called. The state is persisted.
func (b *Bot) Pause(ctx context.Context) bool {
	logger, ctx := b.getLogger(ctx)
	if b.paused.Load() {
		return false
	}
	b.cfgMu.Lock()
	defer b.cfgMu.Unlock()

	if _, err := b.writeDB.Update(
		ctx,
		b.runtimeConfig,
		columnRuntimeConfigPaused,
		true,
	); err != nil {
		logger.ErrorContext(ctx, "error pausing", tint.Err(err))
		return false
	}
	b.runtimeConfig.Paused = true
	b.paused.Store(true)
	logger.InfoContext(ctx, "paused")
	return true
}

// Resume unpauses the bot
func (b *Bot) Resume(ctx context.Context) bool {
	logger, ctx := b.getLogger(ctx)
	if !b.paused.Load() {
		return false
	}
	b.cfgMu.Lock()
	defer b.cfgMu.Unlock()

	if _, err := b.writeDB.Update(
		ctx,
		b.runtimeConfig,
		columnRuntimeConfigPaused,
		false,
	); err != nil {
		logger.ErrorContext(ctx, "error resuming", tint.Err(err))
		return false
	}
	b.runtimeConfig.Paused = false
	b.paused.Store(false)
	logger.InfoContext(ctx, "resumed")
	return true
}

// shutdown closes everything down in dependency order: stop accepting
// updates, flush and finish pending batches, stop the API, close the DB.
func (b *Bot) shutdown(ctx context.Context, runtimeWG *sync.WaitGroup) error {
	logger, ctx := b.getLogger(ctx)
	logger.InfoContext(ctx, "shutting down")

	defer func() {
		b.eventShutdown <- struct{}{}
	}()

	shutdownCtx, cancel := context.WithTimeout(ctx, b.config.ShutdownTimeout)
	defer cancel()

	if b.messenger != nil {
		b.messenger.StopReceivingUpdates()
	}

	done := make(chan struct{}, 1)
	go func() {
		runtimeWG.Wait()
		if b.coalescer != nil {
			b.coalescer.Stop()
		}
		done <- struct{}{}
	}()

	select {
	case <-done:
		logger.InfoContext(ctx, "pending batches drained")
	case <-shutdownCtx.Done():
		logger.WarnContext(ctx, "shutdown timeout exceeded, abandoning batches")
	}

	var errs []error
	if b.api != nil && b.api.httpServer != nil {
		if err := b.api.httpServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
	}

	if b.db != nil {
		sqlDB, err := b.db.DB()
		if err == nil {
			errs = append(errs, sqlDB.Close())
		}
	}

	logger.InfoContext(ctx, "shutdown complete")
	return errors.Join(errs...)
}
