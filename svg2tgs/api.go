package svg2tgs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
)

const (
	apiPathHealth = "/health"
	apiPathStats  = "/stats"
	apiPathConfig = "/config"
	apiPathUsers  = "/users"
	apiPathPause  = "/pause"
	apiPathResume = "/resume"
	apiPathQuit   = "/quit"

	xRequestIDHeader = "X-Request-ID"
)

var structValidator = validator.New()

//nolint:gochecknoinits // validator tag registration
func init() {
	structValidator.SetTagName("binding")
}

// API is the HTTP status and admin server. The health and stats
// endpoints are public; the admin endpoints require basic auth against
// the credentials stored in the runtime config.
type API struct {
	config     *APIConfig
	httpServer *http.Server
	listener   net.Listener
	engine     *gin.Engine
	logger     *slog.Logger
	bot        *Bot
}

func newAPI(b *Bot, config *APIConfig) (*API, error) {
	if config == nil {
		return nil, errors.New("nil API config")
	}

	logger := slog.New(
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     config.LogLevel,
				AddSource: true,
			},
		),
	).With(loggerNameKey, "api")

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger(logger))

	corsConfig := cors.Config{
		AllowOrigins:     config.CORS.AllowOrigins,
		AllowMethods:     config.CORS.AllowMethods,
		AllowHeaders:     config.CORS.AllowHeaders,
		ExposeHeaders:    config.CORS.ExposeHeaders,
		AllowCredentials: config.CORS.AllowCredentials,
		MaxAge:           config.CORS.MaxAge,
	}
	if len(corsConfig.AllowOrigins) > 0 {
		engine.Use(cors.New(corsConfig))
	}

	if config.EnablePprof {
		pprof.Register(engine)
	}

	api := &API{
		config: config,
		engine: engine,
		logger: logger,
		bot:    b,
	}
	api.registerRoutes()

	api.httpServer = &http.Server{
		Handler:           engine,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
	}

	return api, nil
}

func (a *API) registerRoutes() {
	a.engine.GET("/", a.handleHealth)
	a.engine.GET(apiPathHealth, a.handleHealth)
	a.engine.GET(apiPathStats, a.handleStats)

	admin := a.engine.Group("/", a.requireAdmin())
	admin.GET(apiPathConfig, a.handleGetConfig)
	admin.GET(apiPathUsers, a.handleUsers)
	admin.PATCH(apiPathConfig, a.handleUpdateConfig)
	admin.POST(apiPathPause, a.handlePause)
	admin.POST(apiPathResume, a.handleResume)
	admin.POST(apiPathQuit, a.handleQuit)
}

// Serve starts listening. It blocks until the server stops.
func (a *API) Serve(ctx context.Context) error {
	listener, err := net.Listen(a.config.ListenNetwork, a.config.Listen)
	if err != nil {
		return fmt.Errorf("listen error: %w", err)
	}
	a.listener = listener

	a.logger.InfoContext(
		ctx,
		"api listening",
		"address", listener.Addr().String(),
		"ssl", a.config.SSL.Cert != "",
	)

	if a.config.SSL.Cert != "" {
		tlsCfg, tlsErr := tlsConfig(
			a.config.SSL.Cert,
			a.config.SSL.Key,
			a.config.SSL.TLSMinVersion,
		)
		if tlsErr != nil {
			return tlsErr
		}
		a.httpServer.TLSConfig = tlsCfg
		return a.httpServer.ServeTLS(listener, "", "")
	}
	return a.httpServer.Serve(listener)
}

// requireAdmin enforces basic auth against the runtime config's
// stored admin credentials. All requests are rejected until
// credentials have been set (via `svg2tgs init`).
func (a *API) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		cfg := a.bot.RuntimeConfig()
		if cfg.AdminUsername == "" || cfg.AdminPassword == "" {
			c.AbortWithStatusJSON(
				http.StatusForbidden,
				gin.H{"error": "admin credentials not configured"},
			)
			return
		}
		username, password, ok := c.Request.BasicAuth()
		if !ok || username != cfg.AdminUsername {
			c.Header("WWW-Authenticate", `Basic realm="svg2tgs"`)
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		valid, err := VerifyPassword(cfg.AdminPassword, password)
		if err != nil || !valid {
			c.Header("WWW-Authenticate", `Basic realm="svg2tgs"`)
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		c.Next()
	}
}

type healthResponse struct {
	Status            string `json:"status"`
	Version           string `json:"version"`
	Uptime            string `json:"uptime"`
	Paused            bool   `json:"paused"`
	PendingUsers      int    `json:"pending_users"`
	BatchesInProgress int64  `json:"batches_in_progress"`
}

func (a *API) handleHealth(c *gin.Context) {
	pendingUsers := 0
	if a.bot.coalescer != nil {
		pendingUsers = a.bot.coalescer.PendingUsers()
	}
	c.JSON(
		http.StatusOK, healthResponse{
			Status:            "ok",
			Version:           Version,
			Uptime:            time.Since(a.bot.startedAt).Truncate(time.Second).String(),
			Paused:            a.bot.paused.Load(),
			PendingUsers:      pendingUsers,
			BatchesInProgress: a.bot.batchesInProgress.Load(),
		},
	)
}

func (a *API) handleStats(c *gin.Context) {
	if a.bot.db == nil {
		c.JSON(
			http.StatusServiceUnavailable,
			gin.H{"error": "database not ready"},
		)
		return
	}
	stats, err := loadBotStats(a.bot.db.WithContext(c.Request.Context()))
	if err != nil {
		a.logger.Error("error loading stats", tint.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats unavailable"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

type userWithStats struct {
	User
	UserStats *UserStats `json:"stats,omitempty"`
}

// handleUsers lists known users, most recently active first. With
// `?stats=true`, each entry includes the user's conversion totals.
func (a *API) handleUsers(c *gin.Context) {
	if a.bot.db == nil {
		c.JSON(
			http.StatusServiceUnavailable,
			gin.H{"error": "database not ready"},
		)
		return
	}

	var users []User
	err := a.bot.db.WithContext(c.Request.Context()).Order(
		"last_activity desc",
	).Find(&users).Error
	if err != nil {
		a.logger.Error("error listing users", tint.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "users unavailable"})
		return
	}

	if c.Query("stats") != "true" {
		c.JSON(http.StatusOK, users)
		return
	}

	// FIXME not very efficient - this should be a single grouped query
	//   with `user_id IN (...)` rather than one query per user

	usersWithStats := make([]userWithStats, len(users))
	g, gctx := errgroup.WithContext(c.Request.Context())
	for ind, u := range users {
		ind, u := ind, u
		g.Go(
			func() error {
				withStats := userWithStats{User: u}
				stats, e := u.getStats(gctx, a.bot.db)
				if e == nil {
					withStats.UserStats = &stats
					usersWithStats[ind] = withStats
				}
				return e
			},
		)
	}
	if e := g.Wait(); e != nil {
		a.logger.Error("error getting user stats", tint.Err(e))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "users unavailable"})
		return
	}
	c.JSON(http.StatusOK, usersWithStats)
}

func (a *API) handleGetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, a.bot.RuntimeConfig())
}

func (a *API) handleUpdateConfig(c *gin.Context) {
	var update RuntimeConfigUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := update.validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := WithLogger(c.Request.Context(), a.logger)

	b := a.bot
	b.cfgMu.Lock()
	cfg := *b.runtimeConfig

	updates := map[string]any{}
	if update.Paused != nil {
		cfg.Paused = *update.Paused
		updates[columnRuntimeConfigPaused] = *update.Paused
	}
	if update.WelcomeMessage != nil {
		cfg.WelcomeMessage = *update.WelcomeMessage
		updates["welcome_message"] = *update.WelcomeMessage
	}
	if update.BannedMessage != nil {
		cfg.BannedMessage = *update.BannedMessage
		updates["banned_message"] = *update.BannedMessage
	}
	if update.LogLevel != nil {
		cfg.LogLevel = *update.LogLevel
		updates["log_level"] = *update.LogLevel
	}
	if update.TelegramLogLevel != nil {
		cfg.TelegramLogLevel = *update.TelegramLogLevel
		updates["telegram_log_level"] = *update.TelegramLogLevel
	}
	if update.DatabaseLogLevel != nil {
		cfg.DatabaseLogLevel = *update.DatabaseLogLevel
		updates["database_log_level"] = *update.DatabaseLogLevel
	}
	if update.APILogLevel != nil {
		cfg.APILogLevel = *update.APILogLevel
		updates["api_log_level"] = *update.APILogLevel
	}

	if len(updates) == 0 {
		b.cfgMu.Unlock()
		c.JSON(http.StatusOK, cfg)
		return
	}

	if _, err := b.writeDB.Updates(ctx, b.runtimeConfig, updates); err != nil {
		b.cfgMu.Unlock()
		a.logger.Error("error updating runtime config", tint.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	*b.runtimeConfig = cfg
	b.cfgMu.Unlock()

	b.paused.Store(cfg.Paused)
	b.setRuntimeLevels(cfg)

	c.JSON(http.StatusOK, cfg)
}

func (a *API) handlePause(c *gin.Context) {
	changed := a.bot.Pause(WithLogger(c.Request.Context(), a.logger))
	c.JSON(http.StatusOK, gin.H{"paused": true, "changed": changed})
}

func (a *API) handleResume(c *gin.Context) {
	changed := a.bot.Resume(WithLogger(c.Request.Context(), a.logger))
	c.JSON(http.StatusOK, gin.H{"paused": false, "changed": changed})
}

func (a *API) handleQuit(c *gin.Context) {
	a.logger.Warn("quit requested via api")
	c.JSON(http.StatusOK, gin.H{"stopping": true})
	go func() {
		a.bot.signalStop <- struct{}{}
	}()
}

// requestLogger emits one structured log line per request
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.LogAttrs(
			c.Request.Context(),
			slog.LevelInfo,
			"request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("client_ip", c.ClientIP()),
			slog.String("request_id", c.GetHeader(xRequestIDHeader)),
		)
	}
}
