package svg2tgs

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAPIUsername = "apiadmin"
	testAPIPassword = "api-test-password"
)

// newTestAPIBot returns an initialized bot whose runtime config has
// admin credentials set, for exercising the authenticated endpoints.
func newTestAPIBot(t testing.TB) (*Bot, *stubMessenger) {
	t.Helper()
	bot, stub := newTestBot(t)

	hashed, err := HashPassword(testAPIPassword)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = bot.writeDB.Updates(
		ctx,
		bot.runtimeConfig,
		map[string]any{
			columnRuntimeConfigAdminUsername: testAPIUsername,
			columnRuntimeConfigAdminPassword: hashed,
		},
	)
	require.NoError(t, err)

	bot.cfgMu.Lock()
	bot.runtimeConfig.AdminUsername = testAPIUsername
	bot.runtimeConfig.AdminPassword = hashed
	bot.cfgMu.Unlock()

	return bot, stub
}

func apiRequest(
	t testing.TB,
	bot *Bot,
	method string,
	path string,
	body []byte,
	authenticated bool,
) *httptest.ResponseRecorder {
	t.Helper()
	var reqBody *bytes.Reader
	if body == nil {
		reqBody = bytes.NewReader(nil)
	} else {
		reqBody = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reqBody)
	if authenticated {
		req.SetBasicAuth(testAPIUsername, testAPIPassword)
	}
	w := httptest.NewRecorder()
	bot.api.engine.ServeHTTP(w, req)
	return w
}

func TestAPIHealth(t *testing.T) {
	bot, _ := newTestBot(t)
	bot.startedAt = time.Now()

	w := apiRequest(t, bot, http.MethodGet, "/health", nil, false)
	require.Equal(t, http.StatusOK, w.Code)

	var health healthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, Version, health.Version)
	assert.False(t, health.Paused)
	assert.Equal(t, 0, health.PendingUsers)
	assert.Equal(t, int64(0), health.BatchesInProgress)

	// the root path serves the same response
	w = apiRequest(t, bot, http.MethodGet, "/", nil, false)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAPIStats(t *testing.T) {
	bot, _ := newTestBot(t)
	ctx := context.Background()

	_, err := bot.writeDB.Create(ctx, &User{ID: 1, Username: "a"})
	require.NoError(t, err)
	_, err = bot.writeDB.Create(
		ctx,
		&ConversionLog{
			BatchID:        "b1",
			UserID:         1,
			ChatID:         1,
			FilesRequested: 2,
			FilesConverted: 2,
		},
	)
	require.NoError(t, err)

	w := apiRequest(t, bot, http.MethodGet, "/stats", nil, false)
	require.Equal(t, http.StatusOK, w.Code)

	var stats BotStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, int64(1), stats.TotalUsers)
	assert.Equal(t, int64(1), stats.TotalBatches)
	assert.Equal(t, int64(2), stats.TotalFilesConverted)
}

func TestAPIAdminWithoutCredentialsConfigured(t *testing.T) {
	// until `init` sets credentials, admin endpoints reject everything
	bot, _ := newTestBot(t)

	w := apiRequest(t, bot, http.MethodGet, "/config", nil, false)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAPIAdminAuth(t *testing.T) {
	bot, _ := newTestAPIBot(t)

	t.Run("no credentials", func(t *testing.T) {
		w := apiRequest(t, bot, http.MethodGet, "/config", nil, false)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Header().Get("WWW-Authenticate"), "Basic")
	})

	t.Run("wrong password", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/config", nil)
		req.SetBasicAuth(testAPIUsername, "wrong")
		w := httptest.NewRecorder()
		bot.api.engine.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("valid credentials", func(t *testing.T) {
		w := apiRequest(t, bot, http.MethodGet, "/config", nil, true)
		assert.Equal(t, http.StatusOK, w.Code)

		var cfg RuntimeConfig
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cfg))
		assert.Equal(t, DefaultWelcomeMessage, cfg.WelcomeMessage)
	})
}

func TestAPIUsers(t *testing.T) {
	bot, _ := newTestAPIBot(t)
	ctx := context.Background()

	_, err := bot.writeDB.Create(
		ctx, &User{ID: 1, Username: "alice", LastActivity: 100},
	)
	require.NoError(t, err)
	_, err = bot.writeDB.Create(
		ctx, &User{ID: 2, Username: "bob", LastActivity: 200},
	)
	require.NoError(t, err)
	_, err = bot.writeDB.Create(
		ctx,
		&ConversionLog{
			BatchID:        "b1",
			UserID:         1,
			ChatID:         1,
			FilesRequested: 3,
			FilesConverted: 2,
		},
	)
	require.NoError(t, err)

	w := apiRequest(t, bot, http.MethodGet, "/users", nil, true)
	require.Equal(t, http.StatusOK, w.Code)

	var users []User
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &users))
	require.Len(t, users, 2)
	// most recently active first
	assert.Equal(t, "bob", users[0].Username)
	assert.Equal(t, "alice", users[1].Username)

	w = apiRequest(t, bot, http.MethodGet, "/users?stats=true", nil, true)
	require.Equal(t, http.StatusOK, w.Code)

	var withStats []userWithStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &withStats))
	require.Len(t, withStats, 2)
	require.NotNil(t, withStats[1].UserStats)
	assert.Equal(t, int64(1), withStats[1].UserStats.Batches)
	assert.Equal(t, int64(3), withStats[1].UserStats.FilesRequested)
	assert.Equal(t, int64(2), withStats[1].UserStats.FilesConverted)
	require.NotNil(t, withStats[0].UserStats)
	assert.Equal(t, int64(0), withStats[0].UserStats.Batches)

	// not reachable without credentials
	w = apiRequest(t, bot, http.MethodGet, "/users", nil, false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAPIUpdateConfig(t *testing.T) {
	bot, _ := newTestAPIBot(t)

	body := []byte(`{"paused": true, "welcome_message": "hi there", "log_level": "DEBUG"}`)
	w := apiRequest(t, bot, http.MethodPatch, "/config", body, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	cfg := bot.RuntimeConfig()
	assert.True(t, cfg.Paused)
	assert.Equal(t, "hi there", cfg.WelcomeMessage)
	assert.Equal(t, DBLogLevel("DEBUG"), cfg.LogLevel)

	assert.True(t, bot.paused.Load())

	// persisted
	var persisted RuntimeConfig
	require.NoError(t, bot.db.Last(&persisted).Error)
	assert.True(t, persisted.Paused)
	assert.Equal(t, "hi there", persisted.WelcomeMessage)
}

func TestAPIUpdateConfigValidation(t *testing.T) {
	bot, _ := newTestAPIBot(t)

	w := apiRequest(
		t,
		bot,
		http.MethodPatch,
		"/config",
		[]byte(`{"log_level": "LOUD"}`),
		true,
	)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = apiRequest(
		t,
		bot,
		http.MethodPatch,
		"/config",
		[]byte(`not json`),
		true,
	)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// an empty update is a no-op, not an error
	w = apiRequest(t, bot, http.MethodPatch, "/config", []byte(`{}`), true)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAPIPauseResume(t *testing.T) {
	bot, _ := newTestAPIBot(t)

	w := apiRequest(t, bot, http.MethodPost, "/pause", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, bot.paused.Load())

	// pausing again reports no change
	w = apiRequest(t, bot, http.MethodPost, "/pause", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, false, resp["changed"])

	w = apiRequest(t, bot, http.MethodPost, "/resume", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, bot.paused.Load())
}

func TestAPIQuit(t *testing.T) {
	bot, _ := newTestAPIBot(t)
	bot.signalStop = make(chan struct{}, 1)

	w := apiRequest(t, bot, http.MethodPost, "/quit", nil, true)
	require.Equal(t, http.StatusOK, w.Code)

	select {
	case <-bot.signalStop:
		//
	case <-time.After(5 * time.Second):
		t.Fatal("no stop signal received")
	}
}
