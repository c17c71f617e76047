package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mazl/internal/config"
	"mazl/internal/models"
	"mazl/internal/notifications"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	testSecret            = "test-secret-key-12345678901234567890123456789012"
	testEventuallyTimeout = 2 * time.Second
	testPollInterval      = 10 * time.Millisecond
)

type testEnv struct {
	server *Server
	app    *fiber.App
	db     *gorm.DB
	mr     *miniredis.Miniredis
}

func testConfig(flags string) *config.Config {
	return &config.Config{
		Port:               "0",
		JWTSecret:          testSecret,
		JWTIssuer:          "mazl-api",
		JWTAudience:        "mazl-client",
		Env:                "test",
		FeatureFlags:       flags,
		WSTicketTTLSeconds: 30,
	}
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:server_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&models.Swipe{}, &models.Match{}, &models.Conversation{}, &models.Message{}))
	return db
}

// newTestEnv builds a server on sqlite and miniredis with the cross-instance
// subscriber running, so delivery goes through Redis as in production.
func newTestEnv(t *testing.T, flags string) *testEnv {
	t.Helper()
	t.Setenv("APP_ENV", "test")

	db := setupTestDB(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	s, err := NewServerWithDeps(testConfig(flags), db, rdb, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, s.dispatcher.Start(ctx))

	return &testEnv{server: s, app: s.NewApp(), db: db, mr: mr}
}

func (e *testEnv) do(t *testing.T, method, path string, userID uint, body interface{}) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != 0 {
		token, err := e.server.auth.IssueToken(userID, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

type swipeResponse struct {
	Matched      bool                 `json:"matched"`
	Match        *models.Match        `json:"match"`
	Conversation *models.Conversation `json:"conversation"`
}

// match makes a and b like each other over HTTP and returns the conversation.
func (e *testEnv) match(t *testing.T, a, b uint) *models.Conversation {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/api/swipes", a, fiber.Map{"target_id": b, "action": "like"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = e.do(t, http.MethodPost, "/api/swipes", b, fiber.Map{"target_id": a, "action": "like"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decode[swipeResponse](t, resp)
	require.True(t, res.Matched)
	require.NotNil(t, res.Conversation)
	return res.Conversation
}

type frame struct {
	Type           string          `json:"type"`
	ConversationID uint            `json:"conversation_id"`
	UserID         uint            `json:"user_id"`
	Payload        json.RawMessage `json:"payload"`
}

// attach registers a channel without a socket so tests can read its buffer.
func (e *testEnv) attach(t *testing.T, userID uint) *notifications.Client {
	t.Helper()
	c := notifications.NewClient(e.server.registry.Name(), nil, userID)
	require.NoError(t, e.server.registry.Register(userID, c))
	t.Cleanup(func() { e.server.registry.Unregister(userID, c) })
	return c
}

func nextFrame(t *testing.T, c *notifications.Client) frame {
	t.Helper()
	select {
	case raw := <-c.Send:
		var f frame
		require.NoError(t, json.Unmarshal(raw, &f))
		return f
	case <-time.After(testEventuallyTimeout):
		t.Fatalf("no frame for user %d", c.UserID)
		return frame{}
	}
}

func assertNoFrame(t *testing.T, c *notifications.Client) {
	t.Helper()
	select {
	case raw := <-c.Send:
		t.Fatalf("unexpected frame for user %d: %s", c.UserID, raw)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHealthChecks(t *testing.T) {
	e := newTestEnv(t, "")

	resp := e.do(t, http.MethodGet, "/health/live", 0, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = e.do(t, http.MethodGet, "/health/ready", 0, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]interface{}](t, resp)
	checks := body["checks"].(map[string]interface{})
	assert.Equal(t, "healthy", checks["database"])
	assert.Equal(t, "healthy", checks["redis"])
	assert.Equal(t, "disabled", checks["nats"])

	e.mr.Close()
	resp = e.do(t, http.MethodGet, "/health/ready", 0, nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestRoutesRequireAuth(t *testing.T) {
	e := newTestEnv(t, "")

	for _, route := range []struct{ method, path string }{
		{http.MethodPost, "/api/swipes"},
		{http.MethodGet, "/api/matches"},
		{http.MethodGet, "/api/conversations"},
		{http.MethodGet, "/api/conversations/1/messages"},
		{http.MethodPost, "/api/ws/ticket"},
		{http.MethodGet, "/api/feature-flags"},
	} {
		resp := e.do(t, route.method, route.path, 0, nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "%s %s", route.method, route.path)
	}
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{models.NewValidationError("bad"), http.StatusBadRequest},
		{models.NewAccessDeniedError("no"), http.StatusForbidden},
		{models.NewNotFoundError("Match", 1), http.StatusNotFound},
		{models.NewUnauthorizedError("who"), http.StatusUnauthorized},
		{models.NewInternalError(assert.AnError), http.StatusInternalServerError},
		{fmt.Errorf("wrapped: %w", models.NewValidationError("bad")), http.StatusBadRequest},
		{assert.AnError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusForError(tt.err), "%v", tt.err)
	}
}
