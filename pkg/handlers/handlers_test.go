package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/RoknuzzamanRokon/chat-gateway/pkg/config"
	"github.com/RoknuzzamanRokon/chat-gateway/pkg/models"
	"github.com/RoknuzzamanRokon/chat-gateway/pkg/pool"
	"github.com/RoknuzzamanRokon/chat-gateway/pkg/ratelimit"
	"github.com/RoknuzzamanRokon/chat-gateway/pkg/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubTransport struct{}

func (s *stubTransport) WriteMessage(messageType int, data []byte) error { return nil }
func (s *stubTransport) WriteControl(messageType int, data []byte, deadline time.Time) error {
	return nil
}
func (s *stubTransport) SetWriteDeadline(t time.Time) error { return nil }
func (s *stubTransport) Close() error                       { return nil }

type fakePresence struct {
	admins   int64
	sessions map[string][]string
	err      error
}

func (f *fakePresence) OnlineAdmins(ctx context.Context) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.admins, nil
}

func (f *fakePresence) SessionConnections(ctx context.Context, sessionID string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.sessions[sessionID], nil
}

func testLimiterConfig() config.RateLimitConfig {
	return config.RateLimitConfig{
		MessageLimit:      30,
		MessageWindow:     time.Minute,
		ConnectionLimit:   50,
		ConnectionWindow:  5 * time.Minute,
		SessionLimit:      5,
		SessionWindow:     time.Hour,
		BucketCapacity:    10,
		BucketRefillRate:  0.5,
		MaxTrackedClients: 1000,
	}
}

func newTestStack(t *testing.T, limiterCfg config.RateLimitConfig) (*websocket.Manager, *pool.ConnectionPool, *ratelimit.Limiter) {
	poolCfg := config.PoolConfig{
		MaxConnections:      100,
		MaxConnectionsPerIP: 25,
		MaxIdleTime:         time.Hour,
	}
	registryCfg := config.RegistryConfig{
		SendRetries:    2,
		SendRetryDelay: time.Millisecond,
		WriteTimeout:   time.Second,
		MaxMessageSize: 4096,
	}
	limiter := ratelimit.NewLimiter(limiterCfg, zap.NewNop())
	p := pool.NewConnectionPool(poolCfg, zap.NewNop())
	m := websocket.NewManager(registryCfg, p, limiter, zap.NewNop())
	return m, p, limiter
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.RemoteAddr = "192.0.2.10:54321"
	assert.Equal(t, "192.0.2.10", clientIP(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.5, 198.51.100.1")
	assert.Equal(t, "203.0.113.5", clientIP(r))

	r = httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.RemoteAddr = "192.0.2.11"
	assert.Equal(t, "192.0.2.11", clientIP(r))
}

func TestConnectionRateLimited(t *testing.T) {
	cfg := testLimiterConfig()
	cfg.ConnectionLimit = 0
	m, _, limiter := newTestStack(t, cfg)
	h := NewWebSocketHandler(m, limiter, zap.NewNop())

	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.RemoteAddr = "192.0.2.10:54321"
	w := httptest.NewRecorder()

	h.HandleConnection(w, r)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestSessionCreationRateLimited(t *testing.T) {
	cfg := testLimiterConfig()
	cfg.SessionLimit = 0
	m, _, limiter := newTestStack(t, cfg)
	h := NewWebSocketHandler(m, limiter, zap.NewNop())

	// A customer without a session id needs a new session, which is denied.
	r := httptest.NewRequest(http.MethodGet, "/ws?role=customer", nil)
	r.RemoteAddr = "192.0.2.10:54321"
	w := httptest.NewRecorder()

	h.HandleConnection(w, r)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// The same customer resuming an existing session passes this check and
	// reaches the upgrade, which fails on the recorder but not with a 429.
	r = httptest.NewRequest(http.MethodGet, "/ws?role=customer&session_id=s1", nil)
	r.RemoteAddr = "192.0.2.10:54321"
	w = httptest.NewRecorder()

	h.HandleConnection(w, r)

	assert.NotEqual(t, http.StatusTooManyRequests, w.Code)
}

func TestInvalidRoleRejected(t *testing.T) {
	m, _, limiter := newTestStack(t, testLimiterConfig())
	h := NewWebSocketHandler(m, limiter, zap.NewNop())

	r := httptest.NewRequest(http.MethodGet, "/ws?role=robot", nil)
	r.RemoteAddr = "192.0.2.10:54321"
	w := httptest.NewRecorder()

	h.HandleConnection(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInvalidProductIDRejected(t *testing.T) {
	m, _, limiter := newTestStack(t, testLimiterConfig())
	h := NewWebSocketHandler(m, limiter, zap.NewNop())

	r := httptest.NewRequest(http.MethodGet, "/ws?role=admin&product_id=abc", nil)
	r.RemoteAddr = "192.0.2.10:54321"
	w := httptest.NewRecorder()

	h.HandleConnection(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthCheck(t *testing.T) {
	m, _, _ := newTestStack(t, testLimiterConfig())
	h := NewHealthCheckHandler(m, zap.NewNop())

	w := httptest.NewRecorder()
	h.HandleHealthCheck(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","connections":0}`, w.Body.String())
}

func TestStatusSnapshot(t *testing.T) {
	m, p, limiter := newTestStack(t, testLimiterConfig())
	h := NewStatusHandler(m, p, limiter, zap.NewNop())

	limiter.CheckMessageRate("someone", 10)

	w := httptest.NewRecorder()
	h.HandleStatus(w, httptest.NewRequest(http.MethodGet, "/status", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var snapshot struct {
		Registry    websocket.Stats  `json:"registry"`
		Pool        pool.PoolMetrics `json:"pool"`
		RateLimiter ratelimit.Stats  `json:"rate_limiter"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snapshot))
	assert.Equal(t, 0, snapshot.Registry.TotalConnections)
	assert.Equal(t, "healthy", snapshot.Pool.StatusText)
	assert.Equal(t, 1, snapshot.RateLimiter.TrackedIdentifiers)

	w = httptest.NewRecorder()
	h.HandleStatus(w, httptest.NewRequest(http.MethodPost, "/status", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestStatusSnapshotWithPresence(t *testing.T) {
	m, p, limiter := newTestStack(t, testLimiterConfig())
	h := NewStatusHandler(m, p, limiter, zap.NewNop())
	h.SetPresence(&fakePresence{admins: 3})

	w := httptest.NewRecorder()
	h.HandleStatus(w, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var snapshot struct {
		OnlineAdmins *int64 `json:"online_admins"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snapshot))
	require.NotNil(t, snapshot.OnlineAdmins)
	assert.Equal(t, int64(3), *snapshot.OnlineAdmins)

	// A failing mirror degrades to the plain snapshot instead of erroring.
	h.SetPresence(&fakePresence{err: errors.New("redis down")})
	w = httptest.NewRecorder()
	h.HandleStatus(w, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snapshot))
	assert.Nil(t, snapshot.OnlineAdmins)
}

func TestSessionInfoIncludesMirroredPresence(t *testing.T) {
	m, p, limiter := newTestStack(t, testLimiterConfig())
	h := NewStatusHandler(m, p, limiter, zap.NewNop())
	h.SetPresence(&fakePresence{sessions: map[string][]string{"s1": {"conn-a"}}})

	_, err := m.Connect(&stubTransport{}, websocket.ConnectParams{
		ID:        "conn-a",
		Role:      models.RoleCustomer,
		SessionID: "s1",
		IPAddress: "10.0.0.1",
	})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	h.HandleSessionInfo(w, httptest.NewRequest(http.MethodGet, "/status/session?session_id=s1", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var out struct {
		SessionID           string   `json:"session_id"`
		MirroredConnections []string `json:"mirrored_connections"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, "s1", out.SessionID)
	assert.Equal(t, []string{"conn-a"}, out.MirroredConnections)
}

func TestSessionInfoEndpoint(t *testing.T) {
	m, p, limiter := newTestStack(t, testLimiterConfig())
	h := NewStatusHandler(m, p, limiter, zap.NewNop())

	w := httptest.NewRecorder()
	h.HandleSessionInfo(w, httptest.NewRequest(http.MethodGet, "/status/session", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	h.HandleSessionInfo(w, httptest.NewRequest(http.MethodGet, "/status/session?session_id=nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestResetLimitsEndpoint(t *testing.T) {
	m, p, limiter := newTestStack(t, testLimiterConfig())
	h := NewStatusHandler(m, p, limiter, zap.NewNop())

	limiter.CheckMessageRate("someone", 10)
	require.Equal(t, 1, limiter.Stats().TrackedIdentifiers)

	w := httptest.NewRecorder()
	h.HandleResetLimits(w, httptest.NewRequest(http.MethodGet, "/status/reset-limits", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, 1, limiter.Stats().TrackedIdentifiers)

	w = httptest.NewRecorder()
	h.HandleResetLimits(w, httptest.NewRequest(http.MethodPost, "/status/reset-limits", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, limiter.Stats().TrackedIdentifiers)
}
