package handlers

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/RoknuzzamanRokon/chat-gateway/pkg/models"
	"github.com/RoknuzzamanRokon/chat-gateway/pkg/ratelimit"
	"github.com/RoknuzzamanRokon/chat-gateway/pkg/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type WebSocketHandler struct {
	manager *websocket.Manager
	limiter *ratelimit.Limiter
	logger  *zap.Logger
}

func NewWebSocketHandler(manager *websocket.Manager, limiter *ratelimit.Limiter, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		manager: manager,
		limiter: limiter,
		logger:  logger,
	}
}

// HandleConnection runs the pre-upgrade checks (connection rate, session
// creation rate) and hands the request to the registry. Rate denials are
// reported with 429 and a Retry-After header before any upgrade happens.
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)

	if res := h.limiter.CheckConnectionRate(ip); !res.Allowed {
		h.logger.Warn("connection rate limited",
			zap.String("ip", ip),
			zap.Int("retryAfter", res.RetryAfter))
		w.Header().Set("Retry-After", strconv.Itoa(res.RetryAfter))
		http.Error(w, res.Reason, http.StatusTooManyRequests)
		return
	}

	role := models.Role(r.URL.Query().Get("role"))
	if role == "" {
		role = models.RoleCustomer
	}
	if !role.Valid() {
		http.Error(w, "invalid role", http.StatusBadRequest)
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" && role == models.RoleCustomer {
		if res := h.limiter.CheckSessionCreationRate(ip); !res.Allowed {
			h.logger.Warn("session creation rate limited",
				zap.String("ip", ip),
				zap.Int("retryAfter", res.RetryAfter))
			w.Header().Set("Retry-After", strconv.Itoa(res.RetryAfter))
			http.Error(w, res.Reason, http.StatusTooManyRequests)
			return
		}
		sessionID = uuid.New().String()
	}

	var productID int64
	if raw := r.URL.Query().Get("product_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid product_id", http.StatusBadRequest)
			return
		}
		productID = id
	}

	params := websocket.ConnectParams{
		Role:      role,
		SessionID: sessionID,
		ProductID: productID,
		UserID:    r.URL.Query().Get("user_id"),
		UserName:  r.URL.Query().Get("user_name"),
		IPAddress: ip,
	}

	h.logger.Info("WebSocket connection request",
		zap.String("ip", ip),
		zap.String("role", string(role)),
		zap.String("sessionID", sessionID))

	h.manager.HandleConnection(w, r, params)
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type HealthCheckHandler struct {
	manager *websocket.Manager
	logger  *zap.Logger
}

func NewHealthCheckHandler(manager *websocket.Manager, logger *zap.Logger) *HealthCheckHandler {
	return &HealthCheckHandler{
		manager: manager,
		logger:  logger,
	}
}

func (h *HealthCheckHandler) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	stats := h.manager.GetStats()
	h.logger.Debug("Health check", zap.Int("connections", stats.TotalConnections))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(fmt.Sprintf(`{"status":"ok","connections":%d}`, stats.TotalConnections)))
}
