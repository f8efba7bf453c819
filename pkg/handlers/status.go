package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/RoknuzzamanRokon/chat-gateway/pkg/pool"
	"github.com/RoknuzzamanRokon/chat-gateway/pkg/ratelimit"
	"github.com/RoknuzzamanRokon/chat-gateway/pkg/websocket"
	"go.uber.org/zap"
)

// PresenceReader is the query side of the presence mirror. When configured,
// the status endpoints enrich their snapshots with the mirrored view so the
// dashboard can compare it against the registry's authoritative one.
type PresenceReader interface {
	OnlineAdmins(ctx context.Context) (int64, error)
	SessionConnections(ctx context.Context, sessionID string) ([]string, error)
}

// StatusHandler backs the admin dashboard's gateway status panel. Access
// control happens upstream; the gateway itself serves plain snapshots.
type StatusHandler struct {
	manager  *websocket.Manager
	pool     *pool.ConnectionPool
	limiter  *ratelimit.Limiter
	presence PresenceReader
	logger   *zap.Logger
}

func NewStatusHandler(manager *websocket.Manager, connPool *pool.ConnectionPool, limiter *ratelimit.Limiter, logger *zap.Logger) *StatusHandler {
	return &StatusHandler{
		manager: manager,
		pool:    connPool,
		limiter: limiter,
		logger:  logger,
	}
}

func (h *StatusHandler) SetPresence(presence PresenceReader) {
	h.presence = presence
}

func (h *StatusHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snapshot := struct {
		Registry     websocket.Stats  `json:"registry"`
		Pool         pool.PoolMetrics `json:"pool"`
		RateLimiter  ratelimit.Stats  `json:"rate_limiter"`
		OnlineAdmins *int64           `json:"online_admins,omitempty"`
	}{
		Registry:    h.manager.GetStats(),
		Pool:        h.pool.GetMetrics(),
		RateLimiter: h.limiter.Stats(),
	}

	if h.presence != nil {
		if count, err := h.presence.OnlineAdmins(r.Context()); err == nil {
			snapshot.OnlineAdmins = &count
		} else {
			h.logger.Warn("failed to read mirrored admin presence", zap.Error(err))
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snapshot); err != nil {
		h.logger.Error("failed to encode status snapshot", zap.Error(err))
	}
}

func (h *StatusHandler) HandleSessionInfo(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		http.Error(w, "missing session_id parameter", http.StatusBadRequest)
		return
	}

	info, ok := h.manager.GetSessionInfo(sessionID)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	out := struct {
		websocket.SessionInfo
		MirroredConnections []string `json:"mirrored_connections,omitempty"`
	}{SessionInfo: info}

	if h.presence != nil {
		if ids, err := h.presence.SessionConnections(r.Context(), sessionID); err == nil {
			out.MirroredConnections = ids
		} else {
			h.logger.Warn("failed to read mirrored session presence",
				zap.Error(err),
				zap.String("sessionID", sessionID))
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		h.logger.Error("failed to encode session info", zap.Error(err))
	}
}

// HandleResetLimits clears all rate limiter state. Operational recovery
// hatch; see the status endpoint contract.
func (h *StatusHandler) HandleResetLimits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.limiter.Reset()
	h.logger.Info("rate limiter reset via status endpoint")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}
