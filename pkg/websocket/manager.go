package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/RoknuzzamanRokon/chat-gateway/pkg/config"
	"github.com/RoknuzzamanRokon/chat-gateway/pkg/metrics"
	"github.com/RoknuzzamanRokon/chat-gateway/pkg/models"
	"github.com/RoknuzzamanRokon/chat-gateway/pkg/pool"
	"github.com/RoknuzzamanRokon/chat-gateway/pkg/ratelimit"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Presence mirrors connection state into an external store (Redis) so the
// site backend can see who is online. All calls are best-effort.
type Presence interface {
	ConnectionOnline(ctx context.Context, record *models.Presence) error
	ConnectionOffline(ctx context.Context, connectionID, sessionID string, role models.Role) error
}

// ConnectParams carries the identity and grouping context supplied by the
// outer handler layer when a connection is established.
type ConnectParams struct {
	ID        string
	Role      models.Role
	SessionID string
	ProductID int64
	UserID    string
	UserName  string
	IPAddress string
}

type Stats struct {
	TotalConnections    int `json:"total_connections"`
	CustomerConnections int `json:"customer_connections"`
	AdminConnections    int `json:"admin_connections"`
	ActiveSessions      int `json:"active_sessions"`
	ProductGroups       int `json:"product_groups"`
}

type ConnectionInfo struct {
	ID           string      `json:"id"`
	Role         models.Role `json:"role"`
	UserID       string      `json:"user_id,omitempty"`
	UserName     string      `json:"user_name,omitempty"`
	ProductID    int64       `json:"product_id,omitempty"`
	ConnectedAt  time.Time   `json:"connected_at"`
	LastActivity time.Time   `json:"last_activity"`
	IsTyping     bool        `json:"is_typing"`
}

type SessionInfo struct {
	SessionID   string           `json:"session_id"`
	Connections []ConnectionInfo `json:"connections"`
}

// Manager owns the authoritative set of live connections, the grouping
// indexes derived from it, and the message-routing protocol. Index entries
// exist if and only if the connection is in the main map; registration and
// removal mutate all structures under one lock.
type Manager struct {
	cfg      config.RegistryConfig
	logger   *zap.Logger
	pool     *pool.ConnectionPool
	limiter  *ratelimit.Limiter
	presence Presence
	metrics  *metrics.WebSocketMetrics
	upgrader websocket.Upgrader

	mutex       sync.RWMutex
	connections map[string]*Connection
	sessions    map[string]map[string]struct{}
	products    map[int64]map[string]struct{}
	admins      map[string]struct{}
}

func NewManager(cfg config.RegistryConfig, connPool *pool.ConnectionPool, limiter *ratelimit.Limiter, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:         cfg,
		logger:      logger,
		pool:        connPool,
		limiter:     limiter,
		connections: make(map[string]*Connection),
		sessions:    make(map[string]map[string]struct{}),
		products:    make(map[int64]map[string]struct{}),
		admins:      make(map[string]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (m *Manager) SetMetrics(metrics *metrics.WebSocketMetrics) {
	m.metrics = metrics
}

func (m *Manager) SetPresence(presence Presence) {
	m.presence = presence
}

// HandleConnection upgrades the HTTP request and runs the full admission
// path. On success the read pump and ping loop are started.
func (m *Manager) HandleConnection(w http.ResponseWriter, r *http.Request, params ConnectParams) {
	ws, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Error("failed to upgrade to WebSocket", zap.Error(err))
		return
	}

	conn, err := m.Connect(ws, params)
	if err != nil {
		// Connect already delivered the error frame and closed the transport.
		return
	}

	go m.readPump(conn, ws)
	go m.pingLoop(conn)
}

// Connect admits and registers a connection. A pool rejection delivers one
// structured error frame, closes with a policy-violation code and leaves no
// trace in any index.
func (m *Manager) Connect(transport Transport, params ConnectParams) (*Connection, error) {
	if params.ID == "" {
		params.ID = uuid.New().String()
	}

	if ok, reason := m.pool.CanAcceptConnection(params.IPAddress); !ok {
		m.rejectConnection(transport, reason)
		if m.metrics != nil {
			m.metrics.AdmissionRejected.WithLabelValues(reason).Inc()
		}
		return nil, fmt.Errorf("connection admission denied: %s", reason)
	}

	conn := newConnection(transport, params, time.Now())

	m.mutex.Lock()
	m.connections[conn.ID] = conn
	if conn.SessionID != "" {
		if m.sessions[conn.SessionID] == nil {
			m.sessions[conn.SessionID] = make(map[string]struct{})
		}
		m.sessions[conn.SessionID][conn.ID] = struct{}{}
	}
	if conn.ProductID != 0 {
		if m.products[conn.ProductID] == nil {
			m.products[conn.ProductID] = make(map[string]struct{})
		}
		m.products[conn.ProductID][conn.ID] = struct{}{}
	}
	if conn.Role == models.RoleAdmin {
		m.admins[conn.ID] = struct{}{}
	}
	total := len(m.connections)
	m.mutex.Unlock()

	m.pool.RegisterConnection(conn.ID, transport, conn.IPAddress, conn.Role, conn.SessionID, conn.ProductID)

	if m.metrics != nil {
		m.metrics.ActiveConnections.Set(float64(total))
		m.metrics.ConnectionsTotal.Inc()
	}

	if m.presence != nil {
		record := &models.Presence{
			ConnectionID: conn.ID,
			Role:         conn.Role,
			SessionID:    conn.SessionID,
			ProductID:    conn.ProductID,
			UserID:       conn.UserID,
			UserName:     conn.UserName,
			ConnectedAt:  conn.ConnectedAt,
		}
		if err := m.presence.ConnectionOnline(context.Background(), record); err != nil {
			m.logger.Warn("failed to publish presence", zap.Error(err), zap.String("connectionID", conn.ID))
		}
	}

	m.logger.Info("connection registered",
		zap.String("connectionID", conn.ID),
		zap.String("role", string(conn.Role)),
		zap.String("sessionID", conn.SessionID),
		zap.Int64("productID", conn.ProductID))

	if conn.SessionID != "" {
		joined := &models.Envelope{
			Type:      models.MessageTypeUserJoined,
			SessionID: conn.SessionID,
		}
		joined.Stamp(conn.SenderID(), conn.UserName, conn.Role, time.Now())
		m.BroadcastToSession(conn.SessionID, joined, conn.ID)
	}

	status := &models.Envelope{
		Type:      models.MessageTypeConnectionStatus,
		Status:    "connected",
		SessionID: conn.SessionID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	m.SendToConnection(conn.ID, status)

	return conn, nil
}

func (m *Manager) rejectConnection(transport Transport, reason string) {
	frame, err := json.Marshal(models.ErrorEnvelope(reason, "admission_denied"))
	if err == nil {
		transport.SetWriteDeadline(time.Now().Add(m.cfg.WriteTimeout))
		transport.WriteMessage(websocket.TextMessage, frame)
	}
	transport.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason),
		time.Now().Add(m.cfg.WriteTimeout))
	transport.Close()
}

// Disconnect removes the connection from every index, closes the transport
// and notifies the rest of its session. Safe to call twice.
func (m *Manager) Disconnect(id string) {
	m.mutex.Lock()
	conn, ok := m.connections[id]
	if !ok {
		m.mutex.Unlock()
		return
	}
	delete(m.connections, id)
	if conn.SessionID != "" {
		if ids, ok := m.sessions[conn.SessionID]; ok {
			delete(ids, id)
			if len(ids) == 0 {
				delete(m.sessions, conn.SessionID)
			}
		}
	}
	if conn.ProductID != 0 {
		if ids, ok := m.products[conn.ProductID]; ok {
			delete(ids, id)
			if len(ids) == 0 {
				delete(m.products, conn.ProductID)
			}
		}
	}
	delete(m.admins, id)
	total := len(m.connections)
	m.mutex.Unlock()

	conn.close()
	m.pool.UnregisterConnection(id)

	if m.metrics != nil {
		m.metrics.ActiveConnections.Set(float64(total))
		m.metrics.ConnectionDuration.Observe(time.Since(conn.ConnectedAt).Seconds())
	}

	if m.presence != nil {
		if err := m.presence.ConnectionOffline(context.Background(), id, conn.SessionID, conn.Role); err != nil {
			m.logger.Warn("failed to clear presence", zap.Error(err), zap.String("connectionID", id))
		}
	}

	m.logger.Info("connection removed",
		zap.String("connectionID", id),
		zap.String("sessionID", conn.SessionID))

	if conn.SessionID != "" {
		left := &models.Envelope{
			Type:      models.MessageTypeUserLeft,
			SessionID: conn.SessionID,
		}
		left.Stamp(conn.SenderID(), conn.UserName, conn.Role, time.Now())
		m.BroadcastToSession(conn.SessionID, left, id)
	}
}

// SendToConnection delivers one envelope. Transient failures are retried up
// to the configured limit with a brief delay; definitive closures and retry
// exhaustion disconnect the recipient. Returns whether delivery succeeded.
func (m *Manager) SendToConnection(id string, env *models.Envelope) bool {
	m.mutex.RLock()
	conn, ok := m.connections[id]
	m.mutex.RUnlock()
	if !ok {
		return false
	}

	data, err := json.Marshal(env)
	if err != nil {
		m.logger.Error("failed to marshal envelope", zap.Error(err), zap.String("type", string(env.Type)))
		return false
	}

	attempts := m.cfg.SendRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if !conn.Active() {
			// Raced with a disconnect; dropping this recipient is a normal
			// outcome, not an error.
			return false
		}

		err := conn.writeFrame(data, m.cfg.WriteTimeout)
		switch classifySendError(err) {
		case sendOK:
			conn.Touch()
			m.pool.UpdateActivity(id, 0, int64(len(data)), 0, false)
			if m.metrics != nil {
				m.metrics.MessagesSent.WithLabelValues(string(env.Type)).Inc()
				m.metrics.BytesSent.Add(float64(len(data)))
			}
			return true

		case sendDefinitive:
			m.logger.Debug("send failed on closed connection",
				zap.String("connectionID", id),
				zap.Error(err))
			if m.metrics != nil {
				m.metrics.SendFailures.WithLabelValues("definitive").Inc()
			}
			m.Disconnect(id)
			return false

		case sendTransient:
			m.logger.Debug("transient send failure",
				zap.String("connectionID", id),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
			if attempt < attempts-1 {
				time.Sleep(m.cfg.SendRetryDelay)
			}
		}
	}

	m.pool.UpdateActivity(id, 0, 0, 0, true)
	if m.metrics != nil {
		m.metrics.SendFailures.WithLabelValues("exhausted").Inc()
	}
	m.Disconnect(id)
	return false
}

// sessionSnapshot copies the member ids of a session so broadcasts never
// iterate a live index while it is mutated.
func (m *Manager) sessionSnapshot(sessionID string) []string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	ids := make([]string, 0, len(m.sessions[sessionID]))
	for id := range m.sessions[sessionID] {
		ids = append(ids, id)
	}
	return ids
}

func (m *Manager) BroadcastToSession(sessionID string, env *models.Envelope, exclude string) int {
	return m.broadcast(m.sessionSnapshot(sessionID), env, exclude)
}

func (m *Manager) BroadcastToAdmins(env *models.Envelope, exclude string) int {
	m.mutex.RLock()
	ids := make([]string, 0, len(m.admins))
	for id := range m.admins {
		ids = append(ids, id)
	}
	m.mutex.RUnlock()

	return m.broadcast(ids, env, exclude)
}

func (m *Manager) BroadcastToProduct(productID int64, env *models.Envelope, exclude string) int {
	m.mutex.RLock()
	ids := make([]string, 0, len(m.products[productID]))
	for id := range m.products[productID] {
		ids = append(ids, id)
	}
	m.mutex.RUnlock()

	return m.broadcast(ids, env, exclude)
}

func (m *Manager) broadcast(ids []string, env *models.Envelope, exclude string) int {
	delivered := 0
	for _, id := range ids {
		if id == exclude {
			continue
		}
		if m.SendToConnection(id, env) {
			delivered++
		}
	}
	if m.metrics != nil && delivered > 0 {
		m.metrics.BroadcastSize.Observe(float64(delivered))
	}
	return delivered
}

// HandleMessage routes one inbound payload. Malformed or unrecognized frames
// are logged and dropped; they never tear down the connection.
func (m *Manager) HandleMessage(connectionID string, payload []byte) {
	m.mutex.RLock()
	conn, ok := m.connections[connectionID]
	m.mutex.RUnlock()
	if !ok {
		return
	}

	env, err := models.ParseEnvelope(payload)
	if err != nil {
		m.logger.Debug("dropping malformed frame",
			zap.String("connectionID", connectionID),
			zap.Error(err))
		if m.metrics != nil {
			m.metrics.MalformedFrames.Inc()
		}
		return
	}

	if m.metrics != nil {
		m.metrics.MessagesReceived.WithLabelValues(string(env.Type)).Inc()
	}

	switch env.Type {
	case models.MessageTypeChat:
		m.handleChatMessage(conn, env)
	case models.MessageTypeTyping:
		m.handleTypingIndicator(conn, env)
	case models.MessageTypeRead:
		m.handleMessageRead(conn, env)
	default:
		m.logger.Debug("dropping frame with unknown type",
			zap.String("connectionID", connectionID),
			zap.String("type", string(env.Type)))
		if m.metrics != nil {
			m.metrics.MalformedFrames.Inc()
		}
	}
}

func (m *Manager) handleChatMessage(conn *Connection, env *models.Envelope) {
	now := time.Now()

	out := &models.Envelope{
		Type:      models.MessageTypeChat,
		Message:   env.Message,
		SessionID: conn.SessionID,
		ProductID: conn.ProductID,
	}
	out.Stamp(conn.SenderID(), conn.UserName, conn.Role, now)
	m.BroadcastToSession(conn.SessionID, out, conn.ID)

	// A customer message also alerts every admin, in session or not, so an
	// unattended inquiry is visible on the dashboard.
	if conn.Role == models.RoleCustomer {
		notice := &models.Envelope{
			Type:      models.MessageTypeAdminNotification,
			Message:   env.Message,
			SessionID: conn.SessionID,
			ProductID: conn.ProductID,
		}
		notice.Stamp(conn.SenderID(), conn.UserName, conn.Role, now)
		m.BroadcastToAdmins(notice, conn.ID)
	}
}

func (m *Manager) handleTypingIndicator(conn *Connection, env *models.Envelope) {
	typing := env.IsTyping != nil && *env.IsTyping
	conn.SetTyping(typing)

	out := &models.Envelope{
		Type:      models.MessageTypeTyping,
		SessionID: conn.SessionID,
		IsTyping:  &typing,
	}
	out.Stamp(conn.SenderID(), conn.UserName, conn.Role, time.Now())
	m.BroadcastToSession(conn.SessionID, out, conn.ID)
}

func (m *Manager) handleMessageRead(conn *Connection, env *models.Envelope) {
	out := &models.Envelope{
		Type:       models.MessageTypeRead,
		SessionID:  conn.SessionID,
		MessageIDs: env.MessageIDs,
	}
	out.Stamp(conn.SenderID(), conn.UserName, conn.Role, time.Now())
	m.BroadcastToSession(conn.SessionID, out, conn.ID)
}

// CleanupInactiveConnections disconnects connections idle past the timeout
// or whose transport has already been reported closed. Returns the number
// removed.
func (m *Manager) CleanupInactiveConnections(timeout time.Duration) int {
	cutoff := time.Now().Add(-timeout)

	m.mutex.RLock()
	candidates := make([]*Connection, 0, len(m.connections))
	for _, conn := range m.connections {
		candidates = append(candidates, conn)
	}
	m.mutex.RUnlock()

	removed := 0
	for _, conn := range candidates {
		if !conn.Active() || conn.LastActivity().Before(cutoff) {
			m.Disconnect(conn.ID)
			removed++
		}
	}

	if removed > 0 {
		m.logger.Info("cleaned up inactive connections", zap.Int("removed", removed))
	}
	return removed
}

func (m *Manager) GetStats() Stats {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	stats := Stats{
		TotalConnections: len(m.connections),
		AdminConnections: len(m.admins),
		ActiveSessions:   len(m.sessions),
		ProductGroups:    len(m.products),
	}
	stats.CustomerConnections = stats.TotalConnections - stats.AdminConnections
	return stats
}

func (m *Manager) GetSessionInfo(sessionID string) (SessionInfo, bool) {
	m.mutex.RLock()
	ids, ok := m.sessions[sessionID]
	if !ok {
		m.mutex.RUnlock()
		return SessionInfo{}, false
	}
	conns := make([]*Connection, 0, len(ids))
	for id := range ids {
		if conn, ok := m.connections[id]; ok {
			conns = append(conns, conn)
		}
	}
	m.mutex.RUnlock()

	info := SessionInfo{SessionID: sessionID}
	for _, conn := range conns {
		info.Connections = append(info.Connections, ConnectionInfo{
			ID:           conn.ID,
			Role:         conn.Role,
			UserID:       conn.UserID,
			UserName:     conn.UserName,
			ProductID:    conn.ProductID,
			ConnectedAt:  conn.ConnectedAt,
			LastActivity: conn.LastActivity(),
			IsTyping:     conn.Typing(),
		})
	}
	return info, true
}

// Close shuts down every connection for process shutdown.
func (m *Manager) Close(ctx context.Context) error {
	m.logger.Info("closing connection registry")

	m.mutex.RLock()
	ids := make([]string, 0, len(m.connections))
	for id := range m.connections {
		ids = append(ids, id)
	}
	m.mutex.RUnlock()

	for _, id := range ids {
		m.mutex.RLock()
		conn, ok := m.connections[id]
		m.mutex.RUnlock()
		if ok {
			conn.transport.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "server shutting down"),
				time.Now().Add(m.cfg.WriteTimeout))
		}
		m.Disconnect(id)

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}

	m.logger.Info("connection registry closed")
	return nil
}

// readPump runs one goroutine per connection consuming inbound frames. Every
// frame passes the message-rate check before it reaches the router.
func (m *Manager) readPump(conn *Connection, ws *websocket.Conn) {
	defer m.Disconnect(conn.ID)

	ws.SetReadLimit(m.cfg.MaxMessageSize)
	ws.SetReadDeadline(time.Now().Add(m.cfg.PongTimeout))
	ws.SetPongHandler(func(string) error {
		conn.Touch()
		ws.SetReadDeadline(time.Now().Add(m.cfg.PongTimeout))
		return nil
	})

	for {
		_, payload, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure) {
				m.logger.Info("WebSocket closed unexpectedly",
					zap.Error(err),
					zap.String("connectionID", conn.ID))
			}
			return
		}

		m.handleInbound(conn, payload)
	}
}

func (m *Manager) handleInbound(conn *Connection, payload []byte) {
	identifier := conn.SessionID
	if identifier == "" {
		identifier = conn.IPAddress
	}
	if identifier == "" {
		identifier = conn.ID
	}

	if m.limiter != nil {
		res := m.limiter.CheckMessageRate(identifier, len(payload))
		if !res.Allowed {
			reply := models.ErrorEnvelope(res.Reason, "rate_limited")
			reply.RetryAfter = res.RetryAfter
			m.SendToConnection(conn.ID, reply)
			return
		}
	}

	conn.Touch()
	m.pool.UpdateActivity(conn.ID, 1, 0, int64(len(payload)), false)
	if m.metrics != nil {
		m.metrics.BytesReceived.Add(float64(len(payload)))
	}

	m.HandleMessage(conn.ID, payload)
}

// pingLoop keeps the transport alive and exits once the connection closes.
func (m *Manager) pingLoop(conn *Connection) {
	interval := m.cfg.PingInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		if !conn.Active() {
			return
		}
		if err := conn.transport.WriteControl(websocket.PingMessage, nil,
			time.Now().Add(m.cfg.WriteTimeout)); err != nil {
			return
		}
	}
}
