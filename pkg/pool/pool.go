package pool

import (
	"sync"
	"time"

	"github.com/RoknuzzamanRokon/chat-gateway/pkg/config"
	"github.com/RoknuzzamanRokon/chat-gateway/pkg/metrics"
	"github.com/RoknuzzamanRokon/chat-gateway/pkg/models"
	"go.uber.org/zap"
)

// Handle is the minimal view of a transport the pool keeps. The pool is an
// accounting layer, not an owner: the record here does not keep the
// connection alive, and abandoned transports are reclaimed by the
// maintenance loop's idle sweep rather than by finalizers.
type Handle interface {
	Close() error
}

// Rough per-connection footprint: gorilla read/write buffers, the read pump
// goroutine stack and the registry/pool records.
const estimatedBytesPerConn = 32 << 10

// A connection with no activity for this long still counts as tracked but is
// reported as idle in the metrics snapshot.
const idleAfter = 5 * time.Minute

type ConnMetrics struct {
	MessageCount  int64
	BytesSent     int64
	BytesReceived int64
	ErrorCount    int64
	CreatedAt     time.Time
	LastActivity  time.Time
}

type entry struct {
	handle    Handle
	ip        string
	role      models.Role
	sessionID string
	productID int64
	metrics   ConnMetrics
}

// PoolMetrics is a computed snapshot of pool state for the status endpoint.
type PoolMetrics struct {
	TotalConnections      int               `json:"total_connections"`
	ActiveConnections     int               `json:"active_connections"`
	IdleConnections       int               `json:"idle_connections"`
	CustomerConnections   int               `json:"customer_connections"`
	AdminConnections      int               `json:"admin_connections"`
	ConnectionsPerProduct map[int64]int     `json:"connections_per_product"`
	ConnectionsPerSession map[string]int    `json:"connections_per_session"`
	AvgConnectionAge      float64           `json:"avg_connection_age_seconds"`
	EstimatedMemoryBytes  int64             `json:"estimated_memory_bytes"`
	Status                Status            `json:"-"`
	StatusText            string            `json:"status"`
}

// ConnectionPool enforces global and per-IP connection caps and tracks
// per-connection counters for health scoring.
type ConnectionPool struct {
	cfg     config.PoolConfig
	logger  *zap.Logger
	metrics *metrics.PoolMetrics

	mu     sync.RWMutex
	conns  map[string]*entry
	byIP   map[string]map[string]struct{}
	status Status

	nowFn    func() time.Time
	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewConnectionPool(cfg config.PoolConfig, logger *zap.Logger) *ConnectionPool {
	return &ConnectionPool{
		cfg:    cfg,
		logger: logger,
		conns:  make(map[string]*entry),
		byIP:   make(map[string]map[string]struct{}),
		nowFn:  time.Now,
		stopCh: make(chan struct{}),
	}
}

func (p *ConnectionPool) SetMetrics(m *metrics.PoolMetrics) {
	p.metrics = m
}

// Start launches the periodic health check loop.
func (p *ConnectionPool) Start() {
	go p.healthLoop()
}

func (p *ConnectionPool) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
	})
}

// CanAcceptConnection is the admission check run before a connection is
// registered. It denies on the global cap, the per-IP cap, or Critical
// pool status.
func (p *ConnectionPool) CanAcceptConnection(ipAddress string) (bool, string) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if len(p.conns) >= p.cfg.MaxConnections {
		return false, "connection pool exhausted"
	}
	if len(p.byIP[ipAddress]) >= p.cfg.MaxConnectionsPerIP {
		return false, "too many connections from this address"
	}
	if p.status == StatusCritical {
		return false, "server is overloaded"
	}
	return true, ""
}

// RegisterConnection stores an accounting record for the connection. The
// handle reference is non-owning; see Handle.
func (p *ConnectionPool) RegisterConnection(id string, handle Handle, ipAddress string, role models.Role, sessionID string, productID int64) {
	now := p.nowFn()

	p.mu.Lock()
	defer p.mu.Unlock()

	p.conns[id] = &entry{
		handle:    handle,
		ip:        ipAddress,
		role:      role,
		sessionID: sessionID,
		productID: productID,
		metrics: ConnMetrics{
			CreatedAt:    now,
			LastActivity: now,
		},
	}
	if p.byIP[ipAddress] == nil {
		p.byIP[ipAddress] = make(map[string]struct{})
	}
	p.byIP[ipAddress][id] = struct{}{}

	if p.metrics != nil {
		p.metrics.TrackedConnections.Set(float64(len(p.conns)))
	}
}

// UnregisterConnection removes the connection from every index. Calling it
// for an unknown id is a no-op.
func (p *ConnectionPool) UnregisterConnection(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unregisterLocked(id)
}

func (p *ConnectionPool) unregisterLocked(id string) {
	e, ok := p.conns[id]
	if !ok {
		return
	}
	delete(p.conns, id)
	if ids, ok := p.byIP[e.ip]; ok {
		delete(ids, id)
		if len(ids) == 0 {
			delete(p.byIP, e.ip)
		}
	}

	if p.metrics != nil {
		p.metrics.TrackedConnections.Set(float64(len(p.conns)))
	}
}

// UpdateActivity bumps the per-connection counters after a send or receive.
func (p *ConnectionPool) UpdateActivity(id string, messageCount, bytesSent, bytesReceived int64, errorOccurred bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.conns[id]
	if !ok {
		return
	}
	e.metrics.MessageCount += messageCount
	e.metrics.BytesSent += bytesSent
	e.metrics.BytesReceived += bytesReceived
	if errorOccurred {
		e.metrics.ErrorCount++
	}
	e.metrics.LastActivity = p.nowFn()
}

// CleanupStaleConnections evicts connections whose last activity predates
// the idle cutoff, closing the underlying handle best-effort first.
func (p *ConnectionPool) CleanupStaleConnections() int {
	now := p.nowFn()
	cutoff := now.Add(-p.cfg.MaxIdleTime)

	p.mu.Lock()
	var stale []*entry
	var staleIDs []string
	for id, e := range p.conns {
		if e.metrics.LastActivity.Before(cutoff) {
			stale = append(stale, e)
			staleIDs = append(staleIDs, id)
		}
	}
	for _, id := range staleIDs {
		p.unregisterLocked(id)
	}
	p.mu.Unlock()

	for i, e := range stale {
		if e.handle != nil {
			if err := e.handle.Close(); err != nil {
				p.logger.Debug("error closing stale connection",
					zap.String("connectionID", staleIDs[i]),
					zap.Error(err))
			}
		}
	}

	if len(stale) > 0 {
		p.logger.Info("evicted stale connections", zap.Int("count", len(stale)))
		if p.metrics != nil {
			p.metrics.StaleEvictions.Add(float64(len(stale)))
		}
	}
	return len(stale)
}

// ForceCleanup closes and drops every tracked connection and returns the
// pool to Healthy. Used for shutdown and emergency recovery.
func (p *ConnectionPool) ForceCleanup() int {
	p.mu.Lock()
	handles := make([]Handle, 0, len(p.conns))
	for _, e := range p.conns {
		if e.handle != nil {
			handles = append(handles, e.handle)
		}
	}
	count := len(p.conns)
	p.conns = make(map[string]*entry)
	p.byIP = make(map[string]map[string]struct{})
	p.status = StatusHealthy
	p.mu.Unlock()

	for _, h := range handles {
		h.Close()
	}

	p.logger.Info("force cleanup completed", zap.Int("closed", count))
	if p.metrics != nil {
		p.metrics.TrackedConnections.Set(0)
		p.metrics.Status.Set(float64(StatusHealthy))
	}
	return count
}

func (p *ConnectionPool) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

// GetMetrics computes a snapshot. It iterates a point-in-time copy of the
// connection ids so concurrent registration and eviction never invalidate
// the scan.
func (p *ConnectionPool) GetMetrics() PoolMetrics {
	now := p.nowFn()

	p.mu.RLock()
	ids := make([]string, 0, len(p.conns))
	for id := range p.conns {
		ids = append(ids, id)
	}
	status := p.status
	p.mu.RUnlock()

	m := PoolMetrics{
		ConnectionsPerProduct: make(map[int64]int),
		ConnectionsPerSession: make(map[string]int),
		Status:                status,
		StatusText:            status.String(),
	}

	var totalAge float64
	for _, id := range ids {
		p.mu.RLock()
		e, ok := p.conns[id]
		if !ok {
			p.mu.RUnlock()
			continue
		}
		role := e.role
		sessionID := e.sessionID
		productID := e.productID
		created := e.metrics.CreatedAt
		lastActivity := e.metrics.LastActivity
		p.mu.RUnlock()

		m.TotalConnections++
		if now.Sub(lastActivity) > idleAfter {
			m.IdleConnections++
		} else {
			m.ActiveConnections++
		}
		if role == models.RoleAdmin {
			m.AdminConnections++
		} else {
			m.CustomerConnections++
		}
		if productID != 0 {
			m.ConnectionsPerProduct[productID]++
		}
		if sessionID != "" {
			m.ConnectionsPerSession[sessionID]++
		}
		totalAge += now.Sub(created).Seconds()
	}

	if m.TotalConnections > 0 {
		m.AvgConnectionAge = totalAge / float64(m.TotalConnections)
	}
	m.EstimatedMemoryBytes = int64(m.TotalConnections) * estimatedBytesPerConn

	return m
}

func (p *ConnectionPool) healthLoop() {
	interval := p.cfg.HealthCheckInterval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.RecomputeStatus()
		}
	}
}

// RecomputeStatus regrades the pool from occupancy and estimated memory.
func (p *ConnectionPool) RecomputeStatus() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	occupancy := 0.0
	if p.cfg.MaxConnections > 0 {
		occupancy = float64(len(p.conns)) / float64(p.cfg.MaxConnections)
	}
	memBytes := float64(len(p.conns) * estimatedBytesPerConn)
	memLevel := 0
	if p.cfg.MemoryCriticalBytes > 0 {
		memLevel = signalLevel(memBytes, float64(p.cfg.MemoryWarningBytes), float64(p.cfg.MemoryCriticalBytes))
	}

	previous := p.status
	p.status = combineSignals(
		signalLevel(occupancy, p.cfg.OccupancyWarning, p.cfg.OccupancyCritical),
		memLevel,
	)

	if p.status != previous {
		p.logger.Warn("pool status changed",
			zap.String("from", previous.String()),
			zap.String("to", p.status.String()),
			zap.Float64("occupancy", occupancy),
			zap.Int("connections", len(p.conns)))
	}
	if p.metrics != nil {
		p.metrics.Status.Set(float64(p.status))
		p.metrics.EstimatedMemory.Set(memBytes)
	}
	return p.status
}
