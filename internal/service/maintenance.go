package service

import (
	"sync"
	"time"

	"github.com/RoknuzzamanRokon/chat-gateway/pkg/pool"
	"github.com/RoknuzzamanRokon/chat-gateway/pkg/websocket"
	"go.uber.org/zap"
)

// MaintenanceLoop periodically purges dead entries from the pool and the
// registry. It runs for the lifetime of the process; a failure in one
// iteration never stops the next.
type MaintenanceLoop struct {
	manager     *websocket.Manager
	pool        *pool.ConnectionPool
	interval    time.Duration
	idleTimeout time.Duration
	logger      *zap.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewMaintenanceLoop(manager *websocket.Manager, connPool *pool.ConnectionPool, interval, idleTimeout time.Duration, logger *zap.Logger) *MaintenanceLoop {
	return &MaintenanceLoop{
		manager:     manager,
		pool:        connPool,
		interval:    interval,
		idleTimeout: idleTimeout,
		logger:      logger,
		stopCh:      make(chan struct{}),
	}
}

func (l *MaintenanceLoop) Start() {
	go l.run()
}

func (l *MaintenanceLoop) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopCh)
	})
}

func (l *MaintenanceLoop) run() {
	interval := l.interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	l.logger.Info("maintenance loop started",
		zap.Duration("interval", interval),
		zap.Duration("idleTimeout", l.idleTimeout))

	for {
		select {
		case <-l.stopCh:
			l.logger.Info("maintenance loop stopped")
			return
		case <-ticker.C:
			l.RunOnce()
		}
	}
}

// RunOnce executes one maintenance pass: the transport-level stale sweep
// first, then the idle-timeout sweep.
func (l *MaintenanceLoop) RunOnce() {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("maintenance iteration panicked", zap.Any("panic", r))
		}
	}()

	stale := l.pool.CleanupStaleConnections()
	idle := l.manager.CleanupInactiveConnections(l.idleTimeout)

	if stale > 0 || idle > 0 {
		l.logger.Info("maintenance pass completed",
			zap.Int("staleEvicted", stale),
			zap.Int("idleEvicted", idle))
	}
}
