package service

import (
	"testing"
	"time"

	"github.com/RoknuzzamanRokon/chat-gateway/pkg/config"
	"github.com/RoknuzzamanRokon/chat-gateway/pkg/models"
	"github.com/RoknuzzamanRokon/chat-gateway/pkg/pool"
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

func newTestComponents(t *testing.T) (*websocket.Manager, *pool.ConnectionPool) {
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
	p := pool.NewConnectionPool(poolCfg, zap.NewNop())
	m := websocket.NewManager(registryCfg, p, nil, zap.NewNop())
	return m, p
}

func TestRunOnceEvictsIdleConnections(t *testing.T) {
	m, p := newTestComponents(t)

	_, err := m.Connect(&stubTransport{}, websocket.ConnectParams{
		ID:        "idler",
		Role:      models.RoleCustomer,
		SessionID: "s1",
		IPAddress: "10.0.0.1",
	})
	require.NoError(t, err)
	require.Equal(t, 1, m.GetStats().TotalConnections)

	loop := NewMaintenanceLoop(m, p, 30*time.Second, 0, zap.NewNop())

	// With a zero idle timeout any connection whose last activity predates
	// the pass is evicted.
	time.Sleep(5 * time.Millisecond)
	loop.RunOnce()

	assert.Equal(t, 0, m.GetStats().TotalConnections)
	assert.Equal(t, 0, p.GetMetrics().TotalConnections)
}

func TestRunOnceKeepsActiveConnections(t *testing.T) {
	m, p := newTestComponents(t)

	_, err := m.Connect(&stubTransport{}, websocket.ConnectParams{
		ID:        "busy",
		Role:      models.RoleCustomer,
		SessionID: "s1",
		IPAddress: "10.0.0.1",
	})
	require.NoError(t, err)

	loop := NewMaintenanceLoop(m, p, 30*time.Second, 30*time.Minute, zap.NewNop())
	loop.RunOnce()

	assert.Equal(t, 1, m.GetStats().TotalConnections)
}

func TestRunOnceRecoversFromPanic(t *testing.T) {
	m, _ := newTestComponents(t)

	// A nil pool makes the pass panic; the recover guard must contain it so
	// the loop survives to the next tick.
	loop := NewMaintenanceLoop(m, nil, 30*time.Second, 30*time.Minute, zap.NewNop())

	assert.NotPanics(t, loop.RunOnce)
	assert.NotPanics(t, loop.RunOnce)
}

func TestStopIsIdempotent(t *testing.T) {
	m, p := newTestComponents(t)
	loop := NewMaintenanceLoop(m, p, time.Millisecond, time.Hour, zap.NewNop())

	loop.Start()
	time.Sleep(5 * time.Millisecond)
	loop.Stop()
	loop.Stop()
}
