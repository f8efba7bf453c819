package pool

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/RoknuzzamanRokon/chat-gateway/pkg/config"
	"github.com/RoknuzzamanRokon/chat-gateway/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeHandle struct {
	mu     sync.Mutex
	closed int
}

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed++
	return nil
}

func (h *fakeHandle) closeCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func testPoolConfig() config.PoolConfig {
	return config.PoolConfig{
		MaxConnections:      1000,
		MaxConnectionsPerIP: 25,
		MaxIdleTime:         30 * time.Minute,
		HealthCheckInterval: 60 * time.Second,
		OccupancyWarning:    0.7,
		OccupancyCritical:   0.9,
		MemoryWarningBytes:  256 << 20,
		MemoryCriticalBytes: 512 << 20,
	}
}

type poolClock struct {
	now time.Time
}

func (c *poolClock) advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newTestPool(cfg config.PoolConfig) (*ConnectionPool, *poolClock) {
	clock := &poolClock{now: time.Unix(1700000000, 0)}
	p := NewConnectionPool(cfg, zap.NewNop())
	p.nowFn = func() time.Time { return clock.now }
	return p, clock
}

func TestPerIPCap(t *testing.T) {
	cfg := testPoolConfig()
	cfg.MaxConnectionsPerIP = 25
	p, _ := newTestPool(cfg)

	for i := 0; i < 25; i++ {
		id := fmt.Sprintf("conn-%d", i)
		ok, _ := p.CanAcceptConnection("198.51.100.4")
		require.True(t, ok)
		p.RegisterConnection(id, &fakeHandle{}, "198.51.100.4", models.RoleCustomer, "s1", 0)
	}

	ok, reason := p.CanAcceptConnection("198.51.100.4")
	assert.False(t, ok)
	assert.Equal(t, "too many connections from this address", reason)

	// Other addresses are unaffected.
	ok, _ = p.CanAcceptConnection("198.51.100.5")
	assert.True(t, ok)

	// Freeing one slot readmits the address.
	p.UnregisterConnection("conn-0")
	ok, _ = p.CanAcceptConnection("198.51.100.4")
	assert.True(t, ok)
}

func TestGlobalCap(t *testing.T) {
	cfg := testPoolConfig()
	cfg.MaxConnections = 3
	p, _ := newTestPool(cfg)

	for i := 0; i < 3; i++ {
		ip := fmt.Sprintf("10.0.0.%d", i)
		p.RegisterConnection(fmt.Sprintf("conn-%d", i), &fakeHandle{}, ip, models.RoleCustomer, "", 0)
	}

	ok, reason := p.CanAcceptConnection("10.0.0.99")
	assert.False(t, ok)
	assert.Equal(t, "connection pool exhausted", reason)
}

func TestUnregisterIsIdempotent(t *testing.T) {
	p, _ := newTestPool(testPoolConfig())

	p.RegisterConnection("c1", &fakeHandle{}, "10.0.0.1", models.RoleCustomer, "s1", 0)
	require.Equal(t, 1, p.GetMetrics().TotalConnections)

	p.UnregisterConnection("c1")
	p.UnregisterConnection("c1")
	p.UnregisterConnection("never-registered")

	assert.Equal(t, 0, p.GetMetrics().TotalConnections)

	p.mu.RLock()
	_, tracked := p.byIP["10.0.0.1"]
	p.mu.RUnlock()
	assert.False(t, tracked, "empty per-IP set should be removed")
}

func TestUpdateActivityTracksCounters(t *testing.T) {
	p, clock := newTestPool(testPoolConfig())

	p.RegisterConnection("c1", &fakeHandle{}, "10.0.0.1", models.RoleCustomer, "s1", 0)

	clock.advance(time.Minute)
	p.UpdateActivity("c1", 1, 10, 20, false)
	p.UpdateActivity("c1", 0, 0, 0, true)
	p.UpdateActivity("ghost", 1, 1, 1, false)

	p.mu.RLock()
	m := p.conns["c1"].metrics
	p.mu.RUnlock()

	assert.Equal(t, int64(1), m.MessageCount)
	assert.Equal(t, int64(10), m.BytesSent)
	assert.Equal(t, int64(20), m.BytesReceived)
	assert.Equal(t, int64(1), m.ErrorCount)
	assert.Equal(t, clock.now, m.LastActivity)
}

func TestCleanupStaleConnections(t *testing.T) {
	p, clock := newTestPool(testPoolConfig())

	stale := &fakeHandle{}
	live := &fakeHandle{}
	p.RegisterConnection("stale", stale, "10.0.0.1", models.RoleCustomer, "s1", 0)
	p.RegisterConnection("live", live, "10.0.0.2", models.RoleCustomer, "s2", 0)

	clock.advance(31 * time.Minute)
	p.UpdateActivity("live", 1, 0, 10, false)

	evicted := p.CleanupStaleConnections()

	assert.Equal(t, 1, evicted)
	assert.Equal(t, 1, stale.closeCount())
	assert.Equal(t, 0, live.closeCount())
	assert.Equal(t, 1, p.GetMetrics().TotalConnections)
}

func TestForceCleanup(t *testing.T) {
	p, _ := newTestPool(testPoolConfig())

	handles := make([]*fakeHandle, 3)
	for i := range handles {
		handles[i] = &fakeHandle{}
		p.RegisterConnection(fmt.Sprintf("c%d", i), handles[i], "10.0.0.1", models.RoleCustomer, "s1", 0)
	}

	closed := p.ForceCleanup()

	assert.Equal(t, 3, closed)
	for _, h := range handles {
		assert.Equal(t, 1, h.closeCount())
	}
	assert.Equal(t, 0, p.GetMetrics().TotalConnections)
	assert.Equal(t, StatusHealthy, p.Status())

	ok, _ := p.CanAcceptConnection("10.0.0.1")
	assert.True(t, ok)
}

func TestRecomputeStatusFromOccupancy(t *testing.T) {
	cfg := testPoolConfig()
	cfg.MaxConnections = 10
	p, _ := newTestPool(cfg)

	register := func(n int) {
		for i := 0; i < n; i++ {
			id := fmt.Sprintf("c%d", len(p.conns))
			p.RegisterConnection(id, &fakeHandle{}, fmt.Sprintf("10.0.0.%d", i), models.RoleCustomer, "", 0)
		}
	}

	register(6)
	assert.Equal(t, StatusHealthy, p.RecomputeStatus())

	register(1) // 7/10, at the warning threshold
	assert.Equal(t, StatusDegraded, p.RecomputeStatus())

	register(2) // 9/10, at the critical threshold
	assert.Equal(t, StatusOverloaded, p.RecomputeStatus())
}

func TestRecomputeStatusFromMemory(t *testing.T) {
	cfg := testPoolConfig()
	cfg.MemoryWarningBytes = 1
	cfg.MemoryCriticalBytes = 512 << 20
	p, _ := newTestPool(cfg)

	for i := 0; i < 10; i++ {
		p.RegisterConnection(fmt.Sprintf("c%d", i), &fakeHandle{}, "10.0.0.1", models.RoleCustomer, "", 0)
	}

	// Ten connections estimate well past the configured warning bytes while
	// occupancy and the critical byte count are nowhere near their limits.
	assert.Equal(t, StatusDegraded, p.RecomputeStatus())

	cfg = testPoolConfig()
	cfg.MemoryWarningBytes = 1
	cfg.MemoryCriticalBytes = 2
	p, _ = newTestPool(cfg)
	p.RegisterConnection("c0", &fakeHandle{}, "10.0.0.1", models.RoleCustomer, "", 0)

	// Memory alone at critical grades the pool Overloaded, not Critical.
	assert.Equal(t, StatusOverloaded, p.RecomputeStatus())
}

func TestRecomputeStatusCritical(t *testing.T) {
	cfg := testPoolConfig()
	cfg.MaxConnections = 10
	cfg.MemoryCriticalBytes = 1
	p, _ := newTestPool(cfg)

	for i := 0; i < 9; i++ {
		p.RegisterConnection(fmt.Sprintf("c%d", i), &fakeHandle{}, "10.0.0.1", models.RoleCustomer, "", 0)
	}

	assert.Equal(t, StatusCritical, p.RecomputeStatus())

	// Critical status denies admission even though caps still have room.
	ok, reason := p.CanAcceptConnection("10.0.0.2")
	assert.False(t, ok)
	assert.Equal(t, "server is overloaded", reason)
}

func TestGetMetricsSnapshot(t *testing.T) {
	p, clock := newTestPool(testPoolConfig())

	p.RegisterConnection("cust", &fakeHandle{}, "10.0.0.1", models.RoleCustomer, "s1", 7)
	p.RegisterConnection("adm", &fakeHandle{}, "10.0.0.2", models.RoleAdmin, "s1", 0)

	m := p.GetMetrics()
	assert.Equal(t, 2, m.TotalConnections)
	assert.Equal(t, 2, m.ActiveConnections)
	assert.Equal(t, 0, m.IdleConnections)
	assert.Equal(t, 1, m.CustomerConnections)
	assert.Equal(t, 1, m.AdminConnections)
	assert.Equal(t, 2, m.ConnectionsPerSession["s1"])
	assert.Equal(t, 1, m.ConnectionsPerProduct[7])
	assert.Equal(t, int64(2*estimatedBytesPerConn), m.EstimatedMemoryBytes)
	assert.Equal(t, "healthy", m.StatusText)

	clock.advance(6 * time.Minute)
	m = p.GetMetrics()
	assert.Equal(t, 2, m.IdleConnections)
	assert.Equal(t, 0, m.ActiveConnections)
	assert.Greater(t, m.AvgConnectionAge, 0.0)
}
