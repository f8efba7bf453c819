package ratelimit

import (
	"math"
	"sync"
	"time"

	"github.com/RoknuzzamanRokon/chat-gateway/pkg/config"
	"github.com/RoknuzzamanRokon/chat-gateway/pkg/metrics"
	"go.uber.org/zap"
)

const (
	// Sliding-window violations on the message path escalate the suspicion
	// counter; reaching autoBlockThreshold blocks the identifier.
	autoBlockThreshold = 5
	autoBlockDuration  = 300 * time.Second

	// Externally reported abuse (spam patterns caught by the sanitizer)
	// weighs double and has its own, higher threshold.
	reportIncrement      = 2
	reportBlockThreshold = 10
	reportBlockDuration  = 600 * time.Second

	// Token cost grows with message size: one token per 500 bytes, minimum one.
	bytesPerToken = 500
)

// Result is the outcome of a rate check. RetryAfter is a client-facing hint
// in whole seconds, only meaningful when Allowed is false.
type Result struct {
	Allowed    bool
	RetryAfter int
	Reason     string
}

var allowed = Result{Allowed: true}

type Stats struct {
	TrackedIdentifiers int `json:"tracked_identifiers"`
	ActiveBuckets      int `json:"active_buckets"`
	BlockedIdentifiers int `json:"blocked_identifiers"`
}

type clientState struct {
	messageLog   []time.Time
	connLog      []time.Time
	sessionLog   []time.Time
	bucket       *tokenBucket
	suspicion    int
	blockedUntil time.Time
	lastSeen     time.Time
}

// Limiter guards connection admission, session creation and message sending
// per identifier (client IP or session id). All state is in-memory and
// protected by one coarse mutex; checks are cheap enough that contention is
// not a concern at the connection counts this gateway is sized for.
type Limiter struct {
	cfg     config.RateLimitConfig
	logger  *zap.Logger
	metrics *metrics.RateLimitMetrics

	mu      sync.Mutex
	clients map[string]*clientState

	nowFn    func() time.Time
	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewLimiter(cfg config.RateLimitConfig, logger *zap.Logger) *Limiter {
	return &Limiter{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[string]*clientState),
		nowFn:   time.Now,
		stopCh:  make(chan struct{}),
	}
}

func (l *Limiter) SetMetrics(m *metrics.RateLimitMetrics) {
	l.metrics = m
}

// Start launches the periodic cleanup loop. Stop must be called on shutdown.
func (l *Limiter) Start() {
	go l.cleanupLoop()
}

func (l *Limiter) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopCh)
	})
}

// CheckMessageRate gates one inbound message. Order matters: block check,
// then the sliding window (which escalates suspicion on denial), then the
// size-based token bucket (which does not — a burst is not necessarily
// abuse). A success lets the suspicion counter decay.
func (l *Limiter) CheckMessageRate(identifier string, messageLength int) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFn()
	state := l.getState(identifier, now)

	if res, blocked := l.blockedResult(state, now); blocked {
		return l.record("message", res)
	}

	ok, retryAfter := admitWindow(&state.messageLog, l.cfg.MessageLimit, l.cfg.MessageWindow, now)
	if !ok {
		state.suspicion++
		if state.suspicion >= autoBlockThreshold {
			state.blockedUntil = now.Add(autoBlockDuration)
			l.logger.Warn("identifier auto-blocked after repeated rate violations",
				zap.String("identifier", identifier),
				zap.Int("suspicion", state.suspicion),
				zap.Duration("blockDuration", autoBlockDuration))
			if l.metrics != nil {
				l.metrics.AutoBlocks.Inc()
			}
		}
		return l.record("message", Result{
			RetryAfter: retryAfter,
			Reason:     "message rate limit exceeded",
		})
	}

	if state.bucket == nil {
		state.bucket = newTokenBucket(l.cfg.BucketCapacity, l.cfg.BucketRefillRate, now)
	}
	cost := float64(messageLength / bytesPerToken)
	if cost < 1 {
		cost = 1
	}
	if !state.bucket.consume(cost, now) {
		wait := state.bucket.timeUntilAvailable(cost, now)
		return l.record("message", Result{
			RetryAfter: int(math.Ceil(wait.Seconds())),
			Reason:     "message burst limit exceeded",
		})
	}

	if state.suspicion > 0 {
		state.suspicion--
	}
	return l.record("message", allowed)
}

// CheckConnectionRate gates one connection attempt from the identifier.
func (l *Limiter) CheckConnectionRate(identifier string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFn()
	state := l.getState(identifier, now)

	if res, blocked := l.blockedResult(state, now); blocked {
		return l.record("connection", res)
	}

	ok, retryAfter := admitWindow(&state.connLog, l.cfg.ConnectionLimit, l.cfg.ConnectionWindow, now)
	if !ok {
		return l.record("connection", Result{
			RetryAfter: retryAfter,
			Reason:     "connection rate limit exceeded",
		})
	}
	return l.record("connection", allowed)
}

// CheckSessionCreationRate gates creation of a new chat session.
func (l *Limiter) CheckSessionCreationRate(identifier string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFn()
	state := l.getState(identifier, now)

	if res, blocked := l.blockedResult(state, now); blocked {
		return l.record("session", res)
	}

	ok, retryAfter := admitWindow(&state.sessionLog, l.cfg.SessionLimit, l.cfg.SessionWindow, now)
	if !ok {
		return l.record("session", Result{
			RetryAfter: retryAfter,
			Reason:     "session creation rate limit exceeded",
		})
	}
	return l.record("session", allowed)
}

// ReportSuspiciousActivity lets external callers (content sanitizer, spam
// detection) escalate an identifier without a rate violation.
func (l *Limiter) ReportSuspiciousActivity(identifier string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFn()
	state := l.getState(identifier, now)
	state.suspicion += reportIncrement

	if state.suspicion >= reportBlockThreshold {
		state.blockedUntil = now.Add(reportBlockDuration)
		l.logger.Warn("identifier blocked after suspicious activity reports",
			zap.String("identifier", identifier),
			zap.Int("suspicion", state.suspicion),
			zap.Duration("blockDuration", reportBlockDuration))
		if l.metrics != nil {
			l.metrics.AutoBlocks.Inc()
		}
	}
}

// Stats returns a read-only snapshot of the limiter state.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFn()
	stats := Stats{TrackedIdentifiers: len(l.clients)}
	for _, state := range l.clients {
		if state.bucket != nil {
			stats.ActiveBuckets++
		}
		if state.blockedUntil.After(now) {
			stats.BlockedIdentifiers++
		}
	}
	return stats
}

// Reset drops all limiter state. Exposed for operational recovery.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.clients = make(map[string]*clientState)
	l.logger.Info("rate limiter state reset")
}

// Cleanup prunes expired window entries and blocks, and drops identifiers
// with no remaining state. Returns the number of identifiers removed.
func (l *Limiter) Cleanup() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cleanupLocked()
}

func (l *Limiter) cleanupLocked() int {
	now := l.nowFn()
	removed := 0

	for identifier, state := range l.clients {
		state.messageLog = pruneWindow(state.messageLog, l.cfg.MessageWindow, now)
		state.connLog = pruneWindow(state.connLog, l.cfg.ConnectionWindow, now)
		state.sessionLog = pruneWindow(state.sessionLog, l.cfg.SessionWindow, now)

		if !state.blockedUntil.IsZero() && !state.blockedUntil.After(now) {
			state.blockedUntil = time.Time{}
		}
		if state.bucket != nil && now.Sub(state.bucket.lastUsed) > l.cfg.BucketIdleExpiry {
			state.bucket = nil
		}

		if len(state.messageLog) == 0 && len(state.connLog) == 0 && len(state.sessionLog) == 0 &&
			state.bucket == nil && state.suspicion == 0 && state.blockedUntil.IsZero() {
			delete(l.clients, identifier)
			removed++
		}
	}

	if removed > 0 {
		l.logger.Debug("rate limiter cleanup", zap.Int("removed", removed), zap.Int("remaining", len(l.clients)))
	}
	return removed
}

func (l *Limiter) cleanupLoop() {
	interval := l.cfg.CleanupInterval
	if interval <= 0 {
		interval = 300 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.Cleanup()
		}
	}
}

// getState returns the per-identifier record, creating it on first use. When
// the tracked set outgrows the configured ceiling an inline cleanup pass runs
// before the new identifier is admitted.
func (l *Limiter) getState(identifier string, now time.Time) *clientState {
	state, ok := l.clients[identifier]
	if !ok {
		if l.cfg.MaxTrackedClients > 0 && len(l.clients) >= l.cfg.MaxTrackedClients {
			l.cleanupLocked()
		}
		state = &clientState{}
		l.clients[identifier] = state
	}
	state.lastSeen = now
	return state
}

func (l *Limiter) blockedResult(state *clientState, now time.Time) (Result, bool) {
	if state.blockedUntil.After(now) {
		return Result{
			RetryAfter: int(math.Ceil(state.blockedUntil.Sub(now).Seconds())),
			Reason:     "identifier temporarily blocked",
		}, true
	}
	return Result{}, false
}

func (l *Limiter) record(operation string, res Result) Result {
	if l.metrics != nil {
		outcome := "allowed"
		if !res.Allowed {
			outcome = "denied"
		}
		l.metrics.ChecksTotal.WithLabelValues(operation, outcome).Inc()
	}
	return res
}

// admitWindow prunes entries older than the window, then admits the request
// if the log is under the limit, appending the timestamp on admission.
func admitWindow(log *[]time.Time, limit int, window time.Duration, now time.Time) (bool, int) {
	*log = pruneWindow(*log, window, now)

	if len(*log) >= limit {
		oldest := (*log)[0]
		retryAfter := int(math.Ceil(oldest.Add(window).Sub(now).Seconds())) + 1
		return false, retryAfter
	}

	*log = append(*log, now)
	return true, 0
}

func pruneWindow(log []time.Time, window time.Duration, now time.Time) []time.Time {
	cutoff := now.Add(-window)
	idx := 0
	for idx < len(log) && !log[idx].After(cutoff) {
		idx++
	}
	if idx == 0 {
		return log
	}
	return append(log[:0], log[idx:]...)
}
