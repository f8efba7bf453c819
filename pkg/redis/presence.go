package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/RoknuzzamanRokon/chat-gateway/pkg/config"
	"github.com/RoknuzzamanRokon/chat-gateway/pkg/models"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const (
	connPrefix      = "chat:conn:"
	sessionConnsKey = "chat:session:%s:conns"
	adminsOnlineKey = "chat:admins:online"
)

// PresenceManager mirrors live connection state into Redis so the site
// backend can answer presence queries ("is support online", "who is in this
// session") without a round trip to the gateway. The gateway remains the
// single authority; these keys are advisory and expire on their own.
type PresenceManager struct {
	client     *redis.Client
	logger     *zap.Logger
	instanceID string
	ttl        time.Duration
}

func NewPresenceManager(cfg *config.RedisConfig, logger *zap.Logger, instanceID string) (*PresenceManager, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &PresenceManager{
		client:     client,
		logger:     logger,
		instanceID: instanceID,
		ttl:        cfg.PresenceTTL,
	}, nil
}

func (m *PresenceManager) ConnectionOnline(ctx context.Context, record *models.Presence) error {
	record.InstanceID = m.instanceID

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal presence record: %w", err)
	}

	pipe := m.client.Pipeline()
	pipe.Set(ctx, connPrefix+record.ConnectionID, data, m.ttl)
	if record.SessionID != "" {
		sessionKey := fmt.Sprintf(sessionConnsKey, record.SessionID)
		pipe.SAdd(ctx, sessionKey, record.ConnectionID)
		pipe.Expire(ctx, sessionKey, m.ttl)
	}
	if record.Role == models.RoleAdmin {
		pipe.SAdd(ctx, adminsOnlineKey, record.ConnectionID)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish presence: %w", err)
	}
	return nil
}

func (m *PresenceManager) ConnectionOffline(ctx context.Context, connectionID, sessionID string, role models.Role) error {
	pipe := m.client.Pipeline()
	pipe.Del(ctx, connPrefix+connectionID)
	if sessionID != "" {
		pipe.SRem(ctx, fmt.Sprintf(sessionConnsKey, sessionID), connectionID)
	}
	if role == models.RoleAdmin {
		pipe.SRem(ctx, adminsOnlineKey, connectionID)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to clear presence: %w", err)
	}
	return nil
}

// OnlineAdmins reports how many admin connections are currently mirrored.
func (m *PresenceManager) OnlineAdmins(ctx context.Context) (int64, error) {
	count, err := m.client.SCard(ctx, adminsOnlineKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count online admins: %w", err)
	}
	return count, nil
}

// SessionConnections lists the connection ids mirrored for a session.
func (m *PresenceManager) SessionConnections(ctx context.Context, sessionID string) ([]string, error) {
	ids, err := m.client.SMembers(ctx, fmt.Sprintf(sessionConnsKey, sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list session connections: %w", err)
	}
	return ids, nil
}

func (m *PresenceManager) Close() error {
	m.logger.Info("closing Redis presence manager")

	if err := m.client.Close(); err != nil {
		m.logger.Error("error closing Redis client", zap.Error(err))
		return err
	}
	return nil
}
