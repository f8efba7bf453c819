package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/RoknuzzamanRokon/chat-gateway/pkg/config"
	"github.com/RoknuzzamanRokon/chat-gateway/pkg/metrics"
	"github.com/RoknuzzamanRokon/chat-gateway/pkg/models"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"
)

type EventHandler func(event *models.Event) error

// Consumer reads backend-originated chat events (admin replies submitted via
// the dashboard REST API, session closures, product notices) and dispatches
// them to registered handlers by event type.
type Consumer struct {
	consumer  *kafka.Consumer
	handlers  map[models.EventType]EventHandler
	logger    *zap.Logger
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	topics    []string
	isRunning bool
	mutex     sync.Mutex
	metrics   *metrics.KafkaMetrics
}

func NewConsumer(cfg *config.KafkaConfig, logger *zap.Logger) (*Consumer, error) {
	c, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":  cfg.BootstrapServers,
		"group.id":           cfg.GroupID,
		"auto.offset.reset":  "latest",
		"enable.auto.commit": true,
	})

	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka consumer: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	consumer := &Consumer{
		consumer: c,
		handlers: make(map[models.EventType]EventHandler),
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		topics:   cfg.Topics,
	}

	return consumer, nil
}

func (c *Consumer) SetMetrics(metrics *metrics.KafkaMetrics) {
	c.metrics = metrics
}

func (c *Consumer) RegisterHandler(eventType models.EventType, handler EventHandler) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.handlers[eventType] = handler
}

func (c *Consumer) Start() error {
	c.mutex.Lock()
	if c.isRunning {
		c.mutex.Unlock()
		return fmt.Errorf("consumer is already running")
	}
	c.isRunning = true
	c.mutex.Unlock()

	if err := c.consumer.SubscribeTopics(c.topics, nil); err != nil {
		return fmt.Errorf("failed to subscribe to topics: %w", err)
	}

	c.wg.Add(1)
	go c.consumeEvents()

	return nil
}

func (c *Consumer) Stop() {
	c.mutex.Lock()
	if !c.isRunning {
		c.mutex.Unlock()
		return
	}
	c.isRunning = false
	c.mutex.Unlock()

	c.logger.Info("Stopping Kafka consumer")

	c.cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("Kafka consumer routines stopped")
	case <-time.After(10 * time.Second):
		c.logger.Warn("Timeout waiting for Kafka consumer routines to stop")
	}

	if err := c.consumer.Close(); err != nil {
		c.logger.Error("Error closing Kafka consumer", zap.Error(err))
	}

	c.logger.Info("Kafka consumer stopped")
}

func (c *Consumer) consumeEvents() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
			ev := c.consumer.Poll(100)
			if ev == nil {
				continue
			}

			switch e := ev.(type) {
			case *kafka.Message:
				c.handleEvent(e)

				if c.metrics != nil && e.TopicPartition.Topic != nil {
					c.metrics.EventsProcessed.WithLabelValues(*e.TopicPartition.Topic).Inc()
				}

			case kafka.Error:
				c.logger.Error("Kafka error", zap.Error(e), zap.String("code", e.Code().String()))

				if c.metrics != nil {
					c.metrics.KafkaErrors.WithLabelValues(e.Code().String()).Inc()
				}
			default:
			}
		}
	}
}

func (c *Consumer) handleEvent(msg *kafka.Message) {
	c.logger.Debug("Received event from Kafka",
		zap.String("topic", *msg.TopicPartition.Topic),
		zap.Int32("partition", msg.TopicPartition.Partition),
		zap.Int64("offset", int64(msg.TopicPartition.Offset)),
		zap.Int("value_len", len(msg.Value)))

	var event models.Event
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		c.logger.Error("Failed to unmarshal event", zap.Error(err), zap.ByteString("payload", msg.Value))

		if c.metrics != nil {
			c.metrics.DeserializeErrors.Inc()
		}

		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	c.mutex.Lock()
	handler, ok := c.handlers[event.Type]
	c.mutex.Unlock()

	if !ok {
		c.logger.Warn("No handler registered for event type", zap.String("type", string(event.Type)))
		return
	}

	if err := handler(&event); err != nil {
		c.logger.Error("Failed to handle event", zap.Error(err), zap.String("type", string(event.Type)))
	}
}
