package service

import (
	"time"

	"github.com/RoknuzzamanRokon/chat-gateway/pkg/kafka"
	"github.com/RoknuzzamanRokon/chat-gateway/pkg/models"
	"github.com/RoknuzzamanRokon/chat-gateway/pkg/websocket"
	"go.uber.org/zap"
)

// EventService relays backend-originated chat events from Kafka into live
// sessions. Admin replies entered through the dashboard REST API reach
// connected customers here rather than through an admin socket.
type EventService struct {
	consumer *kafka.Consumer
	manager  *websocket.Manager
	logger   *zap.Logger
}

func NewEventService(consumer *kafka.Consumer, manager *websocket.Manager, logger *zap.Logger) *EventService {
	service := &EventService{
		consumer: consumer,
		manager:  manager,
		logger:   logger,
	}

	service.registerEventHandlers()

	return service
}

func (s *EventService) registerEventHandlers() {
	s.consumer.RegisterHandler(models.EventTypeAdminReply, func(event *models.Event) error {
		s.logger.Info("Handling admin reply event",
			zap.String("eventID", event.ID),
			zap.String("sessionID", event.SessionID))

		env := &models.Envelope{
			Type:      models.MessageTypeChat,
			Message:   event.Message,
			SessionID: event.SessionID,
		}
		env.Stamp(event.SenderID, event.Sender, models.RoleAdmin, event.Timestamp)

		s.manager.BroadcastToSession(event.SessionID, env, "")
		return nil
	})

	s.consumer.RegisterHandler(models.EventTypeSessionClosed, func(event *models.Event) error {
		s.logger.Info("Handling session closed event",
			zap.String("eventID", event.ID),
			zap.String("sessionID", event.SessionID))

		env := &models.Envelope{
			Type:      models.MessageTypeSessionClosed,
			Message:   event.Message,
			SessionID: event.SessionID,
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
		}

		s.manager.BroadcastToSession(event.SessionID, env, "")
		return nil
	})

	s.consumer.RegisterHandler(models.EventTypeProductNotice, func(event *models.Event) error {
		s.logger.Info("Handling product notice event",
			zap.String("eventID", event.ID),
			zap.Int64("productID", event.ProductID))

		env := &models.Envelope{
			Type:      models.MessageTypeProductNotice,
			Message:   event.Message,
			ProductID: event.ProductID,
			Data:      event.Payload,
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
		}

		s.manager.BroadcastToProduct(event.ProductID, env, "")
		return nil
	})
}

func (s *EventService) Start() error {
	s.logger.Info("Starting event service")
	return s.consumer.Start()
}

func (s *EventService) Stop() {
	s.logger.Info("Stopping event service")
	s.consumer.Stop()
}
