package commands

import (
	"fmt"

	"github.com/RoknuzzamanRokon/chat-gateway/internal/service"
	"github.com/RoknuzzamanRokon/chat-gateway/pkg/config"
	"github.com/RoknuzzamanRokon/chat-gateway/pkg/handlers"
	"github.com/RoknuzzamanRokon/chat-gateway/pkg/kafka"
	"github.com/RoknuzzamanRokon/chat-gateway/pkg/metrics"
	"github.com/RoknuzzamanRokon/chat-gateway/pkg/pool"
	"github.com/RoknuzzamanRokon/chat-gateway/pkg/ratelimit"
	"github.com/RoknuzzamanRokon/chat-gateway/pkg/redis"
	"github.com/RoknuzzamanRokon/chat-gateway/pkg/websocket"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type Application struct {
	configPath     string
	cfg            *config.Config
	logger         *zap.Logger
	instanceID     string
	gatewayMetrics *metrics.Metrics
	limiter        *ratelimit.Limiter
	connPool       *pool.ConnectionPool
	manager        *websocket.Manager
	presence       *redis.PresenceManager
	kafkaConsumer  *kafka.Consumer
	eventService   *service.EventService
	maintenance    *service.MaintenanceLoop
	wsHandler      *handlers.WebSocketHandler
	healthHandler  *handlers.HealthCheckHandler
	statusHandler  *handlers.StatusHandler
	metricsHandler *metrics.MetricsHandler
	server         *service.Server
}

func NewApplication(configPath string) *Application {
	return &Application{
		configPath: configPath,
		instanceID: uuid.New().String(),
	}
}

func (a *Application) Init() error {
	if err := a.initConfig(); err != nil {
		return err
	}

	if err := a.initLogger(); err != nil {
		return err
	}

	a.logger.Info("Starting chat gateway",
		zap.String("instanceID", a.instanceID),
		zap.String("version", "1.0.0"))

	a.initMetrics()
	a.initRateLimiter()
	a.initPool()
	a.initRegistry()

	if err := a.initRedis(); err != nil {
		return err
	}

	if err := a.initKafka(); err != nil {
		return err
	}

	a.initHandlers()
	a.initMaintenance()
	a.initServer()

	return nil
}

func (a *Application) initConfig() error {
	cfg, err := config.LoadConfig(a.configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	a.cfg = cfg
	return nil
}

func (a *Application) initLogger() error {
	logger, err := config.NewLogger(&a.cfg.Logger)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	a.logger = logger
	return nil
}

func (a *Application) initMetrics() {
	a.gatewayMetrics = metrics.NewMetrics("chatgateway")
	a.metricsHandler = metrics.NewMetricsHandler(a.gatewayMetrics, a.logger)
}

func (a *Application) initRateLimiter() {
	a.limiter = ratelimit.NewLimiter(a.cfg.RateLimit, a.logger)
	a.limiter.SetMetrics(&a.gatewayMetrics.RateLimit)
	a.limiter.Start()
}

func (a *Application) initPool() {
	a.connPool = pool.NewConnectionPool(a.cfg.Pool, a.logger)
	a.connPool.SetMetrics(&a.gatewayMetrics.Pool)
	a.connPool.Start()
}

func (a *Application) initRegistry() {
	a.manager = websocket.NewManager(a.cfg.Registry, a.connPool, a.limiter, a.logger)
	a.manager.SetMetrics(&a.gatewayMetrics.WebSocket)
}

func (a *Application) initRedis() error {
	if !a.cfg.Redis.Enabled {
		a.logger.Info("Redis presence mirror disabled")
		return nil
	}

	presence, err := redis.NewPresenceManager(&a.cfg.Redis, a.logger, a.instanceID)
	if err != nil {
		return fmt.Errorf("failed to create Redis presence manager: %w", err)
	}
	a.presence = presence
	a.manager.SetPresence(presence)
	return nil
}

func (a *Application) initKafka() error {
	if !a.cfg.Kafka.Enabled {
		a.logger.Info("Kafka event ingestion disabled")
		return nil
	}

	kafkaConsumer, err := kafka.NewConsumer(&a.cfg.Kafka, a.logger)
	if err != nil {
		return fmt.Errorf("failed to create Kafka consumer: %w", err)
	}
	kafkaConsumer.SetMetrics(&a.gatewayMetrics.Kafka)
	a.kafkaConsumer = kafkaConsumer
	a.eventService = service.NewEventService(kafkaConsumer, a.manager, a.logger)
	return nil
}

func (a *Application) initHandlers() {
	a.wsHandler = handlers.NewWebSocketHandler(a.manager, a.limiter, a.logger)
	a.healthHandler = handlers.NewHealthCheckHandler(a.manager, a.logger)
	a.statusHandler = handlers.NewStatusHandler(a.manager, a.connPool, a.limiter, a.logger)
	if a.presence != nil {
		a.statusHandler.SetPresence(a.presence)
	}
}

func (a *Application) initMaintenance() {
	a.maintenance = service.NewMaintenanceLoop(
		a.manager,
		a.connPool,
		a.cfg.Registry.MaintenanceInterval,
		a.cfg.Registry.IdleTimeout,
		a.logger,
	)
}

func (a *Application) initServer() {
	a.server = service.NewServer(
		a.wsHandler,
		a.healthHandler,
		a.statusHandler,
		a.metricsHandler,
		a.eventService,
		a.maintenance,
		a.manager,
		a.logger,
		&a.cfg.Server,
	)
}

func (a *Application) Run() error {
	return a.server.Start()
}

func (a *Application) Stop() {
	if a.limiter != nil {
		a.limiter.Stop()
	}
	if a.connPool != nil {
		a.connPool.Stop()
	}
	if a.presence != nil {
		a.presence.Close()
	}
	if a.logger != nil {
		a.logger.Sync()
	}
}

func NewServeCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the chat gateway server",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := NewApplication(configPath)
			if err := app.Init(); err != nil {
				return err
			}
			defer app.Stop()
			return app.Run()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")

	return cmd
}
