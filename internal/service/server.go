package service

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/RoknuzzamanRokon/chat-gateway/pkg/config"
	"github.com/RoknuzzamanRokon/chat-gateway/pkg/handlers"
	"github.com/RoknuzzamanRokon/chat-gateway/pkg/metrics"
	"github.com/RoknuzzamanRokon/chat-gateway/pkg/websocket"
	"go.uber.org/zap"
)

type Server struct {
	server         *http.Server
	wsHandler      *handlers.WebSocketHandler
	healthHandler  *handlers.HealthCheckHandler
	statusHandler  *handlers.StatusHandler
	metricsHandler *metrics.MetricsHandler
	eventService   *EventService
	maintenance    *MaintenanceLoop
	manager        *websocket.Manager
	logger         *zap.Logger
	cfg            *config.ServerConfig
}

func NewServer(
	wsHandler *handlers.WebSocketHandler,
	healthHandler *handlers.HealthCheckHandler,
	statusHandler *handlers.StatusHandler,
	metricsHandler *metrics.MetricsHandler,
	eventService *EventService,
	maintenance *MaintenanceLoop,
	manager *websocket.Manager,
	logger *zap.Logger,
	cfg *config.ServerConfig,
) *Server {
	return &Server{
		wsHandler:      wsHandler,
		healthHandler:  healthHandler,
		statusHandler:  statusHandler,
		metricsHandler: metricsHandler,
		eventService:   eventService,
		maintenance:    maintenance,
		manager:        manager,
		logger:         logger,
		cfg:            cfg,
	}
}

func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.wsHandler.HandleConnection)
	mux.HandleFunc("/health", s.healthHandler.HandleHealthCheck)
	mux.HandleFunc("/status", s.statusHandler.HandleStatus)
	mux.HandleFunc("/status/session", s.statusHandler.HandleSessionInfo)
	mux.HandleFunc("/status/reset-limits", s.statusHandler.HandleResetLimits)
	mux.Handle("/metrics", s.metricsHandler.Handler())

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.instrument(mux),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	if s.eventService != nil {
		if err := s.eventService.Start(); err != nil {
			return fmt.Errorf("failed to start event service: %w", err)
		}
	}

	s.maintenance.Start()

	go func() {
		s.logger.Info("Starting server", zap.Int("port", s.cfg.Port))
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	return s.waitForShutdown()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument records request counters and latency for the plain HTTP routes.
// The WebSocket endpoint is passed through untouched: the upgrade needs the
// raw hijackable ResponseWriter.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.metricsHandler.RecordHTTPRequest(r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}

func (s *Server) waitForShutdown() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	s.logger.Info("Received shutdown signal")

	shutdownTimeout := 30 * time.Second
	if s.cfg.ShutdownTimeout > 0 {
		shutdownTimeout = s.cfg.ShutdownTimeout
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return s.shutdown(ctx)
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Performing controlled shutdown")
	return s.shutdown(ctx)
}

func (s *Server) shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down services")

	s.maintenance.Stop()

	if s.eventService != nil {
		s.eventService.Stop()
	}

	if err := s.manager.Close(ctx); err != nil {
		s.logger.Error("Error closing WebSocket connections", zap.Error(err))
	}

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info("Server stopped gracefully")
	return nil
}
