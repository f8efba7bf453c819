package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type WebSocketMetrics struct {
	ActiveConnections  prometheus.Gauge
	ConnectionsTotal   prometheus.Counter
	ConnectionDuration prometheus.Histogram
	AdmissionRejected  *prometheus.CounterVec
	SendFailures       *prometheus.CounterVec

	MessagesSent     *prometheus.CounterVec
	MessagesReceived *prometheus.CounterVec
	BytesSent        prometheus.Counter
	BytesReceived    prometheus.Counter
	BroadcastSize    prometheus.Histogram
	MalformedFrames  prometheus.Counter
}

type RateLimitMetrics struct {
	ChecksTotal *prometheus.CounterVec
	AutoBlocks  prometheus.Counter
}

type PoolMetrics struct {
	Status             prometheus.Gauge
	TrackedConnections prometheus.Gauge
	StaleEvictions     prometheus.Counter
	EstimatedMemory    prometheus.Gauge
}

type KafkaMetrics struct {
	EventsProcessed   *prometheus.CounterVec
	DeserializeErrors prometheus.Counter
	KafkaErrors       *prometheus.CounterVec
}

type HttpMetrics struct {
	RequestsTotal      *prometheus.CounterVec
	ResponseStatusCode *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
}

type SystemMetrics struct {
	GoroutineCount prometheus.Gauge
	MemoryUsage    prometheus.Gauge
}

type Metrics struct {
	WebSocket WebSocketMetrics
	RateLimit RateLimitMetrics
	Pool      PoolMetrics
	Kafka     KafkaMetrics
	Http      HttpMetrics
	System    SystemMetrics
}

func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		WebSocket: WebSocketMetrics{
			ActiveConnections: promauto.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "websocket_active_connections",
				Help:      "Number of active WebSocket connections",
			}),
			ConnectionsTotal: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "websocket_connections_total",
				Help:      "Total number of established WebSocket connections",
			}),
			ConnectionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "websocket_connection_duration_seconds",
				Help:      "Duration of WebSocket connections in seconds",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
			}),
			AdmissionRejected: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "websocket_admission_rejected_total",
				Help:      "Number of connections rejected at admission, by reason",
			}, []string{"reason"}),
			SendFailures: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "websocket_send_failures_total",
				Help:      "Number of failed send attempts, by failure class",
			}, []string{"class"}),
			MessagesSent: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "websocket_messages_sent_total",
				Help:      "Number of messages sent, by type",
			}, []string{"message_type"}),
			MessagesReceived: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "websocket_messages_received_total",
				Help:      "Number of messages received, by type",
			}, []string{"message_type"}),
			BytesSent: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "websocket_bytes_sent_total",
				Help:      "Number of bytes sent to clients",
			}),
			BytesReceived: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "websocket_bytes_received_total",
				Help:      "Number of bytes received from clients",
			}),
			BroadcastSize: promauto.NewHistogram(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "websocket_broadcast_recipients",
				Help:      "Number of recipients per broadcast",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 8),
			}),
			MalformedFrames: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "websocket_malformed_frames_total",
				Help:      "Number of inbound frames dropped as malformed",
			}),
		},
		RateLimit: RateLimitMetrics{
			ChecksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ratelimit_checks_total",
				Help:      "Number of rate limit checks, by operation and outcome",
			}, []string{"operation", "outcome"}),
			AutoBlocks: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ratelimit_auto_blocks_total",
				Help:      "Number of identifiers automatically blocked",
			}),
		},
		Pool: PoolMetrics{
			Status: promauto.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pool_status",
				Help:      "Connection pool status (0=healthy 1=degraded 2=overloaded 3=critical)",
			}),
			TrackedConnections: promauto.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pool_tracked_connections",
				Help:      "Number of connections tracked by the pool",
			}),
			StaleEvictions: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pool_stale_evictions_total",
				Help:      "Number of connections evicted as stale",
			}),
			EstimatedMemory: promauto.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pool_estimated_memory_bytes",
				Help:      "Estimated memory footprint of tracked connections",
			}),
		},
		Kafka: KafkaMetrics{
			EventsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "kafka_events_processed_total",
				Help:      "Number of backend events processed, by topic",
			}, []string{"topic"}),
			DeserializeErrors: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "kafka_deserialize_errors_total",
				Help:      "Number of events that failed to deserialize",
			}),
			KafkaErrors: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "kafka_errors_total",
				Help:      "Number of Kafka errors, by error code",
			}, []string{"code"}),
		},
		Http: HttpMetrics{
			RequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Number of HTTP requests, by method and path",
			}, []string{"method", "path"}),
			ResponseStatusCode: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_response_status_code_total",
				Help:      "Number of HTTP responses, by status code",
			}, []string{"status_code"}),
			RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request handling duration",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 10),
			}, []string{"path"}),
		},
		System: SystemMetrics{
			GoroutineCount: promauto.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "system_goroutine_count",
				Help:      "Number of active goroutines",
			}),
			MemoryUsage: promauto.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "system_memory_usage_bytes",
				Help:      "Process memory usage in bytes",
			}),
		},
	}

	return m
}
