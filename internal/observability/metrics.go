package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/danmuck/amqpengine/internal/engine"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "amqpengine",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "amqpengine",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	engineFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "amqpengine",
			Subsystem: "engine",
			Name:      "frames_total",
			Help:      "Frames decoded from or encoded to the wire.",
		},
		[]string{"node", "direction", "performative"},
	)
	engineBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "amqpengine",
			Subsystem: "engine",
			Name:      "bytes_total",
			Help:      "Bytes consumed from or handed to the transport.",
		},
		[]string{"node", "direction"},
	)
	engineEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "amqpengine",
			Subsystem: "engine",
			Name:      "events_total",
			Help:      "Events dispatched to handlers.",
		},
		[]string{"node", "kind"},
	)
	engineFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "amqpengine",
			Subsystem: "engine",
			Name:      "transport_failures_total",
			Help:      "Transports failed with an error condition.",
		},
		[]string{"node", "condition"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			engineFrames, engineBytes, engineEvents, engineFailures,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

// EngineMetrics records engine activity under one node label.
type EngineMetrics struct {
	node string
}

var _ engine.Observer = (*EngineMetrics)(nil)

func NewEngineMetrics(node string) *EngineMetrics {
	RegisterMetrics()
	return &EngineMetrics{node: node}
}

func (m *EngineMetrics) FrameReceived(performative string) {
	engineFrames.WithLabelValues(m.node, "in", performative).Inc()
}

func (m *EngineMetrics) FrameSent(performative string) {
	engineFrames.WithLabelValues(m.node, "out", performative).Inc()
}

func (m *EngineMetrics) EventDispatched(kind string) {
	engineEvents.WithLabelValues(m.node, kind).Inc()
}

func (m *EngineMetrics) BytesRead(n int) {
	engineBytes.WithLabelValues(m.node, "in").Add(float64(n))
}

func (m *EngineMetrics) BytesWritten(n int) {
	engineBytes.WithLabelValues(m.node, "out").Add(float64(n))
}

func (m *EngineMetrics) TransportFailed(condition string) {
	engineFailures.WithLabelValues(m.node, condition).Inc()
}
