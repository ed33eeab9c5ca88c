package observability

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog"

	"github.com/danmuck/amqpengine/internal/auth"
	"github.com/danmuck/amqpengine/internal/engine"
	"github.com/danmuck/amqpengine/internal/testutil/testlog"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("read counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("node-a", "GET", "/health", 200, 12*time.Millisecond)
	if got := counterValue(t, httpRequests.WithLabelValues("node-a", "GET", "/health", "200")); got < 1 {
		t.Fatalf("expected request counted, got %v", got)
	}
}

func TestEngineMetricsCountsEngineActivity(t *testing.T) {
	testlog.Start(t)
	m := NewEngineMetrics("metrics-test")
	m.FrameReceived("open")
	m.FrameSent("open")
	m.FrameSent("open")
	m.EventDispatched(engine.ConnectionOpen.String())
	m.BytesRead(8)
	m.BytesWritten(24)
	m.TransportFailed("amqp:connection:framing-error")

	if got := counterValue(t, engineFrames.WithLabelValues("metrics-test", "out", "open")); got != 2 {
		t.Fatalf("expected 2 sent frames, got %v", got)
	}
	if got := counterValue(t, engineBytes.WithLabelValues("metrics-test", "out")); got != 24 {
		t.Fatalf("expected 24 bytes written, got %v", got)
	}
	if got := counterValue(t, engineEvents.WithLabelValues("metrics-test", "connection_open")); got != 1 {
		t.Fatalf("expected 1 event, got %v", got)
	}
	if got := counterValue(t, engineFailures.WithLabelValues("metrics-test", "amqp:connection:framing-error")); got != 1 {
		t.Fatalf("expected 1 failure, got %v", got)
	}
}

func TestEngineMetricsObservesEngine(t *testing.T) {
	testlog.Start(t)
	m := NewEngineMetrics("metrics-engine")
	opts := engine.DefaultOptions()
	opts.Observer = m
	e := engine.New(nil, opts)
	if err := e.Connection().Open(); err != nil {
		t.Fatalf("open: %v", err)
	}
	buf := e.WriteBuffer()
	if err := e.WriteDone(len(buf)); err != nil {
		t.Fatalf("write done: %v", err)
	}

	if got := counterValue(t, engineFrames.WithLabelValues("metrics-engine", "out", "open")); got != 1 {
		t.Fatalf("expected open frame counted, got %v", got)
	}
	if got := counterValue(t, engineBytes.WithLabelValues("metrics-engine", "out")); got != float64(len(buf)) {
		t.Fatalf("expected %d bytes counted, got %v", len(buf), got)
	}
}

func TestRouterServesHealthAndMetrics(t *testing.T) {
	testlog.Start(t)
	h := Router("router-test", zerolog.Nop(), time.Now(), nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if body["status"] != "ok" || body["service"] != "router-test" {
		t.Fatalf("unexpected health body: %v", body)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "amqpengine_http_requests_total") {
		t.Fatalf("expected http metrics exported")
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestRouterGuardsMetrics(t *testing.T) {
	testlog.Start(t)
	h := Router("guarded-test", zerolog.Nop(), time.Now(), auth.StaticToken{Token: "secret"})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected health to stay open, got %d", rec.Code)
	}
}
