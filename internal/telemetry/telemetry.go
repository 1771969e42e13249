// Package telemetry records per-request metrics and emits usage events to
// the admin backend. Everything here is best effort and never blocks or
// fails a client request.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/als-ai/gateway/internal/backend"
)

// Event summarizes one completed proxy request.
type Event struct {
	RequestID    string        `json:"request_id"`
	TenantID     string        `json:"company_id"`
	KeyID        string        `json:"api_key_id,omitempty"`
	Provider     string        `json:"provider"`
	Model        string        `json:"model"`
	Endpoint     string        `json:"endpoint"`
	StatusCode   int           `json:"status_code"`
	InputTokens  int           `json:"input_tokens"`
	OutputTokens int           `json:"output_tokens"`
	Cost         float64       `json:"cost"`
	Currency     string        `json:"currency"`
	Latency      time.Duration `json:"-"`
	LatencyMS    int64         `json:"latency_ms"`
	Retries      int           `json:"retries"`
	Streamed     bool          `json:"streamed"`
	AuthCached   bool          `json:"auth_cached"`
	ErrorKind    string        `json:"error_kind,omitempty"`
	Timestamp    time.Time     `json:"timestamp"`
}

// Recorder owns the prometheus instruments and the backend event stream.
type Recorder struct {
	backend *backend.Client
	logger  *zap.Logger

	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	tokens   *prometheus.CounterVec
	cost     *prometheus.CounterVec
	retries  prometheus.Counter
	dropped  prometheus.Counter
}

func NewRecorder(backendClient *backend.Client, logger *zap.Logger) *Recorder {
	r := &Recorder{
		backend: backendClient,
		logger:  logger,
		requests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Proxied requests by provider, model and outcome",
		}, []string{"provider", "model", "status"}),
		latency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "End-to-end latency of proxied requests",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"provider"}),
		tokens: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_tokens_total",
			Help: "Token usage by provider and direction",
		}, []string{"provider", "direction"}),
		cost: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_cost_usd_total",
			Help: "Accumulated request cost in USD",
		}, []string{"provider", "model"}),
		retries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gateway_upstream_retries_total",
			Help: "Upstream attempts beyond the first",
		}),
		dropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gateway_telemetry_dropped_total",
			Help: "Best-effort backend deliveries that failed",
		}),
	}
	if backendClient != nil {
		backendClient.OnDrop(r.dropped.Inc)
	}
	return r
}

// Record observes the event in prometheus and forwards it to the backend.
// Called after the response is written; must not block the handler.
func (r *Recorder) Record(event Event) {
	r.requests.WithLabelValues(event.Provider, event.Model, statusClass(event.StatusCode)).Inc()
	if event.Latency > 0 {
		r.latency.WithLabelValues(event.Provider).Observe(event.Latency.Seconds())
	}
	if event.InputTokens > 0 {
		r.tokens.WithLabelValues(event.Provider, "input").Add(float64(event.InputTokens))
	}
	if event.OutputTokens > 0 {
		r.tokens.WithLabelValues(event.Provider, "output").Add(float64(event.OutputTokens))
	}
	if event.Cost > 0 {
		r.cost.WithLabelValues(event.Provider, event.Model).Add(event.Cost)
	}
	if event.Retries > 0 {
		r.retries.Add(float64(event.Retries))
	}

	if r.backend != nil && event.TenantID != "" {
		r.backend.PostUsageEvent(event.TenantID, event.forWire())
	}
}

// forWire stamps the fields that exist only in the serialized form.
func (e Event) forWire() Event {
	e.LatencyMS = e.Latency.Milliseconds()
	return e
}

func statusClass(code int) string {
	switch {
	case code == 0:
		return "error"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
