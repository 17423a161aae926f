// Package stats records gateway request and upstream metrics.
package stats

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"zaigate/internal/types"
)

// Recorder receives measurement points from the request path. Implementations
// must be safe for concurrent use.
type Recorder interface {
	RequestFinished(route string, status int, elapsed time.Duration)
	CredentialRotated(guest bool)
	TokensUsed(model string, usage *types.Usage)
}

// Prometheus is a Recorder backed by a dedicated prometheus registry.
type Prometheus struct {
	registry *prometheus.Registry

	requests  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	rotations *prometheus.CounterVec
	tokens    *prometheus.CounterVec
}

// NewPrometheus creates a recorder with its own registry so tests can hold
// several instances.
func NewPrometheus() *Prometheus {
	reg := prometheus.NewRegistry()
	p := &Prometheus{
		registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zaigate_requests_total",
			Help: "Completed gateway requests by route and status.",
		}, []string{"route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "zaigate_request_duration_seconds",
			Help:    "Gateway request duration.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"route"}),
		rotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zaigate_credential_rotations_total",
			Help: "Credential rotations by replacement kind.",
		}, []string{"kind"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zaigate_tokens_total",
			Help: "Upstream-reported token usage by model and direction.",
		}, []string{"model", "direction"}),
	}
	reg.MustRegister(p.requests, p.latency, p.rotations, p.tokens)
	return p
}

func (p *Prometheus) RequestFinished(route string, status int, elapsed time.Duration) {
	p.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	p.latency.WithLabelValues(route).Observe(elapsed.Seconds())
}

func (p *Prometheus) CredentialRotated(guest bool) {
	kind := "configured"
	if guest {
		kind = "guest"
	}
	p.rotations.WithLabelValues(kind).Inc()
}

func (p *Prometheus) TokensUsed(model string, usage *types.Usage) {
	if usage == nil {
		return
	}
	p.tokens.WithLabelValues(model, "prompt").Add(float64(usage.PromptTokens))
	p.tokens.WithLabelValues(model, "completion").Add(float64(usage.CompletionTokens))
}

// Handler exposes the registry for the /metrics route.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Noop discards all measurements.
type Noop struct{}

func (Noop) RequestFinished(string, int, time.Duration) {}
func (Noop) CredentialRotated(bool)                     {}
func (Noop) TokensUsed(string, *types.Usage)            {}
