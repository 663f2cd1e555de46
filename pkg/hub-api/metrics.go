package hubapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/caphub/mcp-hub-go/pkg/mcphub"
)

// hubMetrics owns a private registry so multiple servers in one process do
// not fight over metric names.
type hubMetrics struct {
	registry *prometheus.Registry

	statePublishes prometheus.Counter
	toolCalls      *prometheus.CounterVec
	toolCallSecs   *prometheus.HistogramVec
	httpRequests   *prometheus.CounterVec
}

func newHubMetrics(hub *mcphub.Hub) *hubMetrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	for _, status := range []mcphub.ConnectionStatus{
		mcphub.StatusConnecting,
		mcphub.StatusConnected,
		mcphub.StatusDisconnected,
	} {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "mcphub_servers",
			Help:        "Managed servers by connection status.",
			ConstLabels: prometheus.Labels{"status": string(status)},
		}, func() float64 {
			n := 0
			for _, state := range hub.Snapshot() {
				if state.Status == status {
					n++
				}
			}
			return float64(n)
		})
	}

	return &hubMetrics{
		registry: reg,
		statePublishes: factory.NewCounter(prometheus.CounterOpts{
			Name: "mcphub_state_publishes_total",
			Help: "State snapshots pushed to subscribers.",
		}),
		toolCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mcphub_tool_calls_total",
			Help: "Tool invocations by server and outcome.",
		}, []string{"server", "outcome"}),
		toolCallSecs: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mcphub_tool_call_duration_seconds",
			Help:    "Tool invocation latency by server.",
			Buckets: prometheus.DefBuckets,
		}, []string{"server"}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mcphub_http_requests_total",
			Help: "Control-plane requests by method, route, and status.",
		}, []string{"method", "path", "status"}),
	}
}

func (m *hubMetrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *hubMetrics) observeToolCall(server string, err error, elapsed time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.toolCalls.WithLabelValues(server, outcome).Inc()
	m.toolCallSecs.WithLabelValues(server).Observe(elapsed.Seconds())
}

// countRequests labels by the matched chi route pattern, not the raw path,
// to keep cardinality bounded.
func (m *hubMetrics) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		path := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		m.httpRequests.WithLabelValues(r.Method, path, strconv.Itoa(sw.status)).Inc()
	})
}
