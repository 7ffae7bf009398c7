package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Operation label values, one per route.
const (
	opCreateStore  = "create_store"
	opListStores   = "list_stores"
	opGetStore     = "get_store"
	opDeleteStore  = "delete_store"
	opStreamEvents = "stream_events"
	opEventHistory = "event_history"
	opStats        = "stats"
	opEngines      = "engines"
	opHealthz      = "healthz"
	opMetrics      = "metrics"
	opUnmatched    = "unmatched"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefleet_http_requests_total",
			Help: "Total number of API requests by operation and status class.",
		},
		[]string{"operation", "status_class"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storefleet_http_request_duration_seconds",
			Help:    "API request duration in seconds. Event streams are not observed.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	eventStreamsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "storefleet_event_streams_active",
			Help: "Number of open store event streams.",
		},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(eventStreamsActive)

	for _, op := range []string{opCreateStore, opListStores, opGetStore, opDeleteStore} {
		for _, class := range []string{"2xx", "4xx", "5xx"} {
			httpRequestsTotal.WithLabelValues(op, class)
		}
	}
	httpRequestsTotal.WithLabelValues(opCreateStore, "429")
}

type operationKey struct{}

// operationSlot is filled in by the operation middleware of the matched
// route and read back by metricsMiddleware.
type operationSlot struct {
	name string
}

// operation names the route it is attached to for metrics.
func operation(name string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if slot, ok := r.Context().Value(operationKey{}).(*operationSlot); ok {
				slot.name = name
			}
			next.ServeHTTP(w, r)
		})
	}
}

// metricsMiddleware counts every request by operation and status class.
// Rate-limited creates are counted as "429" rather than folded into 4xx.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		slot := &operationSlot{name: opUnmatched}
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r.WithContext(context.WithValue(r.Context(), operationKey{}, slot)))

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		httpRequestsTotal.WithLabelValues(slot.name, statusClass(status)).Inc()
		if slot.name != opStreamEvents {
			httpRequestDuration.WithLabelValues(slot.name).Observe(time.Since(start).Seconds())
		}
	})
}

func statusClass(status int) string {
	if status == http.StatusTooManyRequests {
		return "429"
	}
	return strconv.Itoa(status/100) + "xx"
}

// metricsHandler returns the Prometheus metrics handler.
func metricsHandler() http.Handler {
	return promhttp.Handler()
}
