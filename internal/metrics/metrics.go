package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	PushAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seller_push_attempts_total",
			Help: "Push notification attempts by outcome (delivered, failed, no_token)",
		},
		[]string{"outcome"},
	)

	OrderDispatchTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "seller_order_dispatch_total",
			Help: "Total number of new-order events dispatched",
		},
	)

	NotificationsPersistedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "seller_notifications_persisted_total",
			Help: "Total number of notification records written",
		},
	)

	ResponsesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seller_responses_total",
			Help: "Seller responses recorded, by decision",
		},
		[]string{"accepted"},
	)

	EventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seller_events_published_total",
			Help: "Events published, by topic and outcome (ok, error)",
		},
		[]string{"topic", "outcome"},
	)

	EventsDeadLetteredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seller_events_dead_lettered_total",
			Help: "Inbound events moved to a dead-letter topic",
		},
		[]string{"topic"},
	)

	DispatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "seller_dispatch_duration_seconds",
			Help:    "Duration of a full order dispatch including fan-out and persistence",
			Buckets: prometheus.DefBuckets,
		},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
)

var registerOnce sync.Once

// Register adds all collectors to the default registry. Safe to call more
// than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			PushAttemptsTotal,
			OrderDispatchTotal,
			NotificationsPersistedTotal,
			ResponsesTotal,
			EventsPublishedTotal,
			EventsDeadLetteredTotal,
			DispatchDuration,
			httpRequestsTotal,
			httpRequestDuration,
		)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack lets WebSocket upgrades pass through the instrumentation.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

// InstrumentHandler records request count and latency labelled by the mux
// route template, so path parameters do not explode cardinality.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		route := "unmatched"
		if cr := mux.CurrentRoute(r); cr != nil {
			if tpl, err := cr.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		httpRequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(wrapped.statusCode)).Inc()
	})
}
