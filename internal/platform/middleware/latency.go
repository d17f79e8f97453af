package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"buildgate/internal/platform/metrics"
)

// Latency records per-route request metrics. It reads the chi route pattern
// after the handler runs so the route label stays low-cardinality
// ("/v1/approvals/{approvalID}" rather than one series per UUID).
func Latency(httpMetrics *metrics.HTTP) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if httpMetrics == nil {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			httpMetrics.InFlight.Inc()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(sw, r)

			httpMetrics.InFlight.Dec()
			route := chi.RouteContext(r.Context()).RoutePattern()
			if route == "" {
				route = "unmatched"
			}
			httpMetrics.Requests.WithLabelValues(r.Method, route, strconv.Itoa(sw.status)).Inc()
			httpMetrics.Duration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}
