package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/compose-network/oracle/metrics"
)

// Metrics records request counts and latency per route template.
func Metrics(reg *metrics.ComponentRegistry) func(http.Handler) http.Handler {
	requests := reg.NewCounterVec(prometheus.CounterOpts{
		Name: "requests_total",
		Help: "HTTP requests by route, method and status",
	}, []string{"route", "method", "status"})
	latency := reg.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "request_duration_seconds",
		Help:    "HTTP request latency by route",
		Buckets: metrics.DurationBuckets,
	}, []string{"route", "method"})

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := "unmatched"
			if cur := mux.CurrentRoute(r); cur != nil {
				if tpl, err := cur.GetPathTemplate(); err == nil {
					route = tpl
				}
			}
			requests.WithLabelValues(route, r.Method, strconv.Itoa(rw.status)).Inc()
			latency.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
		})
	}
}
