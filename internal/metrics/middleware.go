package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// WithHTTPMetrics instruments every request with a counter and a latency histogram,
// labelled by method and status code.
func WithHTTPMetrics(registry prometheus.Registerer) func(http.Handler) http.Handler {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Number of HTTP requests, by method and code",
	}, []string{"method", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "Histogram/sum/count of HTTP request latency, by method and code",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "code"})
	registry.MustRegister(requests, duration)

	return func(next http.Handler) http.Handler {
		return promhttp.InstrumentHandlerCounter(requests,
			promhttp.InstrumentHandlerDuration(duration, next))
	}
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
