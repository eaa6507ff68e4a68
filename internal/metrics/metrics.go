package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)

	ProjectOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "project_operations_total",
			Help: "Total number of escrow operations, by operation and result",
		},
		[]string{"operation", "result"}, // result: ok, error
	)

	DepositsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deposits_processed_total",
			Help: "Total number of observed deposits consumed from the queue",
		},
		[]string{"status"}, // status: matched, unmatched, mismatched
	)

	PayoutsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payouts_sent_total",
			Help: "Total number of outbound transfers attempted by the worker",
		},
		[]string{"kind", "status"}, // status: sent, failed
	)

	EscrowHeldNano = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "escrow_held_nano",
			Help: "Total value currently held in escrow across active projects, in nano units",
		},
	)
)

func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

func RecordOperation(operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	ProjectOperations.WithLabelValues(operation, result).Inc()
}

// Serve exposes /metrics on its own listener so the scrape endpoint never
// shares a port with the API.
func Serve(addr string, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Error("metrics server stopped", zap.Error(err))
		}
	}()
}
