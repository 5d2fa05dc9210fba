package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus metrics for the booking core
var (
	OrdersPlacedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_orders_placed_total",
			Help: "Orders accepted, by ticket class kind",
		},
		[]string{"kind"},
	)

	ConfirmationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_confirmations_total",
			Help: "Payment confirmations processed, by outcome",
		},
		[]string{"outcome"},
	)

	OrdersExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "booking_orders_expired_total",
			Help: "Orders failed by the reaper after the payment timeout",
		},
	)

	SettlementDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "booking_settlement_duration_seconds",
			Help:    "Duration of the settlement transaction",
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

const (
	OutcomeSettled             = "settled"
	OutcomeReplayed            = "replayed"
	OutcomeInvalidSignature    = "invalid_signature"
	OutcomeSoldOutAfterPayment = "sold_out_after_payment"
	OutcomeRejected            = "rejected"
)

var registerOnce sync.Once

// Register registers all Prometheus metrics with the default registry.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(OrdersPlacedTotal)
		prometheus.MustRegister(ConfirmationsTotal)
		prometheus.MustRegister(OrdersExpiredTotal)
		prometheus.MustRegister(SettlementDuration)
		prometheus.MustRegister(httpRequestsTotal)
		prometheus.MustRegister(httpRequestDuration)
	})
}

// Instrument records request counts and latency labelled by chi route pattern.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		httpRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}
