package service

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the HTTP
// surface and the enrollment domain.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	claimTotal      *prometheus.CounterVec
	routeTotal      *prometheus.CounterVec
	transitionTotal *prometheus.CounterVec
	balanceFallback prometheus.Counter
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	claimTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "enrollment_claims_total",
		Help: "Registration code claims by outcome",
	}, []string{"outcome"})

	routeTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "routing_decisions_total",
		Help: "Routing decisions by outcome",
	}, []string{"outcome"})

	transitionTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "session_transitions_total",
		Help: "Session state transitions by kind",
	}, []string{"transition"})

	balanceFallback := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "balance_fallback_assignments_total",
		Help: "Version assignments that degraded to the fallback version",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, claimTotal, routeTotal, transitionTotal, balanceFallback, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		claimTotal:      claimTotal,
		routeTotal:      routeTotal,
		transitionTotal: transitionTotal,
		balanceFallback: balanceFallback,
	}
}

// Handler exposes the Prometheus scrape endpoint.
func (s *MetricsService) Handler() http.Handler {
	return s.handler
}

// ObserveHTTPRequest records a completed HTTP request.
func (s *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	code := strconv.Itoa(status)
	s.requestDuration.WithLabelValues(method, path, code).Observe(duration.Seconds())
	s.requestTotal.WithLabelValues(method, path, code).Inc()
}

// ObserveClaim counts a claim by outcome.
func (s *MetricsService) ObserveClaim(outcome string) {
	s.claimTotal.WithLabelValues(outcome).Inc()
}

// ObserveRoute counts a routing decision by outcome.
func (s *MetricsService) ObserveRoute(outcome string) {
	s.routeTotal.WithLabelValues(outcome).Inc()
}

// ObserveSessionTransition counts a session state transition.
func (s *MetricsService) ObserveSessionTransition(transition string) {
	s.transitionTotal.WithLabelValues(transition).Inc()
}

// ObserveBalanceFallback counts a degraded version assignment.
func (s *MetricsService) ObserveBalanceFallback() {
	s.balanceFallback.Inc()
}