package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "commission_engine",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "commission_engine",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "commission_engine",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	distributions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "commission_engine",
			Subsystem: "ledger",
			Name:      "distributions_total",
			Help:      "Total number of distribution calls.",
		},
		[]string{"status"},
	)

	distributedVolume = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "commission_engine",
			Subsystem: "ledger",
			Name:      "distributed_volume_total",
			Help:      "Total transaction volume distributed, in smallest currency units.",
		},
	)

	withdrawals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "commission_engine",
			Subsystem: "ledger",
			Name:      "withdrawals_total",
			Help:      "Total number of withdrawal calls.",
		},
		[]string{"status"},
	)

	withdrawnAmount = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "commission_engine",
			Subsystem: "ledger",
			Name:      "withdrawn_amount_total",
			Help:      "Total amount authorised for payout, in smallest currency units.",
		},
	)

	optimizerSteps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "commission_engine",
			Subsystem: "optimizer",
			Name:      "steps_total",
			Help:      "Total number of optimizer steps.",
		},
		[]string{"accepted"},
	)

	optimizerReward = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "commission_engine",
			Subsystem: "optimizer",
			Name:      "current_reward",
			Help:      "Reward of the currently accepted weight vector.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		distributions,
		distributedVolume,
		withdrawals,
		withdrawnAmount,
		optimizerSteps,
		optimizerReward,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordDistribution records the outcome of a Distribute call.
func RecordDistribution(volume int64, err error) {
	if err != nil {
		distributions.WithLabelValues("error").Inc()
		return
	}
	distributions.WithLabelValues("ok").Inc()
	distributedVolume.Add(float64(volume))
}

// RecordWithdrawal records the outcome of a Withdraw call. An empty-balance
// withdrawal counts separately because it is a normal outcome.
func RecordWithdrawal(amount int64, status string) {
	withdrawals.WithLabelValues(status).Inc()
	if amount > 0 {
		withdrawnAmount.Add(float64(amount))
	}
}

// RecordOptimizerStep records an optimizer step and the currently accepted
// reward.
func RecordOptimizerStep(reward float64, accepted bool) {
	result := "false"
	if accepted {
		result = "true"
	}
	optimizerSteps.WithLabelValues(result).Inc()
	optimizerReward.Set(reward)
}

// statusRecorder captures the response status. It starts at 200 because a
// handler that writes the body without calling WriteHeader gets exactly that.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch parts[0] {
	case "recipients":
		if len(parts) == 1 {
			return "/recipients"
		}
		if len(parts) == 2 {
			return "/recipients/:recipient"
		}
		return "/recipients/:recipient/" + parts[2]
	case "distributions":
		if len(parts) > 1 {
			return "/distributions/:sequence"
		}
		return "/distributions"
	case "allocator":
		if len(parts) > 1 {
			return "/allocator/" + parts[1]
		}
		return "/allocator"
	default:
		return "/" + parts[0]
	}
}
