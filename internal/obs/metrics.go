package obs

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	TransitionTotal *prometheus.CounterVec // action, result=success|error|skipped
	ResolutionTotal *prometheus.CounterVec // result=resolved|no_items|error
	LockTotal       *prometheus.CounterVec // result=acquired|contended|busy
	PreflightFailed *prometheus.CounterVec // check

	TransitionLatencyMS *prometheus.HistogramVec // action

	RequestsInFlight prometheus.Gauge
	ExpiredLeases    prometheus.Counter
}

func NewMetrics() *Metrics {
	m := &Metrics{
		TransitionTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dcb_transition_total",
				Help: "Total transition attempts by action and result",
			},
			[]string{"action", "result"},
		),
		ResolutionTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dcb_resolution_total",
				Help: "Total supplier resolution attempts by result",
			},
			[]string{"result"},
		),
		LockTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dcb_workflow_lock_total",
				Help: "Total workflow lock acquisition attempts by result",
			},
			[]string{"result"},
		),
		PreflightFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dcb_preflight_failed_total",
				Help: "Total preflight check failures by check",
			},
			[]string{"check"},
		),
		TransitionLatencyMS: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dcb_transition_latency_ms",
				Help:    "Latency of transition attempts (ms)",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1ms .. ~2048ms
			},
			[]string{"action"},
		),
		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dcb_requests_in_flight",
			Help: "Number of requests currently holding a workflow lock",
		}),
		ExpiredLeases: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dcb_workflow_lock_expired_total",
			Help: "Total number of workflow lock leases that expired and were swept",
		}),
	}

	prometheus.MustRegister(
		m.TransitionTotal,
		m.ResolutionTotal,
		m.LockTotal,
		m.PreflightFailed,
		m.TransitionLatencyMS,
		m.RequestsInFlight,
		m.ExpiredLeases,
	)

	return m
}
