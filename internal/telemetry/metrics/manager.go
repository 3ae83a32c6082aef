package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Manager struct {
	// counters
	CounterRequests            *prometheus.CounterVec
	CounterHandleRequestPanic  prometheus.Counter
	CounterLoginAttempts       *prometheus.CounterVec
	CounterRateLimitedRequests *prometheus.CounterVec
	CounterCsrfRejections      *prometheus.CounterVec
	CounterEmails              *prometheus.CounterVec
	CounterBroadcastsAborted   prometheus.Counter

	// gauges
	GaugeRequests        prometheus.Gauge
	GaugeLifeSignal      prometheus.Gauge
	GaugeActiveSessions  prometheus.Gauge
	GaugeEmailQueueDepth prometheus.Gauge

	// histograms
	HistogramRequestDuration *prometheus.HistogramVec
	HistEmailSendDuration    prometheus.Histogram
}

func NewTestManager() *Manager {
	return NewManager("sitegate", "test_server", prometheus.NewRegistry())
}

func NewTestManagerAndRegistry() (*Manager, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	return NewManager("sitegate", "test_server", reg), reg
}

func NewManager(namespace, subsystem string, reg prometheus.Registerer) *Manager {
	factory := promauto.With(reg)

	counterRequests := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "request",
		Help:      "The total number of incoming requests",
	}, []string{"method", "status"})
	counterHandleRequestPanic := factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "handle_request_panic",
		Help:      "The total number of serve request panics",
	})
	counterLoginAttempts := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "login_attempts",
		Help:      "The total number of admin login attempts by result",
	}, []string{"result"})
	counterRateLimitedRequests := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "rate_limited_requests",
		Help:      "The total number of rate limited requests",
	}, []string{"action"})
	counterCsrfRejections := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "csrf_rejections",
		Help:      "The total number of requests rejected by the csrf guard",
	}, []string{"scope"})
	counterEmails := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "emails",
		Help:      "The total number of email delivery attempts by category and outcome",
	}, []string{"category", "outcome"})
	counterBroadcastsAborted := factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "broadcasts_aborted",
		Help:      "The total number of newsletter broadcasts aborted by a transport failure",
	})

	gaugeRequests := factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "current_requests",
		Help:      "Current number of requests served",
	})
	gaugeLifeSignal := factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "life_signal",
		Help:      "Shows whether the service is alive",
	})
	gaugeActiveSessions := factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "active_sessions",
		Help:      "Number of admin sessions held after the last sweep",
	})
	gaugeEmailQueueDepth := factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "email_queue_depth",
		Help:      "Number of email tasks waiting for a worker",
	})

	histogramRequestDuration := factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "request_duration_seconds",
		Help:      "Histogram of response time for requests in seconds",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"route", "method", "status_code"})
	histEmailSendDuration := factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "email_send_duration_seconds",
		Help:      "Duration of a single email delivery attempt in seconds",
		Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	})

	return &Manager{
		CounterRequests:            counterRequests,
		CounterHandleRequestPanic:  counterHandleRequestPanic,
		CounterLoginAttempts:       counterLoginAttempts,
		CounterRateLimitedRequests: counterRateLimitedRequests,
		CounterCsrfRejections:      counterCsrfRejections,
		CounterEmails:              counterEmails,
		CounterBroadcastsAborted:   counterBroadcastsAborted,
		GaugeRequests:              gaugeRequests,
		GaugeLifeSignal:            gaugeLifeSignal,
		GaugeActiveSessions:        gaugeActiveSessions,
		GaugeEmailQueueDepth:       gaugeEmailQueueDepth,
		HistogramRequestDuration:   histogramRequestDuration,
		HistEmailSendDuration:      histEmailSendDuration,
	}
}
