package subscription

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	jobsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "querystream_jobs_active",
			Help: "Number of polling jobs currently running",
		},
	)

	subscribersActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "querystream_subscribers_active",
			Help: "Number of connected subscribers",
		},
	)

	jobTicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querystream_job_ticks_total",
			Help: "Total number of job poll ticks by outcome",
		},
		[]string{"result"},
	)

	notificationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "querystream_notifications_total",
			Help: "Total number of result payloads delivered to subscribers",
		},
	)

	sendFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "querystream_send_failures_total",
			Help: "Total number of subscribers dropped after a transport send failure",
		},
	)

	subscribeRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querystream_subscribe_requests_total",
			Help: "Total number of subscribe requests by outcome",
		},
		[]string{"status"},
	)
)

func init() {
	// Register metrics with the default registry
	prometheus.MustRegister(jobsActive)
	prometheus.MustRegister(subscribersActive)
	prometheus.MustRegister(jobTicksTotal)
	prometheus.MustRegister(notificationsTotal)
	prometheus.MustRegister(sendFailuresTotal)
	prometheus.MustRegister(subscribeRequestsTotal)
}
