package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	MagicLinksIssuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "magic_links_issued_total",
			Help: "Total number of magic link requests by outcome.",
		},
		[]string{"result"},
	)

	MagicLinksVerifiedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "magic_links_verified_total",
			Help: "Total number of magic link verifications by outcome.",
		},
		[]string{"result"},
	)

	ShopifyWebhooksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopify_webhooks_total",
			Help: "Total number of Shopify webhooks received by outcome.",
		},
		[]string{"result"},
	)

	StatusStreamsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "status_streams_active",
			Help: "Number of open auth status streams.",
		},
	)
)

// MustRegister registers every collector with the default registry. Call it
// once from main; collectors work unregistered in tests.
func MustRegister() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDurationSeconds,
		MagicLinksIssuedTotal,
		MagicLinksVerifiedTotal,
		ShopifyWebhooksTotal,
		StatusStreamsActive,
	)
}
