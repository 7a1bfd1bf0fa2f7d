// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RouterUp = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hotspotbill_router_up",
		Help: "1 when the last RouterOS API probe succeeded",
	}, []string{"router"})

	RouterLatency = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hotspotbill_router_probe_latency_seconds",
		Help: "measures RouterOS API probe round trip",
	}, []string{"router"})

	RouterCPULoad = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hotspotbill_router_cpu_load_percent",
		Help: "router CPU load reported by /system/resource",
	}, []string{"router"})

	PoolConnections = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hotspotbill_router_pool_connections",
		Help: "pooled RouterOS API connections by state",
	}, []string{"router", "state"})

	QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hotspotbill_provision_queue_depth",
		Help: "provisioning jobs waiting for retry",
	})

	ProvisionFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hotspotbill_provision_failures_total",
		Help: "router provisioning failures by kind and outcome",
	}, []string{"kind", "outcome"})

	VouchersGenerated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hotspotbill_vouchers_generated_total",
		Help: "vouchers created by batch generation",
	})

	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hotspotbill_http_requests_total",
		Help: "HTTP requests by method, route and status",
	}, []string{"method", "route", "status"})

	HTTPDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hotspotbill_http_request_duration_seconds",
		Help:    "HTTP request latency by method and route",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	RateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hotspotbill_http_rate_limited_total",
		Help: "requests rejected by the rate limiter",
	})
)

func init() {
	prometheus.MustRegister(
		RouterUp,
		RouterLatency,
		RouterCPULoad,
		PoolConnections,
		QueueDepth,
		ProvisionFailures,
		VouchersGenerated,
		HTTPRequests,
		HTTPDuration,
		RateLimited,
	)
}
