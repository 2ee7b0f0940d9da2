package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sentinel"

// Prometheus implements Collector on a private registry.
type Prometheus struct {
	registry *prometheus.Registry

	cacheLookups    *prometheus.CounterVec
	cacheRecompute  *prometheus.HistogramVec
	refreshDuration *prometheus.HistogramVec
	refreshFailures *prometheus.CounterVec
	refreshTenants  *prometheus.CounterVec
	notifyEnqueued  *prometheus.CounterVec
	notifyAttempts  *prometheus.CounterVec
	queueDepth      *prometheus.GaugeVec
}

// NewPrometheus registers every metric on a fresh registry.
func NewPrometheus() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Alert cache reads by result.",
		}, []string{"result"}),
		cacheRecompute: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cache_recompute_duration_seconds",
			Help:      "Duration of rule evaluations triggered by the cache.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}, []string{"status"}),
		refreshDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refresh_duration_seconds",
			Help:      "Duration of refresh job executions.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
		}, []string{"trigger"}),
		refreshTenants: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_tenants_total",
			Help:      "Tenants processed by refresh jobs.",
		}, []string{"trigger"}),
		refreshFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_tenant_failures_total",
			Help:      "Tenants that failed during refresh jobs.",
		}, []string{"trigger"}),
		notifyEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_enqueued_total",
			Help:      "Notifications accepted by the queue.",
		}, []string{"priority"}),
		notifyAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_attempts_total",
			Help:      "Delivery attempts by outcome.",
		}, []string{"outcome"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "notification_queue_depth",
			Help:      "Notifications held by the queue per status.",
		}, []string{"status"}),
	}

	p.registry.MustRegister(
		p.cacheLookups, p.cacheRecompute,
		p.refreshDuration, p.refreshTenants, p.refreshFailures,
		p.notifyEnqueued, p.notifyAttempts, p.queueDepth,
	)
	return p
}

func (p *Prometheus) CacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	p.cacheLookups.WithLabelValues(result).Inc()
}

func (p *Prometheus) CacheRecompute(d time.Duration, err error) {
	p.cacheRecompute.WithLabelValues(statusLabel(err)).Observe(d.Seconds())
}

func (p *Prometheus) RefreshRun(trigger string, d time.Duration, tenants, failures int) {
	p.refreshDuration.WithLabelValues(trigger).Observe(d.Seconds())
	p.refreshTenants.WithLabelValues(trigger).Add(float64(tenants))
	p.refreshFailures.WithLabelValues(trigger).Add(float64(failures))
}

func (p *Prometheus) NotificationEnqueued(priority string) {
	p.notifyEnqueued.WithLabelValues(priority).Inc()
}

func (p *Prometheus) NotificationAttempt(outcome string) {
	p.notifyAttempts.WithLabelValues(outcome).Inc()
}

func (p *Prometheus) QueueDepth(counts map[string]int) {
	for status, n := range counts {
		p.queueDepth.WithLabelValues(status).Set(float64(n))
	}
}

// Registry exposes the underlying registry for tests and custom exporters.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus text format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
