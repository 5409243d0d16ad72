// Package metrics exposes Prometheus collectors for checks, batches and the config store.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const namespace = "ceklink"

// Metrics holds every collector on its own registry.
type Metrics struct {
	Registry *prometheus.Registry

	ChecksTotal      *prometheus.CounterVec
	CheckDuration    *prometheus.HistogramVec
	RetriesTotal     *prometheus.CounterVec
	BatchesTotal     *prometheus.CounterVec
	BatchDuration    prometheus.Histogram
	CacheLookups     *prometheus.CounterVec
	ConfigSavesTotal *prometheus.CounterVec
	SitesConfigured  prometheus.Gauge
	SiteUp           *prometheus.GaugeVec
}

// New creates and registers all collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		ChecksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checks_total",
			Help:      "Check attempts by resulting status",
		}, []string{"status"}),
		CheckDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "check_duration_seconds",
			Help:      "Duration of a single check attempt",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"status"}),
		RetriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Retries by the status that triggered them",
		}, []string{"status"}),
		BatchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Completed check-all batches",
		}, []string{"trigger", "outcome"}),
		BatchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Duration of a check-all batch",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "results_cache_lookups_total",
			Help:      "Results cache lookups by outcome",
		}, []string{"outcome"}),
		ConfigSavesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_saves_total",
			Help:      "Configuration writes by result",
		}, []string{"result"}),
		SitesConfigured: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sites_configured",
			Help:      "Number of sites in the last batch",
		}),
		SiteUp: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "site_up",
			Help:      "1 when the site's last check was up",
		}, []string{"site"}),
	}
}

// ObserveCheck records one check attempt.
func (m *Metrics) ObserveCheck(status string, elapsed time.Duration) {
	m.ChecksTotal.WithLabelValues(status).Inc()
	m.CheckDuration.WithLabelValues(status).Observe(elapsed.Seconds())
}

// ObserveRetry records a retry scheduled after status.
func (m *Metrics) ObserveRetry(status string) {
	m.RetriesTotal.WithLabelValues(status).Inc()
}

// ObserveBatch records a finished batch.
func (m *Metrics) ObserveBatch(trigger string, elapsed time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.BatchesTotal.WithLabelValues(trigger, outcome).Inc()
	m.BatchDuration.Observe(elapsed.Seconds())
}

// ObserveCache records a results cache lookup.
func (m *Metrics) ObserveCache(hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.CacheLookups.WithLabelValues(outcome).Inc()
}

// ObserveConfigSave records a configuration write.
func (m *Metrics) ObserveConfigSave(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ConfigSavesTotal.WithLabelValues(result).Inc()
}

// SetSiteStatus publishes the latest status of one site.
func (m *Metrics) SetSiteStatus(site string, up bool) {
	v := 0.0
	if up {
		v = 1
	}
	m.SiteUp.WithLabelValues(site).Set(v)
}

// SetSitesConfigured publishes the number of sites in the last batch.
func (m *Metrics) SetSitesConfigured(n int) {
	m.SitesConfigured.Set(float64(n))
}

// ForgetSite drops a deleted site's series.
func (m *Metrics) ForgetSite(site string) {
	m.SiteUp.DeleteLabelValues(site)
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", addr).Msg("[Metrics] Listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
