package app

import (
	"net/http"

	"gridwatch/internal/apperr"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so tests can build as many as they like.
// A nil *Metrics records nothing.
type Metrics struct {
	registry     *prometheus.Registry
	fetches      *prometheus.CounterVec
	cacheEntries *prometheus.GaugeVec
	notices      *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gridwatch_fetch_total",
			Help: "Backend fetches by endpoint, tier and outcome.",
		}, []string{"endpoint", "tier", "outcome"}),
		cacheEntries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gridwatch_cache_entries",
			Help: "In-memory entries per identity cache.",
		}, []string{"cache"}),
		notices: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gridwatch_notices_total",
			Help: "Notices surfaced to the user by error kind.",
		}, []string{"kind"}),
	}
	m.registry.MustRegister(m.fetches, m.cacheEntries, m.notices)
	return m
}

// ObserveFetch counts one fetch. The outcome is "ok" or the error kind.
func (m *Metrics) ObserveFetch(endpoint string, tier Tier, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = string(apperr.KindOf(err))
	}
	t := string(tier)
	if t == "" {
		t = "none"
	}
	m.fetches.WithLabelValues(endpoint, t, outcome).Inc()
}

func (m *Metrics) SetCacheEntries(cache string, n int) {
	if m == nil {
		return
	}
	m.cacheEntries.WithLabelValues(cache).Set(float64(n))
}

func (m *Metrics) ObserveNotice(kind string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "info"
	}
	m.notices.WithLabelValues(kind).Inc()
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
