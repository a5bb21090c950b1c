package diag

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fmgshell/checksum"
)

// CacheStatsFunc reports the current checksum cache statistics.
type CacheStatsFunc func() checksum.Stats

// collector implements prometheus.Collector, reading the tracker and cache
// on each scrape.
type collector struct {
	tracker *Tracker
	cache   CacheStatsFunc

	requestsTotal *prometheus.Desc
	failuresTotal *prometheus.Desc
	inflight      *prometheus.Desc
	cacheHits     *prometheus.Desc
	cacheMisses   *prometheus.Desc
	cacheErrors   *prometheus.Desc
}

// NewCollector returns a collector over t and cache. Either may be nil.
func NewCollector(t *Tracker, cache CacheStatsFunc) prometheus.Collector {
	return &collector{
		tracker: t,
		cache:   cache,

		requestsTotal: prometheus.NewDesc(
			"fmgshell_rpc_requests_total",
			"Completed operations by kind and method.",
			[]string{"kind", "method"}, nil,
		),
		failuresTotal: prometheus.NewDesc(
			"fmgshell_rpc_failures_total",
			"Failed operations by kind and method.",
			[]string{"kind", "method"}, nil,
		),
		inflight: prometheus.NewDesc(
			"fmgshell_rpc_inflight",
			"Operations currently in flight.",
			[]string{"kind", "method"}, nil,
		),
		cacheHits: prometheus.NewDesc(
			"fmgshell_checksum_cache_hits_total",
			"Checksum cache lookups served without a records fetch.",
			nil, nil,
		),
		cacheMisses: prometheus.NewDesc(
			"fmgshell_checksum_cache_misses_total",
			"Checksum cache lookups that refetched records.",
			nil, nil,
		),
		cacheErrors: prometheus.NewDesc(
			"fmgshell_checksum_cache_errors_total",
			"Checksum cache lookups that failed.",
			nil, nil,
		),
	}
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.requestsTotal
	ch <- c.failuresTotal
	ch <- c.inflight
	ch <- c.cacheHits
	ch <- c.cacheMisses
	ch <- c.cacheErrors
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	if c.tracker != nil {
		for k, v := range c.tracker.Completed() {
			ch <- prometheus.MustNewConstMetric(c.requestsTotal, prometheus.CounterValue,
				float64(v.Total), k.Kind, k.Method)
			ch <- prometheus.MustNewConstMetric(c.failuresTotal, prometheus.CounterValue,
				float64(v.Failed), k.Kind, k.Method)
		}
		for k, n := range c.tracker.InFlightByKey() {
			ch <- prometheus.MustNewConstMetric(c.inflight, prometheus.GaugeValue,
				float64(n), k.Kind, k.Method)
		}
	}
	if c.cache != nil {
		s := c.cache()
		ch <- prometheus.MustNewConstMetric(c.cacheHits, prometheus.CounterValue, float64(s.Hits))
		ch <- prometheus.MustNewConstMetric(c.cacheMisses, prometheus.CounterValue, float64(s.Misses))
		ch <- prometheus.MustNewConstMetric(c.cacheErrors, prometheus.CounterValue, float64(s.Errors))
	}
}

// NewMux serves the in-flight dump at /diag and Prometheus metrics at
// /metrics.
func NewMux(t *Tracker, cache CacheStatsFunc) *http.ServeMux {
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewCollector(t, cache))

	mux := http.NewServeMux()
	if t == nil {
		t = NewTracker()
	}
	mux.Handle("/diag", t.Handler())
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return mux
}
