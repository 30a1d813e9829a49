package tinybase

import "github.com/prometheus/client_golang/prometheus"

type poolMetrics struct {
	hits      prometheus.Counter
	misses    prometheus.Counter
	evictions prometheus.Counter
	flushes   prometheus.Counter
}

func newPoolMetrics(registerer prometheus.Registerer) *poolMetrics {
	m := &poolMetrics{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tinybase",
			Subsystem: "buffer_pool",
			Name:      "page_hits_total",
			Help:      "Page fetches served from a resident frame.",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tinybase",
			Subsystem: "buffer_pool",
			Name:      "page_misses_total",
			Help:      "Page fetches that required disk I/O.",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tinybase",
			Subsystem: "buffer_pool",
			Name:      "evictions_total",
			Help:      "Frames reclaimed through the LRU-K replacer.",
		}),
		flushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tinybase",
			Subsystem: "buffer_pool",
			Name:      "page_flushes_total",
			Help:      "Pages written back to disk.",
		}),
	}
	if registerer != nil {
		registerer.MustRegister(m.hits, m.misses, m.evictions, m.flushes)
	}
	return m
}
