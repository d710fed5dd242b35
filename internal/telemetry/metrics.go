package telemetry

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// CounterCollector exposes a named counter snapshot — the client's
// data-plane counters — as Prometheus counters. It pulls a fresh
// snapshot on every scrape rather than mirroring increments, so the data
// plane's own counter storage stays the single source of truth.
type CounterCollector struct {
	descs    map[string]*prometheus.Desc
	snapshot func() map[string]uint64
}

// NewCounterCollector builds a collector over snapshot. names fixes the
// metric set up front (Prometheus requires stable Describe output);
// counters missing from a snapshot read as zero.
func NewCounterCollector(prefix string, names []string, snapshot func() map[string]uint64) *CounterCollector {
	descs := make(map[string]*prometheus.Desc, len(names))
	for _, name := range names {
		metric := prefix + "_" + strings.ToLower(name) + "_total"
		descs[name] = prometheus.NewDesc(metric, "Data plane counter "+name, nil, nil)
	}
	return &CounterCollector{descs: descs, snapshot: snapshot}
}

// Describe implements prometheus.Collector.
func (c *CounterCollector) Describe(out chan<- *prometheus.Desc) {
	for _, desc := range c.descs {
		out <- desc
	}
}

// Collect implements prometheus.Collector.
func (c *CounterCollector) Collect(out chan<- prometheus.Metric) {
	values := c.snapshot()
	for name, desc := range c.descs {
		out <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(values[name]))
	}
}

// SessionCollector exposes the server's session-table occupancy as a
// gauge.
type SessionCollector struct {
	desc  *prometheus.Desc
	count func() int
}

// NewSessionCollector builds a collector over the server's session count.
func NewSessionCollector(prefix string, count func() int) *SessionCollector {
	return &SessionCollector{
		desc:  prometheus.NewDesc(prefix+"_active_sessions", "Occupied session table slots", nil, nil),
		count: count,
	}
}

// Describe implements prometheus.Collector.
func (s *SessionCollector) Describe(out chan<- *prometheus.Desc) {
	out <- s.desc
}

// Collect implements prometheus.Collector.
func (s *SessionCollector) Collect(out chan<- prometheus.Metric) {
	out <- prometheus.MustNewConstMetric(s.desc, prometheus.GaugeValue, float64(s.count()))
}
