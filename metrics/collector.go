// Package metrics exports client statistics to Prometheus.
package metrics

import (
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/leadforge/apiclient"
)

// Collector reads apiclient.Stats on every scrape.
type Collector struct {
	mu      sync.RWMutex
	sources map[string]apiclient.StatsProvider

	requests    *prometheus.Desc
	errors      *prometheus.Desc
	rateLimited *prometheus.Desc
	retries     *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates a collector whose metrics live under namespace.
func NewCollector(namespace string) *Collector {
	labels := []string{"module"}
	return &Collector{
		sources: make(map[string]apiclient.StatsProvider),
		requests: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "client", "requests_total"),
			"Logical requests issued.", labels, nil),
		errors: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "client", "errors_total"),
			"Logical requests that ended in an error.", labels, nil),
		rateLimited: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "client", "rate_limited_total"),
			"HTTP 429 responses received.", labels, nil),
		retries: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "client", "retries_total"),
			"Retries issued after transient failures.", labels, nil),
	}
}

// Add registers a stats source under the module label. Re-adding a module
// replaces its source.
func (c *Collector) Add(module string, p apiclient.StatsProvider) {
	c.mu.Lock()
	c.sources[module] = p
	c.mu.Unlock()
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.requests
	ch <- c.errors
	ch <- c.rateLimited
	ch <- c.retries
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.RLock()
	modules := make([]string, 0, len(c.sources))
	for m := range c.sources {
		modules = append(modules, m)
	}
	sort.Strings(modules)
	snapshot := make([]apiclient.Stats, len(modules))
	for i, m := range modules {
		snapshot[i] = c.sources[m].Stats()
	}
	c.mu.RUnlock()

	for i, m := range modules {
		s := snapshot[i]
		ch <- prometheus.MustNewConstMetric(c.requests, prometheus.CounterValue, float64(s.TotalRequests), m)
		ch <- prometheus.MustNewConstMetric(c.errors, prometheus.CounterValue, float64(s.TotalErrors), m)
		ch <- prometheus.MustNewConstMetric(c.rateLimited, prometheus.CounterValue, float64(s.RateLimited), m)
		ch <- prometheus.MustNewConstMetric(c.retries, prometheus.CounterValue, float64(s.Retries), m)
	}
}
