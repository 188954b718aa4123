// Package promexport exposes the same latest-observation counters as the
// collector's custom /metrics/raw text format through a standard
// Prometheus client_golang collector, registered under /metrics.
package promexport

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/FauxFaux/facto-exporter/pkg/record"
)

// LatestSource supplies the observation promexport should describe on
// each scrape. The collector's History satisfies this directly through
// its Latest method.
type LatestSource interface {
	Latest() (record.Observation, bool)
}

// Collector is a prometheus.Collector describing the latest observation
// held by a LatestSource, re-evaluated on every scrape.
type Collector struct {
	source LatestSource

	products *prometheus.Desc
	status   *prometheus.Desc
}

// New returns a Collector reading from source.
func New(source LatestSource) *Collector {
	return &Collector{
		source: source,
		products: prometheus.NewDesc(
			"facto_products_complete",
			"Cumulative completed products for one unit in the latest observation.",
			[]string{"unit"}, nil,
		),
		status: prometheus.NewDesc(
			"facto_status",
			"Numeric operational status code for one unit in the latest observation.",
			[]string{"unit"}, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.products
	ch <- c.status
}

// Collect implements prometheus.Collector, emitting one products/status
// pair per unit in the latest observation, or nothing if history is
// empty.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	latest, ok := c.source.Latest()
	if !ok {
		return
	}

	for _, u := range latest.Units {
		unit := strconv.FormatUint(uint64(u.UnitNumber), 10)
		ch <- prometheus.MustNewConstMetric(c.products, prometheus.CounterValue, float64(u.ProductsComplete), unit)
		ch <- prometheus.MustNewConstMetric(c.status, prometheus.GaugeValue, float64(u.Status), unit)
	}
}
