package es

import "github.com/prometheus/client_golang/prometheus"

var _ prometheus.Collector = (*Collector)(nil)

// Collector is a prometheus.Collector reporting the request, retry, and
// bulk-item counters of a Client.
type Collector struct {
	c *Client

	requestsDesc  *prometheus.Desc
	retriesDesc   *prometheus.Desc
	bulkItemsDesc *prometheus.Desc
}

// NewCollector creates a Collector for c. The appname label lets an
// application using several clients tell them apart.
func NewCollector(c *Client, appname string) *Collector {
	labels := prometheus.Labels{"application_name": appname}
	return &Collector{
		c: c,
		requestsDesc: prometheus.NewDesc(
			"argonaut_es_requests_total",
			"Total HTTP requests issued to the document store.",
			nil, labels),
		retriesDesc: prometheus.NewDesc(
			"argonaut_es_retries_total",
			"Total retried requests, by the closed retry taxonomy.",
			nil, labels),
		bulkItemsDesc: prometheus.NewDesc(
			"argonaut_es_bulk_items_total",
			"Total bulk items sent over the wire.",
			nil, labels),
	}
}

// Describe implements prometheus.Collector.
func (col *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- col.requestsDesc
	ch <- col.retriesDesc
	ch <- col.bulkItemsDesc
}

// Collect implements prometheus.Collector.
func (col *Collector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(col.requestsDesc, prometheus.CounterValue, float64(col.c.requests.Load()))
	ch <- prometheus.MustNewConstMetric(col.retriesDesc, prometheus.CounterValue, float64(col.c.retries.Load()))
	ch <- prometheus.MustNewConstMetric(col.bulkItemsDesc, prometheus.CounterValue, float64(col.c.bulkItems.Load()))
}
