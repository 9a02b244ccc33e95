package modlife

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exposes Monitor metrics in Prometheus exposition format. It is
// a read-only view: every scrape derives values from the Monitor's current
// counters and health evaluation.
type Collector struct {
	monitor *Monitor

	requestsDesc *prometheus.Desc
	errorsDesc   *prometheus.Desc
	responseDesc *prometheus.Desc
	healthyDesc  *prometheus.Desc
	modulesDesc  *prometheus.Desc
}

// NewCollector creates a prometheus.Collector over the monitor.
func NewCollector(monitor *Monitor) *Collector {
	return &Collector{
		monitor: monitor,
		requestsDesc: prometheus.NewDesc(
			"modlife_module_requests_total",
			"Total requests recorded for a module.",
			[]string{"module"}, nil,
		),
		errorsDesc: prometheus.NewDesc(
			"modlife_module_errors_total",
			"Total failed requests recorded for a module.",
			[]string{"module"}, nil,
		),
		responseDesc: prometheus.NewDesc(
			"modlife_module_response_time_avg_ms",
			"Average response time over the retained samples.",
			[]string{"module"}, nil,
		),
		healthyDesc: prometheus.NewDesc(
			"modlife_module_healthy",
			"Whether the module is currently healthy (1) or not (0).",
			[]string{"module", "status"}, nil,
		),
		modulesDesc: prometheus.NewDesc(
			"modlife_modules",
			"Number of registered modules by status.",
			[]string{"status"}, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.requestsDesc
	ch <- c.errorsDesc
	ch <- c.responseDesc
	ch <- c.healthyDesc
	ch <- c.modulesDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, status := range c.monitor.AllHealthStatuses() {
		healthy := 0.0
		if status.Healthy {
			healthy = 1.0
		}
		ch <- prometheus.MustNewConstMetric(c.healthyDesc, prometheus.GaugeValue, healthy, status.ModuleID, status.Status.String())

		if status.Metrics != nil {
			ch <- prometheus.MustNewConstMetric(c.requestsDesc, prometheus.CounterValue, float64(status.Metrics.RequestCount), status.ModuleID)
			ch <- prometheus.MustNewConstMetric(c.errorsDesc, prometheus.CounterValue, float64(status.Metrics.ErrorCount), status.ModuleID)
			ch <- prometheus.MustNewConstMetric(c.responseDesc, prometheus.GaugeValue, status.Metrics.AverageResponseTimeMs, status.ModuleID)
		}
	}

	for status, count := range c.monitor.registry.Stats().ByStatus {
		ch <- prometheus.MustNewConstMetric(c.modulesDesc, prometheus.GaugeValue, float64(count), status.String())
	}
}
