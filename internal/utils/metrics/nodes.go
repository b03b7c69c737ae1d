// internal/utils/metrics/nodes.go
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// NodeSample is the health of one RPC endpoint at scrape time.
type NodeSample struct {
	URL        string
	State      string
	Successes  uint64
	Failures   uint64
	AvgLatency time.Duration
}

// NodeCollector exports RPC endpoint health read from stats on every scrape.
type NodeCollector struct {
	stats     func() []NodeSample
	calls     *prometheus.Desc
	latency   *prometheus.Desc
	available *prometheus.Desc
}

func NewNodeCollector(stats func() []NodeSample) *NodeCollector {
	return &NodeCollector{
		stats: stats,
		calls: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "rpc", "calls_total"),
			"RPC calls per endpoint by result",
			[]string{"endpoint", "result"}, nil,
		),
		latency: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "rpc", "latency_seconds"),
			"Moving average RPC latency per endpoint",
			[]string{"endpoint"}, nil,
		),
		available: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "rpc", "node_available"),
			"1 while the endpoint's breaker is not open",
			[]string{"endpoint", "state"}, nil,
		),
	}
}

func (c *NodeCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.calls
	ch <- c.latency
	ch <- c.available
}

func (c *NodeCollector) Collect(ch chan<- prometheus.Metric) {
	for _, n := range c.stats() {
		ch <- prometheus.MustNewConstMetric(c.calls, prometheus.CounterValue, float64(n.Successes), n.URL, "success")
		ch <- prometheus.MustNewConstMetric(c.calls, prometheus.CounterValue, float64(n.Failures), n.URL, "failure")
		ch <- prometheus.MustNewConstMetric(c.latency, prometheus.GaugeValue, n.AvgLatency.Seconds(), n.URL)
		up := 1.0
		if n.State == "open" {
			up = 0
		}
		ch <- prometheus.MustNewConstMetric(c.available, prometheus.GaugeValue, up, n.URL, n.State)
	}
}
