// internal/utils/metrics/collector.go
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "copybot"

// Collector holds the bot's Prometheus metrics. A nil *Collector is valid and
// records nothing.
type Collector struct {
	priceLookups  *prometheus.CounterVec
	exits         *prometheus.CounterVec
	trades        *prometheus.CounterVec
	tradeDuration *prometheus.HistogramVec
	signals       *prometheus.CounterVec
	loopPanics    *prometheus.CounterVec
	openPositions prometheus.Gauge
}

// NewCollector creates the metrics and registers them on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		priceLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "price_lookups_total",
				Help:      "Price tier lookups by tier and result",
			},
			[]string{"tier", "result"},
		),
		exits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "exits_total",
				Help:      "Position exits by reason",
			},
			[]string{"reason"},
		),
		trades: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "trades_total",
				Help:      "Trades by venue, side and status",
			},
			[]string{"venue", "side", "status"},
		),
		tradeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "trade_duration_seconds",
				Help:      "Trade execution duration in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
			},
			[]string{"venue", "side"},
		),
		signals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "copy_signals_total",
				Help:      "Copy signals by outcome",
			},
			[]string{"outcome"},
		),
		loopPanics: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "loop_panics_total",
				Help:      "Recovered panics per polling loop",
			},
			[]string{"loop"},
		),
		openPositions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "open_positions",
				Help:      "Number of open positions",
			},
		),
	}

	reg.MustRegister(
		c.priceLookups,
		c.exits,
		c.trades,
		c.tradeDuration,
		c.signals,
		c.loopPanics,
		c.openPositions,
	)
	return c
}

func (c *Collector) ObservePriceLookup(tier string, ok bool) {
	if c == nil {
		return
	}
	c.priceLookups.WithLabelValues(tier, status(ok)).Inc()
}

func (c *Collector) ObserveExit(reason string) {
	if c == nil {
		return
	}
	c.exits.WithLabelValues(reason).Inc()
}

// ObserveTrade records one buy or sell attempt.
func (c *Collector) ObserveTrade(venue, side string, ok bool, d time.Duration) {
	if c == nil {
		return
	}
	c.trades.WithLabelValues(venue, side, status(ok)).Inc()
	c.tradeDuration.WithLabelValues(venue, side).Observe(d.Seconds())
}

func (c *Collector) ObserveSignal(outcome string) {
	if c == nil {
		return
	}
	c.signals.WithLabelValues(outcome).Inc()
}

func (c *Collector) ObserveLoopPanic(loop string) {
	if c == nil {
		return
	}
	c.loopPanics.WithLabelValues(loop).Inc()
}

func (c *Collector) SetOpenPositions(n int) {
	if c == nil {
		return
	}
	c.openPositions.Set(float64(n))
}

func status(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
