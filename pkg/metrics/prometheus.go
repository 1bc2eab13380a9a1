// Package metrics exposes the rewards-service Prometheus collectors on a private registry.
package metrics

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector records ledger, distribution and batch activity. A nil *Collector is
// valid and records nothing.
type Collector struct {
	registry          *prometheus.Registry
	ledgerOps         *prometheus.CounterVec
	ledgerAmount      *prometheus.CounterVec
	rejections        *prometheus.CounterVec
	distributions     prometheus.Counter
	distributedAmount prometheus.Counter
	batchRuns         *prometheus.CounterVec
	batchDuration     prometheus.Histogram
	logger            *slog.Logger
}

// NewCollector registers every collector on a fresh registry.
func NewCollector(logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}

	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		ledgerOps: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rewards_ledger_operations_total",
			Help: "Ledger mutations by direction and category",
		}, []string{"direction", "category"}),
		ledgerAmount: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rewards_ledger_amount_total",
			Help: "Contribution moved through the ledger by direction",
		}, []string{"direction"}),
		rejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rewards_rejections_total",
			Help: "Business rejections by operation",
		}, []string{"operation"}),
		distributions: factory.NewCounter(prometheus.CounterOpts{
			Name: "rewards_dividend_rounds_total",
			Help: "Completed dividend distribution rounds",
		}),
		distributedAmount: factory.NewCounter(prometheus.CounterOpts{
			Name: "rewards_dividend_amount_total",
			Help: "Currency amount distributed from dividend pools",
		}),
		batchRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rewards_daily_batch_runs_total",
			Help: "Daily batch runs by outcome",
		}, []string{"outcome"}),
		batchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "rewards_daily_batch_duration_seconds",
			Help:    "Wall time of one daily batch run",
			Buckets: prometheus.DefBuckets,
		}),
		logger: logger,
	}
}

func (c *Collector) RecordLedger(direction, category string, amount float64) {
	if c == nil {
		return
	}
	c.ledgerOps.WithLabelValues(direction, category).Inc()
	c.ledgerAmount.WithLabelValues(direction).Add(amount)
}

func (c *Collector) RecordRejection(operation string) {
	if c == nil {
		return
	}
	c.rejections.WithLabelValues(operation).Inc()
}

func (c *Collector) RecordDistribution(amount float64) {
	if c == nil {
		return
	}
	c.distributions.Inc()
	c.distributedAmount.Add(amount)
}

func (c *Collector) RecordBatch(duration time.Duration, failed bool) {
	if c == nil {
		return
	}
	outcome := "ok"
	if failed {
		outcome = "partial"
	}
	c.batchRuns.WithLabelValues(outcome).Inc()
	c.batchDuration.Observe(duration.Seconds())
}

// Handler serves the private registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// StartServer serves /metrics on addr in the background.
func (c *Collector) StartServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		c.logger.Info("Starting metrics server", slog.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			c.logger.Error("Metrics server failed", slog.String("error", err.Error()))
		}
	}()

	return server
}
