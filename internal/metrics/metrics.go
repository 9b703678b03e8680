// Package metrics exposes scan counters for Prometheus scraping. A nil
// *Collector is valid and records nothing, so callers never need to check
// whether metrics are enabled.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/maxvaer/apihunter/internal/logging"
)

// Probe results used as the result label of probes_total.
const (
	ResultPersisted   = "persisted"
	ResultUnreachable = "unreachable"
	ResultAbandoned   = "abandoned"
	ResultSkipped     = "skipped"
)

// Collector holds the scan metrics in a private registry.
type Collector struct {
	registry *prometheus.Registry

	probes      *prometheus.CounterVec
	attempts    prometheus.Counter
	cooldowns   *prometheus.CounterVec
	sinkRecords *prometheus.CounterVec
	responseMS  prometheus.Histogram
	inflight    prometheus.Gauge
}

// New creates a collector with all metrics registered.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		probes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apihunter_probes_total",
				Help: "Candidates finished, by result",
			},
			[]string{"result"},
		),
		attempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "apihunter_probe_attempts_total",
			Help: "Probe attempts including retries",
		}),
		cooldowns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apihunter_cooldowns_total",
				Help: "Host cooldowns triggered by 429 or 5xx responses",
			},
			[]string{"host"},
		),
		sinkRecords: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apihunter_sink_records_total",
				Help: "Outcomes handled by each sink, by result",
			},
			[]string{"sink", "result"},
		),
		responseMS: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "apihunter_response_ms",
			Help:    "Probe response time in milliseconds",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "apihunter_inflight",
			Help: "Probes currently holding an admission permit",
		}),
	}
	c.registry.MustRegister(c.probes, c.attempts, c.cooldowns, c.sinkRecords, c.responseMS, c.inflight)
	return c
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// ObserveProbe records a finished candidate. responseMS is ignored unless
// the candidate was persisted.
func (c *Collector) ObserveProbe(result string, responseMS int64) {
	if c == nil {
		return
	}
	c.probes.WithLabelValues(result).Inc()
	if result == ResultPersisted {
		c.responseMS.Observe(float64(responseMS))
	}
}

// ObserveAttempts adds n probe attempts.
func (c *Collector) ObserveAttempts(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.attempts.Add(float64(n))
}

// ObserveCoolDown records a cooldown for host.
func (c *Collector) ObserveCoolDown(host string) {
	if c == nil {
		return
	}
	c.cooldowns.WithLabelValues(host).Inc()
}

// ObserveSinkRecord records one write attempt of sink.
func (c *Collector) ObserveSinkRecord(sink string, ok bool) {
	if c == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	c.sinkRecords.WithLabelValues(sink, result).Inc()
}

// InflightAdd moves the in-flight gauge by delta.
func (c *Collector) InflightAdd(delta int) {
	if c == nil {
		return
	}
	c.inflight.Add(float64(delta))
}

// Handler returns the /metrics handler for the collector's registry.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Serve exposes /metrics on addr until ctx ends. The listener is bound
// before Serve returns, so a bad address fails immediately.
func (c *Collector) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	if c == nil {
		return nil
	}
	logger = logging.OrDefault(logger)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", slog.String("error", err.Error()))
		}
	}()
	context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	})
	logger.Info("metrics server listening", slog.String("addr", ln.Addr().String()))
	return nil
}
