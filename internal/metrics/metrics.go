package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics holds all Prometheus metrics for the yield aggregator.
type Metrics struct {
	registry *prometheus.Registry

	// Cache metrics
	CacheHits           *prometheus.CounterVec
	CacheMisses         *prometheus.CounterVec
	CacheJoins          *prometheus.CounterVec
	CacheRefreshErrors  *prometheus.CounterVec
	CacheRefreshLatency *prometheus.HistogramVec

	// Feed metrics
	EthUSDPrice prometheus.Gauge
	TokensKnown prometheus.Gauge

	// Subpool metrics
	SubpoolAPY    *prometheus.GaugeVec
	SubpoolErrors *prometheus.CounterVec

	// Poller metrics
	PollLatency prometheus.Histogram
	LastPoll    prometheus.Gauge

	server *http.Server
}

// New creates all metrics and registers them on a dedicated registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "yield_cache_hits_total",
				Help: "Lookups served from a valid cache entry",
			},
			[]string{"key"},
		),
		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "yield_cache_misses_total",
				Help: "Lookups that found no valid entry",
			},
			[]string{"key"},
		),
		CacheJoins: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "yield_cache_joins_total",
				Help: "Lookups that joined a refresh already in flight",
			},
			[]string{"key"},
		),
		CacheRefreshErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "yield_cache_refresh_errors_total",
				Help: "Refresh rounds that failed",
			},
			[]string{"key"},
		),
		CacheRefreshLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "yield_cache_refresh_latency_seconds",
				Help:    "Duration of refresh functions",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
			},
			[]string{"key"},
		),
		EthUSDPrice: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "yield_eth_usd_price",
				Help: "Last fetched ETH/USD price",
			},
		),
		TokensKnown: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "yield_tokens_known",
				Help: "Number of tokens in the merged token list",
			},
		),
		SubpoolAPY: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "yield_subpool_apy",
				Help: "Current APY per subpool and currency (1.0 = 100%)",
			},
			[]string{"subpool", "currency"},
		),
		SubpoolErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "yield_subpool_errors_total",
				Help: "Failed APY reads per subpool",
			},
			[]string{"subpool"},
		),
		PollLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "yield_poll_latency_seconds",
				Help:    "Time to complete one poll cycle",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
			},
		),
		LastPoll: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "yield_last_poll_timestamp_seconds",
				Help: "Unix time of the last completed poll",
			},
		),
	}

	m.registry.MustRegister(
		m.CacheHits,
		m.CacheMisses,
		m.CacheJoins,
		m.CacheRefreshErrors,
		m.CacheRefreshLatency,
		m.EthUSDPrice,
		m.TokensKnown,
		m.SubpoolAPY,
		m.SubpoolErrors,
		m.PollLatency,
		m.LastPoll,
	)

	return m
}

// Handler returns the HTTP handler exposing this instance's metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// StartServer starts the HTTP server for Prometheus metrics.
func (m *Metrics) StartServer(port int, path string) error {
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	m.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		log.Info().Int("port", port).Str("path", path).Msg("Starting metrics server")
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Metrics server error")
		}
	}()

	return nil
}

// Shutdown gracefully stops the metrics server.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m.server != nil {
		return m.server.Shutdown(ctx)
	}
	return nil
}

// RecordCacheHit increments the hit counter for key.
func (m *Metrics) RecordCacheHit(key string) {
	m.CacheHits.WithLabelValues(key).Inc()
}

// RecordCacheMiss increments the miss counter for key.
func (m *Metrics) RecordCacheMiss(key string) {
	m.CacheMisses.WithLabelValues(key).Inc()
}

// RecordCacheJoin increments the joined-refresh counter for key.
func (m *Metrics) RecordCacheJoin(key string) {
	m.CacheJoins.WithLabelValues(key).Inc()
}

// RecordCacheRefresh records the outcome and duration of one refresh round.
func (m *Metrics) RecordCacheRefresh(key string, d time.Duration, err error) {
	m.CacheRefreshLatency.WithLabelValues(key).Observe(d.Seconds())
	if err != nil {
		m.CacheRefreshErrors.WithLabelValues(key).Inc()
	}
}

// SetEthUSDPrice sets the last fetched ETH/USD price.
func (m *Metrics) SetEthUSDPrice(price float64) {
	m.EthUSDPrice.Set(price)
}

// SetTokensKnown sets the merged token list size.
func (m *Metrics) SetTokensKnown(count int) {
	m.TokensKnown.Set(float64(count))
}

// SetSubpoolAPY sets the APY gauge for a subpool currency.
func (m *Metrics) SetSubpoolAPY(subpool, currency string, apy float64) {
	m.SubpoolAPY.WithLabelValues(subpool, currency).Set(apy)
}

// RecordSubpoolError increments the error counter for a subpool.
func (m *Metrics) RecordSubpoolError(subpool string) {
	m.SubpoolErrors.WithLabelValues(subpool).Inc()
}

// RecordPoll records the duration of a poll cycle and its completion time.
func (m *Metrics) RecordPoll(d time.Duration) {
	m.PollLatency.Observe(d.Seconds())
	m.LastPoll.SetToCurrentTime()
}
