package subpool

import (
	"context"
	"maps"
	"time"

	"yieldagg/internal/cache"
	"yieldagg/internal/metrics"
	"yieldagg/pkg/models"

	"github.com/rs/zerolog/log"
)

// DefaultAPYTimeout is the cache timeout for subpool APYs.
const DefaultAPYTimeout = 5 * time.Minute

// CacheKey returns the cache key a subpool's APYs are stored under.
func CacheKey(name string) string {
	return "subpool:" + name
}

// Cached serves a YieldSource through the cache store.
type Cached struct {
	source  YieldSource
	store   *cache.Store
	key     string
	metrics *metrics.Metrics
}

// NewCached wraps source. The key is registered with timeout unless the
// store already configures it.
func NewCached(source YieldSource, store *cache.Store, timeout time.Duration, m *metrics.Metrics) (*Cached, error) {
	key := CacheKey(source.Name())
	if _, ok := store.Timeout(key); !ok {
		if err := store.SetTimeout(key, timeout); err != nil {
			return nil, err
		}
	}
	return &Cached{source: source, store: store, key: key, metrics: m}, nil
}

func (c *Cached) Name() string {
	return c.source.Name()
}

// CurrencyAPYs returns a copy of the cached APYs, refreshing when expired.
func (c *Cached) CurrencyAPYs(ctx context.Context) (map[string]models.Rate, error) {
	apys, err := cache.GetOrUpdate(ctx, c.store, c.key, c.fetch)
	if err != nil {
		return nil, err
	}
	return maps.Clone(apys), nil
}

func (c *Cached) fetch(ctx context.Context) (map[string]models.Rate, error) {
	apys, err := c.source.CurrencyAPYs(ctx)
	if err != nil {
		if c.metrics != nil {
			c.metrics.RecordSubpoolError(c.source.Name())
		}
		return nil, err
	}
	if c.metrics != nil {
		for currency, apy := range apys {
			c.metrics.SetSubpoolAPY(c.source.Name(), currency, apy.Float64())
		}
	}
	log.Debug().Str("subpool", c.source.Name()).Int("currencies", len(apys)).Msg("Fetched subpool APYs")
	return apys, nil
}
