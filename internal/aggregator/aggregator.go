// Package aggregator wires the cache, feed, subpools and pools into one
// object graph built at startup.
package aggregator

import (
	"fmt"
	"sort"

	"yieldagg/internal/cache"
	"yieldagg/internal/config"
	"yieldagg/internal/feed"
	"yieldagg/internal/metrics"
	"yieldagg/internal/pool"
	"yieldagg/internal/subpool"
	"yieldagg/pkg/contracts"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
)

// HTTPClient is the JSON client shared by the feed and the HTTP subpools.
type HTTPClient interface {
	subpool.Getter
	subpool.Poster
}

// aaveReserves are the internal tokens read from the Aave data provider.
var aaveReserves = []string{"DAI", "USDC", "USDT", "TUSD", "BUSD", "sUSD"}

// Aggregator holds every long-lived component. Subpools are cache-backed.
type Aggregator struct {
	Cache    *cache.Store
	Feed     *feed.Feed
	Subpools map[string]subpool.YieldSource
	Pools    map[string]*pool.Pool
}

// New builds the graph. Fuse markets from cfg replace the defaults per pool
// number; numbers not in the defaults add new Fuse subpools.
func New(cfg *config.Config, store *cache.Store, caller contracts.Caller, httpClient HTTPClient, m *metrics.Metrics) (*Aggregator, error) {
	f, err := feed.New(feed.Config{
		PriceURL:     cfg.Feed.PriceURL,
		TokenListURL: cfg.Feed.TokenListURL,
	}, store, httpClient, caller, m)
	if err != nil {
		return nil, fmt.Errorf("creating feed: %w", err)
	}

	sources, err := buildSources(cfg, f, caller, httpClient)
	if err != nil {
		return nil, err
	}

	a := &Aggregator{
		Cache:    store,
		Feed:     f,
		Subpools: make(map[string]subpool.YieldSource, len(sources)),
		Pools:    make(map[string]*pool.Pool),
	}
	for _, src := range sources {
		if _, dup := a.Subpools[src.Name()]; dup {
			return nil, fmt.Errorf("duplicate subpool %q", src.Name())
		}
		cached, err := subpool.NewCached(src, store, cfg.Cache.SubpoolAPYTimeout, m)
		if err != nil {
			return nil, fmt.Errorf("caching subpool %s: %w", src.Name(), err)
		}
		a.Subpools[src.Name()] = cached
	}

	for _, def := range pool.Definitions() {
		p, err := pool.Build(def, a.Subpools, f)
		if err != nil {
			return nil, err
		}
		a.Pools[def.Name] = p
	}

	log.Info().
		Int("subpools", len(a.Subpools)).
		Int("pools", len(a.Pools)).
		Strs("cache_keys", store.Keys()).
		Msg("Aggregator initialized")
	return a, nil
}

func buildSources(cfg *config.Config, f *feed.Feed, caller contracts.Caller, httpClient HTTPClient) ([]subpool.YieldSource, error) {
	internal := f.InternalTokens()
	reserves := make(map[string]common.Address, len(aaveReserves))
	for _, symbol := range aaveReserves {
		reserves[symbol] = internal[symbol].Address
	}

	blocksPerDay := cfg.Subpools.BlocksPerDay
	sources := []subpool.YieldSource{
		subpool.NewCompound(caller, subpool.CompoundMarkets, blocksPerDay),
		subpool.NewAave(caller, subpool.AaveDataProvider, reserves),
		subpool.NewDYDX(httpClient, cfg.Subpools.DYDXURL),
		subpool.NewMStable(httpClient, cfg.Subpools.MStableURL),
		subpool.NewYVault(),
		subpool.NewAlpha(caller, subpool.AlphaBank),
	}

	fuse := make(map[int]map[string]string, len(subpool.FuseMarkets))
	for n, markets := range subpool.FuseMarkets {
		fuse[n] = markets
	}
	for n, markets := range cfg.Subpools.Fuse {
		fuse[n] = markets
	}
	numbers := make([]int, 0, len(fuse))
	for n := range fuse {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)

	for _, n := range numbers {
		markets, err := subpool.ParseMarkets(fuse[n])
		if err != nil {
			return nil, fmt.Errorf("fuse pool %d: %w", n, err)
		}
		sources = append(sources, subpool.NewFuse(n, caller, markets, blocksPerDay))
	}
	return sources, nil
}

// Pool returns a pool by name.
func (a *Aggregator) Pool(name string) (*pool.Pool, bool) {
	p, ok := a.Pools[name]
	return p, ok
}

// PoolNames returns the pool names sorted.
func (a *Aggregator) PoolNames() []string {
	names := make([]string, 0, len(a.Pools))
	for name := range a.Pools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SubpoolNames returns the subpool names sorted.
func (a *Aggregator) SubpoolNames() []string {
	names := make([]string, 0, len(a.Subpools))
	for name := range a.Subpools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
