// Package feed reads the reference ETH/USD price and the external token list
// through the cache, each under its own key and timeout.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"time"

	"yieldagg/internal/cache"
	"yieldagg/internal/metrics"
	"yieldagg/pkg/client"
	"yieldagg/pkg/contracts"
	"yieldagg/pkg/models"

	"github.com/rs/zerolog/log"
)

// Cache keys used by the feed.
const (
	KeyEthUSDPrice = "ethUSDPrice"
	KeyAllTokens   = "allTokens"
)

const (
	DefaultPriceTimeout     = 300 * time.Second
	DefaultTokenListTimeout = 8600 * time.Second

	DefaultPriceURL     = "https://api.coingecko.com/api/v3/simple/price?vs_currencies=usd&ids=ethereum"
	DefaultTokenListURL = "https://api.0x.org/swap/v0/tokens"
)

// DefaultTimeouts returns the cache configuration for the feed's keys.
func DefaultTimeouts() map[string]time.Duration {
	return map[string]time.Duration{
		KeyEthUSDPrice: DefaultPriceTimeout,
		KeyAllTokens:   DefaultTokenListTimeout,
	}
}

// Getter fetches a URL and decodes its JSON body. *client.HTTPClient implements it.
type Getter interface {
	Get(ctx context.Context, url string, response interface{}) error
}

// Config holds the external endpoints.
type Config struct {
	PriceURL     string
	TokenListURL string
}

// Feed serves the ETH/USD price and the merged token list.
type Feed struct {
	config   Config
	cache    *cache.Store
	http     Getter
	caller   contracts.Caller
	internal map[string]models.TokenInfo
	metrics  *metrics.Metrics
}

// New creates a feed. Keys missing from the store's configuration are
// registered with the default timeouts.
func New(cfg Config, store *cache.Store, httpClient Getter, caller contracts.Caller, m *metrics.Metrics) (*Feed, error) {
	if cfg.PriceURL == "" {
		cfg.PriceURL = DefaultPriceURL
	}
	if cfg.TokenListURL == "" {
		cfg.TokenListURL = DefaultTokenListURL
	}
	for key, d := range DefaultTimeouts() {
		if _, ok := store.Timeout(key); ok {
			continue
		}
		if err := store.SetTimeout(key, d); err != nil {
			return nil, err
		}
	}

	return &Feed{
		config:   cfg,
		cache:    store,
		http:     httpClient,
		caller:   caller,
		internal: InternalTokens(caller),
		metrics:  m,
	}, nil
}

// InternalTokens returns a copy of the fixed internal token set.
func (f *Feed) InternalTokens() map[string]models.TokenInfo {
	return maps.Clone(f.internal)
}

// EthUSDPrice returns the ETH/USD price as an 18-decimal fixed-point value.
func (f *Feed) EthUSDPrice(ctx context.Context) (models.USDPrice, error) {
	return cache.GetOrUpdate(ctx, f.cache, KeyEthUSDPrice, f.fetchEthUSDPrice)
}

type priceResponse struct {
	Ethereum *struct {
		USD *json.Number `json:"usd"`
	} `json:"ethereum"`
}

func (f *Feed) fetchEthUSDPrice(ctx context.Context) (models.USDPrice, error) {
	var resp priceResponse
	if err := f.http.Get(ctx, f.config.PriceURL, &resp); err != nil {
		return models.USDPrice{}, &FeedError{Source: "price", Err: err}
	}
	if resp.Ethereum == nil || resp.Ethereum.USD == nil {
		return models.USDPrice{}, &FeedError{
			Source: "price",
			Err:    fmt.Errorf("%w: missing ethereum.usd", client.ErrMalformedResponse),
		}
	}

	price, err := models.ParseUSDPrice(resp.Ethereum.USD.String())
	if err != nil {
		return models.USDPrice{}, &FeedError{
			Source: "price",
			Err:    fmt.Errorf("%w: %w", client.ErrMalformedResponse, err),
		}
	}

	if f.metrics != nil {
		f.metrics.SetEthUSDPrice(price.Float64())
	}
	log.Debug().Str("usd", price.String()).Msg("Fetched ETH/USD price")
	return price, nil
}

// AllTokens returns every known token keyed by symbol: the internal set
// merged with the external token list.
func (f *Feed) AllTokens(ctx context.Context) (map[string]models.TokenInfo, error) {
	tokens, err := cache.GetOrUpdate(ctx, f.cache, KeyAllTokens, f.fetchAllTokens)
	if err != nil {
		return nil, err
	}
	return maps.Clone(tokens), nil
}

// AllTokensWithTimeout sets the token list cache timeout, then behaves like
// AllTokens. The timeout applies from the next refresh on.
func (f *Feed) AllTokensWithTimeout(ctx context.Context, timeout time.Duration) (map[string]models.TokenInfo, error) {
	if err := f.cache.SetTimeout(KeyAllTokens, timeout); err != nil {
		return nil, err
	}
	return f.AllTokens(ctx)
}

// Token looks up one token by symbol. Internal tokens never touch the network.
func (f *Feed) Token(ctx context.Context, symbol string) (models.TokenInfo, bool, error) {
	if tok, ok := f.internal[symbol]; ok {
		return tok, true, nil
	}
	tokens, err := f.AllTokens(ctx)
	if err != nil {
		return models.TokenInfo{}, false, err
	}
	tok, ok := tokens[symbol]
	return tok, ok, nil
}

type tokenListResponse struct {
	Records *[]tokenRecord `json:"records"`
}

func (f *Feed) fetchAllTokens(ctx context.Context) (map[string]models.TokenInfo, error) {
	var resp tokenListResponse
	if err := f.http.Get(ctx, f.config.TokenListURL, &resp); err != nil {
		return nil, &FeedError{Source: "token list", Err: err}
	}
	if resp.Records == nil {
		return nil, &FeedError{
			Source: "token list",
			Err:    fmt.Errorf("%w: missing records", client.ErrMalformedResponse),
		}
	}

	tokens, skipped := mergeTokens(f.internal, *resp.Records, f.caller)
	if skipped > 0 {
		log.Warn().Int("skipped", skipped).Msg("Token list contained invalid records")
	}
	if f.metrics != nil {
		f.metrics.SetTokensKnown(len(tokens))
	}
	log.Info().
		Int("fetched", len(*resp.Records)).
		Int("merged", len(tokens)).
		Msg("Fetched token list")
	return tokens, nil
}
