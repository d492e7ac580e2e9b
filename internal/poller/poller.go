// Package poller periodically warms the cache, records history and
// publishes the latest pool snapshots to subscribers.
package poller

import (
	"context"
	"sort"
	"sync"
	"time"

	"yieldagg/internal/aggregator"
	"yieldagg/internal/feed"
	"yieldagg/internal/metrics"
	"yieldagg/internal/pool"
	"yieldagg/pkg/models"

	"github.com/rs/zerolog/log"
)

// StateKeyLastPoll is the system_state key holding the last poll time.
const StateKeyLastPoll = "last_poll"

// History persists poll results. *persistence.Store implements it.
type History interface {
	RecordPrice(ctx context.Context, price models.USDPrice, at time.Time) error
	RecordSnapshot(ctx context.Context, snap *pool.Snapshot) error
	BulkUpsertTokens(ctx context.Context, tokens []models.TokenInfo) error
	SetSystemState(ctx context.Context, key, value string) error
}

// Update is the result of one poll cycle.
type Update struct {
	Price     *models.USDPrice          `json:"price,omitempty"`
	Pools     map[string]*pool.Snapshot `json:"pools"`
	UpdatedAt time.Time                 `json:"updated_at"`
}

// Poller refreshes the aggregator on a fixed interval.
type Poller struct {
	agg      *aggregator.Aggregator
	history  History
	metrics  *metrics.Metrics
	interval time.Duration

	// tokensPersistedFor is the expiry of the token list entry last written
	// to history, so unchanged lists are not rewritten.
	tokensPersistedFor time.Time

	mu     sync.RWMutex
	latest *Update
	subs   map[chan *Update]struct{}
}

// New creates a poller. history and m may be nil.
func New(agg *aggregator.Aggregator, history History, m *metrics.Metrics, interval time.Duration) *Poller {
	return &Poller{
		agg:      agg,
		history:  history,
		metrics:  m,
		interval: interval,
		subs:     make(map[chan *Update]struct{}),
	}
}

// Run polls immediately, then on every tick until ctx ends.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	log.Info().
		Dur("interval", p.interval).
		Strs("pools", p.agg.PoolNames()).
		Msg("Starting poller")

	p.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Poll runs one cycle. Failures are logged and never abort the cycle.
// Poll is not safe for concurrent use; Run calls it sequentially.
func (p *Poller) Poll(ctx context.Context) *Update {
	startTime := time.Now()
	update := &Update{Pools: make(map[string]*pool.Snapshot)}

	price, err := p.agg.Feed.EthUSDPrice(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch ETH/USD price")
	} else {
		update.Price = &price
		p.record("price", func() error { return p.history.RecordPrice(ctx, price, startTime) })
	}

	if _, err := p.agg.Feed.AllTokens(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to fetch token list")
	} else {
		p.persistTokens(ctx)
	}

	for _, name := range p.agg.PoolNames() {
		pl, _ := p.agg.Pool(name)
		snap, err := pl.APYs(ctx)
		if err != nil {
			log.Error().Err(err).Str("pool", name).Msg("Failed to read pool")
			continue
		}
		update.Pools[name] = snap
		p.record("snapshot", func() error { return p.history.RecordSnapshot(ctx, snap) })
	}

	update.UpdatedAt = time.Now().UTC()
	p.record("state", func() error {
		return p.history.SetSystemState(ctx, StateKeyLastPoll, update.UpdatedAt.Format(time.RFC3339))
	})
	if p.metrics != nil {
		p.metrics.RecordPoll(time.Since(startTime))
	}

	p.publish(update)

	log.Info().
		Int("pools", len(update.Pools)).
		Bool("price", update.Price != nil).
		Dur("duration", time.Since(startTime)).
		Msg("Poll complete")
	return update
}

// persistTokens writes the cached token list once per cache refresh.
func (p *Poller) persistTokens(ctx context.Context) {
	if p.history == nil {
		return
	}
	_, expiresAt, ok := p.agg.Cache.Peek(feed.KeyAllTokens)
	if !ok || expiresAt.Equal(p.tokensPersistedFor) {
		return
	}
	tokens, err := p.agg.Feed.AllTokens(ctx)
	if err != nil {
		return
	}

	symbols := make([]string, 0, len(tokens))
	for symbol := range tokens {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	list := make([]models.TokenInfo, len(symbols))
	for i, symbol := range symbols {
		list[i] = tokens[symbol]
	}

	if err := p.history.BulkUpsertTokens(ctx, list); err != nil {
		log.Warn().Err(err).Msg("Failed to update tokens in database")
		return
	}
	p.tokensPersistedFor = expiresAt
	log.Debug().Int("tokens", len(list)).Msg("Persisted token list")
}

func (p *Poller) record(what string, fn func() error) {
	if p.history == nil {
		return
	}
	if err := fn(); err != nil {
		log.Warn().Err(err).Str("record", what).Msg("Failed to persist poll result")
	}
}

// Latest returns the most recent update, or nil before the first poll.
func (p *Poller) Latest() *Update {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latest
}

// Subscribe returns a channel receiving every new update and a function
// to cancel the subscription. Slow subscribers only see the newest update.
func (p *Poller) Subscribe() (<-chan *Update, func()) {
	ch := make(chan *Update, 1)

	p.mu.Lock()
	p.subs[ch] = struct{}{}
	p.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subs, ch)
			p.mu.Unlock()
		})
	}
}

func (p *Poller) publish(update *Update) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.latest = update
	for ch := range p.subs {
		select {
		case ch <- update:
		default:
			// Drop the stale update and deliver the new one.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- update:
			default:
				log.Warn().Msg("Subscriber channel full, discarding update")
			}
		}
	}
}
