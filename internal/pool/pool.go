// Package pool groups subpools into pools by supported currency and picks
// the best current rate per currency.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"yieldagg/internal/subpool"
	"yieldagg/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// ErrNoData is returned when every member of a pool failed.
var ErrNoData = errors.New("pool: no member returned data")

// TokenResolver looks up token metadata by symbol. *feed.Feed implements it.
type TokenResolver interface {
	Token(ctx context.Context, symbol string) (models.TokenInfo, bool, error)
}

// Best is the highest rate found for a currency.
type Best struct {
	Subpool string      `json:"subpool"`
	APY     models.Rate `json:"apy"`
}

// Snapshot is one read of every member of a pool.
type Snapshot struct {
	Pool      string                            `json:"pool"`
	Timestamp time.Time                         `json:"timestamp"`
	APYs      map[string]map[string]models.Rate `json:"apys"`
	Best      map[string]Best                   `json:"best"`
	Failed    map[string]string                 `json:"failed,omitempty"`
}

// Pool is a named set of subpools restricted to a list of currencies.
type Pool struct {
	Name       string
	Currencies []string
	Members    []subpool.YieldSource

	tokens TokenResolver
	now    func() time.Time
}

func New(name string, currencies []string, members []subpool.YieldSource, tokens TokenResolver) *Pool {
	return &Pool{
		Name:       name,
		Currencies: currencies,
		Members:    members,
		tokens:     tokens,
		now:        time.Now,
	}
}

// APYs reads every member concurrently. A failing member is recorded in
// Snapshot.Failed and does not abort the others.
func (p *Pool) APYs(ctx context.Context) (*Snapshot, error) {
	supported := make(map[string]struct{}, len(p.Currencies))
	for _, c := range p.Currencies {
		supported[c] = struct{}{}
	}

	snap := &Snapshot{
		Pool:   p.Name,
		APYs:   make(map[string]map[string]models.Rate),
		Best:   make(map[string]Best),
		Failed: make(map[string]string),
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, member := range p.Members {
		wg.Add(1)
		go func(src subpool.YieldSource) {
			defer wg.Done()

			apys, err := src.CurrencyAPYs(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Warn().Err(err).Str("pool", p.Name).Str("subpool", src.Name()).Msg("Subpool read failed")
				snap.Failed[src.Name()] = err.Error()
				return
			}
			filtered := make(map[string]models.Rate, len(apys))
			for currency, apy := range apys {
				if _, ok := supported[currency]; ok {
					filtered[currency] = apy
				}
			}
			snap.APYs[src.Name()] = filtered
		}(member)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(p.Members) > 0 && len(snap.APYs) == 0 {
		return nil, fmt.Errorf("%w: %s (%d failed)", ErrNoData, p.Name, len(snap.Failed))
	}

	for name, apys := range snap.APYs {
		for currency, apy := range apys {
			cur, ok := snap.Best[currency]
			if !ok || apy.Cmp(cur.APY) > 0 || (apy.Cmp(cur.APY) == 0 && name < cur.Subpool) {
				snap.Best[currency] = Best{Subpool: name, APY: apy}
			}
		}
	}
	snap.Timestamp = p.now().UTC()
	return snap, nil
}

// Tokens resolves the pool's currencies to token metadata.
func (p *Pool) Tokens(ctx context.Context) (map[string]models.TokenInfo, error) {
	tokens := make(map[string]models.TokenInfo, len(p.Currencies))
	for _, symbol := range p.Currencies {
		tok, ok, err := p.tokens.Token(ctx, symbol)
		if err != nil {
			return nil, fmt.Errorf("pool %s: resolving %s: %w", p.Name, symbol, err)
		}
		if !ok {
			return nil, fmt.Errorf("pool %s: unknown token %s", p.Name, symbol)
		}
		tokens[symbol] = tok
	}
	return tokens, nil
}

// Balances reads the balance owner holds of every supported currency. Any
// failed read fails the call.
func (p *Pool) Balances(ctx context.Context, owner common.Address) (map[string]models.TokenAmount, error) {
	tokens, err := p.Tokens(ctx)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	balances := make(map[string]models.TokenAmount, len(tokens))
	g, gCtx := errgroup.WithContext(ctx)
	for symbol, token := range tokens {
		g.Go(func() error {
			amount, err := token.BalanceOf(gCtx, owner)
			if err != nil {
				return fmt.Errorf("pool %s: %w", p.Name, err)
			}
			mu.Lock()
			balances[symbol] = amount
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return balances, nil
}
