// Package server exposes the aggregator over HTTP and streams poll updates
// over a websocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"yieldagg/internal/aggregator"
	"yieldagg/internal/cache"
	"yieldagg/internal/persistence"
	"yieldagg/internal/poller"
	"yieldagg/internal/pool"
	"yieldagg/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// pegPrice values stablecoin balances.
var pegPrice = models.NewUSDPrice(models.Wad)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
	writeWait           = 10 * time.Second
)

// Updates is the poller side the server reads from.
type Updates interface {
	Latest() *poller.Update
	Subscribe() (<-chan *poller.Update, func())
}

// HistoryReader reads persisted poll results. *persistence.Store implements it.
type HistoryReader interface {
	RecentAPYs(ctx context.Context, poolName string, limit int) ([]persistence.APYRecord, error)
	LatestPrice(ctx context.Context) (*persistence.PriceRecord, error)
	GetAllTokens(ctx context.Context) ([]persistence.TokenRecord, error)
	GetSystemState(ctx context.Context, key string) (string, error)
}

// Server serves the JSON API and the websocket stream.
type Server struct {
	agg          *aggregator.Aggregator
	updates      Updates
	history      HistoryReader
	pushInterval time.Duration
	upgrader     websocket.Upgrader
	http         *http.Server
}

// New creates a server. history may be nil, in which case the history
// endpoints report 404.
func New(agg *aggregator.Aggregator, updates Updates, history HistoryReader, pushInterval time.Duration) *Server {
	return &Server{
		agg:          agg,
		updates:      updates,
		history:      history,
		pushInterval: pushInterval,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.HandleFunc("GET /api/price", s.handlePrice)
	mux.HandleFunc("GET /api/pools", s.handlePools)
	mux.HandleFunc("GET /api/pools/{name}", s.handlePool)
	mux.HandleFunc("GET /api/pools/{name}/history", s.handleHistory)
	mux.HandleFunc("GET /api/pools/{name}/balances/{holder}", s.handleBalances)
	mux.HandleFunc("GET /api/subpools", s.handleSubpools)
	mux.HandleFunc("GET /api/cache", s.handleCache)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	return mux
}

// Run serves on port until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, port int) error {
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", port).Msg("Starting API server")
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("API server shutdown failed")
		}
		return ctx.Err()
	}
}

type priceResponse struct {
	USD models.USDPrice `json:"usd"`
	Wad string          `json:"wad"`
}

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	price, err := s.agg.Feed.EthUSDPrice(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, priceResponse{USD: price, Wad: price.Wad().String()})
}

func (s *Server) handlePools(w http.ResponseWriter, r *http.Request) {
	snaps := make(map[string]*pool.Snapshot)
	failed := make(map[string]string)
	for _, name := range s.agg.PoolNames() {
		p, _ := s.agg.Pool(name)
		snap, err := p.APYs(r.Context())
		if err != nil {
			failed[name] = err.Error()
			continue
		}
		snaps[name] = snap
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"pools":  snaps,
		"failed": failed,
	})
}

func (s *Server) handlePool(w http.ResponseWriter, r *http.Request) {
	p, ok := s.agg.Pool(r.PathValue("name"))
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown pool %q", r.PathValue("name")))
		return
	}
	snap, err := p.APYs(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if _, ok := s.agg.Pool(name); !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown pool %q", name))
		return
	}
	if s.history == nil {
		writeError(w, http.StatusNotFound, errors.New("history is disabled"))
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	records, err := s.history.RecentAPYs(r.Context(), name, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if records == nil {
		records = []persistence.APYRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

type balanceResponse struct {
	Amount   string          `json:"amount"`
	Raw      string          `json:"raw"`
	Decimals uint8           `json:"decimals"`
	USD      models.USDPrice `json:"usd"`
}

type balancesResponse struct {
	Pool     string                     `json:"pool"`
	Holder   common.Address             `json:"holder"`
	Balances map[string]balanceResponse `json:"balances"`
	TotalUSD models.USDPrice            `json:"total_usd"`
}

// handleBalances values a holder's balance of each pool currency. ETH is
// priced from the feed and every other currency at its one-dollar peg.
func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	p, ok := s.agg.Pool(r.PathValue("name"))
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown pool %q", r.PathValue("name")))
		return
	}
	holder := r.PathValue("holder")
	if !common.IsHexAddress(holder) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid holder address %q", holder))
		return
	}

	balances, err := p.Balances(r.Context(), common.HexToAddress(holder))
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}

	resp := balancesResponse{
		Pool:     p.Name,
		Holder:   common.HexToAddress(holder),
		Balances: make(map[string]balanceResponse, len(balances)),
	}
	total := new(big.Int)
	for symbol, amount := range balances {
		price := pegPrice
		if symbol == "ETH" || symbol == "WETH" {
			if price, err = s.agg.Feed.EthUSDPrice(r.Context()); err != nil {
				writeError(w, statusFor(err), err)
				return
			}
		}
		usd := amount.ValueUSD(price)
		total.Add(total, usd.Wad())
		resp.Balances[symbol] = balanceResponse{
			Amount:   amount.String(),
			Raw:      amount.Raw().String(),
			Decimals: amount.Decimals(),
			USD:      usd,
		}
	}
	resp.TotalUSD = models.NewUSDPrice(total)
	writeJSON(w, http.StatusOK, resp)
}

type statusResponse struct {
	LastPoll        string                   `json:"last_poll,omitempty"`
	LatestPrice     *persistence.PriceRecord `json:"latest_price,omitempty"`
	TokensPersisted int                      `json:"tokens_persisted"`
	Cache           []cache.EntryStatus      `json:"cache"`
}

// handleStatus reports what the last polls persisted next to the live cache.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Cache: s.agg.Cache.Status()}
	if s.history == nil {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	lastPoll, err := s.history.GetSystemState(r.Context(), poller.StateKeyLastPoll)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	price, err := s.history.LatestPrice(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	tokens, err := s.history.GetAllTokens(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	resp.LastPoll = lastPoll
	resp.LatestPrice = price
	resp.TokensPersisted = len(tokens)
	writeJSON(w, http.StatusOK, resp)
}

type subpoolResponse struct {
	APYs  map[string]models.Rate `json:"apys,omitempty"`
	Error string                 `json:"error,omitempty"`
}

func (s *Server) handleSubpools(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]subpoolResponse, len(s.agg.Subpools))
	for _, name := range s.agg.SubpoolNames() {
		apys, err := s.agg.Subpools[name].CurrencyAPYs(r.Context())
		if err != nil {
			out[name] = subpoolResponse{Error: err.Error()}
			continue
		}
		out[name] = subpoolResponse{APYs: apys}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCache(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.agg.Cache.Status())
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Subscribe before the handshake completes so no update is missed.
	updates, unsubscribe := s.updates.Subscribe()
	defer unsubscribe()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	// Reads are only used to notice the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.pushInterval)
	defer ticker.Stop()

	send := func(update *poller.Update) bool {
		if update == nil {
			return true
		}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(update); err != nil {
			log.Debug().Err(err).Msg("Failed to write to WebSocket")
			return false
		}
		return true
	}

	if !send(s.updates.Latest()) {
		return
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case update := <-updates:
			if !send(update) {
				return
			}
		case <-ticker.C:
			if !send(s.updates.Latest()) {
				return
			}
		}
	}
}

// statusFor maps upstream failures to 502 and everything else to 500.
func statusFor(err error) int {
	var refreshErr *cache.RefreshError
	switch {
	case errors.As(err, &refreshErr), errors.Is(err, pool.ErrNoData):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
