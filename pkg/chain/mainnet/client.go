package mainnet

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Client is a read-only Ethereum JSON-RPC client. It is shared by reference
// between all adapters and never mutated after construction.
type Client struct {
	ethClient   *ethclient.Client
	rpcURL      string
	rateLimiter *time.Ticker
}

// NewClient dials rpcURL and limits calls to requestsPerSecond.
func NewClient(rpcURL string, requestsPerSecond int) (*Client, error) {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 10
	}

	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Ethereum RPC: %w", err)
	}

	return &Client{
		ethClient:   client,
		rpcURL:      rpcURL,
		rateLimiter: time.NewTicker(time.Second / time.Duration(requestsPerSecond)),
	}, nil
}

func (c *Client) Close() {
	c.ethClient.Close()
	c.rateLimiter.Stop()
}

func (c *Client) rateLimit(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.rateLimiter.C:
		return nil
	}
}

// CallContract performs a single eth_call against the latest block.
func (c *Client) CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	if err := c.rateLimit(ctx); err != nil {
		return nil, err
	}

	msg := ethereum.CallMsg{
		To:   &to,
		Data: data,
	}

	result, err := c.ethClient.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("contract call failed: %w", err)
	}

	return result, nil
}

func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	return c.ethClient.ChainID(ctx)
}
