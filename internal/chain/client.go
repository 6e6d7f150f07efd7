package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
)

// Provider is the remote ledger as seen by the sync components: balance and block
// reads, log queries, contract calls, transaction submission and receipts.
//
// *Client implements it over JSON-RPC; the go-ethereum simulated backend client
// implements it in tests.
type Provider interface {
	bind.ContractBackend
	bind.DeployBackend
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Client wraps go-ethereum RPC and caches the network identity.
type Client struct {
	*ethclient.Client

	rpcClient *rpc.Client
	url       string

	mu      sync.RWMutex
	chainID *big.Int
}

var _ Provider = (*Client)(nil)

// DialConfig controls connection retries.
type DialConfig struct {
	Attempts uint
	Delay    time.Duration
	Logger   *zap.Logger
}

// Dial connects to the RPC URL, retrying with backoff until ctx ends or the attempts
// are exhausted.
func Dial(ctx context.Context, rpcURL string, cfg DialConfig) (*Client, error) {
	if rpcURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = 5
	}
	if cfg.Delay <= 0 {
		cfg.Delay = 500 * time.Millisecond
	}

	var rpcClient *rpc.Client
	err := retry.Do(
		func() error {
			c, err := rpc.DialContext(ctx, rpcURL)
			if err != nil {
				return err
			}
			rpcClient = c
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(cfg.Attempts),
		retry.Delay(cfg.Delay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("dial failed, retrying", zap.String("rpc", rpcURL), zap.Uint("attempt", n+1), zap.Error(err))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rpcURL, err)
	}

	return NewClient(rpcClient, rpcURL), nil
}

// NewClient wraps an existing RPC connection.
func NewClient(rpcClient *rpc.Client, rpcURL string) *Client {
	return &Client{
		Client:    ethclient.NewClient(rpcClient),
		rpcClient: rpcClient,
		url:       rpcURL,
	}
}

// URL returns the endpoint the client was dialled with.
func (c *Client) URL() string {
	return c.url
}

// ChainID returns the network id, caching the first successful answer.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	c.mu.RLock()
	id := c.chainID
	c.mu.RUnlock()
	if id != nil {
		return new(big.Int).Set(id), nil
	}

	id, err := c.Client.ChainID(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.chainID = new(big.Int).Set(id)
	c.mu.Unlock()

	return id, nil
}

// Close closes the underlying RPC client.
func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}
