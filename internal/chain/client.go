package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/GoPolymarket/polyguard/internal/config"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/time/rate"
)

// ErrReceiptNotFound is returned while a transaction is not yet mined.
var ErrReceiptNotFound = ethereum.NotFound

// Client is a rate-limited JSON-RPC client for the handful of calls the
// submitter needs. Every call waits on the shared limiter first.
type Client struct {
	eth     *ethclient.Client
	limiter *rate.Limiter
	chainID *big.Int
}

func Dial(ctx context.Context, cfg config.ChainConfig) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, fmt.Errorf("chain.rpc_url is empty")
	}
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect rpc: %w", err)
	}

	chainID := big.NewInt(cfg.ChainID)
	if cfg.ChainID == 0 {
		if chainID, err = eth.ChainID(ctx); err != nil {
			eth.Close()
			return nil, fmt.Errorf("fetch chain id: %w", err)
		}
	}

	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Client{eth: eth, limiter: rate.NewLimiter(limit, burst), chainID: chainID}, nil
}

func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

func (c *Client) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rpc rate limiter: %w", err)
	}
	return nil
}

// PendingNonceAt includes mempool transactions, matching what the node
// will accept as the next nonce.
func (c *Client) PendingNonceAt(ctx context.Context, addr common.Address) (uint64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	return c.eth.PendingNonceAt(ctx, addr)
}

func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	return c.eth.EstimateGas(ctx, msg)
}

func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	return c.eth.SendTransaction(ctx, tx)
}

func (c *Client) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	return c.eth.TransactionReceipt(ctx, hash)
}

// BaseFee returns the base fee of the latest block.
func (c *Client) BaseFee(ctx context.Context) (*big.Int, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	head, err := c.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, err
	}
	if head.BaseFee == nil {
		return nil, errors.New("chain does not report a base fee (pre-London)")
	}
	return head.BaseFee, nil
}

func (c *Client) BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	return c.eth.BalanceAt(ctx, addr, nil)
}

func (c *Client) Close() {
	c.eth.Close()
}
