// Package ledger is the read-only gateway to the chain node. It performs no
// retries: every transport failure surfaces as LedgerUnavailable, and callers
// decide when to ask again.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"go-settlement/payment/errcode"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	lru "github.com/hashicorp/golang-lru"
)

type Client interface {
	// Receipt returns nil and no error when the node does not know txHash.
	Receipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockHeight(ctx context.Context) (uint64, error)
	// BlockTime returns the header timestamp of block number.
	BlockTime(ctx context.Context, number uint64) (time.Time, error)
}

// node is the subset of *ethclient.Client the ledger reads from.
type node interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

type EthClient struct {
	node    node
	timeout time.Duration
	times   *lru.Cache // block number -> time.Time
	logger  *slog.Logger
	closer  func()
}

// Dial connects to the JSON-RPC endpoint at url.
func Dial(ctx context.Context, url string, timeout time.Duration, cacheSize int, logger *slog.Logger) (*EthClient, error) {
	ec, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial chain node: %w", err)
	}
	c, err := newEthClient(ec, timeout, cacheSize, logger)
	if err != nil {
		ec.Close()
		return nil, err
	}
	c.closer = ec.Close
	return c, nil
}

func newEthClient(n node, timeout time.Duration, cacheSize int, logger *slog.Logger) (*EthClient, error) {
	if cacheSize <= 0 {
		cacheSize = 1
	}
	times, err := lru.New(cacheSize)
	if err != nil {
		return nil, err
	}
	return &EthClient{node: n, timeout: timeout, times: times, logger: logger}, nil
}

func (c *EthClient) Close() {
	if c.closer != nil {
		c.closer()
	}
}

func (c *EthClient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *EthClient) Receipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	receipt, err := c.node.TransactionReceipt(ctx, txHash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	if err != nil {
		c.logger.Warn("receipt lookup failed", "tx_hash", txHash.Hex(), "err", err)
		return nil, errcode.Wrap(errcode.LedgerUnavailable, err, "failed to fetch transaction receipt")
	}
	return receipt, nil
}

func (c *EthClient) BlockHeight(ctx context.Context) (uint64, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	height, err := c.node.BlockNumber(ctx)
	if err != nil {
		c.logger.Warn("block height lookup failed", "err", err)
		return 0, errcode.Wrap(errcode.LedgerUnavailable, err, "failed to fetch block height")
	}
	return height, nil
}

func (c *EthClient) BlockTime(ctx context.Context, number uint64) (time.Time, error) {
	if v, ok := c.times.Get(number); ok {
		return v.(time.Time), nil
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	header, err := c.node.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if errors.Is(err, ethereum.NotFound) {
		return time.Time{}, errcode.Newf(errcode.LedgerUnavailable, "block %d not available", number)
	}
	if err != nil {
		c.logger.Warn("block header lookup failed", "block", number, "err", err)
		return time.Time{}, errcode.Wrap(errcode.LedgerUnavailable, err, "failed to fetch block")
	}

	ts := time.Unix(int64(header.Time), 0).UTC()
	c.times.Add(number, ts)
	return ts, nil
}

var errNoNode = errcode.New(errcode.LedgerUnavailable, "no chain node configured")

// Offline is the Client of a process started without a node URL. Every read
// fails with LedgerUnavailable.
type Offline struct{}

func (Offline) Receipt(context.Context, common.Hash) (*types.Receipt, error) { return nil, errNoNode }
func (Offline) BlockHeight(context.Context) (uint64, error) { return 0, errNoNode }
func (Offline) BlockTime(context.Context, uint64) (time.Time, error) { return time.Time{}, errNoNode }
