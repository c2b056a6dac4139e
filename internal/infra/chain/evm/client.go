package evm

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Client is the subset of *ethclient.Client the gateway depends on.
type Client interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	Close()
}

// DialFunc opens a new client connection.
type DialFunc func(ctx context.Context) (Client, error)

// EthDialer returns a DialFunc backed by ethclient over ws(s):// or http(s)://.
func EthDialer(url string) DialFunc {
	return func(ctx context.Context) (Client, error) {
		c, err := ethclient.DialContext(ctx, url)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// Rotate returns a DialFunc that walks the given dialers round-robin. The
// gateway re-dials after a transport failure, so every reconnect moves on to
// the next endpoint. A failed dial falls through to the following dialer;
// Rotate gives up once every dialer failed in one pass.
func Rotate(dialers ...DialFunc) DialFunc {
	var (
		mu   sync.Mutex
		next int
	)
	return func(ctx context.Context) (Client, error) {
		if len(dialers) == 0 {
			return nil, errors.New("no endpoints configured")
		}
		var errs []error
		for range dialers {
			mu.Lock()
			i := next
			next = (next + 1) % len(dialers)
			mu.Unlock()

			c, err := dialers[i](ctx)
			if err == nil {
				return c, nil
			}
			slog.Warn("Endpoint dial failed, trying next", "endpoint", i, "error", err)
			errs = append(errs, err)
			if ctx.Err() != nil {
				break
			}
		}
		return nil, errors.Join(errs...)
	}
}
