// Package evm implements the chain gateway on top of go-ethereum's ethclient.
package evm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/vietddude/reactor/internal/automation/metrics"
	"github.com/vietddude/reactor/internal/core/domain"
	"github.com/vietddude/reactor/internal/infra/chain"
)

// Config holds gateway settings.
type Config struct {
	// RequestTimeout bounds every single round trip.
	RequestTimeout time.Duration
	// ResumeAttempts is how many times a broken subscription is re-established
	// before the error is surfaced to the subscriber.
	ResumeAttempts int
	// ResumeDelay is the initial backoff between resume attempts.
	ResumeDelay time.Duration
	// MaxResumeDelay caps the resume backoff.
	MaxResumeDelay time.Duration
}

// DefaultConfig returns sensible gateway defaults.
func DefaultConfig() Config {
	return Config{
		RequestTimeout: 30 * time.Second,
		ResumeAttempts: 5,
		ResumeDelay:    time.Second,
		MaxResumeDelay: 30 * time.Second,
	}
}

// Gateway implements chain.Gateway. The underlying connection is shared by
// every watcher and re-dialled lazily after a transport failure.
type Gateway struct {
	cfg  Config
	dial DialFunc
	log  *slog.Logger

	mu     sync.Mutex
	client Client
	closed bool
}

var _ chain.Gateway = (*Gateway)(nil)

// NewGateway dials the node once to fail fast on a bad endpoint.
func NewGateway(ctx context.Context, cfg Config, dial DialFunc) (*Gateway, error) {
	def := DefaultConfig()
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.ResumeAttempts <= 0 {
		cfg.ResumeAttempts = def.ResumeAttempts
	}
	if cfg.ResumeDelay <= 0 {
		cfg.ResumeDelay = def.ResumeDelay
	}
	if cfg.MaxResumeDelay <= 0 {
		cfg.MaxResumeDelay = def.MaxResumeDelay
	}

	g := &Gateway{
		cfg:  cfg,
		dial: dial,
		log:  slog.Default().With("component", "gateway"),
	}
	if _, err := g.conn(ctx); err != nil {
		return nil, err
	}
	return g, nil
}

// conn returns the live client, dialling a new one if the last was dropped.
func (g *Gateway) conn(ctx context.Context) (Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil, fmt.Errorf("%w: gateway closed", domain.ErrNetwork)
	}
	if g.client != nil {
		return g.client, nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, g.cfg.RequestTimeout)
	defer cancel()
	c, err := g.dial(dialCtx)
	if err != nil {
		return nil, fmt.Errorf("dial node: %w", Classify(err))
	}
	g.client = c
	return c, nil
}

// drop discards c if it is still the current client, forcing a re-dial.
func (g *Gateway) drop(c Client) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client == c && c != nil {
		g.client.Close()
		g.client = nil
		metrics.GatewayReconnects.Inc()
	}
}

// call runs fn with a bounded context and classifies its error. Network
// failures drop the connection so the next call re-dials.
func (g *Gateway) call(ctx context.Context, method string, fn func(ctx context.Context, c Client) error) error {
	c, err := g.conn(ctx)
	if err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, g.cfg.RequestTimeout)
	defer cancel()

	start := time.Now()
	err = fn(callCtx, c)
	metrics.GatewayLatency.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err == nil {
		return nil
	}

	classified := Classify(err)
	metrics.GatewayErrors.WithLabelValues(method, errorLabel(classified)).Inc()
	if errors.Is(classified, domain.ErrNetwork) && ctx.Err() == nil {
		g.drop(c)
	}
	return fmt.Errorf("%s: %w", method, classified)
}

// LatestBlock returns the current head block number.
func (g *Gateway) LatestBlock(ctx context.Context) (uint64, error) {
	var head uint64
	err := g.call(ctx, "eth_blockNumber", func(ctx context.Context, c Client) error {
		var err error
		head, err = c.BlockNumber(ctx)
		return err
	})
	return head, err
}

// FetchEvents returns historical logs for a bounded block range.
func (g *Gateway) FetchEvents(ctx context.Context, filter domain.EventFilter) ([]domain.Log, error) {
	var raw []types.Log
	err := g.call(ctx, "eth_getLogs", func(ctx context.Context, c Client) error {
		var err error
		raw, err = c.FilterLogs(ctx, toQuery(filter))
		return err
	})
	if err != nil {
		return nil, err
	}
	return fromLogs(raw), nil
}

// CallContract executes a read-only call at the latest block.
func (g *Gateway) CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	var out []byte
	err := g.call(ctx, "eth_call", func(ctx context.Context, c Client) error {
		var err error
		out, err = c.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
		return err
	})
	return out, err
}

// ReadState pins the read to the current head so the snapshot carries the
// block it was observed at.
func (g *Gateway) ReadState(
	ctx context.Context,
	address common.Address,
	query domain.StateQuery,
) (*domain.StateSnapshot, error) {
	head, err := g.LatestBlock(ctx)
	if err != nil {
		return nil, err
	}
	at := new(big.Int).SetUint64(head)

	var value *big.Int
	switch query.Kind {
	case domain.QueryNativeBalance, "":
		err = g.call(ctx, "eth_getBalance", func(ctx context.Context, c Client) error {
			var err error
			value, err = c.BalanceAt(ctx, address, at)
			return err
		})
	case domain.QueryCall:
		err = g.call(ctx, "eth_call", func(ctx context.Context, c Client) error {
			out, err := c.CallContract(ctx, ethereum.CallMsg{To: &address, Data: query.CallData}, at)
			if err != nil {
				return err
			}
			if len(out) < 32 {
				return fmt.Errorf("%w: call returned %d bytes, want a uint256 word", domain.ErrContractCall, len(out))
			}
			value = new(big.Int).SetBytes(out[:32])
			return nil
		})
	default:
		return nil, fmt.Errorf("%w: unknown query kind %q", domain.ErrContractCall, query.Kind)
	}
	if err != nil {
		return nil, err
	}

	return &domain.StateSnapshot{
		Address:     address,
		Value:       value,
		BlockNumber: head,
		ReadAt:      time.Now(),
	}, nil
}

// ChainID returns the chain id used for signing.
func (g *Gateway) ChainID(ctx context.Context) (*big.Int, error) {
	var id *big.Int
	err := g.call(ctx, "eth_chainId", func(ctx context.Context, c Client) error {
		var err error
		id, err = c.ChainID(ctx)
		return err
	})
	return id, err
}

// PendingNonce returns the next nonce for account including pool transactions.
func (g *Gateway) PendingNonce(ctx context.Context, account common.Address) (uint64, error) {
	var nonce uint64
	err := g.call(ctx, "eth_getTransactionCount", func(ctx context.Context, c Client) error {
		var err error
		nonce, err = c.PendingNonceAt(ctx, account)
		return err
	})
	return nonce, err
}

// SuggestFees prefers EIP-1559 fields when the head carries a base fee.
func (g *Gateway) SuggestFees(ctx context.Context) (*chain.Fees, error) {
	fees := &chain.Fees{}
	err := g.call(ctx, "eth_feeHistory", func(ctx context.Context, c Client) error {
		head, err := c.HeaderByNumber(ctx, nil)
		if err != nil {
			return err
		}
		if head.BaseFee == nil {
			fees.GasPrice, err = c.SuggestGasPrice(ctx)
			return err
		}
		tip, err := c.SuggestGasTipCap(ctx)
		if err != nil {
			return err
		}
		// feeCap = 2*baseFee + tip survives several full blocks of base fee growth.
		fees.TipCap = tip
		fees.FeeCap = new(big.Int).Add(new(big.Int).Mul(head.BaseFee, big.NewInt(2)), tip)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return fees, nil
}

// EstimateGas estimates the gas needed for a call from -> to.
func (g *Gateway) EstimateGas(ctx context.Context, from, to common.Address, data []byte) (uint64, error) {
	var gas uint64
	err := g.call(ctx, "eth_estimateGas", func(ctx context.Context, c Client) error {
		var err error
		gas, err = c.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Data: data})
		return err
	})
	return gas, err
}

// SubmitTransaction broadcasts a signed transaction.
func (g *Gateway) SubmitTransaction(ctx context.Context, tx *types.Transaction) (common.Hash, error) {
	err := g.call(ctx, "eth_sendRawTransaction", func(ctx context.Context, c Client) error {
		return c.SendTransaction(ctx, tx)
	})
	if err != nil {
		return common.Hash{}, err
	}
	return tx.Hash(), nil
}

// SubscribeEvents opens a resumable log subscription.
func (g *Gateway) SubscribeEvents(ctx context.Context, filter domain.EventFilter) (chain.Subscription, error) {
	s := newLogSubscription(g, filter)
	if err := s.open(ctx); err != nil {
		s.cancel()
		return nil, err
	}
	go s.run()
	return s, nil
}

// Close releases the connection. Live subscriptions end with an error.
func (g *Gateway) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	if g.client != nil {
		g.client.Close()
		g.client = nil
	}
}

func toQuery(f domain.EventFilter) ethereum.FilterQuery {
	q := ethereum.FilterQuery{
		Addresses: f.Addresses,
		Topics:    f.Topics,
	}
	// earliest
	q.FromBlock = new(big.Int).SetUint64(f.FromBlock)
	if f.ToBlock > 0 {
		q.ToBlock = new(big.Int).SetUint64(f.ToBlock)
	}
	return q
}

func fromLog(l types.Log) domain.Log {
	return domain.Log{
		Address:     l.Address,
		Topics:      l.Topics,
		Data:        l.Data,
		BlockNumber: l.BlockNumber,
		TxHash:      l.TxHash,
		LogIndex:    l.Index,
		Removed:     l.Removed,
	}
}

func fromLogs(raw []types.Log) []domain.Log {
	logs := make([]domain.Log, 0, len(raw))
	for _, l := range raw {
		logs = append(logs, fromLog(l))
	}
	return logs
}

func errorLabel(err error) string {
	switch {
	case errors.Is(err, domain.ErrContractCall):
		return "contract_call"
	case errors.Is(err, domain.ErrUnderfunded):
		return "underfunded"
	case errors.Is(err, domain.ErrNonce):
		return "nonce"
	case errors.Is(err, domain.ErrSubscriptionUnsupported):
		return "unsupported"
	default:
		return "network"
	}
}
