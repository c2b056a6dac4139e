// Package chaintest provides an in-memory chain.Gateway for tests.
package chaintest

import (
	"context"
	"fmt"
	"math/big"
	"slices"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/vietddude/reactor/internal/core/domain"
	"github.com/vietddude/reactor/internal/infra/chain"
)

// Read is one scripted ReadState result.
type Read struct {
	Value *big.Int
	Err   error
}

// Gateway is a scripted chain. Logs added with Emit are pushed to every
// matching live subscription and kept as history for FetchEvents.
type Gateway struct {
	mu      sync.Mutex
	head    uint64
	history []domain.Log
	subs    []*Subscription

	reads     map[common.Address][]Read
	readCount map[common.Address]int
	calls     map[common.Address][]byte

	subscribeErr  error
	fetchErr      error
	fetchCalls    int
	nonce         uint64
	submitErrs    []error
	dropResponses int
	submitted     []*types.Transaction
	submitBlocker chan struct{}
	legacyFees    bool
	closed        bool
}

var _ chain.Gateway = (*Gateway)(nil)

// New returns an empty chain at head 0.
func New() *Gateway {
	return &Gateway{
		reads:     make(map[common.Address][]Read),
		readCount: make(map[common.Address]int),
		calls:     make(map[common.Address][]byte),
	}
}

// SetHead moves the chain head.
func (g *Gateway) SetHead(n uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.head = n
}

// AddHistory appends logs without pushing them to live subscriptions.
func (g *Gateway) AddHistory(logs ...domain.Log) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.history = append(g.history, logs...)
	for _, l := range logs {
		g.head = max(g.head, l.BlockNumber)
	}
}

// Emit appends logs to history and pushes them to matching subscriptions.
// It blocks until every receiving subscription has accepted its batch.
func (g *Gateway) Emit(logs ...domain.Log) {
	g.AddHistory(logs...)
	for _, s := range g.liveSubs() {
		var matched []domain.Log
		for _, l := range logs {
			if matches(s.filter, l) {
				matched = append(matched, l)
			}
		}
		if len(matched) > 0 {
			s.push(domain.EventBatch{Logs: matched})
		}
	}
}

// ScriptReads queues ReadState results for addr. The last result repeats.
func (g *Gateway) ScriptReads(addr common.Address, reads ...Read) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reads[addr] = append(g.reads[addr], reads...)
}

// ScriptBalances queues successful reads.
func (g *Gateway) ScriptBalances(addr common.Address, values ...*big.Int) {
	reads := make([]Read, 0, len(values))
	for _, v := range values {
		reads = append(reads, Read{Value: v})
	}
	g.ScriptReads(addr, reads...)
}

// ReadCount returns the number of ReadState calls made against addr.
func (g *Gateway) ReadCount(addr common.Address) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.readCount[addr]
}

// SetCallResult fixes the CallContract return for to.
func (g *Gateway) SetCallResult(to common.Address, out []byte) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls[to] = out
}

// FailSubscribe makes every SubscribeEvents call fail with err (nil clears).
func (g *Gateway) FailSubscribe(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.subscribeErr = err
}

// FailFetch makes FetchEvents fail with err (nil clears).
func (g *Gateway) FailFetch(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetchErr = err
}

// FetchCalls returns how many historical queries were made.
func (g *Gateway) FetchCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.fetchCalls
}

// FailSubmits queues errors returned by the next SubmitTransaction calls.
func (g *Gateway) FailSubmits(errs ...error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.submitErrs = append(g.submitErrs, errs...)
}

// DropResponses makes the next n SubmitTransaction calls pool the transaction
// but answer with a network error, as when the response is lost in transit.
func (g *Gateway) DropResponses(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dropResponses = n
}

// BlockSubmits makes SubmitTransaction wait until the returned func is called.
func (g *Gateway) BlockSubmits() (release func()) {
	ch := make(chan struct{})
	g.mu.Lock()
	g.submitBlocker = ch
	g.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

// Submitted returns the accepted transactions in submission order.
func (g *Gateway) Submitted() []*types.Transaction {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.submitted)
}

// SetNonce sets the pending nonce reported for every account.
func (g *Gateway) SetNonce(n uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nonce = n
}

// ActiveSubscriptions counts subscriptions that have not ended.
func (g *Gateway) ActiveSubscriptions() int {
	return len(g.liveSubs())
}

// Subscriptions returns every subscription opened so far.
func (g *Gateway) Subscriptions() []*Subscription {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.subs)
}

func (g *Gateway) liveSubs() []*Subscription {
	g.mu.Lock()
	defer g.mu.Unlock()
	var live []*Subscription
	for _, s := range g.subs {
		if !s.ended() {
			live = append(live, s)
		}
	}
	return live
}

func (g *Gateway) LatestBlock(ctx context.Context) (uint64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.head, nil
}

func (g *Gateway) FetchEvents(ctx context.Context, filter domain.EventFilter) ([]domain.Log, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetchCalls++
	if g.fetchErr != nil {
		return nil, g.fetchErr
	}
	var out []domain.Log
	for _, l := range g.history {
		if l.BlockNumber < filter.FromBlock {
			continue
		}
		if filter.ToBlock > 0 && l.BlockNumber > filter.ToBlock {
			continue
		}
		if matches(filter, l) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (g *Gateway) CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out, ok := g.calls[to]
	if !ok {
		return nil, domain.ErrContractCall
	}
	return out, nil
}

func (g *Gateway) ReadState(ctx context.Context, addr common.Address, query domain.StateQuery) (*domain.StateSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.readCount[addr]++

	queue := g.reads[addr]
	if len(queue) == 0 {
		return &domain.StateSnapshot{Address: addr, Value: big.NewInt(0), BlockNumber: g.head, ReadAt: time.Now()}, nil
	}
	next := queue[0]
	if len(queue) > 1 {
		g.reads[addr] = queue[1:]
	}
	if next.Err != nil {
		return nil, next.Err
	}
	return &domain.StateSnapshot{
		Address:     addr,
		Value:       new(big.Int).Set(next.Value),
		BlockNumber: g.head,
		ReadAt:      time.Now(),
	}, nil
}

func (g *Gateway) SubscribeEvents(ctx context.Context, filter domain.EventFilter) (chain.Subscription, error) {
	g.mu.Lock()
	if g.subscribeErr != nil {
		err := g.subscribeErr
		g.mu.Unlock()
		return nil, err
	}
	var backlog []domain.Log
	if filter.FromBlock > 0 {
		for _, l := range g.history {
			if l.BlockNumber >= filter.FromBlock && matches(filter, l) {
				backlog = append(backlog, l)
			}
		}
	}
	s := newSubscription(filter)
	g.subs = append(g.subs, s)
	g.mu.Unlock()

	if len(backlog) > 0 {
		go s.push(domain.EventBatch{Logs: backlog})
	}
	return s, nil
}

func (g *Gateway) ChainID(ctx context.Context) (*big.Int, error) {
	return big.NewInt(50312), nil
}

func (g *Gateway) PendingNonce(ctx context.Context, account common.Address) (uint64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.nonce, nil
}

// SetLegacyFees makes SuggestFees report a pre-London chain.
func (g *Gateway) SetLegacyFees(legacy bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.legacyFees = legacy
}

func (g *Gateway) SuggestFees(ctx context.Context) (*chain.Fees, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.legacyFees {
		return &chain.Fees{GasPrice: big.NewInt(2_000_000_000)}, nil
	}
	return &chain.Fees{TipCap: big.NewInt(1_000_000_000), FeeCap: big.NewInt(3_000_000_000)}, nil
}

func (g *Gateway) EstimateGas(ctx context.Context, from, to common.Address, data []byte) (uint64, error) {
	return 120_000, nil
}

func (g *Gateway) SubmitTransaction(ctx context.Context, tx *types.Transaction) (common.Hash, error) {
	g.mu.Lock()
	blocker := g.submitBlocker
	g.mu.Unlock()
	if blocker != nil {
		select {
		case <-blocker:
		case <-ctx.Done():
			return common.Hash{}, ctx.Err()
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.submitErrs) > 0 {
		err := g.submitErrs[0]
		g.submitErrs = g.submitErrs[1:]
		if err != nil {
			return common.Hash{}, err
		}
	}
	for _, pooled := range g.submitted {
		if pooled.Hash() == tx.Hash() {
			return common.Hash{}, fmt.Errorf("%w: already known", domain.ErrAlreadyKnown)
		}
	}
	if tx.Nonce() < g.nonce {
		return common.Hash{}, fmt.Errorf("%w: nonce too low: next nonce %d, tx nonce %d", domain.ErrNonce, g.nonce, tx.Nonce())
	}
	g.submitted = append(g.submitted, tx)
	g.nonce = max(g.nonce, tx.Nonce()+1)
	if g.dropResponses > 0 {
		g.dropResponses--
		return common.Hash{}, fmt.Errorf("%w: read tcp: connection reset by peer", domain.ErrNetwork)
	}
	return tx.Hash(), nil
}

func (g *Gateway) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
}

func matches(f domain.EventFilter, l domain.Log) bool {
	if len(f.Addresses) > 0 && !slices.Contains(f.Addresses, l.Address) {
		return false
	}
	for i, want := range f.Topics {
		if len(want) == 0 {
			continue
		}
		if i >= len(l.Topics) || !slices.Contains(want, l.Topics[i]) {
			return false
		}
	}
	return true
}
