package evm

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// fakeSub implements ethereum.Subscription.
type fakeSub struct {
	errc chan error
	once sync.Once
}

func newFakeSub() *fakeSub { return &fakeSub{errc: make(chan error, 1)} }

func (s *fakeSub) Err() <-chan error { return s.errc }
func (s *fakeSub) Unsubscribe()      { s.once.Do(func() { close(s.errc) }) }

// fail simulates a dropped websocket.
func (s *fakeSub) fail(err error) {
	s.once.Do(func() {
		s.errc <- err
		close(s.errc)
	})
}

// fakeClient is a scripted node.
type fakeClient struct {
	mu       sync.Mutex
	head     uint64
	history  []types.Log
	balances map[common.Address]*big.Int
	callOut  []byte
	callErr  error
	sendErr  error
	subErr   error
	subs     []*fakeSub
	chans    []chan<- types.Log
	sent     []*types.Transaction
	closed   bool
	filters  []ethereum.FilterQuery
}

func newFakeClient() *fakeClient {
	return &fakeClient{balances: make(map[common.Address]*big.Int)}
}

func (c *fakeClient) ChainID(ctx context.Context) (*big.Int, error) { return big.NewInt(50312), nil }

func (c *fakeClient) BlockNumber(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head, nil
}

func (c *fakeClient) HeaderByNumber(ctx context.Context, n *big.Int) (*types.Header, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &types.Header{Number: new(big.Int).SetUint64(c.head), BaseFee: big.NewInt(10)}, nil
}

func (c *fakeClient) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filters = append(c.filters, q)
	var out []types.Log
	for _, l := range c.history {
		if q.FromBlock != nil && l.BlockNumber < q.FromBlock.Uint64() {
			continue
		}
		if q.ToBlock != nil && l.BlockNumber > q.ToBlock.Uint64() {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func (c *fakeClient) SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subErr != nil {
		return nil, c.subErr
	}
	sub := newFakeSub()
	c.subs = append(c.subs, sub)
	c.chans = append(c.chans, ch)
	return sub, nil
}

func (c *fakeClient) BalanceAt(ctx context.Context, a common.Address, n *big.Int) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.balances[a]; ok {
		return b, nil
	}
	return big.NewInt(0), nil
}

func (c *fakeClient) CallContract(ctx context.Context, msg ethereum.CallMsg, n *big.Int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callOut, c.callErr
}

func (c *fakeClient) PendingNonceAt(ctx context.Context, a common.Address) (uint64, error) {
	return 7, nil
}

func (c *fakeClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) { return big.NewInt(5), nil }

func (c *fakeClient) SuggestGasTipCap(ctx context.Context) (*big.Int, error) { return big.NewInt(1), nil }

func (c *fakeClient) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return 21000, nil
}

func (c *fakeClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, tx)
	return nil
}

func (c *fakeClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

// push sends a live log on the latest subscription.
func (c *fakeClient) push(l types.Log) {
	c.mu.Lock()
	ch := c.chans[len(c.chans)-1]
	c.history = append(c.history, l)
	c.mu.Unlock()
	ch <- l
}

func (c *fakeClient) lastSub() *fakeSub {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs[len(c.subs)-1]
}

func (c *fakeClient) subCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// dialer hands out the same fake client on every dial.
func dialer(c *fakeClient) DialFunc {
	return func(ctx context.Context) (Client, error) {
		c.mu.Lock()
		c.closed = false
		c.mu.Unlock()
		return c, nil
	}
}

var errConnReset = errors.New("read tcp 10.0.0.1:443: connection reset by peer")
