package evm

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/vietddude/reactor/internal/core/domain"
)

func newTestGateway(t *testing.T, c *fakeClient) *Gateway {
	t.Helper()
	g, err := NewGateway(context.Background(), Config{
		RequestTimeout: time.Second,
		ResumeAttempts: 3,
		ResumeDelay:    time.Millisecond,
		MaxResumeDelay: 5 * time.Millisecond,
	}, dialer(c))
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	t.Cleanup(g.Close)
	return g
}

func TestGateway_ReadStateBalance(t *testing.T) {
	c := newFakeClient()
	c.head = 42
	addr := common.HexToAddress("0x1")
	// 2^64 + 1 does not fit in a uint64 or a float64 mantissa.
	huge := new(big.Int).Add(new(big.Int).Lsh(big.NewInt(1), 64), big.NewInt(1))
	c.balances[addr] = huge

	g := newTestGateway(t, c)
	snap, err := g.ReadState(context.Background(), addr, domain.StateQuery{Kind: domain.QueryNativeBalance})
	if err != nil {
		t.Fatalf("ReadState: %v", err)
	}
	if snap.Value.Cmp(huge) != 0 {
		t.Errorf("expected %s, got %s", huge, snap.Value)
	}
	if snap.BlockNumber != 42 {
		t.Errorf("expected block 42, got %d", snap.BlockNumber)
	}
}

func TestGateway_ReadStateCall(t *testing.T) {
	c := newFakeClient()
	word := make([]byte, 32)
	word[31] = 9
	c.callOut = word

	g := newTestGateway(t, c)
	snap, err := g.ReadState(context.Background(), common.HexToAddress("0x2"),
		domain.StateQuery{Kind: domain.QueryCall, CallData: []byte{0x70, 0xa0, 0x82, 0x31}})
	if err != nil {
		t.Fatalf("ReadState: %v", err)
	}
	if snap.Value.Int64() != 9 {
		t.Errorf("expected 9, got %s", snap.Value)
	}

	c.callOut = []byte{1, 2}
	_, err = g.ReadState(context.Background(), common.HexToAddress("0x2"), domain.StateQuery{Kind: domain.QueryCall})
	if !errors.Is(err, domain.ErrContractCall) {
		t.Errorf("expected contract call error for short return, got %v", err)
	}
}

func TestGateway_NetworkErrorRedials(t *testing.T) {
	c := newFakeClient()
	dials := 0
	g, err := NewGateway(context.Background(), Config{RequestTimeout: time.Second}, func(ctx context.Context) (Client, error) {
		dials++
		return c, nil
	})
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	defer g.Close()

	c.sendErr = errConnReset
	tx := types.NewTx(&types.LegacyTx{Nonce: 1, GasPrice: big.NewInt(1), Gas: 21000})
	if _, err := g.SubmitTransaction(context.Background(), tx); !errors.Is(err, domain.ErrNetwork) {
		t.Fatalf("expected network error, got %v", err)
	}

	c.sendErr = nil
	hash, err := g.SubmitTransaction(context.Background(), tx)
	if err != nil {
		t.Fatalf("SubmitTransaction: %v", err)
	}
	if hash != tx.Hash() {
		t.Errorf("unexpected hash %s", hash.Hex())
	}
	if dials != 2 {
		t.Errorf("expected a re-dial after the network error, got %d dials", dials)
	}
}

func TestGateway_SuggestFeesDynamic(t *testing.T) {
	g := newTestGateway(t, newFakeClient())
	fees, err := g.SuggestFees(context.Background())
	if err != nil {
		t.Fatalf("SuggestFees: %v", err)
	}
	if !fees.Dynamic() {
		t.Fatalf("expected dynamic fees")
	}
	// 2*10 + 1
	if fees.FeeCap.Int64() != 21 || fees.TipCap.Int64() != 1 {
		t.Errorf("unexpected fees cap=%s tip=%s", fees.FeeCap, fees.TipCap)
	}
}

func TestGateway_ClosedRejectsCalls(t *testing.T) {
	c := newFakeClient()
	g := newTestGateway(t, c)
	g.Close()
	if _, err := g.LatestBlock(context.Background()); !errors.Is(err, domain.ErrNetwork) {
		t.Errorf("expected network error after Close, got %v", err)
	}
}
