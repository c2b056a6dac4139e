package evm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/vietddude/reactor/internal/core/domain"
)

func testLog(block uint64, index uint) types.Log {
	return types.Log{
		Address:     common.HexToAddress("0xabc"),
		BlockNumber: block,
		Index:       index,
		TxHash:      common.BigToHash(common.Big1),
	}
}

func recvBatch(t *testing.T, s interface {
	Batches() <-chan domain.EventBatch
}) domain.EventBatch {
	t.Helper()
	select {
	case b, ok := <-s.Batches():
		if !ok {
			t.Fatal("batches closed")
		}
		return b
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for batch")
	}
	return domain.EventBatch{}
}

func TestSubscription_BackfillsFromBlock(t *testing.T) {
	c := newFakeClient()
	c.head = 20
	c.history = []types.Log{testLog(5, 0), testLog(12, 0), testLog(20, 1)}

	g := newTestGateway(t, c)
	sub, err := g.SubscribeEvents(context.Background(), domain.EventFilter{FromBlock: 10})
	if err != nil {
		t.Fatalf("SubscribeEvents: %v", err)
	}
	defer sub.Unsubscribe()

	batch := recvBatch(t, sub)
	if len(batch.Logs) != 2 {
		t.Fatalf("expected 2 backfilled logs, got %d", len(batch.Logs))
	}
	if batch.Logs[0].BlockNumber != 12 || batch.Logs[1].BlockNumber != 20 {
		t.Errorf("unexpected blocks %d, %d", batch.Logs[0].BlockNumber, batch.Logs[1].BlockNumber)
	}

	c.push(testLog(21, 0))
	live := recvBatch(t, sub)
	if live.Logs[0].BlockNumber != 21 {
		t.Errorf("expected live log at 21, got %d", live.Logs[0].BlockNumber)
	}
}

func TestSubscription_ResumeDoesNotLoseLogs(t *testing.T) {
	c := newFakeClient()
	c.head = 10

	g := newTestGateway(t, c)
	sub, err := g.SubscribeEvents(context.Background(), domain.EventFilter{})
	if err != nil {
		t.Fatalf("SubscribeEvents: %v", err)
	}
	defer sub.Unsubscribe()

	c.push(testLog(11, 0))
	if b := recvBatch(t, sub); b.Logs[0].BlockNumber != 11 {
		t.Fatalf("expected block 11, got %d", b.Logs[0].BlockNumber)
	}

	// The node produces a log while the socket is down.
	c.mu.Lock()
	c.history = append(c.history, testLog(12, 0))
	c.head = 12
	c.mu.Unlock()
	c.lastSub().fail(errConnReset)

	seen := map[uint64]bool{}
	deadline := time.After(2 * time.Second)
	for !seen[12] {
		select {
		case b := <-sub.Batches():
			for _, l := range b.Logs {
				seen[l.BlockNumber] = true
			}
		case <-deadline:
			t.Fatal("log produced during the outage was never delivered")
		}
	}
	if c.subCount() < 2 {
		t.Errorf("expected a new node subscription, got %d", c.subCount())
	}
}

func TestSubscription_GivesUp(t *testing.T) {
	c := newFakeClient()
	g := newTestGateway(t, c)
	sub, err := g.SubscribeEvents(context.Background(), domain.EventFilter{})
	if err != nil {
		t.Fatalf("SubscribeEvents: %v", err)
	}
	defer sub.Unsubscribe()

	c.mu.Lock()
	c.subErr = errConnReset
	c.mu.Unlock()
	c.lastSub().fail(errConnReset)

	select {
	case err := <-sub.Err():
		if !errors.Is(err, domain.ErrNetwork) {
			t.Errorf("expected network error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected subscription to give up")
	}
}

func TestSubscription_UnsubscribeStopsDelivery(t *testing.T) {
	c := newFakeClient()
	g := newTestGateway(t, c)
	sub, err := g.SubscribeEvents(context.Background(), domain.EventFilter{})
	if err != nil {
		t.Fatalf("SubscribeEvents: %v", err)
	}
	sub.Unsubscribe()

	if _, ok := <-sub.Batches(); ok {
		t.Error("expected batches to be closed after Unsubscribe")
	}
}

func TestResumeDelay(t *testing.T) {
	cfg := Config{ResumeDelay: time.Second, MaxResumeDelay: 5 * time.Second}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 5 * time.Second},
	}
	for _, tt := range tests {
		if got := resumeDelay(cfg, tt.attempt); got != tt.want {
			t.Errorf("resumeDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}
