package chain

import (
	"context"
	"errors"
	"testing"
	"time"
)

type countingReader struct {
	head  uint64
	err   error
	calls int
}

func (r *countingReader) LatestBlock(ctx context.Context) (uint64, error) {
	r.calls++
	return r.head, r.err
}

func TestHeadCache(t *testing.T) {
	r := &countingReader{head: 100}
	c := NewHeadCache(r, time.Hour)

	for range 3 {
		head, err := c.LatestBlock(context.Background())
		if err != nil || head != 100 {
			t.Fatalf("expected 100, got %d (%v)", head, err)
		}
	}
	if r.calls != 1 {
		t.Errorf("expected 1 node call, got %d", r.calls)
	}

	r.head = 101
	c.Invalidate()
	if head, _ := c.LatestBlock(context.Background()); head != 101 {
		t.Errorf("expected fresh head after Invalidate, got %d", head)
	}
}

func TestHeadCache_ErrorsAreNotCached(t *testing.T) {
	r := &countingReader{err: errors.New("dial tcp: refused")}
	c := NewHeadCache(r, time.Hour)

	if _, err := c.LatestBlock(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	r.err, r.head = nil, 7
	if head, err := c.LatestBlock(context.Background()); err != nil || head != 7 {
		t.Errorf("expected 7, got %d (%v)", head, err)
	}
}
