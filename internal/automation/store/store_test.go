package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/vietddude/reactor/internal/core/domain"
)

func TestTryRegister_ConcurrentDuplicates(t *testing.T) {
	s := New()
	var accepted atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.TryRegister(domain.Rule{ID: 7}) {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()

	if accepted.Load() != 1 {
		t.Errorf("expected exactly one registration, got %d", accepted.Load())
	}
	if s.Len() != 1 {
		t.Errorf("expected 1 active rule, got %d", s.Len())
	}
}

func TestTryRegister_Convergence(t *testing.T) {
	s := New()
	history := []domain.RuleID{1, 2, 2, 3, 1}

	replay := func() int {
		n := 0
		for _, id := range history {
			if s.TryRegister(domain.Rule{ID: id}) {
				n++
			}
		}
		return n
	}

	if n := replay(); n != 3 {
		t.Fatalf("first replay: expected 3 new rules, got %d", n)
	}
	if n := replay(); n != 0 {
		t.Errorf("second replay: expected 0 new rules, got %d", n)
	}
}

func TestRetire(t *testing.T) {
	s := New()
	s.TryRegister(domain.Rule{ID: 1})

	ctx, cancel := context.WithCancel(context.Background())
	if !s.Bind(1, cancel) {
		t.Fatal("Bind failed for active rule")
	}

	if !s.Retire(1) {
		t.Error("expected Retire to report an active rule")
	}
	if ctx.Err() == nil {
		t.Error("expected watcher context to be cancelled")
	}
	if s.TryRegister(domain.Rule{ID: 1}) {
		t.Error("retired rule registered again")
	}
	if !s.IsRetired(1) {
		t.Error("expected rule to be retired")
	}

	// Retiring an unknown id blocks its later registration.
	s.Retire(9)
	if s.TryRegister(domain.Rule{ID: 9}) {
		t.Error("pre-retired rule registered")
	}
}

func TestRemove_AllowsReregistration(t *testing.T) {
	s := New()
	s.TryRegister(domain.Rule{ID: 1})
	if !s.Remove(1) {
		t.Fatal("expected Remove to find rule")
	}
	if s.Remove(1) {
		t.Error("second Remove should report missing rule")
	}
	if !s.TryRegister(domain.Rule{ID: 1}) {
		t.Error("expected removed rule to be registrable")
	}
}

func TestBind(t *testing.T) {
	s := New()
	noop := func() {}

	if s.Bind(1, noop) {
		t.Error("Bind should fail for unknown rule")
	}
	s.TryRegister(domain.Rule{ID: 1})
	if !s.Bind(1, noop) {
		t.Error("Bind should succeed once")
	}
	if s.Bind(1, noop) {
		t.Error("Bind should not replace an existing handle")
	}
}

func TestSnapshotAndCancelAll(t *testing.T) {
	s := New()
	var cancelled atomic.Int32
	for _, id := range []domain.RuleID{3, 1, 2} {
		s.TryRegister(domain.Rule{ID: id})
		s.Bind(id, func() { cancelled.Add(1) })
	}

	snap := s.Snapshot()
	if len(snap) != 3 || snap[0].ID != 1 || snap[2].ID != 3 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	if n := s.CancelAll(); n != 3 {
		t.Errorf("expected 3 cancelled watchers, got %d", n)
	}
	if cancelled.Load() != 3 || s.Len() != 0 {
		t.Errorf("expected empty store after CancelAll")
	}
}
