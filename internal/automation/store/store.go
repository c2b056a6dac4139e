// Package store is the single authority on which rules are known and watched.
package store

import (
	"context"
	"slices"
	"sync"

	"github.com/vietddude/reactor/internal/core/domain"
)

type entry struct {
	rule   domain.Rule
	cancel context.CancelFunc
}

// Store is the in-memory rule registry. Every mutation goes through one
// mutex, so TryRegister is linearizable against concurrent deliveries.
type Store struct {
	mu      sync.Mutex
	active  map[domain.RuleID]*entry
	retired map[domain.RuleID]struct{}
}

func New() *Store {
	return &Store{
		active:  make(map[domain.RuleID]*entry),
		retired: make(map[domain.RuleID]struct{}),
	}
}

// TryRegister records rule and returns true, or returns false if the id is
// already tracked or was retired.
func (s *Store) TryRegister(rule domain.Rule) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.active[rule.ID]; ok {
		return false
	}
	if _, ok := s.retired[rule.ID]; ok {
		return false
	}
	s.active[rule.ID] = &entry{rule: rule}
	return true
}

// Bind attaches the cancellation handle of the rule's watcher. It returns
// false when the rule is no longer active; the caller must then cancel.
func (s *Store) Bind(id domain.RuleID, cancel context.CancelFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.active[id]
	if !ok || e.cancel != nil {
		return false
	}
	e.cancel = cancel
	return true
}

// Remove drops the rule from the active set and cancels its watcher. A
// removed rule may be registered again.
func (s *Store) Remove(id domain.RuleID) bool {
	s.mu.Lock()
	e, ok := s.active[id]
	delete(s.active, id)
	s.mu.Unlock()

	if ok && e.cancel != nil {
		e.cancel()
	}
	return ok
}

// Retire removes the rule for good: it is cancelled if watched and every
// later TryRegister for the id returns false. It reports whether the rule was
// active.
func (s *Store) Retire(id domain.RuleID) bool {
	s.mu.Lock()
	e, ok := s.active[id]
	delete(s.active, id)
	s.retired[id] = struct{}{}
	s.mu.Unlock()

	if ok && e.cancel != nil {
		e.cancel()
	}
	return ok
}

// IsRetired reports whether id was retired.
func (s *Store) IsRetired(id domain.RuleID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.retired[id]
	return ok
}

// Get returns an active rule.
func (s *Store) Get(id domain.RuleID) (domain.Rule, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.active[id]
	if !ok {
		return domain.Rule{}, false
	}
	return e.rule, true
}

// Len returns the number of active rules.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Snapshot returns the active rules ordered by id.
func (s *Store) Snapshot() []domain.Rule {
	s.mu.Lock()
	rules := make([]domain.Rule, 0, len(s.active))
	for _, e := range s.active {
		rules = append(rules, e.rule)
	}
	s.mu.Unlock()

	slices.SortFunc(rules, func(a, b domain.Rule) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return rules
}

// CancelAll cancels every bound watcher and clears the active set. Retired
// ids stay retired.
func (s *Store) CancelAll() int {
	s.mu.Lock()
	entries := s.active
	s.active = make(map[domain.RuleID]*entry)
	s.mu.Unlock()

	n := 0
	for _, e := range entries {
		if e.cancel != nil {
			e.cancel()
			n++
		}
	}
	return n
}
