package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/reactor/internal/core/domain"
)

const defaultClaimTTL = 30 * 24 * time.Hour

// ClaimStore arbitrates executions between engine replicas watching the same
// registry. The first replica to claim a rule (or a rule at a block, for
// recurring rules) submits; the others treat the rule as executed elsewhere.
type ClaimStore struct {
	rdb   *redis.Client
	owner string
	ttl   time.Duration
}

// NewClaimStore creates a claim store. owner is written as the claim value so
// operators can see which replica executed a rule.
func NewClaimStore(client *Client, owner string, ttl time.Duration) *ClaimStore {
	if ttl <= 0 {
		ttl = defaultClaimTTL
	}
	return &ClaimStore{rdb: client.rdb, owner: owner, ttl: ttl}
}

// ClaimKey returns the claim key. block is zero for one-shot rules.
func ClaimKey(id domain.RuleID, block uint64) string {
	if block == 0 {
		return fmt.Sprintf("reactor:claim:%d", id)
	}
	return fmt.Sprintf("reactor:claim:%d:%d", id, block)
}

// Claim attempts to take the execution claim.
func (s *ClaimStore) Claim(ctx context.Context, id domain.RuleID, block uint64) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, ClaimKey(id, block), s.owner, s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx failed: %w", err)
	}
	return ok, nil
}

// Release gives a claim back after a submission that never reached the chain.
// Only the owning replica's claim is deleted; the compare and delete run as one
// script so a claim re-taken by another replica in between is left intact.
func (s *ClaimStore) Release(ctx context.Context, id domain.RuleID, block uint64) error {
	if err := releaseScript.Run(ctx, s.rdb, []string{ClaimKey(id, block)}, s.owner).Err(); err != nil {
		return fmt.Errorf("release failed: %w", err)
	}
	return nil
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)
