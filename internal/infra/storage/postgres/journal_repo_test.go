package postgres

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vietddude/reactor/internal/core/domain"
)

func TestAttemptRowMapping(t *testing.T) {
	observed, _ := new(big.Int).SetString("20000000000000000", 10)
	now := time.Now().UTC()

	tests := []struct {
		name    string
		attempt *domain.ExecutionAttempt
	}{
		{
			name: "success",
			attempt: &domain.ExecutionAttempt{
				ID:            "8a7e3d4c-0000-4000-8000-000000000001",
				RuleID:        12,
				Observed:      observed,
				ObservedBlock: 1000,
				TxHash:        common.HexToHash("0xabc"),
				Attempts:      1,
				StartedAt:     now,
				FinishedAt:    now,
			},
		},
		{
			name: "failure without value",
			attempt: &domain.ExecutionAttempt{
				ID:       "8a7e3d4c-0000-4000-8000-000000000002",
				RuleID:   13,
				Err:      "insufficient funds",
				Attempts: 3,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := toRow(tt.attempt)
			if row.TxHash.Valid != (tt.attempt.TxHash != common.Hash{}) {
				t.Errorf("tx hash validity mismatch")
			}
			if row.Error.Valid != (tt.attempt.Err != "") {
				t.Errorf("error validity mismatch")
			}

			got, err := row.toDomain()
			if err != nil {
				t.Fatalf("toDomain: %v", err)
			}
			if got.RuleID != tt.attempt.RuleID || got.Err != tt.attempt.Err || got.TxHash != tt.attempt.TxHash {
				t.Errorf("got %+v, want %+v", got, tt.attempt)
			}
			if (got.Observed == nil) != (tt.attempt.Observed == nil) {
				t.Fatalf("observed presence mismatch")
			}
			if got.Observed != nil && got.Observed.Cmp(tt.attempt.Observed) != 0 {
				t.Errorf("observed %s, want %s", got.Observed, tt.attempt.Observed)
			}
		})
	}
}

func TestAttemptRow_InvalidRuleID(t *testing.T) {
	if _, err := (attemptRow{RuleID: "not-a-number"}).toDomain(); err == nil {
		t.Error("expected error for invalid rule id")
	}
}
