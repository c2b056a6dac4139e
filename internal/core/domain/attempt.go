package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// ExecutionAttempt is produced each time a satisfied rule is handed to the executor.
type ExecutionAttempt struct {
	ID            string
	RuleID        RuleID
	Observed      *big.Int
	ObservedBlock uint64
	TxHash        common.Hash
	Err           string
	Attempts      int
	StartedAt     time.Time
	FinishedAt    time.Time
}

// NewExecutionAttempt starts an attempt for the observed snapshot.
func NewExecutionAttempt(id RuleID, snap StateSnapshot) *ExecutionAttempt {
	return &ExecutionAttempt{
		ID:            uuid.New().String(),
		RuleID:        id,
		Observed:      snap.Value,
		ObservedBlock: snap.BlockNumber,
		StartedAt:     time.Now(),
	}
}

// Succeeded reports whether the attempt produced a transaction hash.
func (a *ExecutionAttempt) Succeeded() bool {
	return a.Err == "" && a.TxHash != (common.Hash{})
}

// Finish stamps the outcome.
func (a *ExecutionAttempt) Finish(tx common.Hash, err error) {
	a.TxHash = tx
	if err != nil {
		a.Err = err.Error()
	}
	a.FinishedAt = time.Now()
}
