// Package executor submits action transactions for satisfied rules through
// the fixed executor contract, signed by the single engine identity.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/vietddude/reactor/internal/automation/metrics"
	"github.com/vietddude/reactor/internal/automation/retry"
	"github.com/vietddude/reactor/internal/core/domain"
	"github.com/vietddude/reactor/internal/infra/chain"
	"github.com/vietddude/reactor/internal/infra/chain/evm"
	"github.com/vietddude/reactor/internal/infra/storage"
)

// Signer is the engine signing identity.
type Signer interface {
	Address() common.Address
	Sign(tx *types.Transaction) (*types.Transaction, error)
}

// Claimer arbitrates executions across engine replicas.
type Claimer interface {
	Claim(ctx context.Context, id domain.RuleID, block uint64) (bool, error)
	Release(ctx context.Context, id domain.RuleID, block uint64) error
}

// Config holds executor settings.
type Config struct {
	// Contract is the executor contract every action is sent to.
	Contract common.Address
	// GasLimit caps the estimate and is used when estimation fails.
	GasLimit uint64
	// ForwardAction sends the rule's action target and payload as arguments.
	ForwardAction bool
	Mode          domain.ExecutionMode
	Retry         retry.Strategy
}

// Executor builds, signs and submits execution transactions. Submissions are
// serialized so the shared signer never reuses a nonce.
type Executor struct {
	cfg     Config
	gw      chain.Submitter
	signer  Signer
	claims  Claimer
	journal storage.JournalRepository
	logger  *slog.Logger

	mu      sync.Mutex
	chainID *big.Int
	// nonce is the next nonce to use; nil forces a re-sync from the node.
	nonce *uint64
}

// New creates an executor. claims and journal may be nil.
func New(
	cfg Config,
	gw chain.Submitter,
	signer Signer,
	claims Claimer,
	journal storage.JournalRepository,
) *Executor {
	if cfg.Retry == nil {
		cfg.Retry = retry.Never{}
	}
	if cfg.Mode == "" {
		cfg.Mode = domain.ModeOneShot
	}
	return &Executor{
		cfg:     cfg,
		gw:      gw,
		signer:  signer,
		claims:  claims,
		journal: journal,
		logger:  slog.Default().With("component", "executor"),
	}
}

// Execute submits the action for rule. It fails with domain.ErrSigning
// (engine-fatal), domain.ErrClaimed (another replica executes) or
// domain.ErrSubmission.
func (e *Executor) Execute(ctx context.Context, rule domain.Rule, observed domain.StateSnapshot) (common.Hash, error) {
	attempt := domain.NewExecutionAttempt(rule.ID, observed)
	logger := e.logger.With("rule_id", rule.ID, "block", observed.BlockNumber)

	tx, err := e.execute(ctx, rule, attempt, logger)

	attempt.Finish(tx, err)
	metrics.ExecutionLatency.Observe(attempt.FinishedAt.Sub(attempt.StartedAt).Seconds())
	switch {
	case err == nil:
		metrics.Executions.WithLabelValues("submitted").Inc()
	case errors.Is(err, domain.ErrClaimed):
		metrics.Executions.WithLabelValues("claimed").Inc()
	default:
		metrics.Executions.WithLabelValues("failed").Inc()
	}
	e.record(ctx, attempt, logger)
	return tx, err
}

func (e *Executor) execute(
	ctx context.Context,
	rule domain.Rule,
	attempt *domain.ExecutionAttempt,
	logger *slog.Logger,
) (common.Hash, error) {
	if e.signer == nil {
		return common.Hash{}, fmt.Errorf("%w: no signing identity configured", domain.ErrSigning)
	}

	claimBlock := e.claimBlock(attempt.ObservedBlock)
	if e.claims != nil {
		ok, err := e.claims.Claim(ctx, rule.ID, claimBlock)
		if err != nil {
			return common.Hash{}, fmt.Errorf("%w: claim execution: %v", domain.ErrSubmission, err)
		}
		if !ok {
			return common.Hash{}, domain.ErrClaimed
		}
	}

	data, err := evm.PackExecute(rule, e.cfg.ForwardAction)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: encode call: %v", domain.ErrSubmission, err)
	}

	// pending is a signed transaction the node may already hold. It is
	// rebroadcast unchanged so a lost response never yields a second tx.
	var pending *types.Transaction
	for n := 0; ; n++ {
		attempt.Attempts = n + 1
		var (
			hash common.Hash
			err  error
		)
		if pending != nil {
			hash, pending, err = e.rebroadcast(ctx, pending)
		} else {
			hash, pending, err = e.submit(ctx, data)
		}
		if err == nil {
			return hash, nil
		}
		if domain.IsFatal(err) {
			e.release(ctx, rule.ID, claimBlock, err, logger)
			return common.Hash{}, err
		}
		if ctx.Err() != nil || !e.cfg.Retry.ShouldRetry(err, n) {
			e.abandon(pending)
			e.release(ctx, rule.ID, claimBlock, err, logger)
			return common.Hash{}, fmt.Errorf("%w: %w", domain.ErrSubmission, err)
		}

		delay := e.cfg.Retry.GetDelay(n)
		logger.Warn("Submission failed, retrying", "error", err, "attempt", n+1, "retry_in", delay, "rebroadcast", pending != nil)
		if !retry.Sleep(ctx, delay) {
			e.abandon(pending)
			return common.Hash{}, fmt.Errorf("%w: %w", domain.ErrSubmission, err)
		}
	}
}

// submit performs one build-sign-send round under the nonce lock. On a
// network error the signed transaction is returned as pending: the node may
// hold it, so its nonce stays consumed.
func (e *Executor) submit(ctx context.Context, data []byte) (common.Hash, *types.Transaction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	from := e.signer.Address()
	if e.chainID == nil {
		id, err := e.gw.ChainID(ctx)
		if err != nil {
			return common.Hash{}, nil, err
		}
		e.chainID = id
	}
	if e.nonce == nil {
		n, err := e.gw.PendingNonce(ctx, from)
		if err != nil {
			return common.Hash{}, nil, err
		}
		e.nonce = &n
	}
	nonce := *e.nonce

	fees, err := e.gw.SuggestFees(ctx)
	if err != nil {
		return common.Hash{}, nil, err
	}
	gas, err := e.gasLimit(ctx, from, data)
	if err != nil {
		return common.Hash{}, nil, err
	}

	to := e.cfg.Contract
	var unsigned *types.Transaction
	if fees.Dynamic() {
		unsigned = types.NewTx(&types.DynamicFeeTx{
			ChainID:   e.chainID,
			Nonce:     nonce,
			GasTipCap: fees.TipCap,
			GasFeeCap: fees.FeeCap,
			Gas:       gas,
			To:        &to,
			Data:      data,
		})
	} else {
		unsigned = types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			GasPrice: fees.GasPrice,
			Gas:      gas,
			To:       &to,
			Data:     data,
		})
	}

	signed, err := e.signer.Sign(unsigned)
	if err != nil {
		return common.Hash{}, nil, err
	}

	hash, err := e.gw.SubmitTransaction(ctx, signed)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrAlreadyKnown):
		hash = signed.Hash()
	case errors.Is(err, domain.ErrNetwork):
		next := nonce + 1
		e.nonce = &next
		return common.Hash{}, signed, err
	case errors.Is(err, domain.ErrNonce):
		e.nonce = nil
		return common.Hash{}, nil, err
	default:
		return common.Hash{}, nil, err
	}
	next := nonce + 1
	e.nonce = &next
	return hash, nil, nil
}

// rebroadcast resends tx unchanged. A node that already knows it, or whose
// account nonce moved past it, accepted the first broadcast.
func (e *Executor) rebroadcast(ctx context.Context, tx *types.Transaction) (common.Hash, *types.Transaction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	hash, err := e.gw.SubmitTransaction(ctx, tx)
	switch {
	case err == nil:
		return hash, nil, nil
	case errors.Is(err, domain.ErrAlreadyKnown), errors.Is(err, domain.ErrNonce):
		e.logger.Info("Rebroadcast found transaction already accepted", "tx", tx.Hash().Hex(), "nonce", tx.Nonce())
		return tx.Hash(), nil, nil
	case errors.Is(err, domain.ErrNetwork):
		return common.Hash{}, tx, err
	}
	// Rejected outright: the nonce slot is free again.
	e.nonce = nil
	return common.Hash{}, nil, err
}

// abandon drops a transaction whose fate is unknown. The local nonce is
// re-read from the node so a gap left by it cannot stall later submissions.
func (e *Executor) abandon(pending *types.Transaction) {
	if pending == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nonce = nil
	e.logger.Warn("Giving up on transaction with unknown outcome", "tx", pending.Hash().Hex(), "nonce", pending.Nonce())
}

// gasLimit pads the node estimate by 20%, capped at the configured limit. A
// revert during estimation is returned; other failures use the limit.
func (e *Executor) gasLimit(ctx context.Context, from common.Address, data []byte) (uint64, error) {
	est, err := e.gw.EstimateGas(ctx, from, e.cfg.Contract, data)
	if err != nil {
		if errors.Is(err, domain.ErrContractCall) || e.cfg.GasLimit == 0 {
			return 0, err
		}
		e.logger.Debug("Gas estimation failed, using configured limit", "error", err, "gas_limit", e.cfg.GasLimit)
		return e.cfg.GasLimit, nil
	}
	gas := est + est/5
	if e.cfg.GasLimit > 0 && gas > e.cfg.GasLimit {
		gas = e.cfg.GasLimit
	}
	return gas, nil
}

func (e *Executor) claimBlock(observed uint64) uint64 {
	if e.cfg.Mode == domain.ModeRecurring {
		return observed
	}
	return 0
}

// release returns the claim when the transaction provably never reached the
// chain. Network failures keep it: the transaction may have been accepted.
func (e *Executor) release(ctx context.Context, id domain.RuleID, block uint64, cause error, logger *slog.Logger) {
	if e.claims == nil || errors.Is(cause, domain.ErrNetwork) {
		return
	}
	if err := e.claims.Release(context.WithoutCancel(ctx), id, block); err != nil {
		logger.Warn("Failed to release execution claim", "error", err)
	}
}

func (e *Executor) record(ctx context.Context, attempt *domain.ExecutionAttempt, logger *slog.Logger) {
	if e.journal == nil {
		return
	}
	journalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := e.journal.Append(journalCtx, attempt); err != nil {
		logger.Warn("Failed to journal execution attempt", "error", err)
	}
}
