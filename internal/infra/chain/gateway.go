package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/vietddude/reactor/internal/core/domain"
)

// Subscription is a live, cancellable stream of event batches.
//
// Batches are delivered in arrival order. After a transport loss the gateway
// resumes on its own and may redeliver logs it already pushed; consumers must
// treat input as idempotent. Err yields at most one value, after which Batches
// is closed.
type Subscription interface {
	Batches() <-chan domain.EventBatch
	Err() <-chan error
	Unsubscribe()
}

// Reader is the query side of the gateway.
type Reader interface {
	// LatestBlock returns the current head block number.
	LatestBlock(ctx context.Context) (uint64, error)

	// FetchEvents returns historical logs matching the filter (bounded range).
	FetchEvents(ctx context.Context, filter domain.EventFilter) ([]domain.Log, error)

	// CallContract executes a read-only call against the latest state.
	CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error)

	// ReadState performs a point-in-time read. Fails with domain.ErrNetwork or
	// domain.ErrContractCall.
	ReadState(ctx context.Context, address common.Address, query domain.StateQuery) (*domain.StateSnapshot, error)
}

// Subscriber is the streaming side of the gateway.
type Subscriber interface {
	// SubscribeEvents opens a push subscription. A non-zero FromBlock is
	// backfilled before live delivery starts. Returns
	// domain.ErrSubscriptionUnsupported on transports without notifications.
	SubscribeEvents(ctx context.Context, filter domain.EventFilter) (Subscription, error)
}

// Submitter is the transaction side of the gateway.
type Submitter interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonce(ctx context.Context, account common.Address) (uint64, error)
	SuggestFees(ctx context.Context) (*Fees, error)
	EstimateGas(ctx context.Context, from, to common.Address, data []byte) (uint64, error)

	// SubmitTransaction broadcasts a signed transaction. Fails with
	// domain.ErrNetwork, domain.ErrUnderfunded or domain.ErrNonce.
	SubmitTransaction(ctx context.Context, tx *types.Transaction) (common.Hash, error)
}

// Fees carries the fee parameters for a new transaction. GasPrice is set for
// legacy chains, TipCap/FeeCap for EIP-1559 chains.
type Fees struct {
	GasPrice *big.Int
	TipCap   *big.Int
	FeeCap   *big.Int
}

// Dynamic reports whether EIP-1559 fields are populated.
func (f *Fees) Dynamic() bool {
	return f.FeeCap != nil && f.TipCap != nil
}

// Gateway is the full streaming/query/submit interface to the chain node.
type Gateway interface {
	Reader
	Subscriber
	Submitter
	Close()
}
