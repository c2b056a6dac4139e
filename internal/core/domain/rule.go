package domain

import (
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
)

// RuleID is the registry-assigned rule identifier. Ids are monotonic and never reused.
type RuleID uint64

func (id RuleID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Big returns the id as the uint256 the contracts expect.
func (id RuleID) Big() *big.Int {
	return new(big.Int).SetUint64(uint64(id))
}

// RuleIDFromBig converts an on-chain uint256 id.
func RuleIDFromBig(v *big.Int) (RuleID, error) {
	if v == nil || v.Sign() < 0 || !v.IsUint64() {
		return 0, fmt.Errorf("rule id out of range: %v", v)
	}
	return RuleID(v.Uint64()), nil
}

// Rule is a registered trigger-condition-action tuple. Immutable once discovered.
type Rule struct {
	ID               RuleID
	Owner            common.Address
	Trigger          common.Address
	ConditionPayload []byte
	ActionTarget     common.Address
	ActionPayload    []byte

	// Condition is the decoded ConditionPayload (or the engine default).
	Condition Condition

	RegisteredBlock uint64
	RegisteredTx    common.Hash
}

// ExecutionMode selects what happens to a rule after a successful execution.
type ExecutionMode string

const (
	// ModeOneShot retires the rule after its first successful execution.
	ModeOneShot ExecutionMode = "one_shot"
	// ModeRecurring keeps watching and fires again on the next rising edge.
	ModeRecurring ExecutionMode = "recurring"
)

// TriggerMode selects how a watcher is woken up.
type TriggerMode string

const (
	TriggerEvent TriggerMode = "event"
	TriggerPoll  TriggerMode = "poll"
)
