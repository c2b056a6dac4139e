package evm

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/vietddude/reactor/internal/core/domain"
)

const registryABIJSON = `[
  {"anonymous":false,"type":"event","name":"RuleRegistered","inputs":[
    {"indexed":true,"name":"ruleId","type":"uint256"},
    {"indexed":true,"name":"user","type":"address"},
    {"indexed":false,"name":"triggerContract","type":"address"}]},
  {"type":"function","name":"getRule","stateMutability":"view",
   "inputs":[{"name":"ruleId","type":"uint256"}],
   "outputs":[
    {"name":"user","type":"address"},
    {"name":"triggerContract","type":"address"},
    {"name":"conditionData","type":"bytes"},
    {"name":"actionContract","type":"address"},
    {"name":"actionData","type":"bytes"}]}
]`

const executorABIJSON = `[
  {"type":"function","name":"execute","stateMutability":"nonpayable",
   "inputs":[{"name":"_ruleId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"executeAction","stateMutability":"nonpayable",
   "inputs":[
    {"name":"_ruleId","type":"uint256"},
    {"name":"_target","type":"address"},
    {"name":"_data","type":"bytes"}],"outputs":[]}
]`

var (
	registryABI = mustABI(registryABIJSON)
	executorABI = mustABI(executorABIJSON)

	// RuleRegisteredTopic is topic0 of RuleRegistered(uint256,address,address).
	RuleRegisteredTopic = registryABI.Events["RuleRegistered"].ID
)

// ErrMalformedLog is returned for logs that do not match the expected event layout.
var ErrMalformedLog = errors.New("malformed log")

func mustABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("parse abi: %v", err))
	}
	return parsed
}

// EventTopic returns the keccak256 topic of an event signature such as
// "Transfer(address,address,uint256)".
func EventTopic(signature string) common.Hash {
	return crypto.Keccak256Hash([]byte(strings.ReplaceAll(signature, " ", "")))
}

// DecodeRuleRegistered turns a RuleRegistered log into a rule. Condition and
// action fields stay empty until filled by a getRule lookup.
func DecodeRuleRegistered(l domain.Log) (domain.Rule, error) {
	if len(l.Topics) != 3 || l.Topics[0] != RuleRegisteredTopic {
		return domain.Rule{}, fmt.Errorf("%w: not a RuleRegistered event", ErrMalformedLog)
	}
	if len(l.Data) < 32 {
		return domain.Rule{}, fmt.Errorf("%w: RuleRegistered data is %d bytes", ErrMalformedLog, len(l.Data))
	}

	id, err := domain.RuleIDFromBig(l.Topics[1].Big())
	if err != nil {
		return domain.Rule{}, fmt.Errorf("%w: %v", ErrMalformedLog, err)
	}

	return domain.Rule{
		ID:              id,
		Owner:           common.BytesToAddress(l.Topics[2].Bytes()),
		Trigger:         common.BytesToAddress(l.Data[:32]),
		RegisteredBlock: l.BlockNumber,
		RegisteredTx:    l.TxHash,
	}, nil
}

// DecodeRuleID reads a rule id from the first indexed topic, as emitted by
// RuleExecuted(uint256 indexed ruleId).
func DecodeRuleID(l domain.Log) (domain.RuleID, error) {
	if len(l.Topics) < 2 {
		return 0, fmt.Errorf("%w: missing indexed rule id", ErrMalformedLog)
	}
	id, err := domain.RuleIDFromBig(l.Topics[1].Big())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedLog, err)
	}
	return id, nil
}

// RuleDetails is the decoded return of getRule.
type RuleDetails struct {
	Owner            common.Address
	Trigger          common.Address
	ConditionPayload []byte
	ActionTarget     common.Address
	ActionPayload    []byte
}

// PackGetRule encodes a getRule(id) call.
func PackGetRule(id domain.RuleID) ([]byte, error) {
	return registryABI.Pack("getRule", id.Big())
}

// DecodeRuleDetails decodes the return data of getRule.
func DecodeRuleDetails(out []byte) (*RuleDetails, error) {
	values, err := registryABI.Unpack("getRule", out)
	if err != nil {
		return nil, fmt.Errorf("%w: decode getRule: %v", domain.ErrContractCall, err)
	}
	if len(values) != 5 {
		return nil, fmt.Errorf("%w: getRule returned %d values", domain.ErrContractCall, len(values))
	}

	d := &RuleDetails{}
	var ok [5]bool
	d.Owner, ok[0] = values[0].(common.Address)
	d.Trigger, ok[1] = values[1].(common.Address)
	d.ConditionPayload, ok[2] = values[2].([]byte)
	d.ActionTarget, ok[3] = values[3].(common.Address)
	d.ActionPayload, ok[4] = values[4].([]byte)
	for i, good := range ok {
		if !good {
			return nil, fmt.Errorf("%w: getRule value %d has type %T", domain.ErrContractCall, i, values[i])
		}
	}
	return d, nil
}

// EncodeRuleDetails is the inverse of DecodeRuleDetails. Used by fakes and
// the rules command output.
func EncodeRuleDetails(d RuleDetails) ([]byte, error) {
	return registryABI.Methods["getRule"].Outputs.Pack(
		d.Owner, d.Trigger, d.ConditionPayload, d.ActionTarget, d.ActionPayload)
}

// PackExecute encodes the executor call for a rule. With forward set the
// rule's action target and payload travel as call arguments.
func PackExecute(rule domain.Rule, forward bool) ([]byte, error) {
	if forward {
		payload := rule.ActionPayload
		if payload == nil {
			payload = []byte{}
		}
		return executorABI.Pack("executeAction", rule.ID.Big(), rule.ActionTarget, payload)
	}
	return executorABI.Pack("execute", rule.ID.Big())
}

// UnpackExecute recovers the rule id from executor calldata.
func UnpackExecute(data []byte) (domain.RuleID, error) {
	if len(data) < 4 {
		return 0, fmt.Errorf("calldata too short: %d bytes", len(data))
	}
	method, err := executorABI.MethodById(data[:4])
	if err != nil {
		return 0, err
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return 0, err
	}
	id, ok := args[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("unexpected rule id type %T", args[0])
	}
	return domain.RuleIDFromBig(id)
}
