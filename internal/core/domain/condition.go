package domain

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Op is the comparison applied between the observed value and the threshold.
type Op uint8

const (
	OpGT Op = iota + 1
	OpGTE
	OpLT
	OpLTE
	OpEQ
	OpNEQ
)

var opNames = map[Op]string{
	OpGT:  "gt",
	OpGTE: "gte",
	OpLT:  "lt",
	OpLTE: "lte",
	OpEQ:  "eq",
	OpNEQ: "neq",
}

func (o Op) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return fmt.Sprintf("op(%d)", uint8(o))
}

// ParseOp parses the config spelling of an operator ("gt", ">", ...).
func ParseOp(s string) (Op, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "gt", ">":
		return OpGT, nil
	case "gte", ">=":
		return OpGTE, nil
	case "lt", "<":
		return OpLT, nil
	case "lte", "<=":
		return OpLTE, nil
	case "eq", "==":
		return OpEQ, nil
	case "neq", "!=":
		return OpNEQ, nil
	}
	return 0, fmt.Errorf("unknown comparison operator %q", s)
}

// QueryKind selects how the observed value is read.
type QueryKind string

const (
	// QueryNativeBalance reads the native balance of the trigger address.
	QueryNativeBalance QueryKind = "native_balance"
	// QueryCall performs a view call on the trigger address and reads the first word.
	QueryCall QueryKind = "call"
)

// StateQuery describes a point-in-time read against an address.
type StateQuery struct {
	Kind     QueryKind
	CallData []byte
}

// Condition is a predicate "observed <op> threshold" over unsigned 256-bit values.
type Condition struct {
	Op        Op
	Threshold *big.Int
	Query     StateQuery
}

func (c Condition) String() string {
	return fmt.Sprintf("%s %s %s", c.Query.Kind, c.Op, c.Threshold)
}

// Evaluate compares observed against the threshold with big.Int semantics.
func (c Condition) Evaluate(observed *big.Int) (bool, error) {
	if observed == nil || c.Threshold == nil {
		return false, errors.New("condition has no value to compare")
	}
	if observed.Sign() < 0 {
		return false, fmt.Errorf("observed value %s is negative", observed)
	}
	cmp := observed.Cmp(c.Threshold)
	switch c.Op {
	case OpGT:
		return cmp > 0, nil
	case OpGTE:
		return cmp >= 0, nil
	case OpLT:
		return cmp < 0, nil
	case OpLTE:
		return cmp <= 0, nil
	case OpEQ:
		return cmp == 0, nil
	case OpNEQ:
		return cmp != 0, nil
	}
	return false, fmt.Errorf("unsupported operator %s", c.Op)
}

var (
	uint8Type, _   = abi.NewType("uint8", "", nil)
	uint256Type, _ = abi.NewType("uint256", "", nil)
	bytesType, _   = abi.NewType("bytes", "", nil)

	shortConditionArgs = abi.Arguments{{Type: uint8Type}, {Type: uint256Type}}
	callConditionArgs  = abi.Arguments{{Type: uint8Type}, {Type: uint256Type}, {Type: bytesType}}
)

// ErrConditionPayload marks a payload that cannot be decoded into a Condition.
var ErrConditionPayload = errors.New("malformed condition payload")

// DecodeCondition decodes abi.encode(uint8 op, uint256 threshold[, bytes callData]).
// A payload without call data watches the native balance of the trigger.
func DecodeCondition(payload []byte) (Condition, error) {
	var (
		values []any
		err    error
	)
	switch {
	case len(payload) == 64:
		values, err = shortConditionArgs.Unpack(payload)
	case len(payload) > 64:
		values, err = callConditionArgs.Unpack(payload)
	default:
		return Condition{}, fmt.Errorf("%w: %d bytes", ErrConditionPayload, len(payload))
	}
	if err != nil {
		return Condition{}, fmt.Errorf("%w: %v", ErrConditionPayload, err)
	}

	op := Op(values[0].(uint8))
	if _, ok := opNames[op]; !ok {
		return Condition{}, fmt.Errorf("%w: unknown operator %d", ErrConditionPayload, uint8(op))
	}
	cond := Condition{
		Op:        op,
		Threshold: values[1].(*big.Int),
		Query:     StateQuery{Kind: QueryNativeBalance},
	}
	if len(values) == 3 {
		if data := values[2].([]byte); len(data) > 0 {
			cond.Query = StateQuery{Kind: QueryCall, CallData: data}
		}
	}
	return cond, nil
}

// EncodeCondition is the inverse of DecodeCondition. Used by tooling and tests.
func EncodeCondition(c Condition) ([]byte, error) {
	if c.Query.Kind == QueryCall {
		return callConditionArgs.Pack(uint8(c.Op), c.Threshold, c.Query.CallData)
	}
	return shortConditionArgs.Pack(uint8(c.Op), c.Threshold)
}
