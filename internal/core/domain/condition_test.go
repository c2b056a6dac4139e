package domain

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func mustBig(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		t.Fatalf("bad big int %q", s)
	}
	return v
}

func TestCondition_Evaluate(t *testing.T) {
	threshold := mustBig(t, "10000000000000000") // 0.01 in 18 decimals

	tests := []struct {
		name     string
		op       Op
		observed string
		want     bool
	}{
		{"gt below", OpGT, "0", false},
		{"gt half", OpGT, "5000000000000000", false},
		{"gt equal", OpGT, "10000000000000000", false},
		{"gt above", OpGT, "20000000000000000", true},
		{"gte equal", OpGTE, "10000000000000000", true},
		{"lt below", OpLT, "1", true},
		{"lte equal", OpLTE, "10000000000000000", true},
		{"eq", OpEQ, "10000000000000000", true},
		{"neq", OpNEQ, "10000000000000000", false},
		// Values beyond float64 precision must still compare exactly.
		{"gt full width", OpGT, "115792089237316195423570985008687907853269984665640564039457584007913129639935", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Condition{Op: tt.op, Threshold: threshold}
			got, err := c.Evaluate(mustBig(t, tt.observed))
			if err != nil {
				t.Fatalf("Evaluate failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestCondition_EvaluateOffByOneWei(t *testing.T) {
	// 2^53+1 is not representable as float64; an integer compare must see it.
	threshold := mustBig(t, "9007199254740992")
	c := Condition{Op: OpGT, Threshold: threshold}

	ok, err := c.Evaluate(mustBig(t, "9007199254740993"))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !ok {
		t.Error("expected 2^53+1 > 2^53")
	}
}

func TestCondition_EvaluateRejectsNil(t *testing.T) {
	c := Condition{Op: OpGT, Threshold: big.NewInt(1)}
	if _, err := c.Evaluate(nil); err == nil {
		t.Error("expected error for nil observed value")
	}
}

func TestDecodeCondition_RoundTripShapes(t *testing.T) {
	balanceOf := append(common.FromHex("0x70a08231"), common.LeftPadBytes(common.HexToAddress("0x01").Bytes(), 32)...)

	tests := []struct {
		name string
		in   Condition
		kind QueryKind
	}{
		{
			name: "native balance",
			in:   Condition{Op: OpGT, Threshold: big.NewInt(42), Query: StateQuery{Kind: QueryNativeBalance}},
			kind: QueryNativeBalance,
		},
		{
			name: "view call",
			in:   Condition{Op: OpLTE, Threshold: big.NewInt(7), Query: StateQuery{Kind: QueryCall, CallData: balanceOf}},
			kind: QueryCall,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := EncodeCondition(tt.in)
			if err != nil {
				t.Fatalf("EncodeCondition failed: %v", err)
			}
			got, err := DecodeCondition(payload)
			if err != nil {
				t.Fatalf("DecodeCondition failed: %v", err)
			}
			if got.Op != tt.in.Op || got.Threshold.Cmp(tt.in.Threshold) != 0 || got.Query.Kind != tt.kind {
				t.Errorf("unexpected condition %s", got)
			}
		})
	}
}

func TestDecodeCondition_Malformed(t *testing.T) {
	for _, payload := range [][]byte{nil, common.FromHex("0x1234"), make([]byte, 64)} {
		_, err := DecodeCondition(payload)
		if !errors.Is(err, ErrConditionPayload) {
			t.Errorf("payload %x: expected ErrConditionPayload, got %v", payload, err)
		}
	}
}

func TestParseOp(t *testing.T) {
	if op, err := ParseOp(">="); err != nil || op != OpGTE {
		t.Errorf("expected gte, got %v (%v)", op, err)
	}
	if _, err := ParseOp("between"); err == nil {
		t.Error("expected error for unknown operator")
	}
}
