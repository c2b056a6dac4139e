package evm

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vietddude/reactor/internal/core/domain"
)

func TestEventTopic(t *testing.T) {
	// Well-known ERC-20 Transfer topic.
	want := common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")
	if got := EventTopic("Transfer(address, address, uint256)"); got != want {
		t.Errorf("EventTopic = %s, want %s", got.Hex(), want.Hex())
	}
	if RuleRegisteredTopic != EventTopic("RuleRegistered(uint256,address,address)") {
		t.Errorf("RuleRegistered topic mismatch")
	}
}

func TestDecodeRuleRegistered(t *testing.T) {
	owner := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	trigger := common.HexToAddress("0x00000000000000000000000000000000000000bb")

	l := domain.Log{
		Topics: []common.Hash{
			RuleRegisteredTopic,
			common.BigToHash(domain.RuleID(7).Big()),
			common.BytesToHash(owner.Bytes()),
		},
		Data:        common.LeftPadBytes(trigger.Bytes(), 32),
		BlockNumber: 99,
	}

	rule, err := DecodeRuleRegistered(l)
	if err != nil {
		t.Fatalf("DecodeRuleRegistered: %v", err)
	}
	if rule.ID != 7 || rule.Owner != owner || rule.Trigger != trigger || rule.RegisteredBlock != 99 {
		t.Errorf("unexpected rule %+v", rule)
	}
}

func TestDecodeRuleRegistered_Malformed(t *testing.T) {
	tests := []struct {
		name string
		log  domain.Log
	}{
		{"no topics", domain.Log{}},
		{"wrong event", domain.Log{Topics: []common.Hash{EventTopic("Other()"), {}, {}}, Data: make([]byte, 32)}},
		{"short data", domain.Log{Topics: []common.Hash{RuleRegisteredTopic, {}, {}}}},
		{"id overflow", domain.Log{
			Topics: []common.Hash{RuleRegisteredTopic, common.HexToHash("0x010000000000000000"), {}},
			Data:   make([]byte, 32),
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeRuleRegistered(tt.log); !errors.Is(err, ErrMalformedLog) {
				t.Errorf("expected ErrMalformedLog, got %v", err)
			}
		})
	}
}

func TestRuleDetailsRoundTrip(t *testing.T) {
	in := RuleDetails{
		Owner:            common.HexToAddress("0x1"),
		Trigger:          common.HexToAddress("0x2"),
		ConditionPayload: []byte{1, 2, 3},
		ActionTarget:     common.HexToAddress("0x3"),
		ActionPayload:    []byte{0xde, 0xad},
	}
	out, err := EncodeRuleDetails(in)
	if err != nil {
		t.Fatalf("EncodeRuleDetails: %v", err)
	}
	got, err := DecodeRuleDetails(out)
	if err != nil {
		t.Fatalf("DecodeRuleDetails: %v", err)
	}
	if got.Trigger != in.Trigger || !bytes.Equal(got.ActionPayload, in.ActionPayload) ||
		!bytes.Equal(got.ConditionPayload, in.ConditionPayload) {
		t.Errorf("unexpected details %+v", got)
	}

	if _, err := DecodeRuleDetails([]byte{1}); !errors.Is(err, domain.ErrContractCall) {
		t.Errorf("expected contract call error, got %v", err)
	}
}

func TestPackExecute(t *testing.T) {
	rule := domain.Rule{ID: 42, ActionTarget: common.HexToAddress("0x5"), ActionPayload: []byte{9}}

	plain, err := PackExecute(rule, false)
	if err != nil {
		t.Fatalf("PackExecute: %v", err)
	}
	// selector + one word
	if len(plain) != 36 {
		t.Errorf("expected 36 bytes, got %d", len(plain))
	}
	forwarded, err := PackExecute(rule, true)
	if err != nil {
		t.Fatalf("PackExecute forward: %v", err)
	}
	if bytes.Equal(plain[:4], forwarded[:4]) {
		t.Errorf("execute and executeAction share a selector")
	}

	for _, data := range [][]byte{plain, forwarded} {
		id, err := UnpackExecute(data)
		if err != nil {
			t.Fatalf("UnpackExecute: %v", err)
		}
		if id != 42 {
			t.Errorf("expected rule 42, got %d", id)
		}
	}
}
