package domain

import (
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Log is a decoded event log record delivered by the gateway.
type Log struct {
	Address     common.Address
	Topics      []common.Hash
	Data        []byte
	BlockNumber uint64
	TxHash      common.Hash
	LogIndex    uint
	Removed     bool
}

// Key identifies a log occurrence for de-duplication of redeliveries.
func (l Log) Key() string {
	return l.TxHash.Hex() + ":" + strconv.FormatUint(uint64(l.LogIndex), 10)
}

// EventBatch is one push from a subscription, in arrival order.
type EventBatch struct {
	Logs []Log
}

// EventFilter selects logs by address and topics.
// FromBlock 0 means earliest; ToBlock 0 means latest/open-ended.
type EventFilter struct {
	Addresses []common.Address
	Topics    [][]common.Hash
	FromBlock uint64
	ToBlock   uint64
}

// StateSnapshot is the authoritative value observed by a state read.
type StateSnapshot struct {
	Address     common.Address
	Value       *big.Int
	BlockNumber uint64
	ReadAt      time.Time
}
