package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// EventType names what happened in a committed call.
type EventType string

const (
	EventDeposit        EventType = "deposit"
	EventWithdraw       EventType = "withdraw"
	EventTransfer       EventType = "transfer"
	EventApproval       EventType = "approval"
	EventNativeTransfer EventType = "native_transfer"
)

// Event is emitted by the ledger and its capabilities. From/To carry the
// counterparties; for approvals From is the owner and To the spender.
type Event struct {
	Type   EventType
	Asset  Asset
	From   common.Address
	To     common.Address
	Amount *uint256.Int

	// Stamped by the host after commit.
	CallID    uuid.UUID
	Sequence  int
	Timestamp time.Time
}
