package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// Receipt summarizes a committed call.
type Receipt struct {
	CallID    uuid.UUID
	Method    string
	From      common.Address
	Value     *uint256.Int
	Events    []Event
	Committed time.Time
}
