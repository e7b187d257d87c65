package application

import (
	"fsvault/internal/domain"

	"github.com/ethereum/go-ethereum/common"
)

type BalanceQueryFilter struct {
	Book    domain.Book
	Owner   *common.Address
	Asset   *domain.Asset
	NonZero bool
	Limit   int
}

type EventQueryFilter struct {
	Account *common.Address
	Asset   *domain.Asset
	Type    domain.EventType
	Limit   int
}

// NormalizeLimit clamps list limits to (0, 1000], defaulting to 100.
func NormalizeLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 100
	}
	return limit
}
