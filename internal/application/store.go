package application

import (
	"context"

	"fsvault/internal/domain"

	"github.com/holiman/uint256"
)

// Tx is the read-modify-write view of one store transaction. Get returns
// zero for keys that were never written.
type Tx interface {
	Get(ctx context.Context, key domain.BalanceKey) (*uint256.Int, error)
	Put(ctx context.Context, key domain.BalanceKey, amount *uint256.Int) error
}

// Store persists amounts. Update runs fn in one transaction and commits only
// when fn returns nil.
type Store interface {
	Update(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Get(ctx context.Context, key domain.BalanceKey) (*uint256.Int, error)
	QueryBalances(ctx context.Context, filter BalanceQueryFilter) ([]domain.Balance, error)
	Ping(ctx context.Context) error
}

type EventPublisher interface {
	PublishEvents(ctx context.Context, events []domain.Event) error
}

type HostObserver interface {
	OnCall(method string, err error)
	OnPublish(events int, err error)
}
