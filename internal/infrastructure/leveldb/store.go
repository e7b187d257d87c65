package leveldb

import (
	"context"
	"errors"
	"fmt"

	"fsvault/internal/application"
	"fsvault/internal/domain"

	"github.com/holiman/uint256"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Store keeps amounts in LevelDB under their BalanceKey text form. Values are
// decimal strings.
type Store struct {
	db *leveldb.DB
}

func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("leveldb path is required")
	}
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// OpenMemory opens a store that lives only in memory.
func OpenMemory() (*Store, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Update(ctx context.Context, fn func(ctx context.Context, tx application.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tr, err := s.db.OpenTransaction()
	if err != nil {
		return err
	}
	// Only one transaction may be open; discard on every path that does not
	// commit, panics included.
	committed := false
	defer func() {
		if !committed {
			tr.Discard()
		}
	}()
	if err := fn(ctx, &txn{tr: tr}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := tr.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *Store) Get(ctx context.Context, key domain.BalanceKey) (*uint256.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := s.db.Get([]byte(key.String()), nil)
	return decodeAmount(raw, err)
}

func (s *Store) QueryBalances(ctx context.Context, filter application.BalanceQueryFilter) ([]domain.Balance, error) {
	limit := application.NormalizeLimit(filter.Limit)
	prefix := []byte{}
	if filter.Book != "" {
		prefix = []byte(string(filter.Book) + ":")
	}

	iter := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	var balances []domain.Balance
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		key, err := domain.ParseBalanceKey(string(iter.Key()))
		if err != nil {
			return nil, err
		}
		if filter.Owner != nil && key.Owner != *filter.Owner {
			continue
		}
		if filter.Asset != nil && key.Asset != *filter.Asset {
			continue
		}
		amount, err := uint256.FromDecimal(string(iter.Value()))
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", key, err)
		}
		if filter.NonZero && amount.IsZero() {
			continue
		}
		balances = append(balances, domain.Balance{Key: key, Amount: amount})
		if len(balances) >= limit {
			break
		}
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return balances, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.db.GetProperty("leveldb.stats")
	return err
}

type txn struct {
	tr *leveldb.Transaction
}

func (t *txn) Get(ctx context.Context, key domain.BalanceKey) (*uint256.Int, error) {
	raw, err := t.tr.Get([]byte(key.String()), nil)
	return decodeAmount(raw, err)
}

func (t *txn) Put(ctx context.Context, key domain.BalanceKey, amount *uint256.Int) error {
	return t.tr.Put([]byte(key.String()), []byte(amount.Dec()), nil)
}

func decodeAmount(raw []byte, err error) (*uint256.Int, error) {
	if errors.Is(err, leveldb.ErrNotFound) {
		return new(uint256.Int), nil
	}
	if err != nil {
		return nil, err
	}
	return uint256.FromDecimal(string(raw))
}
