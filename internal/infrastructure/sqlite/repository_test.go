package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"fsvault/internal/application"
	"fsvault/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewRepository(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestRepository_UpdateAndGet(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	alice := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	vault := common.HexToAddress("0x00000000000000000000000000000000000000fa")
	token := common.HexToAddress("0x00000000000000000000000000000000000000f5")

	require.NoError(t, repo.Update(ctx, func(ctx context.Context, tx application.Tx) error {
		if err := tx.Put(ctx, domain.AllowanceKey(token, alice, vault), uint256.NewInt(5)); err != nil {
			return err
		}
		if err := tx.Put(ctx, domain.VaultKey(alice, domain.Token(token)), uint256.NewInt(3)); err != nil {
			return err
		}
		return tx.Put(ctx, domain.VaultKey(alice, domain.Token(token)), uint256.NewInt(4))
	}))

	got, err := repo.Get(ctx, domain.VaultKey(alice, domain.Token(token)))
	require.NoError(t, err)
	assert.Equal(t, uint64(4), got.Uint64())

	allowance, err := repo.Get(ctx, domain.AllowanceKey(token, alice, vault))
	require.NoError(t, err)
	assert.Equal(t, uint64(5), allowance.Uint64())

	missing, err := repo.Get(ctx, domain.NativeKey(vault))
	require.NoError(t, err)
	assert.True(t, missing.IsZero())
}

func TestRepository_UpdateRollsBack(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	key := domain.NativeKey(common.HexToAddress("0x00000000000000000000000000000000000000b2"))

	boom := errors.New("boom")
	err := repo.Update(ctx, func(ctx context.Context, tx application.Tx) error {
		if err := tx.Put(ctx, key, uint256.NewInt(9)); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := repo.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, got.IsZero())
}

func TestRepository_QueryBalances(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	alice := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob := common.HexToAddress("0x00000000000000000000000000000000000000b2")

	require.NoError(t, repo.Update(ctx, func(ctx context.Context, tx application.Tx) error {
		if err := tx.Put(ctx, domain.VaultKey(alice, domain.Native()), uint256.NewInt(10)); err != nil {
			return err
		}
		if err := tx.Put(ctx, domain.VaultKey(bob, domain.Native()), uint256.NewInt(0)); err != nil {
			return err
		}
		return tx.Put(ctx, domain.NativeKey(alice), uint256.NewInt(90))
	}))

	all, err := repo.QueryBalances(ctx, application.BalanceQueryFilter{Book: domain.BookVault})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	nonZero, err := repo.QueryBalances(ctx, application.BalanceQueryFilter{Book: domain.BookVault, NonZero: true})
	require.NoError(t, err)
	require.Len(t, nonZero, 1)
	assert.Equal(t, alice, nonZero[0].Key.Owner)
	assert.True(t, nonZero[0].Key.Asset.IsNative())

	owner := alice
	mine, err := repo.QueryBalances(ctx, application.BalanceQueryFilter{Owner: &owner})
	require.NoError(t, err)
	assert.Len(t, mine, 2)
	assert.NoError(t, repo.Ping(ctx))
}
