package mysql

import (
	"testing"

	"fsvault/internal/application"
	"fsvault/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBalanceQueryCacheKey(t *testing.T) {
	owner := common.HexToAddress("0x00000000000000000000000000000000000000A1")
	asset := domain.Native()

	key := balanceQueryCacheKey("3", application.BalanceQueryFilter{
		Book:    domain.BookVault,
		Owner:   &owner,
		Asset:   &asset,
		NonZero: true,
	})
	assert.Equal(t,
		"fsvault:balances:v3:book=vault:owner=0x00000000000000000000000000000000000000a1:asset=native:nonzero=true:limit=100",
		key,
	)

	assert.Equal(t,
		"fsvault:balances:v0:book=all:owner=any:asset=any:nonzero=false:limit=5",
		balanceQueryCacheKey("0", application.BalanceQueryFilter{Limit: 5}),
	)
}

func TestDecodeCachedBalances(t *testing.T) {
	raw := `[{"key":"allowance:0x00000000000000000000000000000000000000f5:0x00000000000000000000000000000000000000a1:0x00000000000000000000000000000000000000fa","amount":"12"}]`
	balances, err := decodeCachedBalances(raw)
	require.NoError(t, err)
	require.Len(t, balances, 1)
	assert.Equal(t, domain.BookAllowance, balances[0].Key.Book)
	assert.Equal(t, common.HexToAddress("0x00000000000000000000000000000000000000fa"), balances[0].Key.Spender)
	assert.Equal(t, uint64(12), balances[0].Amount.Uint64())

	_, err = decodeCachedBalances(`[{"key":"vault:native:nope","amount":"1"}]`)
	assert.Error(t, err)
}

func TestDecodeBalance(t *testing.T) {
	balance, err := decodeBalance("vault", "native", "0x00000000000000000000000000000000000000a1", "", "115792089237316195423570985008687907853269984665640564039457584007913129639935")
	require.NoError(t, err)
	assert.Equal(t, 256, balance.Amount.BitLen())

	_, err = decodeBalance("vault", "native", "0x00000000000000000000000000000000000000a1", "", "-1")
	assert.Error(t, err)
}
