package domain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Book names a storage namespace for amounts.
type Book string

const (
	// BookVault holds balances credited inside the vault.
	BookVault Book = "vault"
	// BookToken holds token balances outside the vault, per token contract.
	BookToken Book = "erc20"
	// BookAllowance holds owner to spender allowances per token contract.
	BookAllowance Book = "allowance"
	// BookNative holds native currency per account.
	BookNative Book = "native"
	// BookSupply holds total supply per token contract.
	BookSupply Book = "supply"
	// BookMeta holds markers such as the applied genesis.
	BookMeta Book = "meta"
)

func ParseBook(raw string) (Book, error) {
	switch book := Book(strings.ToLower(strings.TrimSpace(raw))); book {
	case BookVault, BookToken, BookAllowance, BookNative, BookSupply, BookMeta:
		return book, nil
	default:
		return "", fmt.Errorf("unknown book: %q", raw)
	}
}

// BalanceKey addresses one amount. Spender is only set in BookAllowance.
type BalanceKey struct {
	Book    Book
	Asset   Asset
	Owner   common.Address
	Spender common.Address
}

// VaultKey is the ledger entry for account and asset.
func VaultKey(account common.Address, asset Asset) BalanceKey {
	return BalanceKey{Book: BookVault, Asset: asset, Owner: account}
}

// TokenBalanceKey is the balance of owner held in the token contract.
func TokenBalanceKey(token, owner common.Address) BalanceKey {
	return BalanceKey{Book: BookToken, Asset: Token(token), Owner: owner}
}

func AllowanceKey(token, owner, spender common.Address) BalanceKey {
	return BalanceKey{Book: BookAllowance, Asset: Token(token), Owner: owner, Spender: spender}
}

func SupplyKey(token common.Address) BalanceKey {
	return BalanceKey{Book: BookSupply, Asset: Token(token)}
}

func NativeKey(account common.Address) BalanceKey {
	return BalanceKey{Book: BookNative, Asset: Native(), Owner: account}
}

func (k BalanceKey) String() string {
	var b strings.Builder
	b.Grow(16 + 3*42)
	b.WriteString(string(k.Book))
	b.WriteByte(':')
	b.WriteString(k.Asset.String())
	b.WriteByte(':')
	b.WriteString(FormatAddress(k.Owner))
	if k.Book == BookAllowance {
		b.WriteByte(':')
		b.WriteString(FormatAddress(k.Spender))
	}
	return b.String()
}

// Balance is a stored amount together with its key.
type Balance struct {
	Key    BalanceKey
	Amount *uint256.Int
}

// ParseBalanceKey reverses BalanceKey.String.
func ParseBalanceKey(raw string) (BalanceKey, error) {
	parts := strings.Split(raw, ":")
	if len(parts) != 3 && len(parts) != 4 {
		return BalanceKey{}, fmt.Errorf("malformed balance key: %q", raw)
	}
	book, err := ParseBook(parts[0])
	if err != nil {
		return BalanceKey{}, err
	}
	asset, err := ParseAsset(parts[1])
	if err != nil {
		return BalanceKey{}, err
	}
	owner, err := ParseAddress(parts[2])
	if err != nil {
		return BalanceKey{}, err
	}
	key := BalanceKey{Book: book, Asset: asset, Owner: owner}
	if book == BookAllowance {
		if len(parts) != 4 {
			return BalanceKey{}, fmt.Errorf("allowance key without spender: %q", raw)
		}
		if key.Spender, err = ParseAddress(parts[3]); err != nil {
			return BalanceKey{}, err
		}
	} else if len(parts) != 3 {
		return BalanceKey{}, fmt.Errorf("malformed balance key: %q", raw)
	}
	return key, nil
}
