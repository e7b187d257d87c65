package domain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// NativeSymbol is the text form of the native currency asset.
const NativeSymbol = "native"

// Asset identifies either the chain's native currency or a token contract.
// The zero value is the native asset.
type Asset struct {
	token common.Address
	isTok bool
}

// Native returns the native currency asset.
func Native() Asset {
	return Asset{}
}

// Token returns the asset held in the token contract at addr.
func Token(addr common.Address) Asset {
	return Asset{token: addr, isTok: true}
}

// ParseAsset accepts "native" (also "eth") or a hex token address.
func ParseAsset(raw string) (Asset, error) {
	value := strings.TrimSpace(raw)
	switch strings.ToLower(value) {
	case NativeSymbol, "eth":
		return Native(), nil
	case "":
		return Asset{}, fmt.Errorf("asset is required")
	}
	addr, err := ParseAddress(value)
	if err != nil {
		return Asset{}, fmt.Errorf("invalid asset: %w", err)
	}
	return Token(addr), nil
}

func (a Asset) IsNative() bool {
	return !a.isTok
}

// TokenAddress returns the contract address for token assets.
func (a Asset) TokenAddress() (common.Address, bool) {
	return a.token, a.isTok
}

func (a Asset) String() string {
	if !a.isTok {
		return NativeSymbol
	}
	return FormatAddress(a.token)
}

func (a Asset) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Asset) UnmarshalText(text []byte) error {
	parsed, err := ParseAsset(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseAddress validates a 0x-prefixed 20 byte hex address.
func ParseAddress(raw string) (common.Address, error) {
	value := strings.TrimSpace(raw)
	if !strings.HasPrefix(value, "0x") && !strings.HasPrefix(value, "0X") {
		return common.Address{}, fmt.Errorf("address must be 0x-prefixed: %q", raw)
	}
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("invalid address: %q", raw)
	}
	return common.HexToAddress(value), nil
}

// FormatAddress renders addresses the way they are stored: lowercase hex.
func FormatAddress(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}
