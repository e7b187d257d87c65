package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"fsvault/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var errGenesisApplied = errors.New("genesis already applied")

// Genesis is the initial state written once per store: token supplies minted
// to the owner and native currency funded to accounts.
type Genesis struct {
	Owner       common.Address
	Supplies    map[common.Address]*uint256.Int
	NativeAlloc map[common.Address]*uint256.Int
}

// WholeTokens scales a whole-token count by 10^18.
func WholeTokens(n uint64) *uint256.Int {
	unit := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(TokenDecimals))
	return new(uint256.Int).Mul(uint256.NewInt(n), unit)
}

// Bootstrap applies g unless a genesis was applied before. It reports
// whether anything was written.
func (s *Service) Bootstrap(ctx context.Context, g Genesis) (bool, error) {
	if g.Owner == (common.Address{}) && len(g.Supplies) > 0 {
		return false, fmt.Errorf("genesis owner: %w", domain.ErrZeroAddress)
	}
	marker := domain.BalanceKey{Book: domain.BookMeta, Asset: domain.Native(), Owner: s.vault.Address()}

	call := Call{Method: "genesis", From: g.Owner, To: s.vault.Address()}
	receipt, err := s.host.Execute(ctx, call, func(session *Session) error {
		applied, err := session.Get(marker)
		if err != nil {
			return err
		}
		if !applied.IsZero() {
			return errGenesisApplied
		}
		for _, addr := range sortedAddresses(g.Supplies) {
			token, ok := s.tokens.Lookup(addr)
			if !ok {
				return fmt.Errorf("%w: %s", domain.ErrUnknownToken, domain.FormatAddress(addr))
			}
			if err := token.Mint(session, g.Owner, g.Supplies[addr]); err != nil {
				return err
			}
		}
		for _, addr := range sortedAddresses(g.NativeAlloc) {
			if err := s.native.Mint(session, addr, g.NativeAlloc[addr]); err != nil {
				return err
			}
		}
		return session.Put(marker, uint256.NewInt(1))
	})
	if errors.Is(err, errGenesisApplied) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	slog.Info("genesis applied",
		"owner", domain.FormatAddress(g.Owner),
		"tokens", len(g.Supplies),
		"accounts", len(g.NativeAlloc),
		"call_id", receipt.CallID,
	)
	return true, nil
}

func sortedAddresses(m map[common.Address]*uint256.Int) []common.Address {
	keys := make([]common.Address, 0, len(m))
	for addr := range m {
		keys = append(keys, addr)
	}
	sort.Slice(keys, func(a, b int) bool {
		return keys[a].Hex() < keys[b].Hex()
	})
	return keys
}
