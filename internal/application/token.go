package application

import (
	"fmt"
	"sort"
	"strings"

	"fsvault/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// FungibleAsset is the ERC-20 surface the vault consumes. The frame's sender
// plays msg.sender: the owner for Transfer and Approve, the spender for
// TransferFrom.
type FungibleAsset interface {
	Address() common.Address
	BalanceOf(s *Session, account common.Address) (*uint256.Int, error)
	Allowance(s *Session, owner, spender common.Address) (*uint256.Int, error)
	Approve(s *Session, spender common.Address, amount *uint256.Int) (bool, error)
	Transfer(s *Session, to common.Address, amount *uint256.Int) (bool, error)
	TransferFrom(s *Session, owner, to common.Address, amount *uint256.Int) (bool, error)
}

type TokenRegistry interface {
	Token(addr common.Address) (FungibleAsset, error)
}

// TokenDecimals matches the 18 decimal units used by parseEther.
const TokenDecimals = 18

var maxUint256 = new(uint256.Int).SetAllOne()

// Token is an ERC-20 ledger kept in BookToken, BookAllowance and BookSupply.
type Token struct {
	address common.Address
	symbol  string
}

func NewToken(address common.Address, symbol string) (*Token, error) {
	if address == (common.Address{}) {
		return nil, fmt.Errorf("token %q: %w", symbol, domain.ErrZeroAddress)
	}
	return &Token{address: address, symbol: strings.TrimSpace(symbol)}, nil
}

func (t *Token) Address() common.Address {
	return t.address
}

func (t *Token) Symbol() string {
	return t.symbol
}

func (t *Token) Decimals() int {
	return TokenDecimals
}

func (t *Token) TotalSupply(s *Session) (*uint256.Int, error) {
	return s.Get(domain.SupplyKey(t.address))
}

func (t *Token) BalanceOf(s *Session, account common.Address) (*uint256.Int, error) {
	return s.Get(domain.TokenBalanceKey(t.address, account))
}

func (t *Token) Allowance(s *Session, owner, spender common.Address) (*uint256.Int, error) {
	return s.Get(domain.AllowanceKey(t.address, owner, spender))
}

func (t *Token) Approve(s *Session, spender common.Address, amount *uint256.Int) (bool, error) {
	owner := s.Sender()
	if spender == (common.Address{}) {
		return false, fmt.Errorf("approve: %w", domain.ErrZeroAddress)
	}
	if err := s.Put(domain.AllowanceKey(t.address, owner, spender), amount); err != nil {
		return false, err
	}
	s.Emit(domain.Event{Type: domain.EventApproval, Asset: domain.Token(t.address), From: owner, To: spender, Amount: amount})
	return true, nil
}

func (t *Token) Transfer(s *Session, to common.Address, amount *uint256.Int) (bool, error) {
	if err := t.move(s, s.Sender(), to, amount); err != nil {
		return false, err
	}
	return true, nil
}

func (t *Token) TransferFrom(s *Session, owner, to common.Address, amount *uint256.Int) (bool, error) {
	spender := s.Sender()
	key := domain.AllowanceKey(t.address, owner, spender)
	allowance, err := s.Get(key)
	if err != nil {
		return false, err
	}
	if !allowance.Eq(maxUint256) {
		if allowance.Lt(amount) {
			return false, fmt.Errorf("%w: allowance %s, needed %s", domain.ErrERC20InsufficientAllowance, allowance.Dec(), amount.Dec())
		}
		if err := s.Put(key, new(uint256.Int).Sub(allowance, amount)); err != nil {
			return false, err
		}
	}
	if err := t.move(s, owner, to, amount); err != nil {
		return false, err
	}
	return true, nil
}

// Mint creates amount for to and grows the supply.
func (t *Token) Mint(s *Session, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return fmt.Errorf("mint: %w", domain.ErrZeroAddress)
	}
	if err := credit(s, domain.SupplyKey(t.address), amount); err != nil {
		return err
	}
	if err := credit(s, domain.TokenBalanceKey(t.address, to), amount); err != nil {
		return err
	}
	s.Emit(domain.Event{Type: domain.EventTransfer, Asset: domain.Token(t.address), To: to, Amount: amount})
	return nil
}

func (t *Token) move(s *Session, from, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return fmt.Errorf("transfer: %w", domain.ErrZeroAddress)
	}
	fromKey := domain.TokenBalanceKey(t.address, from)
	balance, err := s.Get(fromKey)
	if err != nil {
		return err
	}
	if balance.Lt(amount) {
		return fmt.Errorf("%w: balance %s, needed %s", domain.ErrERC20InsufficientBalance, balance.Dec(), amount.Dec())
	}
	if from != to {
		if err := s.Put(fromKey, new(uint256.Int).Sub(balance, amount)); err != nil {
			return err
		}
		if err := credit(s, domain.TokenBalanceKey(t.address, to), amount); err != nil {
			return err
		}
	}
	s.Emit(domain.Event{Type: domain.EventTransfer, Asset: domain.Token(t.address), From: from, To: to, Amount: amount})
	return nil
}

// Tokens is the set of token contracts hosted in process.
type Tokens struct {
	byAddress map[common.Address]*Token
}

func NewTokens(tokens ...*Token) (*Tokens, error) {
	registry := &Tokens{byAddress: make(map[common.Address]*Token, len(tokens))}
	for _, token := range tokens {
		if token == nil {
			continue
		}
		if _, ok := registry.byAddress[token.address]; ok {
			return nil, fmt.Errorf("duplicate token %s", domain.FormatAddress(token.address))
		}
		registry.byAddress[token.address] = token
	}
	return registry, nil
}

func (r *Tokens) Token(addr common.Address) (FungibleAsset, error) {
	token, ok := r.Lookup(addr)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownToken, domain.FormatAddress(addr))
	}
	return token, nil
}

func (r *Tokens) Lookup(addr common.Address) (*Token, bool) {
	token, ok := r.byAddress[addr]
	return token, ok
}

// List returns tokens ordered by address.
func (r *Tokens) List() []*Token {
	tokens := make([]*Token, 0, len(r.byAddress))
	for _, token := range r.byAddress {
		tokens = append(tokens, token)
	}
	sort.Slice(tokens, func(a, b int) bool {
		return strings.Compare(tokens[a].address.Hex(), tokens[b].address.Hex()) < 0
	})
	return tokens
}
