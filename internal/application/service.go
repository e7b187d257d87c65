package application

import (
	"context"
	"errors"

	"fsvault/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var ErrAmountRequired = errors.New("amount is required")

// Service is the context-based surface over the vault used by transports.
// Writes run through the host; reads go straight to committed state.
type Service struct {
	host   *Host
	vault  *Vault
	tokens *Tokens
	native *NativeLedger
	store  Store
}

func NewService(store Store, host *Host, vault *Vault, tokens *Tokens, native *NativeLedger) (*Service, error) {
	if store == nil || host == nil || vault == nil || tokens == nil || native == nil {
		return nil, errors.New("service dependencies must not be nil")
	}
	return &Service{host: host, vault: vault, tokens: tokens, native: native, store: store}, nil
}

func (s *Service) Vault() *Vault {
	return s.vault
}

func (s *Service) Tokens() []*Token {
	return s.tokens.List()
}

func (s *Service) InterfaceID() [4]byte {
	return s.vault.InterfaceID()
}

// Deposit dispatches on the asset variant.
func (s *Service) Deposit(ctx context.Context, from common.Address, asset domain.Asset, amount *uint256.Int) (domain.Receipt, error) {
	if token, ok := asset.TokenAddress(); ok {
		return s.DepositToken(ctx, from, token, amount)
	}
	return s.DepositNative(ctx, from, amount)
}

func (s *Service) Withdraw(ctx context.Context, from common.Address, asset domain.Asset, amount *uint256.Int) (domain.Receipt, error) {
	if token, ok := asset.TokenAddress(); ok {
		return s.WithdrawToken(ctx, from, token, amount)
	}
	return s.WithdrawNative(ctx, from, amount)
}

func (s *Service) DepositNative(ctx context.Context, from common.Address, amount *uint256.Int) (domain.Receipt, error) {
	if amount == nil {
		return domain.Receipt{}, ErrAmountRequired
	}
	call := Call{Method: "depositEth", From: from, To: s.vault.Address(), Value: amount}
	return s.host.Execute(ctx, call, s.vault.DepositNative)
}

func (s *Service) DepositToken(ctx context.Context, from, token common.Address, amount *uint256.Int) (domain.Receipt, error) {
	if amount == nil {
		return domain.Receipt{}, ErrAmountRequired
	}
	method := "depositERC20"
	if token == s.vault.RegisteredToken() {
		method = "depositFST"
	}
	call := Call{Method: method, From: from, To: s.vault.Address()}
	return s.host.Execute(ctx, call, func(session *Session) error {
		return s.vault.DepositToken(session, token, amount)
	})
}

func (s *Service) WithdrawNative(ctx context.Context, from common.Address, amount *uint256.Int) (domain.Receipt, error) {
	if amount == nil {
		return domain.Receipt{}, ErrAmountRequired
	}
	call := Call{Method: "withdrawEth", From: from, To: s.vault.Address()}
	return s.host.Execute(ctx, call, func(session *Session) error {
		return s.vault.WithdrawNative(session, amount)
	})
}

func (s *Service) WithdrawToken(ctx context.Context, from, token common.Address, amount *uint256.Int) (domain.Receipt, error) {
	if amount == nil {
		return domain.Receipt{}, ErrAmountRequired
	}
	method := "withdrawErc20"
	if token == s.vault.RegisteredToken() {
		method = "withdrawFST"
	}
	call := Call{Method: method, From: from, To: s.vault.Address()}
	return s.host.Execute(ctx, call, func(session *Session) error {
		return s.vault.WithdrawToken(session, token, amount)
	})
}

// Approve lets spender pull up to amount of token from owner. It must precede
// DepositToken with the vault as spender.
func (s *Service) Approve(ctx context.Context, owner, token, spender common.Address, amount *uint256.Int) (domain.Receipt, error) {
	if amount == nil {
		return domain.Receipt{}, ErrAmountRequired
	}
	asset, err := s.tokens.Token(token)
	if err != nil {
		return domain.Receipt{}, err
	}
	if owner == s.vault.Address() {
		return domain.Receipt{}, domain.ErrVaultCaller
	}
	if spender == (common.Address{}) {
		spender = s.vault.Address()
	}
	call := Call{Method: "approve", From: owner, To: token}
	return s.host.Execute(ctx, call, func(session *Session) error {
		_, err := asset.Approve(session, spender, amount)
		return err
	})
}

func (s *Service) Transfer(ctx context.Context, from, token, to common.Address, amount *uint256.Int) (domain.Receipt, error) {
	if amount == nil {
		return domain.Receipt{}, ErrAmountRequired
	}
	asset, err := s.tokens.Token(token)
	if err != nil {
		return domain.Receipt{}, err
	}
	// Vault custody only leaves through withdrawals.
	if from == s.vault.Address() {
		return domain.Receipt{}, domain.ErrVaultCaller
	}
	call := Call{Method: "transfer", From: from, To: token}
	return s.host.Execute(ctx, call, func(session *Session) error {
		ok, err := asset.Transfer(session, to, amount)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrTransferFailed
		}
		return nil
	})
}

// Balance is the vault ledger entry for account and asset.
func (s *Service) Balance(ctx context.Context, account common.Address, asset domain.Asset) (*uint256.Int, error) {
	if token, ok := asset.TokenAddress(); ok {
		if _, err := s.tokens.Token(token); err != nil {
			return nil, err
		}
	}
	return s.store.Get(ctx, domain.VaultKey(account, asset))
}

// Balances lists stored amounts; the vault book is the default.
func (s *Service) Balances(ctx context.Context, filter BalanceQueryFilter) ([]domain.Balance, error) {
	if filter.Book == "" {
		filter.Book = domain.BookVault
	}
	filter.Limit = NormalizeLimit(filter.Limit)
	return s.store.QueryBalances(ctx, filter)
}

// TokenBalance is what account holds in the token contract, outside the vault.
func (s *Service) TokenBalance(ctx context.Context, token, account common.Address) (*uint256.Int, error) {
	if _, err := s.tokens.Token(token); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, domain.TokenBalanceKey(token, account))
}

func (s *Service) Allowance(ctx context.Context, token, owner, spender common.Address) (*uint256.Int, error) {
	if _, err := s.tokens.Token(token); err != nil {
		return nil, err
	}
	if spender == (common.Address{}) {
		spender = s.vault.Address()
	}
	return s.store.Get(ctx, domain.AllowanceKey(token, owner, spender))
}

func (s *Service) TotalSupply(ctx context.Context, token common.Address) (*uint256.Int, error) {
	if _, err := s.tokens.Token(token); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, domain.SupplyKey(token))
}

func (s *Service) NativeBalance(ctx context.Context, account common.Address) (*uint256.Int, error) {
	return s.store.Get(ctx, domain.NativeKey(account))
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
