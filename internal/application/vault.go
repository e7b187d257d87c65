package application

import (
	"errors"
	"fmt"

	"fsvault/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// VaultInterfaceID is the capability discriminator returned by interfaceId().
// It is an interop constant and is not derived from the method set.
var VaultInterfaceID = [4]byte{0x36, 0x37, 0x2b, 0x07}

type VaultConfig struct {
	Address         common.Address
	RegisteredToken common.Address
}

// Vault custodies native currency and tokens and records what each account
// may withdraw. Every method runs inside a host Session.
type Vault struct {
	address    common.Address
	registered common.Address
	tokens     TokenRegistry
	native     NativeCurrency
}

func NewVault(cfg VaultConfig, tokens TokenRegistry, native NativeCurrency) (*Vault, error) {
	if tokens == nil || native == nil {
		return nil, errors.New("vault dependencies must not be nil")
	}
	if cfg.Address == (common.Address{}) {
		return nil, fmt.Errorf("vault address: %w", domain.ErrZeroAddress)
	}
	if cfg.RegisteredToken == (common.Address{}) {
		return nil, fmt.Errorf("registered token: %w", domain.ErrZeroAddress)
	}
	if _, err := tokens.Token(cfg.RegisteredToken); err != nil {
		return nil, fmt.Errorf("registered token: %w", err)
	}
	return &Vault{address: cfg.Address, registered: cfg.RegisteredToken, tokens: tokens, native: native}, nil
}

func (v *Vault) Address() common.Address {
	return v.address
}

func (v *Vault) RegisteredToken() common.Address {
	return v.registered
}

func (v *Vault) InterfaceID() [4]byte {
	return VaultInterfaceID
}

// Balance reads the ledger entry for account and asset.
func (v *Vault) Balance(s *Session, account common.Address, asset domain.Asset) (*uint256.Int, error) {
	return s.Get(domain.VaultKey(account, asset))
}

// DepositNative credits the value attached to the call. The host has already
// moved that value into the vault's native account.
func (v *Vault) DepositNative(s *Session) error {
	if err := v.checkCaller(s); err != nil {
		return err
	}
	amount := s.Value()
	if amount.IsZero() {
		return &domain.InsufficientDepositAmountError{Actual: new(uint256.Int), Requested: amount}
	}
	return v.record(s, domain.EventDeposit, domain.Native(), amount)
}

// DepositToken pulls amount of token from the caller. The caller's balance is
// checked before the allowance.
func (v *Vault) DepositToken(s *Session, token common.Address, amount *uint256.Int) error {
	if err := v.checkCaller(s); err != nil {
		return err
	}
	asset, err := v.tokens.Token(token)
	if err != nil {
		return err
	}
	caller := s.Sender()

	held, err := asset.BalanceOf(s, caller)
	if err != nil {
		return err
	}
	if held.Lt(amount) {
		return &domain.InsufficientDepositAmountError{Actual: held, Requested: clone(amount)}
	}
	allowance, err := asset.Allowance(s, caller, v.address)
	if err != nil {
		return err
	}
	if allowance.Lt(amount) {
		return &domain.InsufficientAllowanceError{Actual: allowance, Requested: clone(amount)}
	}

	frame, err := s.Call(v.address)
	if err != nil {
		return err
	}
	ok, err := asset.TransferFrom(frame, caller, v.address, amount)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: transferFrom %s", domain.ErrTransferFailed, domain.FormatAddress(token))
	}
	return v.record(s, domain.EventDeposit, domain.Token(token), amount)
}

// DepositRegistered deposits the protocol token.
func (v *Vault) DepositRegistered(s *Session, amount *uint256.Int) error {
	return v.DepositToken(s, v.registered, amount)
}

func (v *Vault) WithdrawNative(s *Session, amount *uint256.Int) error {
	return v.withdraw(s, domain.Native(), amount, func(frame *Session, to common.Address) error {
		return v.native.Send(frame, to, amount)
	})
}

func (v *Vault) WithdrawToken(s *Session, token common.Address, amount *uint256.Int) error {
	asset, err := v.tokens.Token(token)
	if err != nil {
		return err
	}
	return v.withdraw(s, domain.Token(token), amount, func(frame *Session, to common.Address) error {
		ok, err := asset.Transfer(frame, to, amount)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: transfer %s", domain.ErrTransferFailed, domain.FormatAddress(token))
		}
		return nil
	})
}

// WithdrawRegistered withdraws the protocol token.
func (v *Vault) WithdrawRegistered(s *Session, amount *uint256.Int) error {
	return v.WithdrawToken(s, v.registered, amount)
}

// withdraw debits the ledger before paying out, so a recipient re-entering
// the vault during payout sees the reduced balance.
func (v *Vault) withdraw(s *Session, asset domain.Asset, amount *uint256.Int, payout func(frame *Session, to common.Address) error) error {
	if err := v.checkCaller(s); err != nil {
		return err
	}
	caller := s.Sender()
	key := domain.VaultKey(caller, asset)
	available, err := s.Get(key)
	if err != nil {
		return err
	}
	if available.Lt(amount) {
		return &domain.InsufficientWithdrawAmountError{Requested: clone(amount), Available: available}
	}
	if err := s.Put(key, new(uint256.Int).Sub(available, amount)); err != nil {
		return err
	}

	frame, err := s.Call(v.address)
	if err != nil {
		return err
	}
	if err := payout(frame, caller); err != nil {
		return err
	}
	s.Emit(domain.Event{Type: domain.EventWithdraw, Asset: asset, From: v.address, To: caller, Amount: amount})
	return nil
}

// checkCaller rejects calls the vault makes on itself. Transfers between the
// vault and itself move nothing, so crediting them would leave the ledger
// above the vault's holdings.
func (v *Vault) checkCaller(s *Session) error {
	if s.Sender() == v.address {
		return domain.ErrVaultCaller
	}
	return nil
}

func (v *Vault) record(s *Session, kind domain.EventType, asset domain.Asset, amount *uint256.Int) error {
	caller := s.Sender()
	if err := credit(s, domain.VaultKey(caller, asset), amount); err != nil {
		return err
	}
	s.Emit(domain.Event{Type: kind, Asset: asset, From: caller, To: v.address, Amount: amount})
	return nil
}

func clone(v *uint256.Int) *uint256.Int {
	return new(uint256.Int).Set(v)
}
