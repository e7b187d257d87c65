package application

import (
	"fmt"
	"sync"

	"fsvault/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// NativeCurrency moves the chain's base asset between accounts.
type NativeCurrency interface {
	BalanceOf(s *Session, account common.Address) (*uint256.Int, error)
	// Transfer attaches value to an inbound call. Receive hooks do not run.
	Transfer(s *Session, from, to common.Address, amount *uint256.Int) error
	// Send pays amount from the current frame's sender to to and runs the
	// recipient's receive hook, if any.
	Send(s *Session, to common.Address, amount *uint256.Int) error
}

// Receiver is code that runs when an account is paid with Send. s.Sender()
// is the payer; returning an error rejects the payment and fails the call.
type Receiver interface {
	Receive(s *Session, amount *uint256.Int) error
}

type ReceiverFunc func(s *Session, amount *uint256.Int) error

func (f ReceiverFunc) Receive(s *Session, amount *uint256.Int) error {
	return f(s, amount)
}

// NativeLedger keeps native currency in BookNative.
type NativeLedger struct {
	mu        sync.RWMutex
	receivers map[common.Address]Receiver
}

func NewNativeLedger() *NativeLedger {
	return &NativeLedger{receivers: make(map[common.Address]Receiver)}
}

// SetReceiver installs a receive hook for addr; nil removes it. Hooks are the
// in-process stand-in for contract recipients: Send runs the hook in a frame
// called by the payer, so it can revert the payment or re-enter the vault.
func (n *NativeLedger) SetReceiver(addr common.Address, receiver Receiver) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if receiver == nil {
		delete(n.receivers, addr)
		return
	}
	n.receivers[addr] = receiver
}

func (n *NativeLedger) BalanceOf(s *Session, account common.Address) (*uint256.Int, error) {
	return s.Get(domain.NativeKey(account))
}

func (n *NativeLedger) Transfer(s *Session, from, to common.Address, amount *uint256.Int) error {
	if err := n.move(s, from, to, amount); err != nil {
		return err
	}
	s.Emit(domain.Event{Type: domain.EventNativeTransfer, Asset: domain.Native(), From: from, To: to, Amount: amount})
	return nil
}

func (n *NativeLedger) Send(s *Session, to common.Address, amount *uint256.Int) error {
	from := s.Sender()
	if err := n.Transfer(s, from, to, amount); err != nil {
		return err
	}
	n.mu.RLock()
	receiver := n.receivers[to]
	n.mu.RUnlock()
	if receiver == nil {
		return nil
	}
	frame, err := s.Call(from)
	if err != nil {
		return err
	}
	if err := receiver.Receive(frame, amount); err != nil {
		return fmt.Errorf("%w: %s: %w", domain.ErrPaymentRejected, domain.FormatAddress(to), err)
	}
	return nil
}

// Mint credits amount out of thin air. Only genesis uses it.
func (n *NativeLedger) Mint(s *Session, to common.Address, amount *uint256.Int) error {
	if err := credit(s, domain.NativeKey(to), amount); err != nil {
		return err
	}
	s.Emit(domain.Event{Type: domain.EventNativeTransfer, Asset: domain.Native(), To: to, Amount: amount})
	return nil
}

func (n *NativeLedger) move(s *Session, from, to common.Address, amount *uint256.Int) error {
	fromKey := domain.NativeKey(from)
	balance, err := s.Get(fromKey)
	if err != nil {
		return err
	}
	if balance.Lt(amount) {
		return fmt.Errorf("%w: %s has %s, needs %s", domain.ErrInsufficientFunds, domain.FormatAddress(from), balance.Dec(), amount.Dec())
	}
	if from == to {
		return nil
	}
	if err := s.Put(fromKey, new(uint256.Int).Sub(balance, amount)); err != nil {
		return err
	}
	return credit(s, domain.NativeKey(to), amount)
}
