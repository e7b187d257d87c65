package domain

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

// InsufficientDepositAmountError reports a deposit larger than what the caller holds or supplied.
type InsufficientDepositAmountError struct {
	Actual    *uint256.Int
	Requested *uint256.Int
}

func (e *InsufficientDepositAmountError) Error() string {
	return fmt.Sprintf("InsufficientDepositAmount(%s, %s)", dec(e.Actual), dec(e.Requested))
}

// InsufficientAllowanceError reports a token deposit without enough prior approval.
type InsufficientAllowanceError struct {
	Actual    *uint256.Int
	Requested *uint256.Int
}

func (e *InsufficientAllowanceError) Error() string {
	return fmt.Sprintf("InsufficientAllowance(%s, %s)", dec(e.Actual), dec(e.Requested))
}

// InsufficientWithdrawAmountError reports a withdrawal above the recorded balance.
type InsufficientWithdrawAmountError struct {
	Requested *uint256.Int
	Available *uint256.Int
}

func (e *InsufficientWithdrawAmountError) Error() string {
	return fmt.Sprintf("InsufficientWithdrawAmount(%s, %s)", dec(e.Requested), dec(e.Available))
}

var (
	ErrUnknownToken               = errors.New("unknown token")
	ErrInsufficientFunds          = errors.New("insufficient native funds")
	ErrERC20InsufficientBalance   = errors.New("erc20: transfer amount exceeds balance")
	ErrERC20InsufficientAllowance = errors.New("erc20: insufficient allowance")
	ErrTransferFailed             = errors.New("token transfer failed")
	ErrBalanceOverflow            = errors.New("balance overflow")
	ErrPaymentRejected            = errors.New("payment rejected by recipient")
	ErrZeroAddress                = errors.New("zero address")
	ErrVaultCaller                = errors.New("vault address cannot act as caller")
)

// CallError describes a failed call in terms a client can match on:
// the custom error name and its ordered arguments.
type CallError struct {
	Code string
	Args []string
}

// DescribeError maps ledger errors to their custom error names. ok is false
// for errors that are not part of the call-level taxonomy.
func DescribeError(err error) (CallError, bool) {
	var (
		deposit   *InsufficientDepositAmountError
		allowance *InsufficientAllowanceError
		withdraw  *InsufficientWithdrawAmountError
	)
	switch {
	case errors.As(err, &deposit):
		return CallError{Code: "InsufficientDepositAmount", Args: []string{dec(deposit.Actual), dec(deposit.Requested)}}, true
	case errors.As(err, &allowance):
		return CallError{Code: "InsufficientAllowance", Args: []string{dec(allowance.Actual), dec(allowance.Requested)}}, true
	case errors.As(err, &withdraw):
		return CallError{Code: "InsufficientWithdrawAmount", Args: []string{dec(withdraw.Requested), dec(withdraw.Available)}}, true
	case errors.Is(err, ErrUnknownToken):
		return CallError{Code: "UnknownToken"}, true
	case errors.Is(err, ErrInsufficientFunds):
		return CallError{Code: "InsufficientFunds"}, true
	case errors.Is(err, ErrERC20InsufficientBalance):
		return CallError{Code: "ERC20InsufficientBalance"}, true
	case errors.Is(err, ErrERC20InsufficientAllowance):
		return CallError{Code: "ERC20InsufficientAllowance"}, true
	case errors.Is(err, ErrTransferFailed):
		return CallError{Code: "TransferFailed"}, true
	case errors.Is(err, ErrBalanceOverflow):
		return CallError{Code: "BalanceOverflow"}, true
	case errors.Is(err, ErrPaymentRejected):
		return CallError{Code: "PaymentRejected"}, true
	case errors.Is(err, ErrZeroAddress):
		return CallError{Code: "ZeroAddress"}, true
	case errors.Is(err, ErrVaultCaller):
		return CallError{Code: "VaultCaller"}, true
	}
	return CallError{}, false
}

func dec(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
