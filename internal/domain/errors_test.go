package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
)

func TestErrorMessages(t *testing.T) {
	deposit := &InsufficientDepositAmountError{Actual: uint256.NewInt(0), Requested: uint256.NewInt(0)}
	assert.Equal(t, "InsufficientDepositAmount(0, 0)", deposit.Error())

	allowance := &InsufficientAllowanceError{Actual: uint256.NewInt(3), Requested: uint256.NewInt(10)}
	assert.Equal(t, "InsufficientAllowance(3, 10)", allowance.Error())

	withdraw := &InsufficientWithdrawAmountError{Requested: uint256.NewInt(5000), Available: uint256.NewInt(500)}
	assert.Equal(t, "InsufficientWithdrawAmount(5000, 500)", withdraw.Error())
}

func TestDescribeError(t *testing.T) {
	cases := []struct {
		err  error
		code string
		args []string
	}{
		{
			err:  &InsufficientDepositAmountError{Actual: uint256.NewInt(1), Requested: uint256.NewInt(2)},
			code: "InsufficientDepositAmount",
			args: []string{"1", "2"},
		},
		{
			err:  fmt.Errorf("wrapped: %w", &InsufficientAllowanceError{Actual: uint256.NewInt(0), Requested: uint256.NewInt(9)}),
			code: "InsufficientAllowance",
			args: []string{"0", "9"},
		},
		{
			err:  &InsufficientWithdrawAmountError{Requested: uint256.NewInt(7), Available: nil},
			code: "InsufficientWithdrawAmount",
			args: []string{"7", "0"},
		},
		{err: fmt.Errorf("%w: 0xdead", ErrUnknownToken), code: "UnknownToken"},
		{err: ErrBalanceOverflow, code: "BalanceOverflow"},
		{err: fmt.Errorf("%w: 0xbad: %w", ErrPaymentRejected, errors.New("nope")), code: "PaymentRejected"},
	}
	for _, tc := range cases {
		described, ok := DescribeError(tc.err)
		assert.True(t, ok, tc.code)
		assert.Equal(t, tc.code, described.Code)
		assert.Equal(t, tc.args, described.Args)
	}

	_, ok := DescribeError(errors.New("disk full"))
	assert.False(t, ok)
}
