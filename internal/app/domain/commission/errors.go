package commission

import "errors"

var (
	// ErrInvalidInput indicates malformed distribution input: negative
	// volume, mismatched lengths or weights off the simplex. The ledger
	// performs no mutation when it is returned.
	ErrInvalidInput = errors.New("commission: invalid input")

	// ErrNothingToWithdraw indicates a zero or absent balance. This is a
	// normal outcome, not a system error.
	ErrNothingToWithdraw = errors.New("commission: nothing to withdraw")

	// ErrNotFound indicates a record or entry lookup missed.
	ErrNotFound = errors.New("commission: not found")
)
