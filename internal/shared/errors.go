package shared

import "errors"

var (
	// ErrValidation indicates malformed or out-of-range input.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound indicates a missing invoice, installment or customer.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a business-rule conflict such as overpayment or
	// a concurrent stock update.
	ErrConflict = errors.New("conflict")
	// ErrIntegrity indicates a violated bookkeeping invariant. Callers treat
	// it as a bug, not as user error.
	ErrIntegrity = errors.New("integrity violation")
)
