package bank

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownUser is returned when an account does not exist.
	ErrUnknownUser = errors.New("unknown user")

	// ErrBadPassword is returned when credentials do not match.
	ErrBadPassword = errors.New("bad password")

	// ErrUserExists is returned when creating an account that already exists.
	ErrUserExists = errors.New("user already exists")

	// ErrInvalidAmount is returned for non-positive amounts.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInsufficientFunds is returned when a debit would overdraw the
	// account net of live debit holds.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrConflictingHold is returned when an account already carries a
	// live debit hold under a different transaction.
	ErrConflictingHold = errors.New("conflicting hold on account")

	// ErrUnknownTxn is returned when committing a transaction with no
	// live hold and no completed record.
	ErrUnknownTxn = errors.New("unknown transaction")

	// ErrNotPrepared is returned when committing a hold that expired
	// before the commit arrived.
	ErrNotPrepared = errors.New("hold expired before commit")
)

// DuplicateTxnError reports a prepare for a transaction this bank has
// already driven to a terminal state. State carries the prior state so
// the coordinator can correlate.
type DuplicateTxnError struct {
	State string
}

func (e *DuplicateTxnError) Error() string {
	return fmt.Sprintf("duplicate transaction (state %s)", e.State)
}
