package settlement

import "errors"

var (
	// ErrUnauthorizedCallback: a settlement callback with no matching pending
	// operation, from another pool, of the wrong kind or with a foreign token.
	ErrUnauthorizedCallback = errors.New("settlement: unauthorized callback")
	// ErrTransferFailure: a token leg could not be paid to the pool.
	ErrTransferFailure = errors.New("settlement: transfer failure")
	// ErrUnsettled: the pool returned without calling back.
	ErrUnsettled = errors.New("settlement: pool returned without settling")

	ErrInvalidDirection = errors.New("settlement: invalid swap direction")
	ErrZeroAmount       = errors.New("settlement: zero amount")
)
