package reconcile

import "errors"

var (
	// ErrIndexRequired is returned when a vector index is not provided.
	ErrIndexRequired = errors.New("vector index required")

	// ErrLedgerRequired is returned when a ledger is not provided.
	ErrLedgerRequired = errors.New("ledger required")
)
