package txnif

import (
	"errors"
	"fmt"
)

var (
	ErrTxnAlreadyCommitted = errors.New("tiledb: txn already committed")
	ErrTxnNotCommitting    = errors.New("tiledb: txn not commiting")
	ErrTxnNotRollbacking   = errors.New("tiledb: txn not rollbacking")
	ErrTxnNotActive        = errors.New("tiledb: txn not active")

	ErrWriteConflict        = errors.New("tiledb: w-w conflict")
	ErrSerializationFailure = errors.New("tiledb: serialization failure")
	ErrLockTimeout          = fmt.Errorf("%w: lock wait timeout", ErrWriteConflict)

	ErrNotFound        = errors.New("tiledb: not found")
	ErrDuplicate       = errors.New("tiledb: duplicate")
	ErrUnknownProtocol = errors.New("tiledb: unknown cc protocol")
)

// IsRetryable reports whether err asks the caller to restart the whole
// transaction.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrWriteConflict) || errors.Is(err, ErrSerializationFailure)
}
