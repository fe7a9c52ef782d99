package txstore

import "errors"

var (
	// ErrTransactionState is returned when BeginTransaction is called while a
	// transaction is already open, or when a transaction left indeterminate by
	// a cancelled call is used before being rolled back.
	ErrTransactionState = errors.New("txstore: invalid transaction state")
	// ErrNoActiveTransaction is returned by operations that need an open
	// transaction.
	ErrNoActiveTransaction = errors.New("txstore: no active transaction")
	// ErrConnectionLost means the underlying connection is gone. Any open
	// transaction is void and every later call fails with this error.
	ErrConnectionLost = errors.New("txstore: connection lost")
	// ErrReadOnlyRole is returned for write statements issued under a
	// read-only role.
	ErrReadOnlyRole = errors.New("txstore: write attempted under read-only role")
	// ErrConstraint wraps integrity constraint violations reported by the
	// database.
	ErrConstraint = errors.New("txstore: constraint violation")
	// ErrConflict wraps deadlocks, serialization failures and lock
	// timeouts. Retrying from the start of the transaction can succeed.
	ErrConflict = errors.New("txstore: transaction conflict")

	ErrUnknownSavepoint = errors.New("txstore: unknown savepoint")
	ErrUnknownRole      = errors.New("txstore: unknown role")
)
