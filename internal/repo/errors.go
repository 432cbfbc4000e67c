package repo

import "errors"

var (
	// ErrNotFound indicates a path does not exist at the requested revision.
	ErrNotFound = errors.New("path not found")

	// ErrNoSuchRevision indicates the revision has not been committed.
	ErrNoSuchRevision = errors.New("no such revision")

	// ErrStorage indicates the backing store could not be read or written.
	ErrStorage = errors.New("storage failure")

	// ErrTxnConflict indicates a transaction operation does not apply to its base tree.
	ErrTxnConflict = errors.New("transaction conflict")
)
