package vault

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates a read or delete of an absent or tombstoned file.
var ErrNotFound = errors.New("not found")

// TransactionError indicates a mutating operation failed to commit. The
// transaction was rolled back; no partial state is observable.
type TransactionError struct {
	Op     string
	Folder string
	File   string
	Err    error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("%s %s/%s: transaction failed: %v", e.Op, e.Folder, e.File, e.Err)
}

func (e *TransactionError) Unwrap() error {
	return e.Err
}

// ManifestError indicates the released-revisions manifest could not be
// read. A missing manifest file is not an error; it means nothing has been
// released yet.
type ManifestError struct {
	Folder string
	Path   string
	Err    error
}

func (e *ManifestError) Error() string {
	return fmt.Sprintf("failed to read manifest for %s (%s): %v", e.Folder, e.Path, e.Err)
}

func (e *ManifestError) Unwrap() error {
	return e.Err
}

// RegistrationError indicates folder registration failed. Registration runs
// at startup; hosts should treat this as a hard dependency failure.
type RegistrationError struct {
	Folder string
	Err    error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("failed to register folder %s: %v", e.Folder, e.Err)
}

func (e *RegistrationError) Unwrap() error {
	return e.Err
}
