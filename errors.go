package shelf

import (
	"fmt"

	"github.com/kgrid/kgrid-shelf-sub000/core"
)

// Sentinel errors for common failure conditions.
// Re-exported from core package.
var (
	// ErrNotFound indicates the requested object or resource does not exist.
	ErrNotFound = core.ErrNotFound

	// ErrBadArchive indicates a malformed zip or a missing metadata entry.
	ErrBadArchive = core.ErrBadArchive

	// ErrEntryNotFound indicates a requested archive entry is absent.
	ErrEntryNotFound = core.ErrEntryNotFound

	// ErrInvalidSpec indicates a specification is referenced but unreadable or malformed.
	ErrInvalidSpec = core.ErrInvalidSpec

	// ErrInvalidMetadata indicates a metadata document failed validation.
	ErrInvalidMetadata = core.ErrInvalidMetadata

	// ErrInvalidIdentifier indicates an identifier could not be parsed.
	ErrInvalidIdentifier = core.ErrInvalidIdentifier

	// ErrStoreUnavailable indicates the backend is unreachable or returned an error.
	ErrStoreUnavailable = core.ErrStoreUnavailable

	// ErrTransactionFailure indicates a commit or rollback itself failed.
	ErrTransactionFailure = core.ErrTransactionFailure

	// ErrUnauthorized indicates the backend rejected the credentials.
	ErrUnauthorized = core.ErrUnauthorized

	// ErrPathTraversal indicates a path traversal attack was detected.
	ErrPathTraversal = core.ErrPathTraversal

	// ErrExtractLimits indicates extraction safety limits were exceeded.
	ErrExtractLimits = core.ErrExtractLimits

	// ErrClosed indicates an operation was attempted on a closed resource.
	ErrClosed = core.ErrClosed

	// ErrUnsupported indicates the configured store cannot perform the operation.
	ErrUnsupported = core.ErrUnsupported
)

// Error is returned by the import and export pipelines. It records the
// operation and, when known, the object it concerned.
type Error struct {
	Op  string
	ID  Identifier
	Err error
}

func (e *Error) Error() string {
	if e.ID.IsZero() {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.ID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func opError(op string, id Identifier, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, ID: id, Err: err}
}
