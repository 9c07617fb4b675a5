// Package core provides the shared types and interfaces for shelf.
//
// This package exists to break import cycles between the root shelf package
// and internal implementation packages. The shelf package re-exports the
// public types from this package, so external users should import shelf
// directly, not shelf/core.
package core

import "errors"

// Sentinel errors for common failure conditions.
var (
	// ErrNotFound indicates no resource resolves at the requested location.
	ErrNotFound = errors.New("shelf: not found")

	// ErrBadArchive indicates a malformed zip or a missing metadata entry.
	ErrBadArchive = errors.New("shelf: bad archive")

	// ErrEntryNotFound indicates a requested archive entry is absent.
	ErrEntryNotFound = errors.New("shelf: archive entry not found")

	// ErrInvalidSpec indicates a specification is referenced but unreadable or malformed.
	ErrInvalidSpec = errors.New("shelf: invalid specification")

	// ErrInvalidMetadata indicates a metadata document failed validation.
	ErrInvalidMetadata = errors.New("shelf: invalid metadata")

	// ErrInvalidIdentifier indicates an identifier could not be parsed.
	ErrInvalidIdentifier = errors.New("shelf: invalid identifier")

	// ErrStoreUnavailable indicates the backend is unreachable or answered with an error.
	ErrStoreUnavailable = errors.New("shelf: store unavailable")

	// ErrTransactionFailure indicates a commit or rollback itself failed.
	ErrTransactionFailure = errors.New("shelf: transaction failure")

	// ErrUnauthorized indicates the backend rejected the credentials.
	ErrUnauthorized = errors.New("shelf: unauthorized")

	// ErrPathTraversal indicates a path escaping its root was detected.
	ErrPathTraversal = errors.New("shelf: path traversal detected")

	// ErrExtractLimits indicates extraction safety limits were exceeded.
	ErrExtractLimits = errors.New("shelf: extraction limits exceeded")

	// ErrClosed indicates an operation was attempted on a closed resource.
	ErrClosed = errors.New("shelf: resource closed")

	// ErrUnsupported indicates the configured store cannot perform the operation.
	ErrUnsupported = errors.New("shelf: operation not supported by store")
)

// ExtractLimits defines safety limits for archive extraction.
type ExtractLimits struct {
	MaxFiles     int   // Maximum number of files (0 = no limit)
	MaxTotalSize int64 // Maximum total extracted size (0 = no limit)
	MaxFileSize  int64 // Maximum single file size (0 = no limit)
}

// DefaultExtractLimits bounds archives to 1024 entries and 100 MiB uncompressed.
var DefaultExtractLimits = ExtractLimits{
	MaxFiles:     1024,
	MaxTotalSize: 100 << 20,
}
