package core

import "context"

// Tx is an opaque transaction token returned by Store.Begin.
type Tx string

// Resources is the read/write surface shared by a store and its
// transaction-scoped views. Paths are slash separated and relative to the
// store root.
type Resources interface {
	// Children lists the containers directly under path, sorted by name.
	Children(ctx context.Context, path string) ([]string, error)

	// Metadata reads the metadata document at path. A container path
	// resolves to the metadata document inside it. Backends return the
	// saved fields, but only the tree store preserves key order and
	// formatting; a document saved without @id comes back with the
	// location-derived @id the repository assigns.
	Metadata(ctx context.Context, path string) (Document, error)

	// Binary reads the resource at path. A metadata path yields the
	// JSON encoding of the metadata document.
	Binary(ctx context.Context, path string) ([]byte, error)

	// SaveMetadata creates or replaces the metadata document at path.
	SaveMetadata(ctx context.Context, path string, doc Document) error

	// SaveBinary creates or replaces the resource at path.
	SaveBinary(ctx context.Context, path string, data []byte) error

	// CreateContainer creates an intermediate grouping node.
	CreateContainer(ctx context.Context, path string) error

	// Delete removes path and everything beneath it. Deleting a missing
	// path is not an error.
	Delete(ctx context.Context, path string) error
}

// Store is a knowledge object storage backend.
type Store interface {
	Resources

	// Begin opens a transaction.
	Begin(ctx context.Context) (Tx, error)

	// Commit publishes everything written within tx.
	Commit(ctx context.Context, tx Tx) error

	// Rollback discards everything written within tx.
	Rollback(ctx context.Context, tx Tx) error

	// Within returns a view whose reads and writes are scoped to tx.
	Within(tx Tx) Resources
}
