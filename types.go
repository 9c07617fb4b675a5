package shelf

import "github.com/kgrid/kgrid-shelf-sub000/core"

// Identifier names a knowledge object or one version of it.
// Re-exported from core package.
type Identifier = core.Identifier

// Document is a metadata document or parsed specification.
// Re-exported from core package.
type Document = core.Document

// Store is a knowledge object storage backend.
// Re-exported from core package.
type Store = core.Store

// Resources is the read/write surface of a store or transaction view.
// Re-exported from core package.
type Resources = core.Resources

// Tx is a transaction token.
// Re-exported from core package.
type Tx = core.Tx

// ExtractLimits defines safety limits for archive extraction.
// Re-exported from core package.
type ExtractLimits = core.ExtractLimits

// MetadataFile is the metadata document name inside an object.
const MetadataFile = core.MetadataFile

// DefaultExtractLimits bounds archives to 1024 entries and 100 MiB.
var DefaultExtractLimits = core.DefaultExtractLimits

// ParseIdentifier parses any textual rendering of an identifier.
func ParseIdentifier(s string) (Identifier, error) {
	return core.ParseIdentifier(s)
}

// NewIdentifier builds an identifier from its parts. An empty version
// means unversioned.
func NewIdentifier(naan, name, version string) (Identifier, error) {
	return core.NewIdentifier(naan, name, version)
}
