// Package shelf stores, imports and exports knowledge objects.
//
// A knowledge object (KO) is a metadata document, optional deployment and
// service specifications, and the artifact files those specifications
// reference. Objects are named by an ARK-style Identifier and persisted in a
// Store: a local directory tree or a remote Fedora Commons repository.
//
// # Basic Usage
//
// Open a shelf on a local directory and import a zip:
//
//	s, err := shelf.NewShelf(shelf.WithStoreURL("./shelf"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	f, _ := os.Open("naan-name-v1.zip")
//	defer f.Close()
//	id, err := s.ImportArchive(ctx, f)
//
//	// Read the stored metadata and export the object again
//	doc, err := s.GetMetadata(ctx, id)
//	err = s.ExportArchive(ctx, id, out)
//
// # Stores
//
// WithStoreURL selects the backend: a path or file:// URL opens a tree
// store, while http(s):// or fedora:http(s):// opens a repository store.
// Imports are atomic on both: artifacts are staged in a transaction and
// published by a single commit.
//
// # Errors
//
// Pipeline failures are returned as *Error values that wrap the sentinel
// errors declared here, so callers test causes with errors.Is:
//
//	if errors.Is(err, shelf.ErrNotFound) {
//	    // ...
//	}
package shelf
