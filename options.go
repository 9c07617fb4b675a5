package shelf

import (
	"errors"
	"log/slog"
	"net/http"
)

// Option configures a Shelf.
type Option func(*Shelf) error

// ImportOption configures an Import operation.
type ImportOption func(*importConfig)

// ExportOption configures an Export operation.
type ExportOption func(*exportConfig)

// importConfig holds configuration for Import operations.
type importConfig struct {
	progress ProgressCallback
}

// exportConfig holds configuration for Export operations.
type exportConfig struct {
	progress ProgressCallback
}

// WithLogger sets a logger for the shelf and its store. By default, logging
// is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Shelf) error {
		if logger == nil {
			return errors.New("logger is nil")
		}
		s.logger = logger
		return nil
	}
}

// WithStore uses an already constructed store.
func WithStore(store Store) Option {
	return func(s *Shelf) error {
		if store == nil {
			return errors.New("store is nil")
		}
		s.store = store
		return nil
	}
}

// WithStoreURL selects the store backend by location. A plain path or
// file:// URL opens a tree store; http(s):// or fedora:http(s):// opens a
// repository store. Credentials may be given as user and password query
// parameters.
func WithStoreURL(location string) Option {
	return func(s *Shelf) error {
		if location == "" {
			return errors.New("store location is empty")
		}
		s.storeURL = location
		return nil
	}
}

// WithCredentials sets basic authentication credentials for a repository
// store.
func WithCredentials(user, password string) Option {
	return func(s *Shelf) error {
		s.user = user
		s.password = password
		return nil
	}
}

// WithHTTPClient sets the HTTP client used for repository stores and for
// fetching remote manifests and archives.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Shelf) error {
		if c == nil {
			return errors.New("http client is nil")
		}
		s.httpClient = c
		return nil
	}
}

// WithUserAgent sets a custom User-Agent header for repository requests.
func WithUserAgent(ua string) Option {
	return func(s *Shelf) error {
		s.userAgent = ua
		return nil
	}
}

// WithExtractLimits sets safety limits for archive extraction.
func WithExtractLimits(limits ExtractLimits) Option {
	return func(s *Shelf) error {
		if limits.MaxFiles < 0 || limits.MaxTotalSize < 0 || limits.MaxFileSize < 0 {
			return errors.New("extract limits must not be negative")
		}
		s.limits = limits
		return nil
	}
}

// WithTempDir sets the directory archives are extracted under during
// import. The default is the system temp directory.
func WithTempDir(dir string) Option {
	return func(s *Shelf) error {
		s.tempDir = dir
		return nil
	}
}

// WithExportConcurrency bounds the number of concurrent store reads during
// export.
func WithExportConcurrency(n int) Option {
	return func(s *Shelf) error {
		if n < 1 {
			return errors.New("export concurrency must be at least 1")
		}
		s.exportConcurrency = n
		return nil
	}
}

// WithImportProgress reports bytes read from the archive stream.
func WithImportProgress(cb ProgressCallback) ImportOption {
	return func(c *importConfig) {
		c.progress = cb
	}
}

// WithExportProgress reports bytes fetched from the store.
func WithExportProgress(cb ProgressCallback) ExportOption {
	return func(c *exportConfig) {
		c.progress = cb
	}
}
