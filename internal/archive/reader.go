// Package archive moves knowledge objects in and out of zip files.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/klauspost/compress/zip"

	"github.com/kgrid/kgrid-shelf-sub000/core"
	"github.com/kgrid/kgrid-shelf-sub000/internal/progress"
	"github.com/kgrid/kgrid-shelf-sub000/internal/safepath"
)

const spoolName = "archive.zip"

// Option configures Open.
type Option func(*options)

type options struct {
	limits   core.ExtractLimits
	tempDir  string
	progress progress.Callback
	logger   *slog.Logger
}

// WithLimits sets extraction limits. The default is core.DefaultExtractLimits.
func WithLimits(l core.ExtractLimits) Option {
	return func(o *options) { o.limits = l }
}

// WithTempDir sets the parent of the extraction directory.
func WithTempDir(dir string) Option {
	return func(o *options) { o.tempDir = dir }
}

// WithProgress reports bytes read from the input stream.
func WithProgress(cb progress.Callback) Option {
	return func(o *options) { o.progress = cb }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// Reader is a zip archive extracted to a private temporary directory.
type Reader struct {
	dir     string
	entries []string
	index   map[string]struct{}

	mu     sync.Mutex
	closed bool
}

// Open spools r to disk, validates every entry and extracts the archive.
// A stream that is not a zip fails with core.ErrBadArchive.
func Open(ctx context.Context, r io.Reader, opts ...Option) (*Reader, error) {
	o := options{
		limits: core.DefaultExtractLimits,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(&o)
	}

	dir, err := os.MkdirTemp(o.tempDir, "shelf-archive-*")
	if err != nil {
		return nil, fmt.Errorf("create extraction directory: %w", err)
	}
	rd := &Reader{dir: dir, index: make(map[string]struct{})}
	if err := rd.load(ctx, r, o); err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}
	return rd, nil
}

func (rd *Reader) load(ctx context.Context, r io.Reader, o options) error {
	spool := filepath.Join(rd.dir, spoolName)
	f, err := os.OpenFile(spool, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("create spool file: %w", err)
	}
	defer func() {
		_ = f.Close()
		_ = os.Remove(spool)
	}()

	buf := make([]byte, copyBufferSize)
	size, err := copyWithContext(ctx, f, progress.NewReader(r, progress.Size(r), o.progress), buf)
	if err != nil {
		return fmt.Errorf("read archive: %w", err)
	}

	zr, err := zip.NewReader(f, size)
	switch {
	case err != nil && strings.Contains(err.Error(), "insecure file path"):
		// Some zip readers refuse non-local names up front.
		return fmt.Errorf("%w: %w: %v", core.ErrBadArchive, core.ErrPathTraversal, err)
	case err != nil:
		return fmt.Errorf("%w: %v", core.ErrBadArchive, err)
	}

	validator := safepath.NewValidator()
	files := make([]*zip.File, 0, len(zr.File))
	names := make([]string, 0, len(zr.File))
	checks := make([]safepath.Entry, 0, len(zr.File))
	for _, zf := range zr.File {
		if zf.FileInfo().IsDir() || strings.HasSuffix(zf.Name, "/") {
			continue
		}
		if isJunk(zf.Name) {
			o.logger.Debug("skipping archive entry", "name", zf.Name)
			continue
		}
		if zf.UncompressedSize64 > math.MaxInt64 {
			return fmt.Errorf("%w: %w: %s", core.ErrBadArchive, core.ErrExtractLimits, zf.Name)
		}
		name, err := validator.Clean(zf.Name)
		if err != nil {
			return fmt.Errorf("%w: %w", core.ErrBadArchive, err)
		}
		files = append(files, zf)
		names = append(names, name)
		checks = append(checks, safepath.Entry{Name: name, Size: int64(zf.UncompressedSize64)})
	}
	if err := validator.ValidateEntries(checks, o.limits); err != nil {
		return fmt.Errorf("%w: %w", core.ErrBadArchive, err)
	}

	for i, zf := range files {
		if err := rd.extract(ctx, zf, names[i], buf); err != nil {
			return err
		}
		rd.index[names[i]] = struct{}{}
		rd.entries = append(rd.entries, names[i])
	}
	slices.Sort(rd.entries)
	o.logger.Debug("archive extracted", "entries", len(rd.entries), "bytes", size)
	return nil
}

func (rd *Reader) extract(ctx context.Context, zf *zip.File, name string, buf []byte) error {
	if _, dup := rd.index[name]; dup {
		return fmt.Errorf("%w: duplicate entry %s", core.ErrBadArchive, name)
	}
	dest := filepath.Join(rd.dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(dest), 0o700); err != nil {
		return fmt.Errorf("extract %s: %w", name, err)
	}

	src, err := zf.Open()
	if err != nil {
		return fmt.Errorf("%w: %s: %v", core.ErrBadArchive, name, err)
	}
	defer src.Close()

	//nolint:gosec // G304: name validated by safepath
	dst, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("extract %s: %w", name, err)
	}

	// Declared sizes can lie; never write more than was validated.
	declared := int64(zf.UncompressedSize64)
	n, copyErr := copyWithContext(ctx, dst, io.LimitReader(src, declared+1), buf)
	closeErr := dst.Close()
	switch {
	case copyErr != nil && errors.Is(copyErr, ctx.Err()):
		return copyErr
	case copyErr != nil:
		return fmt.Errorf("%w: %s: %v", core.ErrBadArchive, name, copyErr)
	case closeErr != nil:
		return fmt.Errorf("extract %s: %w", name, closeErr)
	case n > declared:
		return fmt.Errorf("%w: %w: %s larger than declared", core.ErrBadArchive, core.ErrExtractLimits, name)
	}
	return nil
}

// Entries returns every extracted entry name in lexical order.
func (rd *Reader) Entries() []string {
	return slices.Clone(rd.entries)
}

// Find returns the entries whose base name is base, shallowest first.
func (rd *Reader) Find(base string) []string {
	var out []string
	for _, e := range rd.entries {
		if e == base || strings.HasSuffix(e, "/"+base) {
			out = append(out, e)
		}
	}
	slices.SortStableFunc(out, func(a, b string) int {
		return strings.Count(a, "/") - strings.Count(b, "/")
	})
	return out
}

// Has reports whether name is an entry of the archive.
func (rd *Reader) Has(name string) bool {
	clean, err := safepath.NewValidator().Clean(name)
	if err != nil {
		return false
	}
	_, ok := rd.index[clean]
	return ok
}

// ReadEntry returns the contents of an entry. A missing entry fails with
// core.ErrEntryNotFound.
func (rd *Reader) ReadEntry(name string) ([]byte, error) {
	rd.mu.Lock()
	closed := rd.closed
	rd.mu.Unlock()
	if closed {
		return nil, core.ErrClosed
	}

	clean, err := safepath.NewValidator().Clean(name)
	if err != nil {
		return nil, err
	}
	if _, ok := rd.index[clean]; !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrEntryNotFound, name)
	}
	//nolint:gosec // G304: entry present in the validated index
	return os.ReadFile(filepath.Join(rd.dir, filepath.FromSlash(clean)))
}

// Close removes the extraction directory. It is safe to call more than once.
func (rd *Reader) Close() error {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	if rd.closed {
		return nil
	}
	rd.closed = true
	return os.RemoveAll(rd.dir)
}
