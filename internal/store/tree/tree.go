// Package tree implements a knowledge object store on the local filesystem.
//
// Transactions stage writes in a hidden scratch directory under the store
// root. Commit moves the staged files over their targets and removes the
// scratch directory; rollback only removes it.
package tree

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/kgrid/kgrid-shelf-sub000/core"
	"github.com/kgrid/kgrid-shelf-sub000/internal/safepath"
)

const (
	txPrefix  = ".trx-"
	tmpPrefix = ".tmp-"
	dirMode   = 0o700
	fileMode  = 0o600
)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// Store is a filesystem-backed core.Store.
type Store struct {
	root      string
	logger    *slog.Logger
	validator *safepath.Validator
}

// Compile-time interface implementation check.
var _ core.Store = (*Store)(nil)

// New opens (creating if needed) a store rooted at root.
func New(root string, opts ...Option) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve store root: %w", err)
	}
	if err := os.MkdirAll(abs, dirMode); err != nil {
		return nil, fmt.Errorf("create store root: %w", err)
	}
	s := &Store{
		root:      abs,
		logger:    slog.New(slog.DiscardHandler),
		validator: safepath.NewValidator(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger.Debug("tree store opened", "root", abs)
	return s, nil
}

// Root returns the absolute store root.
func (s *Store) Root() string { return s.root }

// Children lists the visible directories under p.
func (s *Store) Children(_ context.Context, p string) ([]string, error) {
	return s.children(s.root, p)
}

// Metadata reads the metadata document at p.
func (s *Store) Metadata(_ context.Context, p string) (core.Document, error) {
	return s.readMetadata(s.root, p)
}

// Binary reads the file at p.
func (s *Store) Binary(_ context.Context, p string) ([]byte, error) {
	return s.readBinary(s.root, p)
}

// SaveMetadata writes doc as the metadata document at p.
func (s *Store) SaveMetadata(_ context.Context, p string, doc core.Document) error {
	return s.writeMetadata(s.root, p, doc)
}

// SaveBinary writes data to p.
func (s *Store) SaveBinary(_ context.Context, p string, data []byte) error {
	return s.writeBinary(s.root, p, data)
}

// CreateContainer creates the directory p.
func (s *Store) CreateContainer(_ context.Context, p string) error {
	return s.mkdir(s.root, p)
}

// Delete removes p and everything beneath it.
func (s *Store) Delete(_ context.Context, p string) error {
	return s.remove(s.root, p)
}

// Begin creates a scratch directory and returns its token.
func (s *Store) Begin(_ context.Context) (core.Tx, error) {
	tx := core.Tx(txPrefix + uuid.NewString())
	if err := os.Mkdir(filepath.Join(s.root, string(tx)), dirMode); err != nil {
		return "", fmt.Errorf("%w: begin: %v", core.ErrTransactionFailure, err)
	}
	s.logger.Debug("transaction started", "tx", tx)
	return tx, nil
}

// Commit moves every staged file over its target and removes the scratch
// directory.
func (s *Store) Commit(ctx context.Context, tx core.Tx) error {
	scratch, err := s.txDir(tx)
	if err != nil {
		return err
	}
	if _, err := os.Stat(scratch); err != nil {
		return fmt.Errorf("%w: commit %s: %v", core.ErrTransactionFailure, tx, err)
	}

	err = filepath.WalkDir(scratch, func(src string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(scratch, src)
		if err != nil {
			return err
		}
		target := filepath.Join(s.root, rel)
		if d.IsDir() {
			return os.MkdirAll(target, dirMode)
		}
		if strings.HasPrefix(d.Name(), tmpPrefix) {
			return nil
		}
		return moveFile(src, target)
	})
	if err != nil {
		return fmt.Errorf("%w: commit %s: %v", core.ErrTransactionFailure, tx, err)
	}
	if err := os.RemoveAll(scratch); err != nil {
		return fmt.Errorf("%w: commit %s: remove scratch: %v", core.ErrTransactionFailure, tx, err)
	}
	s.logger.Debug("transaction committed", "tx", tx)
	return nil
}

// Rollback removes the scratch directory. Rolling back a transaction whose
// scratch directory is already gone succeeds.
func (s *Store) Rollback(_ context.Context, tx core.Tx) error {
	scratch, err := s.txDir(tx)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(scratch); err != nil {
		return fmt.Errorf("%w: rollback %s: %v", core.ErrTransactionFailure, tx, err)
	}
	s.logger.Debug("transaction rolled back", "tx", tx)
	return nil
}

// Within returns a view that writes into the scratch directory of tx and
// reads staged content before committed content.
func (s *Store) Within(tx core.Tx) core.Resources {
	scratch, err := s.txDir(tx)
	return &view{store: s, scratch: scratch, err: err}
}

func (s *Store) txDir(tx core.Tx) (string, error) {
	name := string(tx)
	if !strings.HasPrefix(name, txPrefix) || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: unknown transaction %q", core.ErrTransactionFailure, name)
	}
	return filepath.Join(s.root, name), nil
}

func (s *Store) locate(dir, p string) (string, error) {
	return s.validator.Within(dir, p)
}

func (s *Store) children(dir, p string) ([]string, error) {
	full, err := s.locate(dir, p)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		return nil, mapFSError(err, p)
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		out = append(out, e.Name())
	}
	return out, nil
}

func (s *Store) readMetadata(dir, p string) (core.Document, error) {
	full, err := s.locate(dir, core.MetadataPath(p))
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, mapFSError(err, p)
	}
	return decodeMetadata(data, p)
}

func (s *Store) readBinary(dir, p string) ([]byte, error) {
	full, err := s.locate(dir, p)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(full)
	if err != nil {
		return nil, mapFSError(err, p)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a container", core.ErrNotFound, p)
	}
	//nolint:gosec // G304: path validated by safepath
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, mapFSError(err, p)
	}
	return data, nil
}

func (s *Store) writeMetadata(dir, p string, doc core.Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metadata %s: %w", p, err)
	}
	return s.writeBinary(dir, core.MetadataPath(p), data)
}

func (s *Store) writeBinary(dir, p string, data []byte) error {
	full, err := s.locate(dir, p)
	if err != nil {
		return err
	}
	if full == dir {
		return fmt.Errorf("%w: cannot write to the store root", core.ErrPathTraversal)
	}
	if err := os.MkdirAll(filepath.Dir(full), dirMode); err != nil {
		return fmt.Errorf("create parent of %s: %w", p, err)
	}
	if err := writeFileAtomic(full, data); err != nil {
		return fmt.Errorf("write %s: %w", p, err)
	}
	s.logger.Debug("stored", "path", p, "bytes", len(data))
	return nil
}

func (s *Store) mkdir(dir, p string) error {
	full, err := s.locate(dir, p)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(full, dirMode); err != nil {
		return fmt.Errorf("create container %s: %w", p, err)
	}
	return nil
}

func (s *Store) remove(dir, p string) error {
	full, err := s.locate(dir, p)
	if err != nil {
		return err
	}
	if full == dir {
		return fmt.Errorf("%w: refusing to delete the store root", core.ErrPathTraversal)
	}
	if err := os.RemoveAll(full); err != nil {
		return fmt.Errorf("delete %s: %w", p, err)
	}
	s.logger.Debug("deleted", "path", p)
	return nil
}

// decodeMetadata accepts a JSON object, or an array whose first element is
// the object.
func decodeMetadata(data []byte, p string) (core.Document, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", core.ErrInvalidMetadata, p, err)
	}
	if list, ok := raw.([]any); ok && len(list) > 0 {
		raw = list[0]
	}
	doc, ok := core.AsDocument(raw)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a JSON object", core.ErrInvalidMetadata, p)
	}
	return doc, nil
}

func mapFSError(err error, p string) error {
	if errors.Is(err, fs.ErrNotExist) || isNotDir(err) {
		return fmt.Errorf("%w: %s", core.ErrNotFound, p)
	}
	return fmt.Errorf("%s: %w", p, err)
}

// view is the transaction-scoped Resources of a Store.
type view struct {
	store   *Store
	scratch string
	err     error
}

func (v *view) Children(_ context.Context, p string) ([]string, error) {
	if v.err != nil {
		return nil, v.err
	}
	staged, stagedErr := v.store.children(v.scratch, p)
	committed, committedErr := v.store.children(v.store.root, p)
	if stagedErr != nil && committedErr != nil {
		return nil, stagedErr
	}
	merged := append(staged, committed...)
	slices.Sort(merged)
	return slices.Compact(merged), nil
}

func (v *view) Metadata(_ context.Context, p string) (core.Document, error) {
	if v.err != nil {
		return nil, v.err
	}
	doc, err := v.store.readMetadata(v.scratch, p)
	if errors.Is(err, core.ErrNotFound) {
		return v.store.readMetadata(v.store.root, p)
	}
	return doc, err
}

func (v *view) Binary(_ context.Context, p string) ([]byte, error) {
	if v.err != nil {
		return nil, v.err
	}
	data, err := v.store.readBinary(v.scratch, p)
	if errors.Is(err, core.ErrNotFound) {
		return v.store.readBinary(v.store.root, p)
	}
	return data, err
}

func (v *view) SaveMetadata(_ context.Context, p string, doc core.Document) error {
	if v.err != nil {
		return v.err
	}
	return v.store.writeMetadata(v.scratch, p, doc)
}

func (v *view) SaveBinary(_ context.Context, p string, data []byte) error {
	if v.err != nil {
		return v.err
	}
	return v.store.writeBinary(v.scratch, p, data)
}

func (v *view) CreateContainer(_ context.Context, p string) error {
	if v.err != nil {
		return v.err
	}
	return v.store.mkdir(v.scratch, p)
}

// Delete only removes staged content; committed content is untouched until
// the transaction commits.
func (v *view) Delete(_ context.Context, p string) error {
	if v.err != nil {
		return v.err
	}
	return v.store.remove(v.scratch, p)
}
