// Package watch reports changes under a tree store root.
//
// Events are coalesced per path: bursts within the debounce window produce
// one Event per changed path, with the operations that occurred combined.
// Hidden entries, which include transaction scratch trees and temp files, are
// never reported.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 250 * time.Millisecond

// Op is a set of filesystem operations.
type Op uint8

// Operations reported by the watcher.
const (
	Create Op = 1 << iota
	Write
	Remove
	Rename
)

// Has reports whether o includes every operation in other.
func (o Op) Has(other Op) bool { return o&other == other }

func (o Op) String() string {
	var parts []string
	for _, n := range []struct {
		op   Op
		name string
	}{{Create, "CREATE"}, {Write, "WRITE"}, {Remove, "REMOVE"}, {Rename, "RENAME"}} {
		if o.Has(n.op) {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "NONE"
	}
	return strings.Join(parts, "|")
}

func fromFsnotify(op fsnotify.Op) Op {
	var out Op
	if op.Has(fsnotify.Create) {
		out |= Create
	}
	if op.Has(fsnotify.Write) {
		out |= Write
	}
	if op.Has(fsnotify.Remove) {
		out |= Remove
	}
	if op.Has(fsnotify.Rename) {
		out |= Rename
	}
	return out
}

// Event is one coalesced change. Path is slash separated and relative to the
// watched root.
type Event struct {
	Path string
	Op   Op
}

// Config holds the parameters for a Watcher.
type Config struct {
	// Root is the directory to watch recursively.
	Root string

	// Ignore are doublestar patterns, relative to Root, that never produce
	// events.
	Ignore []string

	// Debounce is the quiet period before pending events are emitted.
	Debounce time.Duration

	Logger *slog.Logger
}

// Watcher monitors a directory tree. Run must be called exactly once.
type Watcher struct {
	root     string
	ignores  []string
	debounce time.Duration
	logger   *slog.Logger
	fsw      *fsnotify.Watcher
	events   chan Event
	started  atomic.Bool
}

// New creates a Watcher and registers every visible directory under
// cfg.Root.
func New(cfg Config) (*Watcher, error) {
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("watch: resolve root: %w", err)
	}
	for _, pat := range cfg.Ignore {
		if !doublestar.ValidatePattern(pat) {
			return nil, fmt.Errorf("watch: invalid ignore pattern %q", pat)
		}
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		root:     root,
		ignores:  slices.Clone(cfg.Ignore),
		debounce: cfg.Debounce,
		logger:   cfg.Logger,
		fsw:      fsw,
		events:   make(chan Event, 64),
	}
	if w.debounce <= 0 {
		w.debounce = defaultDebounce
	}
	if w.logger == nil {
		w.logger = slog.New(slog.DiscardHandler)
	}

	if err := w.addTree(root); err != nil {
		return nil, errors.Join(err, fsw.Close())
	}
	return w, nil
}

// Events returns the channel events are delivered on. It is closed when Run
// returns.
func (w *Watcher) Events() <-chan Event { return w.events }

// Run processes filesystem notifications until ctx is cancelled. It returns
// nil on cancellation.
func (w *Watcher) Run(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return errors.New("watch: Run called more than once")
	}
	defer close(w.events)
	defer func() {
		if err := w.fsw.Close(); err != nil {
			w.logger.Warn("close fsnotify watcher", "error", err)
		}
	}()

	pending := make(map[string]Op)
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case evt, ok := <-w.fsw.Events:
			if !ok {
				return errors.New("watch: fsnotify event channel closed unexpectedly")
			}
			rel, skip := w.relevant(evt.Name)
			if skip {
				continue
			}
			op := fromFsnotify(evt.Op)
			if op == 0 {
				continue
			}
			if op.Has(Create) {
				w.maybeAddTree(evt.Name)
			}
			pending[rel] |= op
			timer.Reset(w.debounce)
			fire = timer.C

		case <-fire:
			fire = nil
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			slices.Sort(paths)
			for _, p := range paths {
				select {
				case w.events <- Event{Path: p, Op: pending[p]}:
				case <-ctx.Done():
					return nil
				}
			}
			clear(pending)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return errors.New("watch: fsnotify error channel closed unexpectedly")
			}
			w.logger.Warn("fsnotify error", "error", err)
		}
	}
}

// relevant converts name to a root-relative slash path and reports whether
// it should be skipped.
func (w *Watcher) relevant(name string) (string, bool) {
	rel, err := filepath.Rel(w.root, name)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", true
	}
	rel = filepath.ToSlash(rel)
	return rel, w.ignored(rel)
}

func (w *Watcher) ignored(rel string) bool {
	for _, part := range strings.Split(rel, "/") {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	for _, pat := range w.ignores {
		if ok, _ := doublestar.Match(pat, rel); ok {
			return true
		}
	}
	return false
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			w.logger.Warn("skipping inaccessible path", "path", p, "error", err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != w.root {
			if _, skip := w.relevant(p); skip {
				return filepath.SkipDir
			}
		}
		if err := w.fsw.Add(p); err != nil {
			return fmt.Errorf("watch: add directory %q: %w", p, err)
		}
		return nil
	})
}

// maybeAddTree registers a directory created after startup.
func (w *Watcher) maybeAddTree(p string) {
	info, err := os.Stat(p)
	if err != nil || !info.IsDir() {
		return
	}
	if err := w.addTree(p); err != nil {
		w.logger.Warn("watch new directory", "path", p, "error", err)
	}
}
