package shelf

import (
	"context"
	"fmt"

	"github.com/kgrid/kgrid-shelf-sub000/internal/store/tree"
	"github.com/kgrid/kgrid-shelf-sub000/internal/watch"
)

// WatchEvent is one coalesced change under a tree store root.
type WatchEvent = watch.Event

// WatchOp is a set of filesystem operations.
type WatchOp = watch.Op

// Operations reported in WatchEvent.Op.
const (
	WatchCreate = watch.Create
	WatchWrite  = watch.Write
	WatchRemove = watch.Remove
	WatchRename = watch.Rename
)

// Watch reports changes under the store root until ctx is cancelled, when
// the returned channel is closed. Paths matching any of the doublestar
// ignore patterns are not reported. Only tree stores can be watched.
func (s *Shelf) Watch(ctx context.Context, ignore ...string) (<-chan WatchEvent, error) {
	ts, ok := s.store.(*tree.Store)
	if !ok {
		return nil, fmt.Errorf("%w: watch requires a tree store", ErrUnsupported)
	}
	w, err := watch.New(watch.Config{
		Root:   ts.Root(),
		Ignore: ignore,
		Logger: s.logger,
	})
	if err != nil {
		return nil, err
	}
	go func() {
		if err := w.Run(ctx); err != nil {
			s.logger.Warn("watcher stopped", "error", err)
		}
	}()
	return w.Events(), nil
}
