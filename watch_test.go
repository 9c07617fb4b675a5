package shelf

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatch_ReportsImports(t *testing.T) {
	t.Parallel()
	s, _ := newTreeShelf(t)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	events, err := s.Watch(ctx, "**/*.log")
	require.NoError(t, err)

	// Give the watcher time to register the root.
	time.Sleep(50 * time.Millisecond)
	_, err = s.ImportArchive(ctx, bytes.NewReader(scenarioZip(t)))
	require.NoError(t, err)

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			require.True(t, ok, "events closed before the import was seen")
			if strings.HasPrefix(ev.Path, "naan-name") {
				assert.NotZero(t, ev.Op)
				cancel()
				for range events {
				}
				return
			}
		case <-deadline:
			t.Fatal("no event for the imported object")
		}
	}
}

func TestWatch_RequiresTreeStore(t *testing.T) {
	t.Parallel()
	_, st := newTreeShelf(t)
	s, err := NewShelf(WithStore(&faultyStore{Store: st, failAfter: -1}))
	require.NoError(t, err)

	_, err = s.Watch(context.Background())
	require.ErrorIs(t, err, ErrUnsupported)
}
