package shelf

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kgrid/kgrid-shelf-sub000/core"
	"github.com/kgrid/kgrid-shelf-sub000/internal/archive"
	"github.com/kgrid/kgrid-shelf-sub000/internal/store/tree"
)

const scenarioMetadata = `{
  "@id": "naan-name-v1",
  "@type": "koio:KnowledgeObject",
  "identifier": "ark:/naan/name",
  "version": "v1",
  "title": "Hello world",
  "hasDeploymentSpecification": "deployment.yaml",
  "hasServiceSpecification": "service.yaml"
}`

const scenarioDeployment = `endpoints:
  /welcome:
    adapter: JAVASCRIPT
    artifact: src/index.js
    function: welcome
`

const scenarioService = `openapi: 3.0.0
paths:
  /welcome:
    post:
      x-kgrid-activation:
        artifact: src/index.js
`

// file is one zip entry in test fixtures.
type file struct {
	name string
	data string
}

func zipOf(t *testing.T, files ...file) []byte {
	t.Helper()
	entries := make([]archive.Entry, 0, len(files))
	for _, f := range files {
		entries = append(entries, archive.Entry{Name: f.name, Data: []byte(f.data)})
	}
	var buf bytes.Buffer
	require.NoError(t, archive.Pack(context.Background(), &buf, entries))
	return buf.Bytes()
}

func scenarioZip(t *testing.T) []byte {
	t.Helper()
	return zipOf(t,
		file{"naan-name-v1/metadata.json", scenarioMetadata},
		file{"naan-name-v1/deployment.yaml", scenarioDeployment},
		file{"naan-name-v1/service.yaml", scenarioService},
		file{"naan-name-v1/src/index.js", "function welcome(name) { return 'Welcome ' + name }"},
	)
}

func newTreeShelf(t *testing.T, opts ...Option) (*Shelf, *tree.Store) {
	t.Helper()
	st, err := tree.New(t.TempDir())
	require.NoError(t, err)
	s, err := NewShelf(append([]Option{WithStore(st)}, opts...)...)
	require.NoError(t, err)
	return s, st
}

func mustID(t *testing.T, s string) Identifier {
	t.Helper()
	id, err := ParseIdentifier(s)
	require.NoError(t, err)
	return id
}

var errInjected = errors.New("injected failure")

// faultyStore wraps a store and fails transactional binary writes after a
// number of successful ones, or fails commit.
type faultyStore struct {
	core.Store
	failAfter  int64
	writes     atomic.Int64
	failCommit bool
	failDelete bool
	rollbacks  atomic.Int64
}

func (f *faultyStore) Within(tx core.Tx) core.Resources {
	return &faultyView{Resources: f.Store.Within(tx), store: f}
}

func (f *faultyStore) Commit(ctx context.Context, tx core.Tx) error {
	if f.failCommit {
		return errInjected
	}
	return f.Store.Commit(ctx, tx)
}

func (f *faultyStore) Rollback(ctx context.Context, tx core.Tx) error {
	f.rollbacks.Add(1)
	return f.Store.Rollback(ctx, tx)
}

func (f *faultyStore) Delete(ctx context.Context, p string) error {
	if f.failDelete {
		return errInjected
	}
	return f.Store.Delete(ctx, p)
}

type faultyView struct {
	core.Resources
	store *faultyStore
}

func (v *faultyView) SaveBinary(ctx context.Context, p string, data []byte) error {
	if v.store.failAfter >= 0 && v.store.writes.Add(1) > v.store.failAfter {
		return errInjected
	}
	return v.Resources.SaveBinary(ctx, p, data)
}
