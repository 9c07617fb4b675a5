package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kgrid/kgrid-shelf-sub000/core"
)

func newTestStore(t *testing.T, f *fakeFedora, opts ...Option) *Store {
	t.Helper()
	s, err := New(f.root(), opts...)
	require.NoError(t, err)
	return s
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	_, err := New("ftp://example.org/rest")
	require.Error(t, err)

	s, err := New("http://localhost:8080/fcrepo/rest")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/fcrepo/rest/", s.Root())
}

func TestParseConnection(t *testing.T) {
	t.Parallel()

	conn, err := ParseConnection("fedora:http://localhost:8080/fcrepo/rest/?user=fedoraAdmin&password=secret")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/fcrepo/rest/", conn.URL)
	assert.Equal(t, "fedoraAdmin", conn.User)
	assert.Equal(t, "secret", conn.Password)

	conn, err = ParseConnection("https://admin:pw@repo.example.org/rest")
	require.NoError(t, err)
	assert.Equal(t, "https://repo.example.org/rest", conn.URL)
	assert.Equal(t, "admin", conn.User)
	assert.Equal(t, "pw", conn.Password)

	_, err = ParseConnection("file:///tmp/shelf")
	require.Error(t, err)
}

func TestStore_MetadataRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFakeFedora(t)
	s := newTestStore(t, f)

	doc := core.Document{
		"@id":                        "naan-name-v1",
		"@type":                      "koio:KnowledgeObject",
		"hasDeploymentSpecification": "deployment.yaml",
		"title":                      "Hello",
	}
	require.NoError(t, s.SaveMetadata(ctx, "naan-name/v1", doc))

	got, err := s.Metadata(ctx, "naan-name/v1/metadata.json")
	require.NoError(t, err)
	assert.Equal(t, "naan-name-v1", got.String("@id"))
	assert.Equal(t, "koio:KnowledgeObject", got.String("@type"))
	assert.NotContains(t, got, "declaredId")
	assert.NotContains(t, got, "identifier")
	assert.Equal(t, "deployment.yaml", got.String("hasDeploymentSpecification"))
	assert.Equal(t, "Hello", got.String("title"))
	assert.NotContains(t, got, "fedora:created")

	id, err := got.Identity()
	require.NoError(t, err)
	assert.Equal(t, "ark:/naan/name/v1", id.String())

	f.mu.Lock()
	defer f.mu.Unlock()
	var sawAccept, sawLenient bool
	for _, h := range f.headers {
		if strings.Contains(h.Get("Accept"), "json-ld#compacted") {
			sawAccept = true
		}
		if strings.Contains(h.Get("Prefer"), "handling=lenient") {
			sawLenient = true
		}
	}
	assert.True(t, sawAccept)
	assert.True(t, sawLenient)
}

func TestStore_BinaryAndChildren(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFakeFedora(t)
	s := newTestStore(t, f)

	require.NoError(t, s.CreateContainer(ctx, "naan-name"))
	require.NoError(t, s.CreateContainer(ctx, "naan-name"))
	require.NoError(t, s.SaveBinary(ctx, "naan-name/v1/src/index.js", []byte("js")))
	require.NoError(t, s.SaveBinary(ctx, "naan-name/v1/deployment.yaml", []byte("endpoints: {}")))
	require.NoError(t, s.SaveBinary(ctx, "naan-name/v2/src/index.js", []byte("js2")))

	data, err := s.Binary(ctx, "naan-name/v1/src/index.js")
	require.NoError(t, err)
	assert.Equal(t, "js", string(data))

	children, err := s.Children(ctx, "naan-name")
	require.NoError(t, err)
	assert.Equal(t, []string{"v1", "v2"}, children)

	// Binaries are not containers.
	children, err = s.Children(ctx, "naan-name/v1")
	require.NoError(t, err)
	assert.Equal(t, []string{"src"}, children)

	// A single member comes back as a scalar contains value.
	children, err = s.Children(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"naan-name"}, children)

	_, err = s.Binary(ctx, "naan-name/v3/missing.js")
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestStore_BinaryOfMetadataPath(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFakeFedora(t)
	s := newTestStore(t, f)

	doc := core.Document{"@id": "naan-name-v1", "@type": "koio:KnowledgeObject", "title": "Hello"}
	require.NoError(t, s.SaveMetadata(ctx, "naan-name/v1", doc))

	data, err := s.Binary(ctx, "naan-name/v1/metadata.json")
	require.NoError(t, err)
	var got core.Document
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, doc, got)

	_, err = s.Binary(ctx, "naan-other/metadata.json")
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestStore_DeletePurgesTombstone(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFakeFedora(t)
	s := newTestStore(t, f)

	require.NoError(t, s.SaveBinary(ctx, "naan-name/v1/src/index.js", []byte("js")))
	require.NoError(t, s.Delete(ctx, "naan-name/v1"))
	require.NoError(t, s.Delete(ctx, "naan-name/v1"))

	log := f.requestLog()
	assert.Contains(t, log, "DELETE /rest/naan-name/v1")
	assert.Contains(t, log, "DELETE /rest/naan-name/v1/fcr:tombstone")

	_, err := s.Binary(ctx, "naan-name/v1/src/index.js")
	require.ErrorIs(t, err, core.ErrNotFound)

	require.ErrorIs(t, s.Delete(ctx, ""), core.ErrPathTraversal)
}

func TestStore_DeleteSwallowsPurgeFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFakeFedora(t)
	f.failPurge = true

	var logs bytes.Buffer
	s := newTestStore(t, f, WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))

	require.NoError(t, s.SaveBinary(ctx, "a-b/file.txt", []byte("x")))
	require.NoError(t, s.Delete(ctx, "a-b"))
	assert.Contains(t, logs.String(), "tombstone purge failed")

	purges := 0
	for _, r := range f.requestLog() {
		if strings.HasSuffix(r, "fcr:tombstone") {
			purges++
		}
	}
	assert.Equal(t, 1, purges)
}

func TestStore_TransactionCommit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFakeFedora(t)
	s := newTestStore(t, f)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	assert.Equal(t, core.Tx("tx:1"), tx)

	w := s.Within(tx)
	require.NoError(t, w.SaveBinary(ctx, "naan-name/v1/src/index.js", []byte("js")))
	require.NoError(t, w.SaveMetadata(ctx, "naan-name/v1", core.Document{"@id": "naan-name-v1"}))

	// Staged writes are invisible to normal reads.
	_, err = s.Binary(ctx, "naan-name/v1/src/index.js")
	require.ErrorIs(t, err, core.ErrNotFound)

	data, err := w.Binary(ctx, "naan-name/v1/src/index.js")
	require.NoError(t, err)
	assert.Equal(t, "js", string(data))

	require.NoError(t, s.Commit(ctx, tx))

	data, err = s.Binary(ctx, "naan-name/v1/src/index.js")
	require.NoError(t, err)
	assert.Equal(t, "js", string(data))

	log := f.requestLog()
	assert.Contains(t, log, "POST /rest/fcr:tx")
	assert.Contains(t, log, "PUT /rest/tx:1/naan-name/v1/src/index.js")
	assert.Contains(t, log, "POST /rest/tx:1/fcr:tx/fcr:commit")
}

func TestStore_TransactionRollback(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFakeFedora(t)
	s := newTestStore(t, f)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Within(tx).SaveBinary(ctx, "naan-name/v1/a.js", []byte("a")))
	require.NoError(t, s.Rollback(ctx, tx))

	_, err = s.Binary(ctx, "naan-name/v1/a.js")
	require.ErrorIs(t, err, core.ErrNotFound)

	err = s.Commit(ctx, tx)
	require.ErrorIs(t, err, core.ErrTransactionFailure)
	assert.Contains(t, f.requestLog(), "POST /rest/tx:1/fcr:tx/fcr:rollback")
}

func TestStore_InvalidTransaction(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t, newFakeFedora(t))

	require.ErrorIs(t, s.Commit(ctx, core.Tx("")), core.ErrTransactionFailure)
	require.ErrorIs(t, s.Within(core.Tx("a/b")).SaveBinary(ctx, "x", nil), core.ErrTransactionFailure)
}

func TestStore_BasicAuth(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFakeFedora(t)
	f.user, f.password = "fedoraAdmin", "secret"

	anon := newTestStore(t, f)
	_, err := anon.Children(ctx, "")
	require.ErrorIs(t, err, core.ErrUnauthorized)

	authed := newTestStore(t, f, WithCredentials("fedoraAdmin", "secret"))
	_, err = authed.Children(ctx, "")
	require.NoError(t, err)
}

func TestStore_ServerErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFakeFedora(t)
	f.failPutSuffix = "broken.js"
	s := newTestStore(t, f)

	err := s.SaveBinary(ctx, "a-b/broken.js", []byte("x"))
	require.ErrorIs(t, err, core.ErrStoreUnavailable)
	assert.Contains(t, err.Error(), "disk full")
}

func TestStore_Unreachable(t *testing.T) {
	t.Parallel()

	f := newFakeFedora(t)
	s := newTestStore(t, f, WithHTTPClient(&http.Client{}))
	f.server.Close()

	_, err := s.Metadata(context.Background(), "a-b")
	require.ErrorIs(t, err, core.ErrStoreUnavailable)
}

func TestStore_HonorsContext(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, newFakeFedora(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Binary(ctx, "a-b/x")
	require.ErrorIs(t, err, context.Canceled)
}
