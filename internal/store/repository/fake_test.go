package repository

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
)

const restPrefix = "/rest/"

// fakeResource is one node of the fake repository.
type fakeResource struct {
	container   bool
	metadata    map[string]any
	data        []byte
	contentType string
}

// fakeFedora emulates the subset of the Fedora REST API the store uses.
type fakeFedora struct {
	t      *testing.T
	server *httptest.Server

	mu         sync.Mutex
	resources  map[string]*fakeResource
	tombstones map[string]bool
	txs        map[string]map[string]*fakeResource
	txDeletes  map[string][]string
	nextTx     int
	requests   []string
	headers    []http.Header

	user, password string
	failPurge      bool
	failCommit     bool
	failPutSuffix  string
}

func newFakeFedora(t *testing.T) *fakeFedora {
	t.Helper()
	f := &fakeFedora{
		t:          t,
		resources:  map[string]*fakeResource{"": {container: true}},
		tombstones: map[string]bool{},
		txs:        map[string]map[string]*fakeResource{},
		txDeletes:  map[string][]string{},
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeFedora) root() string { return f.server.URL + restPrefix }

func (f *fakeFedora) requestLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.requests)
}

func (f *fakeFedora) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, r.Method+" "+r.URL.Path)
	f.headers = append(f.headers, r.Header.Clone())

	if f.user != "" {
		u, p, ok := r.BasicAuth()
		if !ok || u != f.user || p != f.password {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
	}

	p := strings.TrimPrefix(r.URL.Path, restPrefix)
	if r.URL.Path+"/" == restPrefix {
		p = ""
	}

	// Transaction lifecycle.
	switch {
	case r.Method == http.MethodPost && p == "fcr:tx":
		f.nextTx++
		id := fmt.Sprintf("tx:%d", f.nextTx)
		f.txs[id] = map[string]*fakeResource{}
		w.Header().Set("Location", f.root()+id)
		w.WriteHeader(http.StatusCreated)
		return
	case r.Method == http.MethodPost && strings.HasSuffix(p, "/fcr:tx/fcr:commit"):
		id := strings.TrimSuffix(p, "/fcr:tx/fcr:commit")
		staged, ok := f.txs[id]
		if !ok || f.failCommit {
			w.WriteHeader(http.StatusGone)
			return
		}
		for _, d := range f.txDeletes[id] {
			f.removeTree(f.resources, d)
		}
		for k, v := range staged {
			f.resources[k] = v
		}
		delete(f.txs, id)
		w.WriteHeader(http.StatusNoContent)
		return
	case r.Method == http.MethodPost && strings.HasSuffix(p, "/fcr:tx/fcr:rollback"):
		id := strings.TrimSuffix(p, "/fcr:tx/fcr:rollback")
		if _, ok := f.txs[id]; !ok {
			w.WriteHeader(http.StatusGone)
			return
		}
		delete(f.txs, id)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	target := f.resources
	var txID string
	if strings.HasPrefix(p, "tx:") {
		txID, p, _ = strings.Cut(p, "/")
		staged, ok := f.txs[txID]
		if !ok {
			w.WriteHeader(http.StatusGone)
			return
		}
		target = staged
	}

	switch r.Method {
	case http.MethodGet:
		f.get(w, r, p, target)
	case http.MethodPut:
		if f.failPutSuffix != "" && strings.HasSuffix(p, f.failPutSuffix) {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = io.WriteString(w, "disk full")
			return
		}
		f.put(w, r, p, target)
	case http.MethodDelete:
		f.delete(w, p, txID)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeFedora) lookup(p string, staged map[string]*fakeResource) (*fakeResource, bool) {
	if res, ok := staged[p]; ok {
		return res, true
	}
	res, ok := f.resources[p]
	return res, ok
}

func (f *fakeFedora) get(w http.ResponseWriter, r *http.Request, p string, staged map[string]*fakeResource) {
	if f.tombstones[p] {
		w.WriteHeader(http.StatusGone)
		return
	}
	res, ok := f.lookup(p, staged)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if !res.container {
		w.Header().Set("Content-Type", res.contentType)
		_, _ = w.Write(res.data)
		return
	}

	self := strings.TrimSuffix(f.server.URL+r.URL.Path, "/")
	node := map[string]any{
		"@id":            self,
		"@type":          []any{"ldp:Container", "fedora:Container", "ldp:RDFSource"},
		"fedora:created": map[string]any{"@value": "2024-01-01T00:00:00Z", "@type": "xsd:dateTime"},
	}
	for k, v := range res.metadata {
		switch {
		case k == "@context" || k == "@id":
		case k == "@type":
			node["@type"] = append(node["@type"].([]any), "http://kgrid.org/koio#"+strings.TrimPrefix(fmt.Sprint(v), "koio:"))
		default:
			node["koio:"+k] = v
		}
	}

	if !strings.Contains(r.Header.Get("Prefer"), "EmbedResources") {
		w.Header().Set("Content-Type", "application/ld+json")
		_ = json.NewEncoder(w).Encode(node)
		return
	}

	graph := []any{node}
	var contains []any
	prefix := p + "/"
	if p == "" {
		prefix = ""
	}
	seen := map[string]bool{}
	for _, m := range []map[string]*fakeResource{f.resources, staged} {
		for k, child := range m {
			rest, ok := strings.CutPrefix(k, prefix)
			if !ok || rest == "" || strings.Contains(rest, "/") || seen[k] {
				continue
			}
			seen[k] = true
			id := self + "/" + rest
			contains = append(contains, id)
			typ := []any{"ldp:Container"}
			if !child.container {
				typ = []any{"ldp:NonRDFSource", "fedora:Binary"}
			}
			graph = append(graph, map[string]any{"@id": id, "@type": typ})
		}
	}
	if len(contains) == 1 {
		node["contains"] = contains[0]
	} else if len(contains) > 1 {
		node["contains"] = contains
	}
	w.Header().Set("Content-Type", "application/ld+json")
	_ = json.NewEncoder(w).Encode(map[string]any{"@context": map[string]any{}, "@graph": graph})
}

func (f *fakeFedora) put(w http.ResponseWriter, r *http.Request, p string, staged map[string]*fakeResource) {
	body, _ := io.ReadAll(r.Body)
	ct := r.Header.Get("Content-Type")

	// Intermediate containers appear implicitly.
	parts := strings.Split(p, "/")
	for i := 1; i < len(parts); i++ {
		parent := strings.Join(parts[:i], "/")
		if _, ok := f.lookup(parent, staged); !ok {
			staged[parent] = &fakeResource{container: true}
		}
	}
	delete(f.tombstones, p)

	switch {
	case ct == "" && len(body) == 0:
		if _, ok := f.lookup(p, staged); ok {
			w.WriteHeader(http.StatusConflict)
			return
		}
		staged[p] = &fakeResource{container: true}
	case strings.HasPrefix(ct, "application/ld+json"):
		var doc map[string]any
		if err := json.Unmarshal(body, &doc); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		staged[p] = &fakeResource{container: true, metadata: doc}
	default:
		staged[p] = &fakeResource{data: body, contentType: ct}
	}
	w.WriteHeader(http.StatusCreated)
}

func (f *fakeFedora) delete(w http.ResponseWriter, p, txID string) {
	if base, ok := strings.CutSuffix(p, "/fcr:tombstone"); ok {
		if f.failPurge {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if !f.tombstones[base] {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		delete(f.tombstones, base)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if f.tombstones[p] {
		w.WriteHeader(http.StatusGone)
		return
	}
	if txID != "" {
		f.removeTree(f.txs[txID], p)
		f.txDeletes[txID] = append(f.txDeletes[txID], p)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if _, ok := f.resources[p]; !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	f.removeTree(f.resources, p)
	f.tombstones[p] = true
	w.WriteHeader(http.StatusNoContent)
}

func (f *fakeFedora) removeTree(m map[string]*fakeResource, p string) {
	for k := range m {
		if k == p || strings.HasPrefix(k, p+"/") {
			delete(m, k)
		}
	}
}
