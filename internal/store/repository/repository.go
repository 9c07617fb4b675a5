// Package repository implements a knowledge object store on a remote Linked
// Data Platform repository speaking the Fedora Commons REST API.
//
// Containers hold metadata as JSON-LD; artifacts are binary resources.
// Transactions use the repository's fcr:tx endpoints, and deletes purge the
// tombstone the repository leaves behind.
package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/kgrid/kgrid-shelf-sub000/core"
	"github.com/kgrid/kgrid-shelf-sub000/internal/safepath"
)

// Request headers and endpoints.
const (
	acceptJSONLD     = `application/ld+json; profile="http://www.w3.org/ns/json-ld#compacted"`
	preferMinimal    = `return=representation; include="http://www.w3.org/ns/ldp#PreferMinimalContainer"`
	preferEmbedded   = `return=representation; include="http://fedora.info/definitions/v4/repository#EmbedResources"`
	preferLenient    = `handling=lenient; received="minimal"`
	contentJSONLD    = "application/ld+json"
	contentDefault   = "application/octet-stream"
	txEndpoint       = "fcr:tx"
	commitEndpoint   = "fcr:tx/fcr:commit"
	rollbackEndpoint = "fcr:tx/fcr:rollback"
	tombstone        = "fcr:tombstone"

	defaultTimeout   = 2 * time.Minute
	defaultUserAgent = "kgrid-shelf"
)

// Option configures a Store.
type Option func(*Store)

// WithCredentials sets HTTP basic authentication credentials.
func WithCredentials(user, password string) Option {
	return func(s *Store) {
		s.user = user
		s.password = password
	}
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Store) {
		if c != nil {
			s.client = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(s *Store) { s.userAgent = ua }
}

// Connection is a parsed repository connection string.
type Connection struct {
	URL      string
	User     string
	Password string
}

// ParseConnection splits credentials passed as user and password query
// parameters from a repository URL. A leading "fedora:" is accepted.
func ParseConnection(raw string) (Connection, error) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "fedora:")
	u, err := url.Parse(raw)
	if err != nil {
		return Connection{}, fmt.Errorf("parse repository url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Connection{}, fmt.Errorf("repository url %q must be http or https", u.Redacted())
	}
	q := u.Query()
	conn := Connection{User: q.Get("user"), Password: q.Get("password")}
	q.Del("user")
	q.Del("password")
	u.RawQuery = q.Encode()
	if u.User != nil {
		conn.User = u.User.Username()
		conn.Password, _ = u.User.Password()
		u.User = nil
	}
	conn.URL = u.String()
	return conn, nil
}

// Store is a Fedora-backed core.Store.
type Store struct {
	resources
	client    *http.Client
	logger    *slog.Logger
	user      string
	password  string
	userAgent string
}

// Compile-time interface implementation check.
var _ core.Store = (*Store)(nil)

// New creates a store for the repository rooted at rootURL.
func New(rootURL string, opts ...Option) (*Store, error) {
	u, err := url.Parse(rootURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid repository url %q", rootURL)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	s := &Store{
		client:    &http.Client{Timeout: defaultTimeout},
		logger:    slog.New(slog.DiscardHandler),
		userAgent: defaultUserAgent,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.resources = resources{store: s, base: u.String()}
	return s, nil
}

// Root returns the repository root URL.
func (s *Store) Root() string { return s.base }

// Begin opens a repository transaction and returns its path segment.
func (s *Store) Begin(ctx context.Context) (core.Tx, error) {
	resp, err := s.do(ctx, http.MethodPost, s.base+txEndpoint, nil, nil)
	if err != nil {
		return "", fmt.Errorf("%w: begin: %w", core.ErrTransactionFailure, err)
	}
	defer drain(resp)
	if err := mapStatus(resp); err != nil {
		return "", fmt.Errorf("%w: begin: %w", core.ErrTransactionFailure, err)
	}

	loc, err := resp.Location()
	if err != nil {
		return "", fmt.Errorf("%w: begin: no Location header", core.ErrTransactionFailure)
	}
	seg := strings.Trim(strings.TrimPrefix(loc.String(), s.base), "/")
	if seg == "" || strings.Contains(seg, "/") {
		return "", fmt.Errorf("%w: begin: unexpected transaction location %s", core.ErrTransactionFailure, loc)
	}
	s.logger.Debug("transaction started", "tx", seg)
	return core.Tx(seg), nil
}

// Commit commits the transaction.
func (s *Store) Commit(ctx context.Context, tx core.Tx) error {
	return s.finish(ctx, tx, commitEndpoint, "commit")
}

// Rollback discards the transaction.
func (s *Store) Rollback(ctx context.Context, tx core.Tx) error {
	return s.finish(ctx, tx, rollbackEndpoint, "rollback")
}

func (s *Store) finish(ctx context.Context, tx core.Tx, endpoint, verb string) error {
	seg, err := txSegment(tx)
	if err != nil {
		return err
	}
	resp, err := s.do(ctx, http.MethodPost, s.base+seg+"/"+endpoint, nil, nil)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", core.ErrTransactionFailure, verb, tx, err)
	}
	defer drain(resp)
	if err := mapStatus(resp); err != nil {
		return fmt.Errorf("%w: %s %s: %w", core.ErrTransactionFailure, verb, tx, err)
	}
	s.logger.Debug("transaction finished", "tx", tx, "action", verb)
	return nil
}

// Within returns resources addressed under the transaction segment.
func (s *Store) Within(tx core.Tx) core.Resources {
	seg, err := txSegment(tx)
	if err != nil {
		return &resources{store: s, err: err}
	}
	return &resources{store: s, base: s.base + seg + "/"}
}

func txSegment(tx core.Tx) (string, error) {
	seg := strings.Trim(string(tx), "/")
	if seg == "" || strings.ContainsAny(seg, "/?#") {
		return "", fmt.Errorf("%w: unknown transaction %q", core.ErrTransactionFailure, string(tx))
	}
	return seg, nil
}

func (s *Store) do(ctx context.Context, method, target string, body []byte, header http.Header) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if s.user != "" {
		req.SetBasicAuth(s.user, s.password)
	}
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}
	s.logger.Debug("repository request", "method", method, "url", target)
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, mapTransport(err)
	}
	return resp, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	_ = resp.Body.Close()
}

// resources implements core.Resources relative to base, which is either the
// repository root or a transaction path.
type resources struct {
	store *Store
	base  string
	err   error
}

func (r *resources) url(p string) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	clean, err := safepath.NewValidator().Clean(p)
	if err != nil {
		return "", err
	}
	if clean == "" {
		return r.base, nil
	}
	parts := strings.Split(clean, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return r.base + strings.Join(parts, "/"), nil
}

func (r *resources) get(ctx context.Context, p string, header http.Header) ([]byte, string, error) {
	target, err := r.url(p)
	if err != nil {
		return nil, "", err
	}
	resp, err := r.store.do(ctx, http.MethodGet, target, nil, header)
	if err != nil {
		return nil, "", err
	}
	defer drain(resp)
	if err := mapStatus(resp); err != nil {
		return nil, "", err
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", mapTransport(err)
	}
	return data, target, nil
}

func (r *resources) put(ctx context.Context, p string, body []byte, header http.Header) (int, error) {
	target, err := r.url(p)
	if err != nil {
		return 0, err
	}
	resp, err := r.store.do(ctx, http.MethodPut, target, body, header)
	if err != nil {
		return 0, err
	}
	defer drain(resp)
	return resp.StatusCode, mapStatus(resp)
}

// Children lists the containers under p.
func (r *resources) Children(ctx context.Context, p string) ([]string, error) {
	body, target, err := r.get(ctx, p, http.Header{
		"Accept": {acceptJSONLD},
		"Prefer": {preferEmbedded},
	})
	if err != nil {
		return nil, err
	}
	nodes, err := parseNodes(body)
	if err != nil {
		return nil, fmt.Errorf("%w: listing %s: %v", core.ErrStoreUnavailable, target, err)
	}
	names := containerNames(nodes, target)
	slices.Sort(names)
	return names, nil
}

// Metadata reads the JSON-LD description of the container at p.
func (r *resources) Metadata(ctx context.Context, p string) (core.Document, error) {
	body, target, err := r.get(ctx, core.ContainerPath(p), http.Header{
		"Accept": {acceptJSONLD},
		"Prefer": {preferMinimal},
	})
	if err != nil {
		return nil, err
	}
	return fromRepository(body, target, r.base)
}

// Binary reads the binary resource at p. Metadata documents live on their
// container, so a metadata path is answered with the encoded description.
func (r *resources) Binary(ctx context.Context, p string) ([]byte, error) {
	if core.IsMetadataPath(p) {
		doc, err := r.Metadata(ctx, p)
		if err != nil {
			return nil, err
		}
		return json.MarshalIndent(doc, "", "  ")
	}
	data, _, err := r.get(ctx, p, nil)
	return data, err
}

// SaveMetadata replaces the container description at p.
func (r *resources) SaveMetadata(ctx context.Context, p string, doc core.Document) error {
	body, err := toRepository(doc)
	if err != nil {
		return fmt.Errorf("encode metadata %s: %w", p, err)
	}
	_, err = r.put(ctx, core.ContainerPath(p), body, http.Header{
		"Content-Type": {contentJSONLD},
		"Prefer":       {preferLenient},
	})
	return err
}

// SaveBinary creates or replaces the binary at p.
func (r *resources) SaveBinary(ctx context.Context, p string, data []byte) error {
	ct := mime.TypeByExtension(path.Ext(p))
	if ct == "" {
		ct = contentDefault
	}
	if data == nil {
		data = []byte{}
	}
	_, err := r.put(ctx, p, data, http.Header{"Content-Type": {ct}})
	return err
}

// CreateContainer creates an empty container at p. An existing container is
// not an error.
func (r *resources) CreateContainer(ctx context.Context, p string) error {
	status, err := r.put(ctx, p, nil, nil)
	if status == http.StatusConflict {
		return nil
	}
	return err
}

// Delete removes p and purges its tombstone. A purge failure is logged and
// not returned; the repository expires tombstones on its own.
func (r *resources) Delete(ctx context.Context, p string) error {
	target, err := r.url(p)
	if err != nil {
		return err
	}
	if target == r.base {
		return fmt.Errorf("%w: refusing to delete the repository root", core.ErrPathTraversal)
	}

	resp, err := r.store.do(ctx, http.MethodDelete, target, nil, nil)
	if err != nil {
		return err
	}
	status := mapStatus(resp)
	drain(resp)
	switch {
	case status == nil:
	case errors.Is(status, core.ErrNotFound):
		return nil
	default:
		return status
	}

	resp, err = r.store.do(ctx, http.MethodDelete, target+"/"+tombstone, nil, nil)
	if err != nil {
		r.store.logger.Warn("tombstone purge failed", "path", p, "error", err)
		return nil
	}
	if err := mapStatus(resp); err != nil && !errors.Is(err, core.ErrNotFound) {
		r.store.logger.Warn("tombstone purge failed", "path", p, "error", err)
	}
	drain(resp)
	return nil
}
