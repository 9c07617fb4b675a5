package shelf

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kgrid/kgrid-shelf-sub000/internal/store/repository"
	"github.com/kgrid/kgrid-shelf-sub000/internal/store/tree"
)

const (
	defaultExportConcurrency = 8
	defaultHTTPTimeout       = 2 * time.Minute
)

// Shelf provides knowledge object operations against one store.
// It holds no mutable state of its own and is safe for concurrent use.
type Shelf struct {
	store  Store
	logger *slog.Logger

	// store selection, applied after all options
	storeURL   string
	user       string
	password   string
	userAgent  string
	httpClient *http.Client

	limits            ExtractLimits
	tempDir           string
	exportConcurrency int
}

// NewShelf creates a shelf. Exactly one of WithStore or WithStoreURL must
// be given.
func NewShelf(opts ...Option) (*Shelf, error) {
	s := &Shelf{
		logger:            slog.New(slog.DiscardHandler),
		limits:            DefaultExtractLimits,
		exportConcurrency: defaultExportConcurrency,
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	if s.httpClient == nil {
		s.httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}

	switch {
	case s.store != nil && s.storeURL != "":
		return nil, errors.New("WithStore and WithStoreURL are mutually exclusive")
	case s.store != nil:
	case s.storeURL != "":
		store, err := s.openStore(s.storeURL)
		if err != nil {
			return nil, err
		}
		s.store = store
	default:
		return nil, errors.New("no store configured")
	}

	return s, nil
}

// Store returns the underlying store.
func (s *Shelf) Store() Store { return s.store }

// openStore builds the backend named by location.
func (s *Shelf) openStore(location string) (Store, error) {
	kind, target := classifyStoreURL(location)
	switch kind {
	case "tree":
		st, err := tree.New(target, tree.WithLogger(s.logger))
		if err != nil {
			return nil, fmt.Errorf("open tree store: %w", err)
		}
		return st, nil
	case "repository":
		conn, err := repository.ParseConnection(target)
		if err != nil {
			return nil, fmt.Errorf("open repository store: %w", err)
		}
		user, password := conn.User, conn.Password
		if s.user != "" {
			user, password = s.user, s.password
		}
		opts := []repository.Option{
			repository.WithHTTPClient(s.httpClient),
			repository.WithLogger(s.logger),
		}
		if user != "" {
			opts = append(opts, repository.WithCredentials(user, password))
		}
		if s.userAgent != "" {
			opts = append(opts, repository.WithUserAgent(s.userAgent))
		}
		st, err := repository.New(conn.URL, opts...)
		if err != nil {
			return nil, fmt.Errorf("open repository store: %w", err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unsupported store location %q", location)
	}
}

// classifyStoreURL returns the backend kind and the location handed to it.
func classifyStoreURL(location string) (kind, target string) {
	location = strings.TrimSpace(location)
	if rest, ok := strings.CutPrefix(location, "fedora:"); ok {
		return "repository", rest
	}
	u, err := url.Parse(location)
	if err != nil || len(u.Scheme) <= 1 {
		// Plain paths, including Windows drive letters.
		return "tree", location
	}
	switch u.Scheme {
	case "file":
		p := u.Path
		if u.Host != "" && u.Host != "localhost" {
			p = "//" + u.Host + p
		}
		if p == "" {
			p = u.Opaque
		}
		return "tree", p
	case "http", "https":
		return "repository", location
	default:
		return "", location
	}
}
