package shelf

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// maxManifestSize bounds how much of a manifest document is read.
const maxManifestSize = 4 << 20

// ImportManifest imports every archive listed in a manifest. The manifest
// is a JSON document, either {"manifest": ["a.zip", ...]} or
// [{"@id": "a.zip"}, ...], read from a local path or an http(s) URL.
// Entries are resolved relative to the manifest. Failed entries are logged
// and reported together; the identifiers of successful imports are returned
// either way.
func (s *Shelf) ImportManifest(ctx context.Context, location string) ([]Identifier, error) {
	rc, err := s.openLocation(ctx, location)
	if err != nil {
		return nil, opError("manifest", Identifier{}, err)
	}
	data, err := io.ReadAll(io.LimitReader(rc, maxManifestSize))
	_ = rc.Close()
	if err != nil {
		return nil, opError("manifest", Identifier{}, fmt.Errorf("read %s: %w", location, err))
	}
	entries, err := parseManifest(data)
	if err != nil {
		return nil, opError("manifest", Identifier{}, fmt.Errorf("%s: %w", location, err))
	}

	var (
		ids  []Identifier
		errs []error
	)
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		target, err := resolveManifestEntry(location, entry)
		if err != nil {
			s.logger.Warn("manifest entry skipped", "entry", entry, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", entry, err))
			continue
		}
		id, err := s.importLocation(ctx, target)
		if err != nil {
			s.logger.Warn("manifest entry failed", "entry", target, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", entry, err))
			continue
		}
		s.logger.Debug("manifest entry imported", "entry", target, "id", id)
		ids = append(ids, id)
	}
	return ids, errors.Join(errs...)
}

func (s *Shelf) importLocation(ctx context.Context, location string) (Identifier, error) {
	rc, err := s.openLocation(ctx, location)
	if err != nil {
		return Identifier{}, err
	}
	defer rc.Close()
	return s.ImportArchive(ctx, rc)
}

// openLocation opens a local file or fetches an http(s) URL.
func (s *Shelf) openLocation(ctx context.Context, location string) (io.ReadCloser, error) {
	if !isRemote(location) {
		//nolint:gosec // G304: location is supplied by the caller
		f, err := os.Open(localPath(location))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("%w: %s", ErrNotFound, location)
			}
			return nil, err
		}
		return f, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", location, err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, location)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		resp.Body.Close()
		return nil, fmt.Errorf("fetch %s: %s", location, resp.Status)
	}
	return resp.Body, nil
}

// parseManifest accepts both manifest layouts. Entries may be strings or
// objects carrying @id.
func parseManifest(data []byte) ([]string, error) {
	data = bytes.TrimSpace(data)
	var list []json.RawMessage
	if len(data) > 0 && data[0] == '{' {
		var wrapper struct {
			Manifest []json.RawMessage `json:"manifest"`
		}
		if err := json.Unmarshal(data, &wrapper); err != nil {
			return nil, fmt.Errorf("parse manifest: %w", err)
		}
		if wrapper.Manifest == nil {
			return nil, errors.New("parse manifest: no manifest field")
		}
		list = wrapper.Manifest
	} else if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}

	out := make([]string, 0, len(list))
	for i, raw := range list {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			out = append(out, s)
			continue
		}
		var obj struct {
			ID string `json:"@id"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil || obj.ID == "" {
			return nil, fmt.Errorf("parse manifest: entry %d is neither a string nor an object with @id", i)
		}
		out = append(out, obj.ID)
	}
	return out, nil
}

// resolveManifestEntry resolves entry against the manifest location.
func resolveManifestEntry(manifest, entry string) (string, error) {
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return "", errors.New("empty manifest entry")
	}
	if isRemote(entry) {
		return entry, nil
	}
	if isRemote(manifest) {
		base, err := url.Parse(manifest)
		if err != nil {
			return "", err
		}
		ref, err := url.Parse(entry)
		if err != nil {
			return "", err
		}
		return base.ResolveReference(ref).String(), nil
	}
	p := localPath(entry)
	if filepath.IsAbs(p) {
		return p, nil
	}
	return filepath.Join(filepath.Dir(localPath(manifest)), p), nil
}

func isRemote(location string) bool {
	return strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://")
}

func localPath(location string) string {
	if rest, ok := strings.CutPrefix(location, "file://"); ok {
		return filepath.FromSlash(rest)
	}
	return location
}
