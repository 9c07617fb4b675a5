package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/kgrid/kgrid-shelf-sub000/core"
)

// maxErrorBody bounds how much of an error response is quoted in messages.
const maxErrorBody = 512

// mapStatus converts a non-2xx response to a shelf sentinel error. It
// returns nil for 2xx responses.
func mapStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	target := fmt.Sprintf("%s %s", resp.Request.Method, resp.Request.URL.Redacted())
	switch resp.StatusCode {
	case http.StatusNotFound, http.StatusGone:
		return fmt.Errorf("%w: %s", core.ErrNotFound, target)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s: %s", core.ErrUnauthorized, target, resp.Status)
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return fmt.Errorf("%w: %s: %s", core.ErrStoreUnavailable, target, resp.Status)
	}
	return fmt.Errorf("%w: %s: %s: %s", core.ErrStoreUnavailable, target, resp.Status, msg)
}

// mapTransport wraps a request failure. Context errors stay matchable.
func mapTransport(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", core.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%w: %v", core.ErrStoreUnavailable, err)
}
