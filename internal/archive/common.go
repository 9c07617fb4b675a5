package archive

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
)

const copyBufferSize = 128 * 1024

// Entries added by the macOS archiver and Finder.
const (
	macResourceDir    = "__MACOSX"
	finderMetadata    = ".DS_Store"
	appleDoublePrefix = "._"
)

// copyWithContext copies from src to dst while honoring context cancellation.
// It checks context every 128KB to balance responsiveness with performance.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader, buf []byte) (int64, error) {
	if len(buf) < copyBufferSize {
		buf = make([]byte, copyBufferSize)
	}
	buf = buf[:copyBufferSize]
	var written int64
	for {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			if _, writeErr := dst.Write(buf[:n]); writeErr != nil {
				return written, writeErr
			}
			written += int64(n)
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return written, nil
			}
			return written, readErr
		}
	}
}

// isJunk reports whether an entry is macOS archiver noise. Other dot files
// are content and may be referenced as artifacts.
func isJunk(name string) bool {
	name = strings.ReplaceAll(name, "\\", "/")
	for _, part := range strings.Split(name, "/") {
		if part == macResourceDir || part == finderMetadata {
			return true
		}
	}
	return strings.HasPrefix(path.Base(name), appleDoublePrefix)
}
