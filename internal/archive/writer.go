package archive

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zip"
)

// epoch is the modification time stamped on every packed entry so equal
// inputs produce equal archives.
var epoch = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)

// Entry is one file to pack.
type Entry struct {
	Name string
	Data []byte
}

// Pack writes entries to w as a zip, in the given order. Duplicate names
// are rejected.
func Pack(ctx context.Context, w io.Writer, entries []Entry) error {
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if _, dup := seen[e.Name]; dup {
			return fmt.Errorf("pack: duplicate entry %s", e.Name)
		}
		seen[e.Name] = struct{}{}
	}

	zw := zip.NewWriter(w)
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			_ = zw.Close()
			return err
		}
		hdr := &zip.FileHeader{
			Name:     e.Name,
			Method:   zip.Deflate,
			Modified: epoch,
		}
		hdr.SetMode(0o644)
		fw, err := zw.CreateHeader(hdr)
		if err != nil {
			_ = zw.Close()
			return fmt.Errorf("pack %s: %w", e.Name, err)
		}
		if _, err := fw.Write(e.Data); err != nil {
			_ = zw.Close()
			return fmt.Errorf("pack %s: %w", e.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("pack: %w", err)
	}
	return nil
}
