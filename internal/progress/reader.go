// Package progress reports byte counts for archive import and export.
package progress

import (
	"io"
	"io/fs"
)

// Callback receives the cumulative byte count and the expected total
// (-1 when unknown).
type Callback func(bytesTransferred, totalBytes int64)

// Reader counts bytes read through it.
type Reader struct {
	reader   io.Reader
	callback Callback
	total    int64
	read     int64
}

// NewReader wraps r. A nil callback disables reporting.
func NewReader(r io.Reader, total int64, callback Callback) *Reader {
	return &Reader{
		reader:   r,
		callback: callback,
		total:    total,
	}
}

// Read implements io.Reader.
func (r *Reader) Read(p []byte) (n int, err error) {
	n, err = r.reader.Read(p)
	if n > 0 {
		r.read += int64(n)
		if r.callback != nil {
			r.callback(r.read, r.total)
		}
	}
	return n, err
}

// BytesRead returns the number of bytes read so far.
func (r *Reader) BytesRead() int64 { return r.read }

// Counter accumulates progress for work not expressed as a reader, such as
// artifacts fetched from a store.
type Counter struct {
	callback Callback
	total    int64
	done     int64
}

// NewCounter creates a counter with the given expected total.
func NewCounter(total int64, callback Callback) *Counter {
	return &Counter{callback: callback, total: total}
}

// Add records n more bytes. Counter is not safe for concurrent use.
func (c *Counter) Add(n int64) {
	c.done += n
	if c.callback != nil {
		c.callback(c.done, c.total)
	}
}

// Size returns the length of r when it can be determined without reading,
// otherwise -1.
func Size(r io.Reader) int64 {
	switch v := r.(type) {
	case interface{ Len() int }:
		return int64(v.Len())
	case interface{ Stat() (fs.FileInfo, error) }:
		info, err := v.Stat()
		if err != nil || !info.Mode().IsRegular() {
			return -1
		}
		return info.Size()
	default:
		return -1
	}
}
