package shelf

// ProgressEvent represents a progress update during import or export.
type ProgressEvent struct {
	// Operation identifies the operation type ("import" or "export").
	Operation string
	// BytesTransferred is the cumulative bytes processed so far.
	BytesTransferred int64
	// TotalBytes is the total expected size, or -1 when unknown.
	TotalBytes int64
}

// ProgressCallback is called during import and export to report progress.
// Implementations should be efficient as this may be called frequently.
type ProgressCallback func(event ProgressEvent)

func (cb ProgressCallback) forOperation(op string) func(done, total int64) {
	if cb == nil {
		return nil
	}
	return func(done, total int64) {
		cb(ProgressEvent{Operation: op, BytesTransferred: done, TotalBytes: total})
	}
}
