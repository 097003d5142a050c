package writer

import "errors"

// AsyncWriterStats provides statistics about async writer operations.
type AsyncWriterStats struct {
	// QueueDepth is the current number of pending writes in the queue
	QueueDepth int

	// DroppedWrites counts writes rejected because the queue stayed full
	DroppedWrites int64

	// TotalWrites counts accepted writes
	TotalWrites int64

	// FailedWrites counts writes the layer returned an error for
	FailedWrites int64

	// DiscardedWrites counts writes skipped because the guard declared them stale
	DiscardedWrites int64
}

var (
	// ErrQueueFull is returned when the queue stays full for MaxWaitTime.
	ErrQueueFull = errors.New("writer: queue full, write dropped")

	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer: writer is closed")

	// ErrFlushTimeout is returned when Flush times out waiting for the queue to drain.
	ErrFlushTimeout = errors.New("writer: flush timeout exceeded")
)
