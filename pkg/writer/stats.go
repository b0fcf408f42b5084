package writer

import "errors"

// Stats describes the writer's queues and outcomes.
type Stats struct {
	// QueueDepth is the number of writes waiting across all shards.
	QueueDepth int

	// Pending counts writes accepted but not yet applied.
	Pending int64

	DroppedWrites int64
	TotalWrites   int64
	FailedWrites  int64
}

var (
	// ErrQueueFull is returned when a shard stayed full for MaxWaitTime.
	ErrQueueFull = errors.New("writer: queue full, write dropped")

	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer: writer is closed")

	// ErrFlushTimeout is returned when Flush gives up before pending writes land.
	ErrFlushTimeout = errors.New("writer: flush timeout exceeded")
)
