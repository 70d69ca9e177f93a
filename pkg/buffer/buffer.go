// Package buffer provides a generic, thread-safe circular buffer with
// configurable overflow policies.
//
// The pipeline uses it in two places: the rolling window of processing
// times kept by the stats recorder (DropOldest, fixed capacity) and the
// per-connection send queues of the socket server (DropNewest). Statistics
// are always collected; Prometheus export is optional via WithMetrics.
package buffer

// Buffer is a generic bounded buffer. All implementations are thread-safe.
type Buffer[T any] interface {
	// Write adds an item to the buffer. Behavior when full depends on the
	// overflow policy.
	Write(item T) error

	// Read retrieves and removes the oldest item. Returns the zero value
	// and false if the buffer is empty.
	Read() (T, bool)

	// ReadBatch retrieves and removes up to max items, oldest first.
	ReadBatch(max int) []T

	// Snapshot returns a copy of the buffered items, oldest first, without
	// removing them.
	Snapshot() []T

	// Size returns the current number of items in the buffer.
	Size() int

	// Capacity returns the maximum number of items the buffer can hold.
	Capacity() int

	// IsFull returns true if the buffer is at maximum capacity.
	IsFull() bool

	// IsEmpty returns true if the buffer contains no items.
	IsEmpty() bool

	// Clear removes all items from the buffer.
	Clear()

	// Stats returns buffer statistics.
	Stats() *Statistics

	// Close shuts down the buffer and wakes any blocked writers.
	Close() error
}

// OverflowPolicy defines how the buffer behaves when it reaches capacity.
type OverflowPolicy int

const (
	// DropOldest removes the oldest item to make room for new items.
	DropOldest OverflowPolicy = iota

	// DropNewest drops new items when the buffer is full.
	DropNewest

	// Block causes Write operations to block until space is available.
	Block
)

// String returns a human-readable representation of the overflow policy.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	case Block:
		return "Block"
	default:
		return "Unknown"
	}
}

// DropCallback is called with each item dropped due to the overflow policy.
type DropCallback[T any] func(item T)

// NewCircularBuffer creates a circular buffer with the given capacity.
// Returns an error if metrics registration fails when metrics are requested.
func NewCircularBuffer[T any](capacity int, options ...Option[T]) (Buffer[T], error) {
	opts := applyOptions(options...)
	return newCircularBuffer(capacity, opts)
}
