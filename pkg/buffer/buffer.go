// Package buffer provides a generic, thread-safe bounded queue used at the
// output hand-off boundary. The overflow policy decides what happens when
// the queue is full; drops are always counted so backpressure is visible.
package buffer

import (
	"sync"

	"github.com/c360/envlink/errors"
	"github.com/c360/envlink/metric"
)

// OverflowPolicy defines how the queue behaves when it reaches capacity.
type OverflowPolicy int

const (
	// DropOldest removes the oldest item to make room for new items.
	DropOldest OverflowPolicy = iota

	// DropNewest drops new items when the queue is full.
	DropNewest
)

// String returns a human-readable representation of the overflow policy.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	default:
		return "Unknown"
	}
}

// DropCallback is called with each item dropped by the overflow policy.
type DropCallback[T any] func(item T)

// Option configures a Bounded queue.
type Option[T any] func(*options[T])

type options[T any] struct {
	policy       OverflowPolicy
	dropCallback DropCallback[T]
	metricsReg   *metric.MetricsRegistry
	metricsName  string
}

// WithOverflowPolicy sets the overflow policy (default DropOldest).
func WithOverflowPolicy[T any](p OverflowPolicy) Option[T] {
	return func(o *options[T]) { o.policy = p }
}

// WithDropCallback registers a callback invoked for every dropped item.
func WithDropCallback[T any](cb DropCallback[T]) Option[T] {
	return func(o *options[T]) { o.dropCallback = cb }
}

// WithMetrics exposes queue statistics as Prometheus metrics under the
// given component name.
func WithMetrics[T any](reg *metric.MetricsRegistry, name string) Option[T] {
	return func(o *options[T]) {
		o.metricsReg = reg
		o.metricsName = name
	}
}

// Bounded is a thread-safe fixed-capacity FIFO queue.
type Bounded[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	size     int
	head     int // next write position
	tail     int // next read position
	closed   bool

	stats   *Statistics
	metrics *queueMetrics
	opts    options[T]
}

// NewBounded creates a bounded queue with the given capacity.
// Returns an error if metrics registration fails when requested.
func NewBounded[T any](capacity int, opts ...Option[T]) (*Bounded[T], error) {
	if capacity <= 0 {
		capacity = 1
	}

	var o options[T]
	for _, opt := range opts {
		opt(&o)
	}

	var qm *queueMetrics
	if o.metricsReg != nil && o.metricsName != "" {
		var err error
		qm, err = newQueueMetrics(o.metricsReg, o.metricsName)
		if err != nil {
			return nil, errors.Wrap(err, "buffer", "NewBounded", "metrics registration")
		}
	}

	return &Bounded[T]{
		items:    make([]T, capacity),
		capacity: capacity,
		stats:    NewStatistics(),
		metrics:  qm,
		opts:     o,
	}, nil
}

// Write adds an item to the queue according to the overflow policy.
// It never blocks.
func (b *Bounded[T]) Write(item T) error {
	b.mu.Lock()

	if b.closed {
		b.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "buffer", "Write", "queue closed")
	}

	var dropped T
	var didDrop bool

	if b.size == b.capacity {
		b.stats.Overflow()
		b.stats.Drop()
		if b.metrics != nil {
			b.metrics.recordOverflow()
			b.metrics.recordDrop()
		}

		switch b.opts.policy {
		case DropOldest:
			dropped = b.items[b.tail]
			didDrop = true
			b.tail = (b.tail + 1) % b.capacity
			b.size--
		case DropNewest:
			b.mu.Unlock()
			if b.opts.dropCallback != nil {
				b.opts.dropCallback(item)
			}
			return nil
		}
	}

	b.items[b.head] = item
	b.head = (b.head + 1) % b.capacity
	b.size++

	b.stats.Write()
	b.stats.UpdateSize(int64(b.size))
	if b.metrics != nil {
		b.metrics.recordWrite(b.size, b.capacity)
	}
	b.mu.Unlock()

	// Callback runs outside the lock to avoid deadlock.
	if didDrop && b.opts.dropCallback != nil {
		b.opts.dropCallback(dropped)
	}
	return nil
}

// Read retrieves and removes one item from the queue.
// Returns the zero value and false if the queue is empty.
func (b *Bounded[T]) Read() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var zero T
	if b.size == 0 {
		return zero, false
	}

	item := b.items[b.tail]
	b.items[b.tail] = zero // clear for GC
	b.tail = (b.tail + 1) % b.capacity
	b.size--

	b.stats.Read()
	b.stats.UpdateSize(int64(b.size))
	if b.metrics != nil {
		b.metrics.recordRead(b.size, b.capacity)
	}

	return item, true
}

// ReadBatch retrieves and removes up to max items from the queue.
func (b *Bounded[T]) ReadBatch(max int) []T {
	if max <= 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.size == 0 {
		return nil
	}

	readCount := max
	if readCount > b.size {
		readCount = b.size
	}

	result := make([]T, readCount)
	var zero T
	for i := 0; i < readCount; i++ {
		result[i] = b.items[b.tail]
		b.items[b.tail] = zero
		b.tail = (b.tail + 1) % b.capacity
		b.size--
		b.stats.Read()
	}

	b.stats.UpdateSize(int64(b.size))
	if b.metrics != nil {
		b.metrics.updateSize(b.size, b.capacity)
	}

	return result
}

// Size returns the current number of items in the queue.
func (b *Bounded[T]) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Capacity returns the maximum number of items the queue can hold.
func (b *Bounded[T]) Capacity() int {
	return b.capacity
}

// Stats returns queue statistics.
func (b *Bounded[T]) Stats() *Statistics {
	return b.stats
}

// Close shuts down the queue. Subsequent writes fail; reads drain the
// remaining items.
func (b *Bounded[T]) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
