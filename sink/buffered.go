package sink

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/envlink/accumulator"
	"github.com/c360/envlink/errors"
	"github.com/c360/envlink/metric"
	"github.com/c360/envlink/pkg/buffer"
)

const (
	// DefaultBufferCapacity bounds the summary queue when the caller
	// does not configure one.
	DefaultBufferCapacity = 256

	drainTimeout = 5 * time.Second
)

// Buffered decouples accumulator flushes from a slow downstream sink.
// Summaries go through a bounded drop-oldest queue drained by a single
// goroutine, so PublishSummary never blocks the read loop; dropped
// summaries are counted and logged. Faults bypass the queue and are
// delivered synchronously, a fault notification must not be lost behind
// backlogged telemetry.
type Buffered struct {
	next   Sink
	queue  *buffer.Bounded[accumulator.Summary]
	logger *slog.Logger

	wg        sync.WaitGroup
	stopCh    chan struct{}
	closeOnce sync.Once
}

// NewBuffered wraps next with a bounded summary queue of the given
// capacity. A nil registry disables queue metrics.
func NewBuffered(next Sink, capacity int, logger *slog.Logger, reg *metric.MetricsRegistry) (*Buffered, error) {
	if next == nil {
		return nil, errors.WrapInvalid(
			errors.New("nil downstream sink"), "sink", "NewBuffered", "dependency check")
	}
	if capacity <= 0 {
		capacity = DefaultBufferCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := []buffer.Option[accumulator.Summary]{
		buffer.WithOverflowPolicy[accumulator.Summary](buffer.DropOldest),
		buffer.WithDropCallback[accumulator.Summary](func(s accumulator.Summary) {
			logger.Warn("summary dropped, downstream sink too slow",
				"channel", s.Channel, "window_end", s.End)
		}),
	}
	if reg != nil {
		opts = append(opts, buffer.WithMetrics[accumulator.Summary](reg, "sink"))
	}

	q, err := buffer.NewBounded[accumulator.Summary](capacity, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "sink", "NewBuffered", "queue creation")
	}

	b := &Buffered{
		next:   next,
		queue:  q,
		logger: logger,
		stopCh: make(chan struct{}),
	}
	b.wg.Add(1)
	go b.drain()
	return b, nil
}

// PublishSummary enqueues the summary without blocking. When the queue
// is full the oldest queued summary is evicted.
func (b *Buffered) PublishSummary(_ context.Context, summary accumulator.Summary) error {
	if err := b.queue.Write(summary); err != nil {
		return errors.Wrap(err, "sink", "PublishSummary", "enqueue")
	}
	return nil
}

// PublishFault delivers the fault synchronously to the downstream sink.
func (b *Buffered) PublishFault(ctx context.Context, fault Fault) error {
	return b.next.PublishFault(ctx, fault)
}

// Close stops the drain goroutine, flushes what remains in the queue and
// closes the downstream sink.
func (b *Buffered) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.stopCh)
		b.wg.Wait()
		b.queue.Close()
		b.flushRemaining()
		err = b.next.Close()
	})
	return err
}

// Stats exposes the queue statistics, including drop counts.
func (b *Buffered) Stats() *buffer.Statistics {
	return b.queue.Stats()
}

func (b *Buffered) drain() {
	defer b.wg.Done()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			for _, s := range b.queue.ReadBatch(32) {
				b.deliver(s)
			}
		}
	}
}

// flushRemaining drains whatever Close found still queued, bounded so a
// wedged downstream cannot stall shutdown.
func (b *Buffered) flushRemaining() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	for {
		s, ok := b.queue.Read()
		if !ok {
			return
		}
		if err := b.next.PublishSummary(ctx, s); err != nil {
			b.logger.Warn("summary lost during shutdown flush", "channel", s.Channel, "error", err)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (b *Buffered) deliver(s accumulator.Summary) {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := b.next.PublishSummary(ctx, s); err != nil {
		b.logger.Warn("summary publish failed", "channel", s.Channel, "error", err)
	}
}
