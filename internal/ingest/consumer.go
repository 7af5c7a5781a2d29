package ingest

import (
	"context"
	"errors"
	"log"
	"time"

	"plant-edge/internal/processing"
	telemetry "plant-edge/internal/telemetry/domain"
)

// PointStore persists forwarded points. Implemented by the outbox.
type PointStore interface {
	Store(ctx context.Context, points []telemetry.Point) error
}

// PointObserver evaluates forwarded points. Implemented by the alarm
// evaluator.
type PointObserver interface {
	Observe(ctx context.Context, point telemetry.Point)
}

// Consumer drains the channel in arrival order, runs the processor
// synchronously per point (ordering within a tag is preserved), and
// hands forwarded points to the store in flushed batches and to the
// observer one by one.
type Consumer struct {
	channel   *Channel
	processor *processing.Processor
	store     PointStore
	observer  PointObserver

	maxBatch      int
	flushInterval time.Duration

	buf    []telemetry.Point
	logger *log.Logger
}

// NewConsumer constructs the pipeline consumer.
func NewConsumer(channel *Channel, processor *processing.Processor, store PointStore, observer PointObserver, maxBatch int, flushInterval time.Duration, logger *log.Logger) (*Consumer, error) {
	if channel == nil || processor == nil {
		return nil, errors.New("ingest: nil channel or processor")
	}
	if store == nil || observer == nil {
		return nil, errors.New("ingest: nil store or observer")
	}
	if maxBatch <= 0 {
		return nil, errors.New("ingest: batch size must be positive")
	}
	if flushInterval <= 0 {
		return nil, errors.New("ingest: flush interval must be positive")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Consumer{
		channel:       channel,
		processor:     processor,
		store:         store,
		observer:      observer,
		maxBatch:      maxBatch,
		flushInterval: flushInterval,
		logger:        logger,
	}, nil
}

// Run consumes until the context is cancelled, then flushes the
// current buffer and exits. A point already taken from the channel is
// always processed before shutdown completes.
func (c *Consumer) Run(ctx context.Context) {
	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.flush(context.Background())
			return
		case point := <-c.channel.ch:
			c.handle(ctx, point)
		case <-ticker.C:
			c.flush(ctx)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, point telemetry.Point) {
	forwarded := c.processor.Process([]telemetry.Point{point})
	for _, fp := range forwarded {
		c.observer.Observe(ctx, fp)
		c.buf = append(c.buf, fp)
	}
	if len(c.buf) >= c.maxBatch {
		c.flush(ctx)
	}
}

func (c *Consumer) flush(ctx context.Context) {
	if len(c.buf) == 0 {
		return
	}
	if err := c.store.Store(ctx, c.buf); err != nil {
		// Transient store failures lose this batch; the points are
		// already past the filter and cannot be replayed upstream.
		c.logger.Printf("ingest: store batch of %d points: %v", len(c.buf), err)
	}
	c.buf = c.buf[:0]
}
