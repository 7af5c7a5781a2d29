package ingest

import (
	"context"
	"errors"
	"log"
	"os"
	"testing"
	"time"

	"plant-edge/internal/processing"
	telemetry "plant-edge/internal/telemetry/domain"
)

type stubStore struct {
	batches [][]telemetry.Point
	err     error
}

func (s *stubStore) Store(_ context.Context, points []telemetry.Point) error {
	if s.err != nil {
		return s.err
	}
	batch := make([]telemetry.Point, len(points))
	copy(batch, points)
	s.batches = append(s.batches, batch)
	return nil
}

type stubObserver struct {
	seen []telemetry.Point
}

func (o *stubObserver) Observe(_ context.Context, point telemetry.Point) {
	o.seen = append(o.seen, point)
}

func ingestLogger(t *testing.T) *log.Logger {
	t.Helper()
	return log.New(os.Stderr, t.Name()+" ", 0)
}

func ingestPoint(ts int64, value float64) telemetry.Point {
	return telemetry.Point{
		DeviceID: "dev-1",
		TagID:    "temp",
		TS:       ts,
		Type:     telemetry.TypeFloat64,
		Value:    value,
		Quality:  telemetry.QualityGood,
	}
}

func TestChannelDropsWhenFull(t *testing.T) {
	ch, err := NewChannel(2, ingestLogger(t))
	if err != nil {
		t.Fatalf("new channel: %v", err)
	}

	if !ch.Publish(ingestPoint(1000, 1)) || !ch.Publish(ingestPoint(2000, 2)) {
		t.Fatalf("publishes within capacity should succeed")
	}
	if ch.Publish(ingestPoint(3000, 3)) {
		t.Fatalf("publish over capacity should report a drop")
	}

	stats := ch.Stats()
	if stats.Published != 2 || stats.Dropped != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.Capacity != 2 || stats.Length != 2 {
		t.Fatalf("unexpected buffer state: %+v", stats)
	}
}

func TestChannelRejectsBadCapacity(t *testing.T) {
	if _, err := NewChannel(0, nil); err == nil {
		t.Fatalf("zero capacity must be rejected")
	}
}

func newTestConsumer(t *testing.T, maxBatch int) (*Consumer, *Channel, *stubStore, *stubObserver) {
	t.Helper()
	ch, err := NewChannel(100, ingestLogger(t))
	if err != nil {
		t.Fatalf("new channel: %v", err)
	}
	proc, err := processing.NewProcessor(processing.Config{}, ingestLogger(t))
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}
	store := &stubStore{}
	observer := &stubObserver{}
	consumer, err := NewConsumer(ch, proc, store, observer, maxBatch, time.Second, ingestLogger(t))
	if err != nil {
		t.Fatalf("new consumer: %v", err)
	}
	return consumer, ch, store, observer
}

func TestConsumerFlushesAtBatchSize(t *testing.T) {
	consumer, _, store, observer := newTestConsumer(t, 2)
	ctx := context.Background()

	consumer.handle(ctx, ingestPoint(1000, 1))
	if len(store.batches) != 0 {
		t.Fatalf("flush should wait for the batch to fill")
	}
	consumer.handle(ctx, ingestPoint(2000, 2))
	if len(store.batches) != 1 || len(store.batches[0]) != 2 {
		t.Fatalf("expected one stored batch of 2 points, got %+v", store.batches)
	}

	consumer.handle(ctx, ingestPoint(3000, 3))
	consumer.flush(ctx)
	if len(store.batches) != 2 || len(store.batches[1]) != 1 {
		t.Fatalf("explicit flush should drain the partial buffer")
	}
	if len(observer.seen) != 3 {
		t.Fatalf("every forwarded point reaches the observer, got %d", len(observer.seen))
	}
}

func TestConsumerFlushesOnShutdown(t *testing.T) {
	consumer, ch, store, _ := newTestConsumer(t, 100)

	ch.Publish(ingestPoint(1000, 1))
	ch.Publish(ingestPoint(2000, 2))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		consumer.Run(ctx)
		close(done)
	}()

	// Wait for the consumer to drain the channel, then stop it.
	deadline := time.After(2 * time.Second)
	for ch.Stats().Length > 0 {
		select {
		case <-deadline:
			t.Fatalf("consumer never drained the channel")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done

	total := 0
	for _, batch := range store.batches {
		total += len(batch)
	}
	if total != 2 {
		t.Fatalf("shutdown flush should persist buffered points, stored %d", total)
	}
}

func TestConsumerLogsStoreFailure(t *testing.T) {
	consumer, _, store, observer := newTestConsumer(t, 1)
	store.err = errors.New("disk full")

	// A store failure must not stop the pipeline.
	consumer.handle(context.Background(), ingestPoint(1000, 1))
	consumer.handle(context.Background(), ingestPoint(2000, 2))
	if len(observer.seen) != 2 {
		t.Fatalf("observer should still see points when the store fails")
	}
}

func TestConsumerConstructorValidation(t *testing.T) {
	ch, _ := NewChannel(1, nil)
	proc, _ := processing.NewProcessor(processing.Config{}, nil)
	if _, err := NewConsumer(nil, proc, &stubStore{}, &stubObserver{}, 1, time.Second, nil); err == nil {
		t.Fatalf("nil channel must be rejected")
	}
	if _, err := NewConsumer(ch, proc, nil, &stubObserver{}, 1, time.Second, nil); err == nil {
		t.Fatalf("nil store must be rejected")
	}
	if _, err := NewConsumer(ch, proc, &stubStore{}, &stubObserver{}, 0, time.Second, nil); err == nil {
		t.Fatalf("zero batch size must be rejected")
	}
}
