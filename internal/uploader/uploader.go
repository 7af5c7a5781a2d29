package uploader

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"plant-edge/internal/observability/metrics"
	"plant-edge/internal/outbox"
	telemetry "plant-edge/internal/telemetry/domain"
)

// Outbox is the slice of the store the uploader drains.
type Outbox interface {
	ReadBatch(ctx context.Context, limit int) (*outbox.Batch, error)
	Acknowledge(ctx context.Context, batchID int64) error
}

// API delivers batches to the central store.
type API interface {
	UploadTelemetry(ctx context.Context, batchID int64, idempotencyKey string, points []telemetry.Point) error
}

// Uploader drains the outbox to the central API: read the head batch,
// upload, acknowledge on success. A batch is never acknowledged on
// failure, so delivery is at-least-once; the server dedupes by
// idempotency key.
type Uploader struct {
	store      Outbox
	api        API
	interval   time.Duration
	maxBackoff time.Duration
	batchLimit int
	logger     *log.Logger
}

// New constructs an uploader.
func New(store Outbox, api API, interval, maxBackoff time.Duration, batchLimit int, logger *log.Logger) (*Uploader, error) {
	if store == nil || api == nil {
		return nil, errors.New("uploader: nil store or api")
	}
	if interval <= 0 {
		return nil, errors.New("uploader: interval must be positive")
	}
	if maxBackoff < interval {
		maxBackoff = interval
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Uploader{
		store:      store,
		api:        api,
		interval:   interval,
		maxBackoff: maxBackoff,
		batchLimit: batchLimit,
		logger:     logger,
	}, nil
}

// Run drains until cancelled. After a failed upload the wait doubles
// up to the cap, then resets on the next success.
func (u *Uploader) Run(ctx context.Context) {
	wait := u.interval
	for {
		drained, err := u.DrainOnce(ctx)
		switch {
		case err != nil:
			u.logger.Printf("uploader: %v", err)
			wait *= 2
			if wait > u.maxBackoff {
				wait = u.maxBackoff
			}
		case drained > 0:
			wait = u.interval
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// DrainOnce uploads pending batches until the outbox is empty or an
// upload fails. Returns the number of batches delivered.
func (u *Uploader) DrainOnce(ctx context.Context) (int, error) {
	delivered := 0
	for {
		if err := ctx.Err(); err != nil {
			return delivered, nil
		}
		batch, err := u.store.ReadBatch(ctx, u.batchLimit)
		if err != nil {
			return delivered, err
		}
		if batch == nil {
			return delivered, nil
		}

		start := time.Now()
		if err := u.api.UploadTelemetry(ctx, batch.ID, uuid.NewString(), batch.Points); err != nil {
			metrics.ObserveUpload(metrics.ResultError, time.Since(start))
			return delivered, err
		}
		metrics.ObserveUpload(metrics.ResultSuccess, time.Since(start))

		if err := u.store.Acknowledge(ctx, batch.ID); err != nil {
			return delivered, err
		}
		delivered++
	}
}
