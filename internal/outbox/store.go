package outbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"

	"plant-edge/internal/observability/metrics"
	telemetry "plant-edge/internal/telemetry/domain"
)

// Options configures the store-and-forward outbox.
type Options struct {
	Dir           string `yaml:"dir"`
	MaxSizeMB     int64  `yaml:"max_size_mb"`
	RetentionDays int    `yaml:"retention_days"`
	Compression   bool   `yaml:"compression"`
}

// Batch is one pending batch read back from disk.
type Batch struct {
	ID     int64
	Points []telemetry.Point
}

// Stats is a snapshot of outbox counters.
type Stats struct {
	PendingBatches int    `json:"pendingBatches"`
	PendingPoints  int64  `json:"pendingPoints"`
	TotalSizeBytes int64  `json:"totalSizeBytes"`
	StoredBatches  uint64 `json:"storedBatches"`
	EvictedBatches uint64 `json:"evictedBatches"`
	AckedBatches   uint64 `json:"ackedBatches"`
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Store is a durable, capacity-bounded FIFO of telemetry batches.
// Every mutation happens under one lock so batch files and the
// manifest never diverge; the manifest write is the commit point.
type Store struct {
	mu       sync.Mutex
	opts     Options
	manifest manifest

	stored  uint64
	evicted uint64
	acked   uint64

	clock  Clock
	logger *log.Logger
}

// Option customizes the store.
type Option func(*Store)

// WithClock assigns a clock.
func WithClock(clock Clock) Option {
	return func(s *Store) {
		s.clock = clock
	}
}

// NewStore opens (or creates) the outbox directory and rebuilds the
// in-memory FIFO from the manifest. No batch is lost or duplicated
// across restarts as long as the manifest write completed.
func NewStore(opts Options, logger *log.Logger, storeOpts ...Option) (*Store, error) {
	if opts.Dir == "" {
		return nil, errors.New("outbox: empty directory")
	}
	if opts.MaxSizeMB <= 0 {
		return nil, errors.New("outbox: max size must be positive")
	}
	if logger == nil {
		logger = log.Default()
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("outbox: create dir: %w", err)
	}
	m, err := loadManifest(opts.Dir)
	if err != nil {
		// A corrupted index self-heals by starting over; pending batch
		// files become unreachable orphans rather than poison.
		logger.Printf("outbox: index unreadable, starting empty: %v", err)
		m = manifest{NextBatchID: 1}
	}
	s := &Store{
		opts:     opts,
		manifest: m,
		clock:    systemClock{},
		logger:   logger,
	}
	for _, opt := range storeOpts {
		opt(s)
	}
	s.publishGauges()
	return s, nil
}

// Store serializes the points into a new batch file, commits the
// manifest entry, then enforces the capacity limit.
func (s *Store) Store(ctx context.Context, points []telemetry.Point) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(points) == 0 {
		return nil
	}
	data, err := s.encode(points)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.manifest.NextBatchID
	name := fmt.Sprintf("batch_%d.bin", id)
	if s.opts.Compression {
		name += ".gz"
	}
	if err := os.WriteFile(filepath.Join(s.opts.Dir, name), data, 0o644); err != nil {
		return fmt.Errorf("outbox: write batch %d: %w", id, err)
	}

	s.manifest.NextBatchID = id + 1
	s.manifest.Batches = append(s.manifest.Batches, BatchInfo{
		ID:         id,
		FileName:   name,
		PointCount: len(points),
		SizeBytes:  int64(len(data)),
		CreatedAt:  s.clock.Now().UnixMilli(),
	})
	if err := saveManifest(s.opts.Dir, s.manifest); err != nil {
		return err
	}
	s.stored++
	metrics.IncOutboxStored()

	s.enforceCapacityLocked()
	s.publishGauges()
	return nil
}

// ReadBatch peeks the oldest pending batch without removing it. A
// manifest entry whose file is missing or unreadable is dropped and
// the next entry tried. Returns (nil, nil) when the queue is empty.
// limit is advisory: batches are the atomic delivery unit, and their
// size is bounded at store time, so the head batch is always returned
// whole.
func (s *Store) ReadBatch(ctx context.Context, limit int) (*Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.manifest.Batches) > 0 {
		head := s.manifest.Batches[0]
		points, err := s.decodeFile(head.FileName)
		if err != nil {
			s.logger.Printf("outbox: dropping unreadable batch %d: %v", head.ID, err)
			s.dropHeadLocked()
			continue
		}
		return &Batch{ID: head.ID, Points: points}, nil
	}
	return nil, nil
}

// Acknowledge removes the head of the FIFO, but only if it matches
// the given id. Out-of-order acks are a no-op; the uploader must
// deliver strictly in order.
func (s *Store) Acknowledge(ctx context.Context, batchID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.manifest.Batches) == 0 || s.manifest.Batches[0].ID != batchID {
		return nil
	}
	head := s.manifest.Batches[0]
	if err := os.Remove(filepath.Join(s.opts.Dir, head.FileName)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logger.Printf("outbox: remove batch file %s: %v", head.FileName, err)
	}
	s.manifest.Batches = s.manifest.Batches[1:]
	if err := saveManifest(s.opts.Dir, s.manifest); err != nil {
		return err
	}
	s.acked++
	s.publishGauges()
	return nil
}

// Cleanup deletes batches older than the retention window regardless
// of ack state, bounding storage lifetime even if the uploader never
// comes back.
func (s *Store) Cleanup(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.opts.RetentionDays <= 0 {
		return nil
	}
	cutoff := s.clock.Now().Add(-time.Duration(s.opts.RetentionDays) * 24 * time.Hour).UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.manifest.Batches[:0]
	removed := 0
	for _, batch := range s.manifest.Batches {
		if batch.CreatedAt >= cutoff {
			kept = append(kept, batch)
			continue
		}
		if err := os.Remove(filepath.Join(s.opts.Dir, batch.FileName)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.logger.Printf("outbox: remove expired batch %s: %v", batch.FileName, err)
		}
		removed++
	}
	if removed == 0 {
		return nil
	}
	s.manifest.Batches = kept
	if err := saveManifest(s.opts.Dir, s.manifest); err != nil {
		return err
	}
	s.logger.Printf("outbox: retention removed %d expired batches", removed)
	s.publishGauges()
	return nil
}

// GetStats returns a counter snapshot.
func (s *Store) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	var points int64
	for _, batch := range s.manifest.Batches {
		points += int64(batch.PointCount)
	}
	return Stats{
		PendingBatches: len(s.manifest.Batches),
		PendingPoints:  points,
		TotalSizeBytes: s.manifest.totalSize(),
		StoredBatches:  s.stored,
		EvictedBatches: s.evicted,
		AckedBatches:   s.acked,
	}
}

// enforceCapacityLocked evicts oldest batches until total size is
// back under the limit. This is deliberate, bounded data loss under
// sustained backpressure.
func (s *Store) enforceCapacityLocked() {
	limit := s.opts.MaxSizeMB * 1024 * 1024
	changed := false
	for s.manifest.totalSize() > limit && len(s.manifest.Batches) > 0 {
		head := s.manifest.Batches[0]
		s.logger.Printf("outbox: capacity exceeded, evicting batch %d (%d points, %d bytes)",
			head.ID, head.PointCount, head.SizeBytes)
		if err := os.Remove(filepath.Join(s.opts.Dir, head.FileName)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.logger.Printf("outbox: remove evicted batch %s: %v", head.FileName, err)
		}
		s.manifest.Batches = s.manifest.Batches[1:]
		s.evicted++
		metrics.IncOutboxEvicted()
		changed = true
	}
	if changed {
		if err := saveManifest(s.opts.Dir, s.manifest); err != nil {
			s.logger.Printf("outbox: persist index after eviction: %v", err)
		}
	}
}

func (s *Store) dropHeadLocked() {
	s.manifest.Batches = s.manifest.Batches[1:]
	if err := saveManifest(s.opts.Dir, s.manifest); err != nil {
		s.logger.Printf("outbox: persist index after drop: %v", err)
	}
	s.publishGauges()
}

func (s *Store) encode(points []telemetry.Point) ([]byte, error) {
	data, err := json.Marshal(points)
	if err != nil {
		return nil, fmt.Errorf("outbox: encode batch: %w", err)
	}
	if !s.opts.Compression {
		return data, nil
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("outbox: compress batch: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("outbox: compress batch: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *Store) decodeFile(name string) ([]telemetry.Point, error) {
	data, err := os.ReadFile(filepath.Join(s.opts.Dir, name))
	if err != nil {
		return nil, err
	}
	if filepath.Ext(name) == ".gz" {
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		if data, err = io.ReadAll(zr); err != nil {
			return nil, err
		}
	}
	var points []telemetry.Point
	if err := json.Unmarshal(data, &points); err != nil {
		return nil, err
	}
	return points, nil
}

func (s *Store) publishGauges() {
	metrics.SetOutboxPending(len(s.manifest.Batches), s.manifest.totalSize())
}
