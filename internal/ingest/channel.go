package ingest

import (
	"errors"
	"log"
	"sync/atomic"

	"plant-edge/internal/observability/metrics"
	telemetry "plant-edge/internal/telemetry/domain"
)

// warnIntervalMs rate-limits the channel-full warning.
const warnIntervalMs = 1000

// Channel is the bounded hand-off between protocol collectors and the
// single pipeline consumer. Publishing never blocks: when the buffer
// is full the point is dropped and counted, so a slow PLC poll never
// stalls on congested downstream processing.
type Channel struct {
	ch        chan telemetry.Point
	published atomic.Uint64
	dropped   atomic.Uint64
	lastWarn  atomic.Int64
	logger    *log.Logger
}

// ChannelStats is a snapshot of channel counters.
type ChannelStats struct {
	Capacity  int    `json:"capacity"`
	Length    int    `json:"length"`
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
}

// NewChannel constructs a bounded channel.
func NewChannel(capacity int, logger *log.Logger) (*Channel, error) {
	if capacity <= 0 {
		return nil, errors.New("ingest: channel capacity must be positive")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Channel{
		ch:     make(chan telemetry.Point, capacity),
		logger: logger,
	}, nil
}

// Publish offers a point to the pipeline. Returns false when the
// point was dropped because the buffer is full.
func (c *Channel) Publish(point telemetry.Point) bool {
	select {
	case c.ch <- point:
		c.published.Add(1)
		return true
	default:
		c.dropped.Add(1)
		metrics.IncChannelDropped()
		c.warnDrop(point)
		return false
	}
}

func (c *Channel) warnDrop(point telemetry.Point) {
	now := point.TS
	last := c.lastWarn.Load()
	if now-last < warnIntervalMs {
		return
	}
	if c.lastWarn.CompareAndSwap(last, now) {
		c.logger.Printf("ingest: channel full, dropping points (total dropped %d)", c.dropped.Load())
	}
}

// Stats returns a counter snapshot.
func (c *Channel) Stats() ChannelStats {
	return ChannelStats{
		Capacity:  cap(c.ch),
		Length:    len(c.ch),
		Published: c.published.Load(),
		Dropped:   c.dropped.Load(),
	}
}
