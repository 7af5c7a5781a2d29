package processing

import (
	"errors"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	telemetry "plant-edge/internal/telemetry/domain"

	"plant-edge/internal/observability/metrics"
)

// Welford accumulators need this many samples before z-scores are
// trusted for outlier decisions.
const outlierMinSamples = 10

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// tagState is the runtime state for one deviceId:tagId. Entries are
// created lazily and kept for the process lifetime. Value fields are
// mutated only by the consumer goroutine driving Process.
type tagState struct {
	hasValue      bool
	lastValue     float64
	lastTimestamp int64

	hasSent           bool
	lastSentValue     float64
	lastSentTimestamp int64

	sampleCount int64
	mean        float64
	m2          float64
}

func (s *tagState) observe(value float64, ts int64) {
	s.hasValue = true
	s.lastValue = value
	s.lastTimestamp = ts

	s.sampleCount++
	delta := value - s.mean
	s.mean += delta / float64(s.sampleCount)
	s.m2 += delta * (value - s.mean)
}

func (s *tagState) stddev() float64 {
	if s.sampleCount < 2 {
		return 0
	}
	return math.Sqrt(s.m2 / float64(s.sampleCount-1))
}

// Stats is a snapshot of processor counters.
type Stats struct {
	TotalReceived uint64  `json:"totalReceived"`
	TotalFiltered uint64  `json:"totalFiltered"`
	TotalOutliers uint64  `json:"totalOutliers"`
	FilterRate    float64 `json:"filterRate"`
	TrackedTags   int     `json:"trackedTags"`
}

// Processor applies deadband, rate-limit and outlier filtering to the
// point stream. Per-tag runtime state stays accurate even for dropped
// points so streaming statistics never skew.
type Processor struct {
	config     atomic.Pointer[Config]
	tagConfigs atomic.Pointer[map[string]TagConfig]

	mu     sync.Mutex
	states map[string]*tagState

	received atomic.Uint64
	filtered atomic.Uint64
	outliers atomic.Uint64

	clock  Clock
	logger *log.Logger
}

// Option customizes the processor.
type Option func(*Processor)

// WithClock assigns a clock.
func WithClock(clock Clock) Option {
	return func(p *Processor) {
		p.clock = clock
	}
}

// NewProcessor constructs a processor with the given defaults.
func NewProcessor(cfg Config, logger *log.Logger, opts ...Option) (*Processor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}
	p := &Processor{
		states: make(map[string]*tagState),
		clock:  systemClock{},
		logger: logger,
	}
	p.config.Store(&cfg)
	empty := map[string]TagConfig{}
	p.tagConfigs.Store(&empty)
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// UpdateConfig swaps the global defaults. Invalid configs are
// rejected and the previous snapshot stays active.
func (p *Processor) UpdateConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	p.config.Store(&cfg)
	return nil
}

// UpdateTagConfigs swaps the per-tag overrides wholesale.
func (p *Processor) UpdateTagConfigs(tags map[string]TagConfig) error {
	for key, tag := range tags {
		if err := tag.Validate(); err != nil {
			return errors.Join(errors.New("processing: tag "+key), err)
		}
	}
	snapshot := make(map[string]TagConfig, len(tags))
	for key, tag := range tags {
		snapshot[key] = tag
	}
	p.tagConfigs.Store(&snapshot)
	return nil
}

// Process filters a slice of points and returns the ones to forward.
// Within a tag the input order is preserved.
func (p *Processor) Process(points []telemetry.Point) []telemetry.Point {
	if len(points) == 0 {
		return nil
	}
	cfg := *p.config.Load()
	tags := *p.tagConfigs.Load()

	out := make([]telemetry.Point, 0, len(points))
	for _, point := range points {
		p.received.Add(1)
		metrics.IncPointsReceived()
		if forwarded, ok := p.processOne(cfg, tags, point); ok {
			out = append(out, forwarded)
		} else {
			p.filtered.Add(1)
			metrics.IncPointsFiltered()
		}
	}
	return out
}

func (p *Processor) processOne(cfg Config, tags map[string]TagConfig, point telemetry.Point) (telemetry.Point, bool) {
	state := p.state(point.Key())
	value, numeric := point.NumericValue()

	now := point.TS
	if now <= 0 {
		now = p.clock.Now().UnixMilli()
	}

	// Snapshot the accumulators before folding in the current sample;
	// the z-score must not include the value under test.
	prevCount := state.sampleCount
	prevMean := state.mean
	prevStddev := state.stddev()

	if numeric {
		state.observe(value, now)
	}

	tag, hasTag := tags[point.Key()]
	if hasTag && tag.Bypass {
		p.markSent(state, value, numeric, now)
		return point, true
	}

	// Non-numeric payloads carry no filterable signal.
	if !numeric {
		return point, true
	}

	eff := cfg
	if hasTag {
		eff = cfg.Resolve(tag)
	}

	// First value for a tag is always forwarded; there is nothing to
	// compare a deadband against yet.
	if !state.hasSent {
		p.markSent(state, value, true, now)
		return point, true
	}

	if eff.ForceUploadIntervalMs > 0 && now-state.lastSentTimestamp >= eff.ForceUploadIntervalMs {
		p.markSent(state, value, true, now)
		return point, true
	}

	if eff.MinIntervalMs > 0 && now-state.lastSentTimestamp < eff.MinIntervalMs {
		return telemetry.Point{}, false
	}

	if eff.OutlierEnabled && prevCount > outlierMinSamples && prevStddev > 0 {
		z := (value - prevMean) / prevStddev
		if math.Abs(z) > eff.OutlierSigmaThreshold {
			switch eff.OutlierAction {
			case OutlierDrop:
				p.outliers.Add(1)
				metrics.IncOutliers()
				return telemetry.Point{}, false
			case OutlierMark:
				point = point.WithQuality(telemetry.QualityUncertain)
				p.markSent(state, value, true, now)
				return point, true
			case OutlierPass:
				// fall through to deadband
			}
		}
	}

	if shouldSuppress(eff, state.lastSentValue, value) {
		return telemetry.Point{}, false
	}

	p.markSent(state, value, true, now)
	return point, true
}

// shouldSuppress applies the deadband: a point is dropped only when
// every configured criterion says the change is insignificant.
func shouldSuppress(cfg Config, lastSent, value float64) bool {
	if cfg.Deadband <= 0 && cfg.DeadbandPercent <= 0 {
		return false
	}
	delta := math.Abs(value - lastSent)
	if cfg.Deadband > 0 && delta >= cfg.Deadband {
		return false
	}
	if cfg.DeadbandPercent > 0 {
		if lastSent == 0 {
			return delta == 0
		}
		percent := delta / math.Abs(lastSent) * 100
		if percent >= cfg.DeadbandPercent {
			return false
		}
	}
	return true
}

func (p *Processor) markSent(state *tagState, value float64, numeric bool, now int64) {
	if numeric {
		state.lastSentValue = value
	}
	state.hasSent = true
	state.lastSentTimestamp = now
}

func (p *Processor) state(key string) *tagState {
	p.mu.Lock()
	defer p.mu.Unlock()
	state, ok := p.states[key]
	if !ok {
		state = &tagState{}
		p.states[key] = state
	}
	return state
}

// GetStats returns a counter snapshot.
func (p *Processor) GetStats() Stats {
	received := p.received.Load()
	filtered := p.filtered.Load()
	rate := 0.0
	if received > 0 {
		rate = float64(filtered) / float64(received)
	}
	p.mu.Lock()
	tracked := len(p.states)
	p.mu.Unlock()
	return Stats{
		TotalReceived: received,
		TotalFiltered: filtered,
		TotalOutliers: p.outliers.Load(),
		FilterRate:    rate,
		TrackedTags:   tracked,
	}
}
