package collector

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync/atomic"
	"time"

	telemetry "plant-edge/internal/telemetry/domain"
)

// SimulatorOptions configures the virtual device collector used for
// local runs and load tests.
type SimulatorOptions struct {
	DeviceID  string        `yaml:"device_id"`
	Tags      []string      `yaml:"tags"`
	Interval  time.Duration `yaml:"interval"`
	Base      float64       `yaml:"base"`
	Amplitude float64       `yaml:"amplitude"`
	Noise     float64       `yaml:"noise"`
}

// Simulator emits a sine wave with noise per configured tag.
type Simulator struct {
	opts SimulatorOptions
	seq  atomic.Uint64
	rng  *rand.Rand
}

// NewSimulator constructs a simulator collector.
func NewSimulator(opts SimulatorOptions) (*Simulator, error) {
	if opts.DeviceID == "" {
		return nil, errors.New("collector: simulator device id required")
	}
	if len(opts.Tags) == 0 {
		return nil, errors.New("collector: simulator needs at least one tag")
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.Amplitude == 0 {
		opts.Amplitude = 10
	}
	return &Simulator{
		opts: opts,
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Name implements Collector.
func (s *Simulator) Name() string { return "simulator:" + s.opts.DeviceID }

// Run emits one point per tag per interval until cancelled.
func (s *Simulator) Run(ctx context.Context, pub Publisher) error {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			phase := now.Sub(start).Seconds() / 60 * 2 * math.Pi
			for i, tag := range s.opts.Tags {
				value := s.opts.Base +
					s.opts.Amplitude*math.Sin(phase+float64(i)) +
					s.rng.NormFloat64()*s.opts.Noise
				pub.Publish(telemetry.Point{
					DeviceID: s.opts.DeviceID,
					TagID:    tag,
					TS:       now.UnixMilli(),
					Sequence: s.seq.Add(1),
					Type:     telemetry.TypeFloat64,
					Value:    value,
					Quality:  telemetry.QualityGood,
				})
			}
		}
	}
}
