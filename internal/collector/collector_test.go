package collector

import (
	"context"
	"sync"
	"testing"
	"time"

	telemetry "plant-edge/internal/telemetry/domain"
)

type capturePublisher struct {
	mu     sync.Mutex
	points []telemetry.Point
}

func (p *capturePublisher) Publish(point telemetry.Point) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.points = append(p.points, point)
	return true
}

func (p *capturePublisher) snapshot() []telemetry.Point {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]telemetry.Point, len(p.points))
	copy(out, p.points)
	return out
}

func TestSimulatorEmitsValidPoints(t *testing.T) {
	sim, err := NewSimulator(SimulatorOptions{
		DeviceID: "sim-1",
		Tags:     []string{"temp", "pressure"},
		Interval: 5 * time.Millisecond,
		Base:     50,
		Noise:    0.5,
	})
	if err != nil {
		t.Fatalf("new simulator: %v", err)
	}

	pub := &capturePublisher{}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := sim.Run(ctx, pub); err != nil {
		t.Fatalf("run: %v", err)
	}

	points := pub.snapshot()
	if len(points) < 2 {
		t.Fatalf("simulator emitted too few points: %d", len(points))
	}
	seen := map[string]bool{}
	for _, point := range points {
		if err := point.Validate(); err != nil {
			t.Fatalf("invalid point %+v: %v", point, err)
		}
		if point.DeviceID != "sim-1" {
			t.Fatalf("unexpected device %q", point.DeviceID)
		}
		seen[point.TagID] = true
	}
	if !seen["temp"] || !seen["pressure"] {
		t.Fatalf("expected points for every tag, got %v", seen)
	}
}

func TestSimulatorValidation(t *testing.T) {
	if _, err := NewSimulator(SimulatorOptions{Tags: []string{"temp"}}); err == nil {
		t.Fatalf("missing device id must be rejected")
	}
	if _, err := NewSimulator(SimulatorOptions{DeviceID: "sim-1"}); err == nil {
		t.Fatalf("missing tags must be rejected")
	}
}

type blockingCollector struct{}

func (blockingCollector) Name() string { return "blocking" }

func (blockingCollector) Run(ctx context.Context, _ Publisher) error {
	<-ctx.Done()
	return nil
}

func TestRunnerStopsOnCancel(t *testing.T) {
	runner := NewRunner(&capturePublisher{}, nil, blockingCollector{}, blockingCollector{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		runner.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("runner did not stop after cancel")
	}
}
