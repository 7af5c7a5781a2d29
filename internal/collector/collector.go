package collector

import (
	"context"
	"log"
	"sync"
	"time"

	telemetry "plant-edge/internal/telemetry/domain"
)

// Publisher is the write side of the ingestion channel. Publish never
// blocks; collectors must tolerate dropped points under overload.
type Publisher interface {
	Publish(point telemetry.Point) bool
}

// Collector produces telemetry points from one protocol source.
type Collector interface {
	Name() string
	Run(ctx context.Context, pub Publisher) error
}

// restartDelay spaces collector restarts after an error exit.
const restartDelay = 5 * time.Second

// Runner supervises collectors: each runs in its own goroutine and is
// restarted after failures until the context is cancelled. A broken
// PLC connection must never take the agent down.
type Runner struct {
	collectors []Collector
	pub        Publisher
	logger     *log.Logger
}

// NewRunner constructs a runner.
func NewRunner(pub Publisher, logger *log.Logger, collectors ...Collector) *Runner {
	if logger == nil {
		logger = log.Default()
	}
	return &Runner{collectors: collectors, pub: pub, logger: logger}
}

// Run blocks until the context is cancelled and all collectors exit.
func (r *Runner) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, c := range r.collectors {
		wg.Add(1)
		go func(c Collector) {
			defer wg.Done()
			r.supervise(ctx, c)
		}(c)
	}
	wg.Wait()
}

func (r *Runner) supervise(ctx context.Context, c Collector) {
	for {
		err := c.Run(ctx, r.pub)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			r.logger.Printf("collector %s: %v, restarting in %s", c.Name(), err, restartDelay)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(restartDelay):
		}
	}
}
