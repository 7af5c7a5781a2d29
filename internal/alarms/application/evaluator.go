package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	alarms "plant-edge/internal/alarms/domain"
	"plant-edge/internal/observability/metrics"
	telemetry "plant-edge/internal/telemetry/domain"
)

// Event is one alarm lifecycle update pushed to notifiers.
type Event struct {
	Type   string        `json:"type"` // open | acknowledged | closed
	Record alarms.Record `json:"record"`
}

// Notifier receives alarm lifecycle events.
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Stats is a snapshot of evaluator counters.
type Stats struct {
	OpenAlarms  int    `json:"openAlarms"`
	TotalFired  uint64 `json:"totalFired"`
	ActiveRules int    `json:"activeRules"`
}

type seenEntry struct {
	deviceID string
	tagID    string
	ts       int64
}

// Evaluator runs the per-(device, tag, rule) alarm state machine:
// Idle -> ConditionPending (debounce) -> Open -> Acknowledged/Closed.
// While an unclosed record exists for a rule/originator, re-triggering
// is suppressed; closing returns the pair to Idle.
type Evaluator struct {
	mu           sync.Mutex
	rulesByTag   map[string][]alarms.Rule
	offlineRules []alarms.Rule
	ruleCount    int

	pending  map[string]int64          // state key -> pending since (ms)
	windows  map[string]*slidingWindow // state key -> RoC/volatility window
	lastSeen map[string]seenEntry      // device:tag -> last point
	open     map[string]*alarms.Record // state key -> unclosed record
	byID     map[string]string         // record id -> state key

	fired uint64

	notifier Notifier
	clock    Clock
	logger   *log.Logger
}

// Option customizes the evaluator.
type Option func(*Evaluator)

// WithNotifier assigns a notifier.
func WithNotifier(notifier Notifier) Option {
	return func(e *Evaluator) {
		e.notifier = notifier
	}
}

// WithClock assigns a clock.
func WithClock(clock Clock) Option {
	return func(e *Evaluator) {
		e.clock = clock
	}
}

// NewEvaluator constructs an evaluator with an initial rule set.
func NewEvaluator(rules []alarms.Rule, logger *log.Logger, opts ...Option) (*Evaluator, error) {
	if logger == nil {
		logger = log.Default()
	}
	e := &Evaluator{
		rulesByTag: map[string][]alarms.Rule{},
		pending:    map[string]int64{},
		windows:    map[string]*slidingWindow{},
		lastSeen:   map[string]seenEntry{},
		open:       map[string]*alarms.Record{},
		byID:       map[string]string{},
		clock:      systemClock{},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.UpdateRules(rules); err != nil {
		return nil, err
	}
	return e, nil
}

// UpdateRules swaps the rule set wholesale. Any invalid rule rejects
// the whole set and the previous rules stay active.
func (e *Evaluator) UpdateRules(rules []alarms.Rule) error {
	byTag := map[string][]alarms.Rule{}
	var offline []alarms.Rule
	count := 0
	for _, rule := range rules {
		if err := rule.Validate(); err != nil {
			return err
		}
		if !rule.Enabled {
			continue
		}
		count++
		if rule.Condition == alarms.ConditionOffline {
			offline = append(offline, rule)
			continue
		}
		byTag[rule.TagID] = append(byTag[rule.TagID], rule)
	}
	e.mu.Lock()
	e.rulesByTag = byTag
	e.offlineRules = offline
	e.ruleCount = count
	e.mu.Unlock()
	return nil
}

// Observe evaluates one forwarded point against every matching rule.
// Called synchronously by the pipeline consumer; ordering within a
// tag is the channel's arrival order.
func (e *Evaluator) Observe(ctx context.Context, point telemetry.Point) {
	now := point.TS
	if now <= 0 {
		now = e.clock.Now().UnixMilli()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.lastSeen[point.Key()] = seenEntry{deviceID: point.DeviceID, tagID: point.TagID, ts: now}

	value, numeric := point.NumericValue()
	if !numeric {
		return
	}

	for _, rule := range e.rulesByTag[point.TagID] {
		if rule.DeviceID != "" && rule.DeviceID != point.DeviceID {
			continue
		}
		key := stateKey(point.DeviceID, point.TagID, rule.ID)
		switch {
		case rule.Condition.Threshold():
			e.evalThreshold(ctx, rule, key, point, value, now)
		case rule.Condition.Windowed():
			e.evalWindowed(ctx, rule, key, point, value, now)
		}
	}
}

func (e *Evaluator) evalThreshold(ctx context.Context, rule alarms.Rule, key string, point telemetry.Point, value float64, now int64) {
	if !compare(rule.Condition, value, rule.Threshold) {
		// Transient spikes never fire: a false reading cancels the
		// debounce timer.
		delete(e.pending, key)
		return
	}
	if _, isOpen := e.open[key]; isOpen {
		return
	}
	if rule.DurationMs <= 0 {
		e.fire(ctx, rule, key, point.DeviceID, point.TagID, value, now)
		return
	}
	since, ok := e.pending[key]
	if !ok {
		e.pending[key] = now
		return
	}
	if now-since >= rule.DurationMs {
		delete(e.pending, key)
		e.fire(ctx, rule, key, point.DeviceID, point.TagID, value, now)
	}
}

func (e *Evaluator) evalWindowed(ctx context.Context, rule alarms.Rule, key string, point telemetry.Point, value float64, now int64) {
	window, ok := e.windows[key]
	if !ok {
		window = &slidingWindow{}
		e.windows[key] = window
	}
	window.add(now, value)
	window.evictBefore(now - rule.RocWindowMs)
	if window.len() < 2 {
		return
	}
	if _, isOpen := e.open[key]; isOpen {
		return
	}

	switch rule.Condition {
	case alarms.ConditionRocPercent:
		old := window.oldest().value
		change := 0.0
		if old != 0 {
			change = (window.newest().value - old) / old * 100
		}
		if math.Abs(change) > rule.Threshold {
			e.fire(ctx, rule, key, point.DeviceID, point.TagID, change, now)
		}
	case alarms.ConditionRocAbsolute:
		change := window.newest().value - window.oldest().value
		if math.Abs(change) > rule.Threshold {
			e.fire(ctx, rule, key, point.DeviceID, point.TagID, change, now)
		}
	case alarms.ConditionVolatility:
		if stddev := window.stddev(); stddev > rule.Threshold {
			e.fire(ctx, rule, key, point.DeviceID, point.TagID, stddev, now)
		}
	}
}

// SweepOffline checks every known tag against the offline rules. Run
// periodically, independent of the point stream, so the absence of
// data is detectable.
func (e *Evaluator) SweepOffline(ctx context.Context) {
	now := e.clock.Now().UnixMilli()

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, rule := range e.offlineRules {
		timeoutMs := int64(rule.Threshold * 1000)
		for _, seen := range e.lastSeen {
			if seen.tagID != rule.TagID {
				continue
			}
			if rule.DeviceID != "" && rule.DeviceID != seen.deviceID {
				continue
			}
			if now-seen.ts < timeoutMs {
				continue
			}
			key := stateKey(seen.deviceID, seen.tagID, rule.ID)
			if _, isOpen := e.open[key]; isOpen {
				continue
			}
			silent := float64(now-seen.ts) / 1000
			e.fire(ctx, rule, key, seen.deviceID, seen.tagID, silent, now)
		}
	}
}

// RunOfflineSweep drives SweepOffline on a fixed interval until the
// context is cancelled.
func (e *Evaluator) RunOfflineSweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.SweepOffline(ctx)
		}
	}
}

// Acknowledge marks an open record acknowledged. The record stays
// unclosed, so duplicate suppression remains in effect.
func (e *Evaluator) Acknowledge(ctx context.Context, id string) (*alarms.Record, error) {
	if id == "" {
		return nil, errors.New("alarms: alarm id required")
	}
	e.mu.Lock()
	key, ok := e.byID[id]
	if !ok {
		e.mu.Unlock()
		return nil, alarms.ErrNotFound
	}
	record := e.open[key]
	if record.Status == alarms.StatusOpen {
		record.Status = alarms.StatusAcknowledged
	}
	snapshot := *record
	e.mu.Unlock()

	e.notify(ctx, "acknowledged", snapshot)
	return &snapshot, nil
}

// Close closes a record and returns the rule/originator pair to Idle,
// allowing the next condition breach to fire again.
func (e *Evaluator) Close(ctx context.Context, id string) (*alarms.Record, error) {
	if id == "" {
		return nil, errors.New("alarms: alarm id required")
	}
	e.mu.Lock()
	key, ok := e.byID[id]
	if !ok {
		e.mu.Unlock()
		return nil, alarms.ErrNotFound
	}
	record := e.open[key]
	record.Status = alarms.StatusClosed
	snapshot := *record
	delete(e.open, key)
	delete(e.byID, id)
	e.mu.Unlock()

	e.notify(ctx, "closed", snapshot)
	return &snapshot, nil
}

// OpenAlarms returns the currently unclosed records.
func (e *Evaluator) OpenAlarms() []alarms.Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	records := make([]alarms.Record, 0, len(e.open))
	for _, record := range e.open {
		records = append(records, *record)
	}
	return records
}

// GetStats returns a counter snapshot.
func (e *Evaluator) GetStats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		OpenAlarms:  len(e.open),
		TotalFired:  e.fired,
		ActiveRules: e.ruleCount,
	}
}

// fire creates the record and publishes the open event. Caller holds
// the lock.
func (e *Evaluator) fire(ctx context.Context, rule alarms.Rule, key, deviceID, tagID string, value float64, now int64) {
	record := &alarms.Record{
		ID:       uuid.NewString(),
		DeviceID: deviceID,
		TagID:    tagID,
		TS:       now,
		Severity: rule.Severity,
		Code:     rule.ID,
		Message:  buildMessage(rule, tagID, value),
		Status:   alarms.StatusOpen,
	}
	e.open[key] = record
	e.byID[record.ID] = key
	e.fired++
	e.logger.Printf("alarm open: rule=%s device=%s tag=%s severity=%d value=%.4g",
		rule.ID, deviceID, tagID, rule.Severity, value)
	e.notify(ctx, "open", *record)
}

func (e *Evaluator) notify(ctx context.Context, eventType string, record alarms.Record) {
	metrics.IncAlarmEvent(eventType)
	if e.notifier == nil {
		return
	}
	e.notifier.Notify(ctx, Event{Type: eventType, Record: record})
}

func compare(condition alarms.ConditionType, value, threshold float64) bool {
	switch condition {
	case alarms.ConditionGT:
		return value > threshold
	case alarms.ConditionGTE:
		return value >= threshold
	case alarms.ConditionLT:
		return value < threshold
	case alarms.ConditionLTE:
		return value <= threshold
	case alarms.ConditionEQ:
		return value == threshold
	case alarms.ConditionNE:
		return value != threshold
	default:
		return false
	}
}

func buildMessage(rule alarms.Rule, tagID string, value float64) string {
	switch rule.Condition {
	case alarms.ConditionOffline:
		return fmt.Sprintf("%s silent for %.0fs (timeout %.0fs)", tagID, value, rule.Threshold)
	case alarms.ConditionRocPercent:
		return fmt.Sprintf("%s changed %.2f%% within window (limit %.2f%%)", tagID, value, rule.Threshold)
	case alarms.ConditionRocAbsolute:
		return fmt.Sprintf("%s changed %.4g within window (limit %.4g)", tagID, value, rule.Threshold)
	case alarms.ConditionVolatility:
		return fmt.Sprintf("%s stddev %.4g exceeds %.4g", tagID, value, rule.Threshold)
	default:
		return fmt.Sprintf("%s value %.4g breached %s %.4g", tagID, value, rule.Condition, rule.Threshold)
	}
}

func stateKey(deviceID, tagID, ruleID string) string {
	return deviceID + ":" + tagID + "|" + ruleID
}
