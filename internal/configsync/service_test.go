package configsync

import (
	"context"
	"errors"
	"log"
	"os"
	"testing"
	"time"

	alarms "plant-edge/internal/alarms/domain"
	"plant-edge/internal/controlplane"
	"plant-edge/internal/processing"
)

type stubAPI struct {
	cfg     controlplane.EdgeConfig
	tags    map[string]processing.TagConfig
	cfgErr  error
	tagsErr error
}

func (a *stubAPI) FetchEdgeConfig(context.Context) (controlplane.EdgeConfig, error) {
	return a.cfg, a.cfgErr
}

func (a *stubAPI) FetchTagConfigs(context.Context) (map[string]processing.TagConfig, error) {
	return a.tags, a.tagsErr
}

type callCounter struct {
	configs int
	tags    int
	rules   int
}

func newTestService(t *testing.T, api *stubAPI) (*Service, *callCounter) {
	t.Helper()
	svc, err := NewService(api, time.Minute, log.New(os.Stderr, t.Name()+" ", 0))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	counter := &callCounter{}
	svc.OnConfigChanged = func(processing.Config) error { counter.configs++; return nil }
	svc.OnTagConfigsChanged = func(map[string]processing.TagConfig) error { counter.tags++; return nil }
	svc.OnRulesChanged = func([]alarms.Rule) error { counter.rules++; return nil }
	return svc, counter
}

func validEdgeConfig() controlplane.EdgeConfig {
	return controlplane.EdgeConfig{
		Version: 1,
		Processing: processing.Config{
			Deadband: 0.5,
		},
		Rules: []alarms.Rule{{
			ID:        "high-temp",
			TagID:     "temp",
			Condition: alarms.ConditionGT,
			Threshold: 80,
			Severity:  3,
			Enabled:   true,
		}},
	}
}

func TestFirstSyncAppliesEverything(t *testing.T) {
	api := &stubAPI{
		cfg:  validEdgeConfig(),
		tags: map[string]processing.TagConfig{"dev-1:temp": {Bypass: true}},
	}
	svc, counter := newTestService(t, api)

	svc.SyncOnce(context.Background())
	if counter.configs != 1 || counter.rules != 1 || counter.tags != 1 {
		t.Fatalf("first sync should apply everything: %+v", counter)
	}
}

func TestIdenticalPayloadIsNoOp(t *testing.T) {
	api := &stubAPI{
		cfg:  validEdgeConfig(),
		tags: map[string]processing.TagConfig{"dev-1:temp": {Bypass: true}},
	}
	svc, counter := newTestService(t, api)

	svc.SyncOnce(context.Background())
	svc.SyncOnce(context.Background())
	svc.SyncOnce(context.Background())
	if counter.configs != 1 || counter.rules != 1 || counter.tags != 1 {
		t.Fatalf("identical payloads must not re-apply: %+v", counter)
	}
}

func TestChangedConfigReapplies(t *testing.T) {
	api := &stubAPI{cfg: validEdgeConfig()}
	svc, counter := newTestService(t, api)

	svc.SyncOnce(context.Background())
	api.cfg.Processing.Deadband = 2.0
	svc.SyncOnce(context.Background())

	if counter.configs != 2 {
		t.Fatalf("changed processing config should re-apply, got %+v", counter)
	}
	if counter.rules != 1 {
		t.Fatalf("unchanged rules must not re-apply, got %+v", counter)
	}
}

func TestFetchErrorKeepsPrevious(t *testing.T) {
	api := &stubAPI{cfg: validEdgeConfig()}
	svc, counter := newTestService(t, api)

	svc.SyncOnce(context.Background())
	api.cfgErr = errors.New("control plane unreachable")
	svc.SyncOnce(context.Background())

	if counter.configs != 1 || counter.rules != 1 {
		t.Fatalf("fetch failure must not touch callbacks: %+v", counter)
	}

	// Recovery applies only what changed in the meantime.
	api.cfgErr = nil
	svc.SyncOnce(context.Background())
	if counter.configs != 1 {
		t.Fatalf("unchanged config after recovery must not re-apply: %+v", counter)
	}
}

func TestInvalidRuleRejectsSync(t *testing.T) {
	cfg := validEdgeConfig()
	cfg.Rules = append(cfg.Rules, alarms.Rule{
		ID:        "broken",
		TagID:     "temp",
		Condition: alarms.ConditionRocPercent, // missing window
		Severity:  3,
		Enabled:   true,
	})
	api := &stubAPI{cfg: cfg}
	svc, counter := newTestService(t, api)

	svc.SyncOnce(context.Background())
	if counter.configs != 0 || counter.rules != 0 {
		t.Fatalf("invalid rule set must reject the whole sync: %+v", counter)
	}
}

func TestInvalidProcessingConfigRejected(t *testing.T) {
	cfg := validEdgeConfig()
	cfg.Processing.Deadband = -1
	api := &stubAPI{cfg: cfg}
	svc, counter := newTestService(t, api)

	svc.SyncOnce(context.Background())
	if counter.configs != 0 {
		t.Fatalf("invalid processing config must be rejected: %+v", counter)
	}
}

func TestTagFetchErrorStillAppliesConfig(t *testing.T) {
	api := &stubAPI{
		cfg:     validEdgeConfig(),
		tagsErr: errors.New("tags endpoint down"),
	}
	svc, counter := newTestService(t, api)

	svc.SyncOnce(context.Background())
	if counter.configs != 1 || counter.rules != 1 {
		t.Fatalf("config and rules apply even when tag fetch fails: %+v", counter)
	}
	if counter.tags != 0 {
		t.Fatalf("tag callback must not run on fetch failure: %+v", counter)
	}
}
