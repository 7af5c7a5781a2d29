package configsync

import (
	"context"
	"errors"
	"log"
	"reflect"
	"time"

	alarms "plant-edge/internal/alarms/domain"
	"plant-edge/internal/controlplane"
	"plant-edge/internal/observability/metrics"
	"plant-edge/internal/processing"
)

// API is the slice of the control-plane client this service needs.
type API interface {
	FetchEdgeConfig(ctx context.Context) (controlplane.EdgeConfig, error)
	FetchTagConfigs(ctx context.Context) (map[string]processing.TagConfig, error)
}

// Service polls the control plane for processing/alarm configuration
// and invokes callbacks only when content actually changed. Fetch or
// validation failures keep the previous config active; the loop never
// stops on error.
type Service struct {
	api      API
	interval time.Duration
	logger   *log.Logger

	OnConfigChanged     func(processing.Config) error
	OnTagConfigsChanged func(map[string]processing.TagConfig) error
	OnRulesChanged      func([]alarms.Rule) error

	lastVersion int64
	lastConfig  *processing.Config
	lastTags    map[string]processing.TagConfig
	lastRules   []alarms.Rule
}

// NewService constructs a config sync service.
func NewService(api API, interval time.Duration, logger *log.Logger) (*Service, error) {
	if api == nil {
		return nil, errors.New("configsync: nil api")
	}
	if interval <= 0 {
		return nil, errors.New("configsync: interval must be positive")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Service{api: api, interval: interval, logger: logger}, nil
}

// Run syncs once immediately, then on every tick until cancelled.
func (s *Service) Run(ctx context.Context) {
	s.SyncOnce(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SyncOnce(ctx)
		}
	}
}

// SyncOnce performs a single fetch/diff/apply cycle.
func (s *Service) SyncOnce(ctx context.Context) {
	if err := s.sync(ctx); err != nil {
		metrics.IncConfigSync(metrics.ResultError)
		s.logger.Printf("configsync: %v", err)
		return
	}
	metrics.IncConfigSync(metrics.ResultSuccess)
}

func (s *Service) sync(ctx context.Context) error {
	cfg, err := s.api.FetchEdgeConfig(ctx)
	if err != nil {
		return err
	}
	if err := cfg.Processing.Validate(); err != nil {
		return errors.Join(errors.New("configsync: rejected processing config"), err)
	}
	for _, rule := range cfg.Rules {
		if err := rule.Validate(); err != nil {
			return errors.Join(errors.New("configsync: rejected rule set"), err)
		}
	}

	if s.lastConfig == nil || !s.lastConfig.Equal(cfg.Processing) {
		if s.OnConfigChanged != nil {
			if err := s.OnConfigChanged(cfg.Processing); err != nil {
				return err
			}
		}
		snapshot := cfg.Processing
		s.lastConfig = &snapshot
		s.logger.Printf("configsync: processing config updated (version %d)", cfg.Version)
	}

	if !reflect.DeepEqual(s.lastRules, cfg.Rules) {
		if s.OnRulesChanged != nil {
			if err := s.OnRulesChanged(cfg.Rules); err != nil {
				return err
			}
		}
		s.lastRules = cfg.Rules
		s.logger.Printf("configsync: %d alarm rules applied (version %d)", len(cfg.Rules), cfg.Version)
	}
	s.lastVersion = cfg.Version

	tags, err := s.api.FetchTagConfigs(ctx)
	if err != nil {
		return err
	}
	for key, tag := range tags {
		if err := tag.Validate(); err != nil {
			return errors.Join(errors.New("configsync: rejected tag config "+key), err)
		}
	}
	if !reflect.DeepEqual(s.lastTags, tags) {
		if s.OnTagConfigsChanged != nil {
			if err := s.OnTagConfigsChanged(tags); err != nil {
				return err
			}
		}
		s.lastTags = tags
		s.logger.Printf("configsync: %d tag overrides applied", len(tags))
	}
	return nil
}
