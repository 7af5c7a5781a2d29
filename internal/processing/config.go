package processing

import (
	"errors"
	"fmt"
)

// OutlierAction selects what happens to a point whose z-score exceeds
// the sigma threshold.
type OutlierAction string

const (
	OutlierDrop OutlierAction = "drop"
	OutlierMark OutlierAction = "mark"
	OutlierPass OutlierAction = "pass"
)

// Valid reports whether the action is supported.
func (a OutlierAction) Valid() bool {
	switch a {
	case OutlierDrop, OutlierMark, OutlierPass:
		return true
	default:
		return false
	}
}

// Config holds the global processing defaults. It is replaced
// wholesale on every config sync; readers always see either the old
// or the new snapshot.
type Config struct {
	Deadband              float64       `json:"deadband" yaml:"deadband"`
	DeadbandPercent       float64       `json:"deadbandPercent" yaml:"deadband_percent"`
	MinIntervalMs         int64         `json:"minIntervalMs" yaml:"min_interval_ms"`
	ForceUploadIntervalMs int64         `json:"forceUploadIntervalMs" yaml:"force_upload_interval_ms"`
	OutlierEnabled        bool          `json:"outlierEnabled" yaml:"outlier_enabled"`
	OutlierSigmaThreshold float64       `json:"outlierSigmaThreshold" yaml:"outlier_sigma_threshold"`
	OutlierAction         OutlierAction `json:"outlierAction" yaml:"outlier_action"`
}

// TagConfig overrides the global defaults for a single tag. Nil
// fields fall back to the global value.
type TagConfig struct {
	Deadband              *float64       `json:"deadband,omitempty" yaml:"deadband,omitempty"`
	DeadbandPercent       *float64       `json:"deadbandPercent,omitempty" yaml:"deadband_percent,omitempty"`
	MinIntervalMs         *int64         `json:"minIntervalMs,omitempty" yaml:"min_interval_ms,omitempty"`
	ForceUploadIntervalMs *int64         `json:"forceUploadIntervalMs,omitempty" yaml:"force_upload_interval_ms,omitempty"`
	OutlierEnabled        *bool          `json:"outlierEnabled,omitempty" yaml:"outlier_enabled,omitempty"`
	OutlierSigmaThreshold *float64       `json:"outlierSigmaThreshold,omitempty" yaml:"outlier_sigma_threshold,omitempty"`
	OutlierAction         *OutlierAction `json:"outlierAction,omitempty" yaml:"outlier_action,omitempty"`
	Bypass                bool           `json:"bypass,omitempty" yaml:"bypass,omitempty"`
}

// Validate checks config invariants before the snapshot is applied.
func (c Config) Validate() error {
	if c.Deadband < 0 {
		return errors.New("processing: negative deadband")
	}
	if c.DeadbandPercent < 0 {
		return errors.New("processing: negative deadband percent")
	}
	if c.MinIntervalMs < 0 || c.ForceUploadIntervalMs < 0 {
		return errors.New("processing: negative interval")
	}
	if c.OutlierEnabled {
		if c.OutlierSigmaThreshold <= 0 {
			return errors.New("processing: outlier sigma threshold must be positive")
		}
		if !c.OutlierAction.Valid() {
			return fmt.Errorf("processing: unknown outlier action %q", c.OutlierAction)
		}
	}
	return nil
}

// Validate checks override invariants.
func (t TagConfig) Validate() error {
	if t.Deadband != nil && *t.Deadband < 0 {
		return errors.New("processing: negative tag deadband")
	}
	if t.DeadbandPercent != nil && *t.DeadbandPercent < 0 {
		return errors.New("processing: negative tag deadband percent")
	}
	if t.MinIntervalMs != nil && *t.MinIntervalMs < 0 {
		return errors.New("processing: negative tag min interval")
	}
	if t.ForceUploadIntervalMs != nil && *t.ForceUploadIntervalMs < 0 {
		return errors.New("processing: negative tag force upload interval")
	}
	if t.OutlierSigmaThreshold != nil && *t.OutlierSigmaThreshold <= 0 {
		return errors.New("processing: tag outlier sigma threshold must be positive")
	}
	if t.OutlierAction != nil && !t.OutlierAction.Valid() {
		return fmt.Errorf("processing: unknown tag outlier action %q", *t.OutlierAction)
	}
	return nil
}

// Equal reports whether two snapshots carry the same settings.
func (c Config) Equal(other Config) bool {
	return c == other
}

// Resolve merges a tag override onto the global defaults.
func (c Config) Resolve(tag TagConfig) Config {
	eff := c
	if tag.Deadband != nil {
		eff.Deadband = *tag.Deadband
	}
	if tag.DeadbandPercent != nil {
		eff.DeadbandPercent = *tag.DeadbandPercent
	}
	if tag.MinIntervalMs != nil {
		eff.MinIntervalMs = *tag.MinIntervalMs
	}
	if tag.ForceUploadIntervalMs != nil {
		eff.ForceUploadIntervalMs = *tag.ForceUploadIntervalMs
	}
	if tag.OutlierEnabled != nil {
		eff.OutlierEnabled = *tag.OutlierEnabled
	}
	if tag.OutlierSigmaThreshold != nil {
		eff.OutlierSigmaThreshold = *tag.OutlierSigmaThreshold
	}
	if tag.OutlierAction != nil {
		eff.OutlierAction = *tag.OutlierAction
	}
	return eff
}
