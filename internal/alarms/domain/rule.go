package alarms

import (
	"errors"
	"fmt"
)

// ConditionType selects how a rule evaluates the point stream.
type ConditionType string

const (
	ConditionGT          ConditionType = "gt"
	ConditionGTE         ConditionType = "gte"
	ConditionLT          ConditionType = "lt"
	ConditionLTE         ConditionType = "lte"
	ConditionEQ          ConditionType = "eq"
	ConditionNE          ConditionType = "ne"
	ConditionOffline     ConditionType = "offline"
	ConditionRocPercent  ConditionType = "roc_percent"
	ConditionRocAbsolute ConditionType = "roc_absolute"
	ConditionVolatility  ConditionType = "volatility"
)

// MaxRocWindowMs caps the sliding window for RoC and volatility rules.
const MaxRocWindowMs = 3_600_000

// Valid reports whether the condition type is supported.
func (c ConditionType) Valid() bool {
	switch c {
	case ConditionGT, ConditionGTE, ConditionLT, ConditionLTE,
		ConditionEQ, ConditionNE, ConditionOffline,
		ConditionRocPercent, ConditionRocAbsolute, ConditionVolatility:
		return true
	default:
		return false
	}
}

// Threshold reports whether the condition is a point-driven comparator.
func (c ConditionType) Threshold() bool {
	switch c {
	case ConditionGT, ConditionGTE, ConditionLT, ConditionLTE, ConditionEQ, ConditionNE:
		return true
	default:
		return false
	}
}

// Windowed reports whether the condition needs a sliding window.
func (c ConditionType) Windowed() bool {
	switch c {
	case ConditionRocPercent, ConditionRocAbsolute, ConditionVolatility:
		return true
	default:
		return false
	}
}

// Rule is one alarm condition bound to a tag. DeviceID narrows the
// rule to a single device; empty matches every device reporting the
// tag. For Offline rules Threshold is the timeout in seconds.
type Rule struct {
	ID          string        `json:"ruleId"`
	TagID       string        `json:"tagId"`
	DeviceID    string        `json:"deviceId,omitempty"`
	Condition   ConditionType `json:"conditionType"`
	Threshold   float64       `json:"threshold"`
	DurationMs  int64         `json:"durationMs"`
	RocWindowMs int64         `json:"rocWindowMs"`
	Severity    int           `json:"severity"`
	Enabled     bool          `json:"enabled"`
}

// Validate checks rule invariants. Rules from the control plane are
// validated before being applied; a malformed rule never reaches
// evaluation.
func (r Rule) Validate() error {
	if r.ID == "" {
		return errors.New("alarms: rule missing id")
	}
	if r.TagID == "" {
		return errors.New("alarms: rule missing tag id")
	}
	if !r.Condition.Valid() {
		return fmt.Errorf("alarms: rule %s: unknown condition %q", r.ID, r.Condition)
	}
	if r.Severity < 1 || r.Severity > 5 {
		return fmt.Errorf("alarms: rule %s: severity out of range", r.ID)
	}
	if r.DurationMs < 0 {
		return fmt.Errorf("alarms: rule %s: negative duration", r.ID)
	}
	if r.Condition == ConditionOffline && r.Threshold <= 0 {
		return fmt.Errorf("alarms: rule %s: offline timeout must be positive", r.ID)
	}
	if r.Condition.Windowed() {
		if r.RocWindowMs <= 0 {
			return fmt.Errorf("alarms: rule %s: window required", r.ID)
		}
		if r.RocWindowMs > MaxRocWindowMs {
			return fmt.Errorf("alarms: rule %s: window exceeds %d ms", r.ID, int64(MaxRocWindowMs))
		}
	}
	return nil
}
