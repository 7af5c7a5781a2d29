package alarms

import "testing"

func TestRuleValidate(t *testing.T) {
	base := Rule{
		ID:        "r1",
		TagID:     "temp",
		Condition: ConditionGT,
		Threshold: 80,
		Severity:  3,
		Enabled:   true,
	}

	cases := []struct {
		name    string
		mutate  func(r Rule) Rule
		wantErr bool
	}{
		{"valid threshold rule", func(r Rule) Rule { return r }, false},
		{"missing id", func(r Rule) Rule { r.ID = ""; return r }, true},
		{"missing tag", func(r Rule) Rule { r.TagID = ""; return r }, true},
		{"unknown condition", func(r Rule) Rule { r.Condition = "between"; return r }, true},
		{"severity too low", func(r Rule) Rule { r.Severity = 0; return r }, true},
		{"severity too high", func(r Rule) Rule { r.Severity = 6; return r }, true},
		{"negative duration", func(r Rule) Rule { r.DurationMs = -1; return r }, true},
		{"offline without timeout", func(r Rule) Rule {
			r.Condition = ConditionOffline
			r.Threshold = 0
			return r
		}, true},
		{"offline with timeout", func(r Rule) Rule {
			r.Condition = ConditionOffline
			r.Threshold = 30
			return r
		}, false},
		{"roc without window", func(r Rule) Rule {
			r.Condition = ConditionRocPercent
			return r
		}, true},
		{"roc with window", func(r Rule) Rule {
			r.Condition = ConditionRocPercent
			r.RocWindowMs = 60000
			return r
		}, false},
		{"window over cap", func(r Rule) Rule {
			r.Condition = ConditionVolatility
			r.RocWindowMs = MaxRocWindowMs + 1
			return r
		}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.mutate(base).Validate()
			if tc.wantErr && err == nil {
				t.Fatalf("expected validation error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestConditionClassification(t *testing.T) {
	if !ConditionGT.Threshold() || ConditionGT.Windowed() {
		t.Fatalf("gt is a threshold condition")
	}
	if !ConditionVolatility.Windowed() || ConditionVolatility.Threshold() {
		t.Fatalf("volatility is a windowed condition")
	}
	if ConditionOffline.Threshold() || ConditionOffline.Windowed() {
		t.Fatalf("offline is neither threshold nor windowed")
	}
}
