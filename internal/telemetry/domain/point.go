package telemetry

import "fmt"

// ValueType tags the payload carried by a Point. Exactly one typed
// value is populated per point; the tag says which.
type ValueType string

const (
	TypeBool     ValueType = "bool"
	TypeInt8     ValueType = "int8"
	TypeUInt8    ValueType = "uint8"
	TypeInt16    ValueType = "int16"
	TypeUInt16   ValueType = "uint16"
	TypeInt32    ValueType = "int32"
	TypeUInt32   ValueType = "uint32"
	TypeInt64    ValueType = "int64"
	TypeUInt64   ValueType = "uint64"
	TypeFloat32  ValueType = "float32"
	TypeFloat64  ValueType = "float64"
	TypeString   ValueType = "string"
	TypeDateTime ValueType = "datetime"
	TypeBytes    ValueType = "bytes"
)

// Quality is the protocol-level quality code attached by a collector.
type Quality string

const (
	QualityGood      Quality = "good"
	QualityUncertain Quality = "uncertain"
	QualityBad       Quality = "bad"
)

// Point is one telemetry sample produced by a protocol collector.
// Points are read-only once published; downstream stages copy before
// mutating.
type Point struct {
	DeviceID string    `json:"deviceId"`
	TagID    string    `json:"tagId"`
	TS       int64     `json:"ts"` // epoch milliseconds
	Sequence uint64    `json:"seq"`
	Type     ValueType `json:"type"`
	Value    any       `json:"value"`
	Quality  Quality   `json:"quality"`
}

// Key returns the deviceId:tagId identity used by per-tag state maps.
func (p Point) Key() string {
	return p.DeviceID + ":" + p.TagID
}

// IsNumeric reports whether the declared value type is filterable.
func (t ValueType) IsNumeric() bool {
	switch t {
	case TypeInt8, TypeUInt8, TypeInt16, TypeUInt16,
		TypeInt32, TypeUInt32, TypeInt64, TypeUInt64,
		TypeFloat32, TypeFloat64:
		return true
	default:
		return false
	}
}

// Valid reports whether the value type is one of the known tags.
func (t ValueType) Valid() bool {
	switch t {
	case TypeBool, TypeString, TypeDateTime, TypeBytes:
		return true
	default:
		return t.IsNumeric()
	}
}

// NumericValue coerces the payload to float64. The second return is
// false for non-numeric types or payloads that decoded to something
// else (JSON decoding turns all numbers into float64, so points read
// back from the outbox coerce the same way as freshly collected ones).
func (p Point) NumericValue() (float64, bool) {
	if !p.Type.IsNumeric() {
		return 0, false
	}
	switch v := p.Value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	default:
		return 0, false
	}
}

// WithQuality returns a copy of the point with the quality replaced.
func (p Point) WithQuality(q Quality) Point {
	p.Quality = q
	return p
}

// Validate checks the minimal invariants a collector must uphold.
func (p Point) Validate() error {
	if p.DeviceID == "" || p.TagID == "" {
		return fmt.Errorf("telemetry: point missing deviceId/tagId")
	}
	if !p.Type.Valid() {
		return fmt.Errorf("telemetry: unknown value type %q", p.Type)
	}
	if p.TS <= 0 {
		return fmt.Errorf("telemetry: point missing timestamp")
	}
	return nil
}
