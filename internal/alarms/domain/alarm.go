package alarms

// Status is the lifecycle state of an alarm record.
type Status string

const (
	StatusOpen         Status = "open"
	StatusAcknowledged Status = "acknowledged"
	StatusClosed       Status = "closed"
)

// Record is one fired alarm. The evaluator creates records and never
// mutates them afterwards; acknowledge/close come from operator
// actions in the external alarm service.
type Record struct {
	ID       string `json:"alarmId"`
	DeviceID string `json:"deviceId"`
	TagID    string `json:"tagId"`
	TS       int64  `json:"ts"` // epoch milliseconds
	Severity int    `json:"severity"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	Status   Status `json:"status"`
}
