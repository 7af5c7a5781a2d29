package alarms

import "errors"

// ErrNotFound is returned when an alarm record does not exist.
var ErrNotFound = errors.New("alarms: alarm not found")
