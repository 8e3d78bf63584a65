package health

import "errors"

var (
	ErrDeviceNotTracked = errors.New("device not tracked")
)
