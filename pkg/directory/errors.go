// Package directory pkg/directory/errors.go provides errors for the directory package.

package directory

import "errors"

var (
	ErrDeviceNotFound = errors.New("device not found")
	ErrMissingID      = errors.New("device has no logical identifier")

	errFailedToOpenDB = errors.New("failed to open database")
	errFailedToInit   = errors.New("failed to initialize schema")
	errSaveDevice     = errors.New("failed to save device")
	errQueryDevices   = errors.New("failed to query devices")
	errScanRow        = errors.New("failed to scan row")
)
