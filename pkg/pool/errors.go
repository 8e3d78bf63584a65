// Package pool pkg/pool/errors.go provides the connection error taxonomy.

package pool

import "errors"

var (
	ErrMaxConnections       = errors.New("max connections reached")
	ErrInvalidAddress       = errors.New("invalid device address")
	ErrNotOnLocalNetwork    = errors.New("device is not on a local network")
	ErrConnectionFailed     = errors.New("connection failed")
	ErrConnectionLost       = errors.New("connection lost")
	ErrSendFailed           = errors.New("send failed")
	ErrNotConnected         = errors.New("no open connection for device")
	ErrMaxReconnectAttempts = errors.New("max reconnect attempts reached")
)
