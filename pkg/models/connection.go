package models

import "time"

// ConnStatus enumerates the lifecycle of one pooled connection.
type ConnStatus string

const (
	ConnDisconnected ConnStatus = "disconnected"
	ConnConnecting   ConnStatus = "connecting"
	ConnConnected    ConnStatus = "connected"
	ConnReconnecting ConnStatus = "reconnecting"
	ConnLimitReached ConnStatus = "limit_reached"
)

// Active reports whether the status consumes a pool slot.
func (s ConnStatus) Active() bool {
	return s == ConnConnecting || s == ConnConnected || s == ConnReconnecting
}

// ConnSnapshot is the externally visible view of one pooled connection.
type ConnSnapshot struct {
	DeviceID    string        `json:"device_id"`
	Status      ConnStatus    `json:"status"`
	Priority    int           `json:"priority"`
	ConnectedAt time.Time     `json:"connected_at,omitempty"`
	Latency     time.Duration `json:"latency"`
	Reconnects  int           `json:"reconnects"`
	LastError   string        `json:"last_error,omitempty"`
}
