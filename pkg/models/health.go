package models

import "time"

// HealthState enumerates the per-device health state machine.
type HealthState string

const (
	StateMonitoring   HealthState = "monitoring"
	StateDegraded     HealthState = "degraded"
	StateOffline      HealthState = "offline"
	StateReconnecting HealthState = "reconnecting"
	StateExhausted    HealthState = "exhausted"
)

// HealthSnapshot is the externally visible view of one device's health.
// It is always obtainable synchronously so UI layers can render connectivity
// without catching errors.
type HealthSnapshot struct {
	DeviceID    string      `json:"device_id"`
	State       HealthState `json:"state"`
	Online      bool        `json:"online"`
	Failures    int         `json:"failures"`
	Attempts    int         `json:"attempts"`
	Exhausted   bool        `json:"exhausted"`
	Status      string      `json:"status"` // human-readable
	LastAttempt time.Time   `json:"last_attempt"`
	NextRetry   time.Time   `json:"next_retry,omitempty"`
}

// ConnectionAttempt is one entry in a device's bounded connection history.
type ConnectionAttempt struct {
	Timestamp time.Time     `json:"timestamp"`
	Success   bool          `json:"success"`
	RespTime  time.Duration `json:"resp_time"`
	Error     string        `json:"error,omitempty"`
}
