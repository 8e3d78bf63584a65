package models

import "time"

// Device represents a discovered LED controller on the local network.
type Device struct {
	ID          string       `json:"id"`   // stable hardware identifier (MAC)
	Name        string       `json:"name"` // device-reported name
	DisplayName string       `json:"display_name,omitempty"`
	Host        string       `json:"host"` // IP or hostname
	Port        int          `json:"port"`
	Version     string       `json:"version,omitempty"`
	LEDCount    int          `json:"led_count,omitempty"`
	FirstSeen   time.Time    `json:"first_seen"`
	LastSeen    time.Time    `json:"last_seen"`
	State       *DeviceState `json:"state,omitempty"`
}

// DeviceState is a partial state document. Nil fields mean "no change" when
// sent to a device and "not reported" when read back.
type DeviceState struct {
	On         *bool     `json:"on,omitempty"`
	Brightness *uint8    `json:"bri,omitempty"`
	Segments   []Segment `json:"seg,omitempty"`
}

// Segment describes one addressable run of pixels on a device.
type Segment struct {
	ID         int    `json:"id"`
	Start      int    `json:"start,omitempty"`
	Stop       int    `json:"stop,omitempty"`
	On         *bool  `json:"on,omitempty"`
	Brightness *uint8 `json:"bri,omitempty"`
}

// StateUpdate is a state document received from, or destined for, a single
// device.
type StateUpdate struct {
	DeviceID string       `json:"device_id"`
	State    *DeviceState `json:"state"`
	Received time.Time    `json:"received"`
}
