package api

import (
	"github.com/aesdetic/ledmesh/pkg/models"
)

type addDeviceRequest struct {
	Host string `json:"host"`
}

type connectRequest struct {
	Priority int `json:"priority"`
}

type renameRequest struct {
	Name string `json:"name"`
}

// pixelUpdate is a per-LED color write. Colors are hex strings; Offset is the
// absolute index of the first pixel.
type pixelUpdate struct {
	Segment int      `json:"segment"`
	Offset  int      `json:"offset"`
	Colors  []string `json:"colors"`
}

// stateRequest is a partial device state update, optionally carrying a bulk
// per-pixel write that gets chunked before transmission.
type stateRequest struct {
	On         *bool        `json:"on,omitempty"`
	Brightness *uint8       `json:"bri,omitempty"`
	Pixels     *pixelUpdate `json:"pixels,omitempty"`
}

// deviceStatusResponse combines the directory record with the health and
// connection views so UIs render connectivity from one call.
type deviceStatusResponse struct {
	Device     models.Device         `json:"device"`
	Health     models.HealthSnapshot `json:"health"`
	Connection models.ConnSnapshot   `json:"connection"`
}

type discoveryStatusResponse struct {
	Running bool        `json:"running"`
	Stats   interface{} `json:"stats"`
}

type errorResponse struct {
	Error string `json:"error"`
}
