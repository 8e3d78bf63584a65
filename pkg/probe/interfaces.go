package probe

import (
	"context"

	"github.com/aesdetic/ledmesh/pkg/models"
)

//go:generate mockgen -destination=mock_probe.go -package=probe github.com/aesdetic/ledmesh/pkg/probe Prober

// Prober performs bounded-timeout protocol requests against one address.
type Prober interface {
	// Probe fetches the full identity/state document from an address and
	// classifies the outcome. It never returns an error; failures are folded
	// into the result's Outcome.
	Probe(ctx context.Context, host string) *models.ProbeResult

	// Check issues the lightweight status request used for health
	// monitoring. Same classification as Probe, smaller response.
	Check(ctx context.Context, host string) *models.ProbeResult

	// PushState sends a partial state document in a one-shot request. An
	// empty response body on success is a valid outcome.
	PushState(ctx context.Context, host string, state *models.DeviceState) error

	// PushRaw sends a pre-encoded request body, e.g. one chunk of a
	// per-pixel update, in a one-shot request.
	PushRaw(ctx context.Context, host string, body []byte) error
}
