package directory

import (
	"context"

	"github.com/aesdetic/ledmesh/pkg/models"
)

//go:generate mockgen -destination=mock_store.go -package=directory github.com/aesdetic/ledmesh/pkg/directory Store

// Store is the authoritative device directory. Discovery upserts into it and
// never deletes; removal is reserved for the directory's own callers.
type Store interface {
	// UpsertDevice inserts or updates a device keyed by its logical ID.
	// Rediscovery at a new address updates the record in place, preserving
	// any user-assigned display name and the original first-seen time.
	UpsertDevice(ctx context.Context, device *models.Device) error

	// GetDevice returns the device with the given ID, or ErrDeviceNotFound.
	GetDevice(ctx context.Context, id string) (*models.Device, error)

	// ListDevices returns all known devices.
	ListDevices(ctx context.Context) ([]models.Device, error)

	// RemoveDevice deletes a device from the directory.
	RemoveDevice(ctx context.Context, id string) error

	// SetDisplayName records a user-assigned name for a device.
	SetDisplayName(ctx context.Context, id, name string) error
}
