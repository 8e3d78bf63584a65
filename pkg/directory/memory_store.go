// Package directory pkg/directory/memory_store.go
package directory

import (
	"context"
	"sync"

	"github.com/aesdetic/ledmesh/pkg/models"
)

// InMemoryStore implements Store for embedders and tests.
type InMemoryStore struct {
	mu      sync.RWMutex
	devices map[string]models.Device
}

// NewInMemoryStore creates a new in-memory device directory.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		devices: make(map[string]models.Device),
	}
}

func (s *InMemoryStore) UpsertDevice(_ context.Context, device *models.Device) error {
	if device.ID == "" {
		return ErrMissingID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	updated := *device

	if existing, ok := s.devices[device.ID]; ok {
		updated.DisplayName = existing.DisplayName
		updated.FirstSeen = existing.FirstSeen

		if updated.Name == "" {
			updated.Name = existing.Name
		}
	}

	s.devices[device.ID] = updated

	return nil
}

func (s *InMemoryStore) GetDevice(_ context.Context, id string) (*models.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	device, ok := s.devices[id]
	if !ok {
		return nil, ErrDeviceNotFound
	}

	return &device, nil
}

func (s *InMemoryStore) ListDevices(_ context.Context) ([]models.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	devices := make([]models.Device, 0, len(s.devices))
	for _, d := range s.devices {
		devices = append(devices, d)
	}

	return devices, nil
}

func (s *InMemoryStore) RemoveDevice(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.devices[id]; !ok {
		return ErrDeviceNotFound
	}

	delete(s.devices, id)

	return nil
}

func (s *InMemoryStore) SetDisplayName(_ context.Context, id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	device, ok := s.devices[id]
	if !ok {
		return ErrDeviceNotFound
	}

	device.DisplayName = name
	s.devices[id] = device

	return nil
}
