// Package device manages the stable per-installation identifier that
// tags every authenticated request.
package device

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/msgblast/msgblast-go/internal/store"
)

// Identity lazily creates and persists the device identifier. The id is
// generated once and never regenerated while present; logout paths
// restore it after clearing the rest of the store.
type Identity struct {
	store store.Store
}

// NewIdentity creates an Identity backed by s.
func NewIdentity(s store.Store) *Identity {
	return &Identity{store: s}
}

// DeviceID returns the persisted device id, generating and persisting a
// new UUIDv4 on first use.
func (i *Identity) DeviceID() (string, error) {
	id, err := i.store.Get(store.KeyDeviceID)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("failed to read device id: %w", err)
	}

	id = uuid.NewString()
	if err := i.store.Set(store.KeyDeviceID, id); err != nil {
		return "", fmt.Errorf("failed to persist device id: %w", err)
	}
	return id, nil
}
