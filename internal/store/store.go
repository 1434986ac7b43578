// Package store provides the durable key-value persistence used for
// session state, taking the place of browser local storage.
package store

import "errors"

// ErrNotFound is returned when a key has no value.
var ErrNotFound = errors.New("store: key not found")

// Well-known keys. Everything the client persists lives under one of
// these (plus per-email lockout keys built with LockoutKey).
const (
	KeyDeviceID   = "device_id"
	KeyToken      = "token"
	KeyEmail      = "email"
	KeyUsername   = "username"
	KeyInstanceID = "current_instance_id"

	// KeyReconnecting is the single-use marker pointing at the instance
	// a user is being sent back to after a disconnect. Read once via
	// TakeMarker, then erased.
	KeyReconnecting = "reconnecting_instance"
)

// LockoutKey returns the per-account key under which a login lockout
// expiry is persisted.
func LockoutKey(email string) string {
	return "lockout_" + email
}

// Store is a durable string key-value store. Implementations must be
// safe for concurrent use.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(key string) (string, error)
	// Set writes the value for key, overwriting any previous value.
	Set(key, value string) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(key string) error
	// Clear removes every key.
	Clear() error
	// Close releases any underlying resources.
	Close() error
}

// TakeMarker reads and erases a single-use marker. Returns "" when the
// marker is absent.
func TakeMarker(s Store, key string) (string, error) {
	v, err := s.Get(key)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if err := s.Delete(key); err != nil {
		return "", err
	}
	return v, nil
}

// ClearPreservingDevice wipes the store but keeps the device identifier,
// mirroring the logout rule that a device id is never regenerated while
// present.
func ClearPreservingDevice(s Store) error {
	deviceID, err := s.Get(KeyDeviceID)
	hadDevice := err == nil
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if err := s.Clear(); err != nil {
		return err
	}
	if hadDevice {
		return s.Set(KeyDeviceID, deviceID)
	}
	return nil
}
