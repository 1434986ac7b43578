package store_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msgblast/msgblast-go/internal/store"
)

func openBackends(t *testing.T) map[string]store.Store {
	t.Helper()

	bolt, err := store.NewBolt(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = bolt.Close() })

	return map[string]store.Store{
		"memory": store.NewMemory(),
		"bolt":   bolt,
	}
}

func TestStore_Contract(t *testing.T) {
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get("missing")
			assert.ErrorIs(t, err, store.ErrNotFound)

			require.NoError(t, s.Set("k", "v1"))
			v, err := s.Get("k")
			require.NoError(t, err)
			assert.Equal(t, "v1", v)

			require.NoError(t, s.Set("k", "v2"))
			v, err = s.Get("k")
			require.NoError(t, err)
			assert.Equal(t, "v2", v)

			require.NoError(t, s.Delete("k"))
			_, err = s.Get("k")
			assert.ErrorIs(t, err, store.ErrNotFound)

			// Deleting an absent key is not an error.
			require.NoError(t, s.Delete("k"))

			require.NoError(t, s.Set("a", "1"))
			require.NoError(t, s.Set("b", "2"))
			require.NoError(t, s.Clear())
			_, err = s.Get("a")
			assert.ErrorIs(t, err, store.ErrNotFound)
			_, err = s.Get("b")
			assert.ErrorIs(t, err, store.ErrNotFound)
		})
	}
}

func TestStore_TakeMarker(t *testing.T) {
	s := store.NewMemory()

	v, err := store.TakeMarker(s, store.KeyReconnecting)
	require.NoError(t, err)
	assert.Empty(t, v, "absent marker reads as empty")

	require.NoError(t, s.Set(store.KeyReconnecting, "inst-1"))

	v, err = store.TakeMarker(s, store.KeyReconnecting)
	require.NoError(t, err)
	assert.Equal(t, "inst-1", v)

	// The marker is single-use: a second read finds nothing.
	v, err = store.TakeMarker(s, store.KeyReconnecting)
	require.NoError(t, err)
	assert.Empty(t, v)
}

func TestStore_ClearPreservingDevice(t *testing.T) {
	tests := []struct {
		name      string
		hasDevice bool
	}{
		{name: "device id survives the wipe", hasDevice: true},
		{name: "no device id to preserve", hasDevice: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := store.NewMemory()
			if tt.hasDevice {
				require.NoError(t, s.Set(store.KeyDeviceID, "device-1"))
			}
			require.NoError(t, s.Set(store.KeyToken, "tok"))
			require.NoError(t, s.Set(store.KeyEmail, "a@b.c"))

			require.NoError(t, store.ClearPreservingDevice(s))

			_, err := s.Get(store.KeyToken)
			assert.ErrorIs(t, err, store.ErrNotFound)
			_, err = s.Get(store.KeyEmail)
			assert.ErrorIs(t, err, store.ErrNotFound)

			deviceID, err := s.Get(store.KeyDeviceID)
			if tt.hasDevice {
				require.NoError(t, err)
				assert.Equal(t, "device-1", deviceID)
			} else {
				assert.ErrorIs(t, err, store.ErrNotFound)
			}
		})
	}
}

func TestBolt_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	s, err := store.NewBolt(path)
	require.NoError(t, err)
	require.NoError(t, s.Set(store.KeyInstanceID, "inst-9"))
	require.NoError(t, s.Close())

	s, err = store.NewBolt(path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	v, err := s.Get(store.KeyInstanceID)
	require.NoError(t, err)
	assert.Equal(t, "inst-9", v)
}
