package device_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msgblast/msgblast-go/internal/device"
	"github.com/msgblast/msgblast-go/internal/store"
)

func TestIdentity_StableAcrossCalls(t *testing.T) {
	s := store.NewMemory()
	identity := device.NewIdentity(s)

	first, err := identity.DeviceID()
	require.NoError(t, err)
	require.NotEmpty(t, first)

	_, err = uuid.Parse(first)
	require.NoError(t, err, "device id should be a UUID")

	second, err := identity.DeviceID()
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// A fresh Identity over the same store still sees the same id.
	third, err := device.NewIdentity(s).DeviceID()
	require.NoError(t, err)
	assert.Equal(t, first, third)
}

func TestIdentity_RegeneratesAfterClear(t *testing.T) {
	s := store.NewMemory()
	identity := device.NewIdentity(s)

	first, err := identity.DeviceID()
	require.NoError(t, err)

	require.NoError(t, s.Clear())

	second, err := identity.DeviceID()
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestIdentity_SurvivesLogoutWipe(t *testing.T) {
	s := store.NewMemory()
	identity := device.NewIdentity(s)

	first, err := identity.DeviceID()
	require.NoError(t, err)

	require.NoError(t, s.Set(store.KeyToken, "tok"))
	require.NoError(t, store.ClearPreservingDevice(s))

	second, err := identity.DeviceID()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
