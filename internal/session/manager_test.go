package session_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/msgblast/msgblast-go/internal/api"
	"github.com/msgblast/msgblast-go/internal/client"
	"github.com/msgblast/msgblast-go/internal/config"
	"github.com/msgblast/msgblast-go/internal/device"
	"github.com/msgblast/msgblast-go/internal/session"
	"github.com/msgblast/msgblast-go/internal/store"
	"github.com/msgblast/msgblast-go/internal/stub"
)

func newTestManager(t *testing.T, baseURL string) (*session.Manager, store.Store) {
	t.Helper()

	s := store.NewMemory()
	cfg := &config.APIConfig{
		BaseURL: baseURL,
		Timeout: 30,
		CircuitBreaker: config.CircuitBreakerConfig{
			MaxRequests:      3,
			Interval:         60,
			Timeout:          60,
			FailureRatio:     0.99,
			ConsecutiveFails: 100,
		},
	}
	c := client.New(cfg, s, device.NewIdentity(s), zap.NewNop())
	m := session.NewManager(&config.SessionConfig{CheckIntervalMs: 50}, s, c, zap.NewNop())
	return m, s
}

func newStubServer(t *testing.T) (*stub.Server, *httptest.Server) {
	t.Helper()
	backend := stub.New()
	server := httptest.NewServer(backend.Router())
	t.Cleanup(server.Close)
	return backend, server
}

func TestManager_LoginValidation(t *testing.T) {
	tests := []struct {
		name          string
		email         string
		password      string
		expectedError error
	}{
		{
			name:          "missing email",
			email:         "",
			password:      "password123",
			expectedError: session.ErrMissingCredentials,
		},
		{
			name:          "missing password",
			email:         "user@example.com",
			password:      "",
			expectedError: session.ErrMissingCredentials,
		},
		{
			name:          "short password",
			email:         "user@example.com",
			password:      "short",
			expectedError: session.ErrPasswordTooShort,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Validation rejects before any request, so no server is needed.
			m, _ := newTestManager(t, "http://127.0.0.1:1")

			_, err := m.Login(context.Background(), tt.email, tt.password)
			assert.ErrorIs(t, err, tt.expectedError)
		})
	}
}

func TestManager_LoginSuccess(t *testing.T) {
	_, server := newStubServer(t)
	m, s := newTestManager(t, server.URL)

	result, err := m.Login(context.Background(), "user@example.com", "password123")
	require.NoError(t, err)

	assert.Equal(t, "user", result.Username)
	assert.Equal(t, "user@example.com", result.Email)
	assert.False(t, result.HasInstance)

	assert.True(t, m.LoggedIn())
	assert.Equal(t, "user@example.com", m.Email())

	token, err := s.Get(store.KeyToken)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
}

func TestManager_LoginUnverifiedAccount(t *testing.T) {
	backend, server := newStubServer(t)
	backend.AddAccount(stub.Account{
		Email:    "pending@example.com",
		Password: "password123",
		Username: "pending",
		Verified: false,
	})
	m, _ := newTestManager(t, server.URL)

	_, err := m.Login(context.Background(), "pending@example.com", "password123")
	assert.ErrorIs(t, err, session.ErrVerificationPending)
	assert.False(t, m.LoggedIn())
}

func TestManager_LoginLockout(t *testing.T) {
	_, server := newStubServer(t)
	m, s := newTestManager(t, server.URL)

	ctx := context.Background()

	// Two wrong attempts are plain rejections.
	for i := 0; i < 2; i++ {
		_, err := m.Login(ctx, "user@example.com", "wrongpassword")
		require.Error(t, err)
		var lockedOut *session.LockedOutError
		require.NotErrorAs(t, err, &lockedOut)
	}

	// The third locks the account.
	_, err := m.Login(ctx, "user@example.com", "wrongpassword")
	var lockedOut *session.LockedOutError
	require.ErrorAs(t, err, &lockedOut)
	assert.Equal(t, "user@example.com", lockedOut.Email)
	assert.Greater(t, lockedOut.Remaining, time.Duration(0))

	// The expiry is persisted, so even correct credentials are rejected
	// locally while the lockout lasts.
	_, err = s.Get(store.LockoutKey("user@example.com"))
	require.NoError(t, err)

	_, err = m.Login(ctx, "user@example.com", "password123")
	require.ErrorAs(t, err, &lockedOut)
}

func TestManager_LockoutRemainingExpired(t *testing.T) {
	m, s := newTestManager(t, "http://127.0.0.1:1")

	expired := time.Now().Add(-time.Second).UnixMilli()
	require.NoError(t, s.Set(store.LockoutKey("user@example.com"), strconv.FormatInt(expired, 10)))

	_, locked := m.LockoutRemaining("user@example.com")
	assert.False(t, locked)

	// Expired entries are erased on read.
	_, err := s.Get(store.LockoutKey("user@example.com"))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestManager_CheckSessionSwallowsTransportErrors(t *testing.T) {
	m, s := newTestManager(t, "http://127.0.0.1:1")
	require.NoError(t, s.Set(store.KeyToken, "tok"))

	// An unreachable server is a connectivity blip, not an auth failure.
	assert.NoError(t, m.CheckSession(context.Background()))
	assert.True(t, m.LoggedIn())
}

func TestManager_CheckSessionForcedLogout(t *testing.T) {
	backend, server := newStubServer(t)
	m, s := newTestManager(t, server.URL)

	ctx := context.Background()
	_, err := m.Login(ctx, "user@example.com", "password123")
	require.NoError(t, err)

	deviceBefore, err := s.Get(store.KeyDeviceID)
	require.NoError(t, err)

	var gotMessage string
	invocations := 0
	m.OnLogout(func(message string) {
		gotMessage = message
		invocations++
	})

	backend.RevokeSessions("Logged in on another device")

	require.NoError(t, m.CheckSession(ctx))

	assert.False(t, m.LoggedIn())
	assert.Equal(t, "Logged in on another device", gotMessage)
	assert.Equal(t, 1, invocations,
		"the interceptor and the poll observing the same 401 must tear down once")

	// A wiped session keeps the device identity.
	deviceAfter, err := s.Get(store.KeyDeviceID)
	require.NoError(t, err)
	assert.Equal(t, deviceBefore, deviceAfter)
}

func TestManager_CheckSessionPlainUnauthorized(t *testing.T) {
	// A 401 without the forceLogout flag bypasses the client interceptor,
	// so the poll itself must run the logout.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(api.Error{Message: "token expired"})
	}))
	t.Cleanup(server.Close)

	m, s := newTestManager(t, server.URL)
	require.NoError(t, s.Set(store.KeyToken, "tok"))

	invocations := 0
	m.OnLogout(func(message string) {
		invocations++
	})

	require.NoError(t, m.CheckSession(context.Background()))
	assert.False(t, m.LoggedIn())
	assert.Equal(t, 1, invocations)
}

func TestManager_CheckSessionSkipsWhenLoggedOut(t *testing.T) {
	m, _ := newTestManager(t, "http://127.0.0.1:1")
	assert.NoError(t, m.CheckSession(context.Background()))
}

func TestManager_LogoutClearsServerSession(t *testing.T) {
	backend, server := newStubServer(t)
	m, _ := newTestManager(t, server.URL)

	_, err := m.Login(context.Background(), "user@example.com", "password123")
	require.NoError(t, err)
	require.Equal(t, 1, backend.SessionCount())

	require.NoError(t, m.Logout("", false))

	assert.False(t, m.LoggedIn())
	assert.Equal(t, 0, backend.SessionCount())
}

func TestManager_LogoutConcurrentRunsOnce(t *testing.T) {
	_, server := newStubServer(t)
	m, _ := newTestManager(t, server.URL)

	_, err := m.Login(context.Background(), "user@example.com", "password123")
	require.NoError(t, err)

	var mu sync.Mutex
	invocations := 0
	m.OnLogout(func(message string) {
		mu.Lock()
		invocations++
		mu.Unlock()
		// Hold the teardown open so the racing calls overlap it.
		time.Sleep(100 * time.Millisecond)
	})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, m.Logout("session ended", false))
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, invocations, "overlapping logouts run the teardown once")
}

func TestManager_BeaconBestEffort(t *testing.T) {
	backend, server := newStubServer(t)
	m, _ := newTestManager(t, server.URL)

	// Logged out: the beacon sends nothing.
	m.Beacon(time.Second)
	assert.Equal(t, 0, backend.SessionCount())

	_, err := m.Login(context.Background(), "user@example.com", "password123")
	require.NoError(t, err)
	require.Equal(t, 1, backend.SessionCount())

	m.Beacon(time.Second)
	assert.Equal(t, 0, backend.SessionCount())
}

func TestManager_CreateInstance(t *testing.T) {
	_, server := newStubServer(t)
	m, s := newTestManager(t, server.URL)

	ctx := context.Background()
	_, err := m.Login(ctx, "user@example.com", "password123")
	require.NoError(t, err)

	require.Error(t, m.CreateInstance(ctx, "abc"), "too short")

	require.NoError(t, m.CreateInstance(ctx, "my-instance"))

	id, err := s.Get(store.KeyInstanceID)
	require.NoError(t, err)
	assert.Equal(t, "my-instance", id)

	// The provisioned instance is now the account's routing hint on the
	// next login.
	m2, _ := newTestManager(t, server.URL)
	result, err := m2.Login(ctx, "user@example.com", "password123")
	require.NoError(t, err)
	assert.True(t, result.HasInstance)
	assert.Equal(t, "my-instance", result.InstanceID)
}

func TestManager_PollLifecycle(t *testing.T) {
	_, server := newStubServer(t)
	m, _ := newTestManager(t, server.URL)

	require.NoError(t, m.Start(context.Background()))
	require.Error(t, m.Start(context.Background()))
	require.NoError(t, m.Stop())
}
