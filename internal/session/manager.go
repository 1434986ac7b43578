// Package session owns the client session: login, the liveness poll,
// and the idempotent logout procedure shared by every path that can end
// a session.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/msgblast/msgblast-go/internal/api"
	"github.com/msgblast/msgblast-go/internal/client"
	"github.com/msgblast/msgblast-go/internal/config"
	"github.com/msgblast/msgblast-go/internal/poller"
	"github.com/msgblast/msgblast-go/internal/store"
)

const minPasswordLength = 8

// LoginResult tells the caller where to go after a successful login.
type LoginResult struct {
	Username string
	Email    string
	// InstanceID is the existing instance to link against, empty when
	// the account has none yet and one must be created.
	InstanceID  string
	HasInstance bool
}

// Manager coordinates session state. The loggingOut flag guarantees the
// logout procedure's side effects run at most once even when a 401
// interceptor and a failing poll race each other.
type Manager struct {
	cfg    *config.SessionConfig
	store  store.Store
	client *client.Client
	logger *zap.Logger
	guard  *poller.Poller

	mu         sync.Mutex
	loggingOut bool
	onLogout   func(message string)
}

// NewManager creates a Manager and registers it as the client's forced
// logout handler, so 401/forceLogout responses from any request funnel
// into the same procedure.
func NewManager(cfg *config.SessionConfig, s store.Store, c *client.Client, logger *zap.Logger) *Manager {
	m := &Manager{
		cfg:    cfg,
		store:  s,
		client: c,
		logger: logger,
	}
	m.guard = poller.New(logger, "session-check", cfg.CheckInterval(), m.CheckSession)
	c.OnUnauthorized(func(message string) {
		if err := m.Logout(message, true); err != nil {
			logger.Error("Forced logout failed", zap.Error(err))
		}
	})
	return m
}

// OnLogout registers the callback that surfaces the logout message and
// returns the user to the login flow.
func (m *Manager) OnLogout(fn func(message string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onLogout = fn
}

// Token returns the active session token, "" when logged out.
func (m *Manager) Token() string {
	return m.client.Token()
}

// Email returns the logged-in account email, "" when logged out.
func (m *Manager) Email() string {
	email, err := m.store.Get(store.KeyEmail)
	if err != nil {
		return ""
	}
	return email
}

// LoggedIn reports whether a session token is present.
func (m *Manager) LoggedIn() bool {
	return m.Token() != ""
}

// Start begins the background session-liveness poll.
func (m *Manager) Start(ctx context.Context) error {
	return m.guard.Start(ctx)
}

// Stop halts the background poll.
func (m *Manager) Stop() error {
	return m.guard.Stop()
}

// Recheck requests an immediate liveness probe, used when the host
// regains focus or the network comes back.
func (m *Manager) Recheck() {
	m.guard.Trigger()
}

// CheckSession is the poll task. Transport failures are deliberately
// swallowed: a connectivity blip is not an auth rejection.
func (m *Manager) CheckSession(ctx context.Context) error {
	m.mu.Lock()
	loggingOut := m.loggingOut
	m.mu.Unlock()
	if loggingOut || !m.LoggedIn() {
		return nil
	}

	err := m.client.CheckSession(ctx)
	if err == nil {
		return nil
	}

	apiErr, ok := client.AsAPIError(err)
	if !ok {
		m.logger.Warn("Session check failed - server unreachable", zap.Error(err))
		return nil
	}

	if apiErr.StatusCode == http.StatusUnauthorized {
		if apiErr.ForceLogout {
			// The client's 401 interceptor already ran the logout
			// procedure while the request unwound; running it again
			// here would wipe the store and notify the handler twice.
			return nil
		}
		return m.Logout(apiErr.Message, false)
	}
	return err
}

// Login validates credentials locally, exchanges them, and persists the
// session. A 429 persists a per-account lockout expiry so a restart
// keeps the account locked.
func (m *Manager) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	if err := validateCredentials(email, password); err != nil {
		return nil, err
	}
	if remaining, locked := m.LockoutRemaining(email); locked {
		return nil, &LockedOutError{Email: email, Remaining: remaining}
	}

	resp, err := m.client.Login(ctx, api.LoginRequest{Email: email, Password: password})
	if err != nil {
		if apiErr, ok := client.AsAPIError(err); ok && apiErr.StatusCode == http.StatusTooManyRequests {
			remaining := time.Duration(apiErr.RemainingTime) * time.Second
			m.persistLockout(email, remaining)
			return nil, &LockedOutError{Email: email, Remaining: remaining}
		}
		return nil, err
	}

	if resp.Verified == "no" {
		return nil, ErrVerificationPending
	}

	if err := m.store.Set(store.KeyToken, resp.Token); err != nil {
		return nil, fmt.Errorf("failed to persist session token: %w", err)
	}
	if err := m.store.Set(store.KeyEmail, resp.Email); err != nil {
		return nil, fmt.Errorf("failed to persist session email: %w", err)
	}
	if resp.Username != "" {
		if err := m.store.Set(store.KeyUsername, resp.Username); err != nil {
			return nil, fmt.Errorf("failed to persist username: %w", err)
		}
	}

	result := &LoginResult{Username: resp.Username, Email: resp.Email}

	instance, err := m.client.UserInstance(ctx)
	if err != nil {
		// The session itself is established; the instance lookup is a
		// routing hint and its failure leaves HasInstance false.
		m.logger.Warn("User instance lookup failed", zap.Error(err))
		return result, nil
	}
	if instance.HasInstance {
		result.HasInstance = true
		result.InstanceID = instance.InstanceID
		if err := m.store.Set(store.KeyInstanceID, instance.InstanceID); err != nil {
			return nil, fmt.Errorf("failed to persist instance id: %w", err)
		}
	}
	return result, nil
}

// Logout runs the idempotent teardown: at most one concurrent logout, a
// best-effort server notification unless forced, storage cleared with
// the device id preserved, then the registered handler is told.
func (m *Manager) Logout(message string, force bool) error {
	m.mu.Lock()
	if m.loggingOut {
		m.mu.Unlock()
		return nil
	}
	m.loggingOut = true
	handler := m.onLogout
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.loggingOut = false
		m.mu.Unlock()
	}()

	m.logger.Info("Handling logout",
		zap.String("message", message),
		zap.Bool("force", force))

	if m.LoggedIn() && !force {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := m.client.Logout(ctx); err != nil {
			m.logger.Error("Error during logout", zap.Error(err))
		}
		cancel()
	}

	if err := store.ClearPreservingDevice(m.store); err != nil {
		return fmt.Errorf("failed to clear session state: %w", err)
	}

	if handler != nil {
		handler(message)
	}
	return nil
}

// Beacon fires the best-effort logout notification used on shutdown.
// Delivery is not guaranteed and errors are swallowed; it must not be
// sent when a logout already ran.
func (m *Manager) Beacon(timeout time.Duration) {
	m.mu.Lock()
	loggingOut := m.loggingOut
	m.mu.Unlock()
	if loggingOut || !m.LoggedIn() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := m.client.Logout(ctx); err != nil {
		m.logger.Debug("Logout beacon not delivered", zap.Error(err))
	}
}

// LockoutRemaining reports whether email is locked out and for how long.
// Expired lockouts are erased on read.
func (m *Manager) LockoutRemaining(email string) (time.Duration, bool) {
	raw, err := m.store.Get(store.LockoutKey(email))
	if err != nil {
		return 0, false
	}
	expiry, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		_ = m.store.Delete(store.LockoutKey(email))
		return 0, false
	}
	remaining := time.Until(time.UnixMilli(expiry))
	if remaining <= 0 {
		_ = m.store.Delete(store.LockoutKey(email))
		return 0, false
	}
	return remaining, true
}

func (m *Manager) persistLockout(email string, d time.Duration) {
	expiry := time.Now().Add(d).UnixMilli()
	if err := m.store.Set(store.LockoutKey(email), strconv.FormatInt(expiry, 10)); err != nil {
		m.logger.Error("Failed to persist lockout", zap.Error(err))
	}
}

func validateCredentials(email, password string) error {
	if email == "" || password == "" {
		return ErrMissingCredentials
	}
	if len(password) < minPasswordLength {
		return ErrPasswordTooShort
	}
	return nil
}

// CreateInstance validates and provisions a new messaging instance,
// persisting it as the current one.
func (m *Manager) CreateInstance(ctx context.Context, instanceID string) error {
	if len(instanceID) < 4 {
		return errors.New("instance id must be at least 4 characters")
	}
	req := api.SaveInstanceRequest{
		InstanceID: instanceID,
		RegisterID: m.Email(),
	}
	if err := m.client.SaveInstance(ctx, req); err != nil {
		return err
	}
	if err := m.store.Set(store.KeyInstanceID, instanceID); err != nil {
		return fmt.Errorf("failed to persist instance id: %w", err)
	}
	return nil
}
