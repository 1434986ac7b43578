// Package connection watches the device link of a messaging instance:
// status polling, QR pairing, and explicit reset.
package connection

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/msgblast/msgblast-go/internal/api"
	"github.com/msgblast/msgblast-go/internal/client"
	"github.com/msgblast/msgblast-go/internal/config"
	"github.com/msgblast/msgblast-go/internal/poller"
	"github.com/msgblast/msgblast-go/internal/store"
)

// StateChecking is the initial state before the first status response
// arrives. All other states come from the backend verbatim.
const StateChecking api.ConnectionState = "checking"

var (
	// ErrNoInstance means no instance id could be resolved from the
	// argument, the reconnecting marker, or the persisted current id.
	ErrNoInstance = errors.New("instance id not found, create an instance first")
	// ErrNoQRCode means the backend reported unauthenticated but sent no
	// QR payload.
	ErrNoQRCode = errors.New("no QR code received from server")
)

// ResolveInstance picks the instance to watch: an explicit id wins, then
// the single-use reconnecting marker (consumed here), then the persisted
// current id.
func ResolveInstance(s store.Store, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	marker, err := store.TakeMarker(s, store.KeyReconnecting)
	if err != nil {
		return "", err
	}
	if marker != "" {
		return marker, nil
	}
	stored, err := s.Get(store.KeyInstanceID)
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrNoInstance
	}
	if err != nil {
		return "", err
	}
	return stored, nil
}

// MarkReconnecting leaves the single-use marker pointing back at an
// instance before handing control to the QR flow.
func MarkReconnecting(s store.Store, instanceID string) error {
	return s.Set(store.KeyReconnecting, instanceID)
}

// Snapshot is a point-in-time view of the watched link.
type Snapshot struct {
	InstanceID    string
	Status        api.ConnectionState
	Authenticated bool
	QRCode        string
	LoggedOut     bool
}

// Watcher polls one instance's link status. Poll completions carry a
// sequence number; a completion older than the newest applied one is
// discarded, so a slow stale response can never regress the state.
type Watcher struct {
	cfg        *config.LinkConfig
	store      store.Store
	client     *client.Client
	logger     *zap.Logger
	poll       *poller.Poller
	instanceID string

	mu            sync.Mutex
	nextSeq       uint64
	appliedSeq    uint64
	status        api.ConnectionState
	authenticated bool
	qrCode        string
	loggedOut     bool

	onConnected    func()
	onDisconnected func(status api.ConnectionState)
	onLoggedOut    func()
}

// NewWatcher creates a Watcher for instanceID.
func NewWatcher(cfg *config.LinkConfig, s store.Store, c *client.Client, logger *zap.Logger, instanceID string) *Watcher {
	w := &Watcher{
		cfg:        cfg,
		store:      s,
		client:     c,
		logger:     logger,
		instanceID: instanceID,
		status:     StateChecking,
	}
	w.poll = poller.New(logger, "link-status", cfg.StatusInterval(), w.checkStatus)
	return w
}

// OnConnected registers a callback fired when the link first reports
// connected after being anything else.
func (w *Watcher) OnConnected(fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onConnected = fn
}

// OnDisconnected registers a callback fired when the link reports
// disconnected or closed. The callback decides whether to hand off to
// the QR flow; the watcher itself never refetches a QR from this path.
func (w *Watcher) OnDisconnected(fn func(status api.ConnectionState)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onDisconnected = fn
}

// OnLoggedOut registers a callback fired when the backend rejects the
// token (403) on this instance's endpoints.
func (w *Watcher) OnLoggedOut(fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onLoggedOut = fn
}

// InstanceID returns the watched instance.
func (w *Watcher) InstanceID() string {
	return w.instanceID
}

// Start begins status polling with an immediate first check.
func (w *Watcher) Start(ctx context.Context) error {
	return w.poll.Start(ctx)
}

// Stop halts polling. No status change is applied after Stop returns.
func (w *Watcher) Stop() error {
	return w.poll.Stop()
}

// Recheck requests an immediate status probe.
func (w *Watcher) Recheck() {
	w.poll.Trigger()
}

// Snapshot returns the current view of the link.
func (w *Watcher) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Snapshot{
		InstanceID:    w.instanceID,
		Status:        w.status,
		Authenticated: w.authenticated,
		QRCode:        w.qrCode,
		LoggedOut:     w.loggedOut,
	}
}

func (w *Watcher) checkStatus(ctx context.Context) error {
	w.mu.Lock()
	w.nextSeq++
	seq := w.nextSeq
	w.mu.Unlock()

	resp, err := w.client.Status(ctx, w.instanceID)
	if err != nil {
		if apiErr, ok := client.AsAPIError(err); ok && apiErr.StatusCode == http.StatusForbidden {
			w.markLoggedOut()
			return err
		}
		// Transport failure or server error: keep the last known state.
		w.logger.Warn("Status check failed", zap.Error(err))
		return err
	}
	if !resp.Success {
		w.logger.Warn("Status check rejected", zap.String("message", resp.Message))
		return nil
	}

	w.applyStatus(seq, resp.Status)
	return nil
}

// applyStatus applies one poll completion, discarding it when a newer
// completion already landed.
func (w *Watcher) applyStatus(seq uint64, status api.ConnectionState) {
	w.mu.Lock()
	if seq <= w.appliedSeq {
		w.mu.Unlock()
		w.logger.Debug("Discarding stale status completion",
			zap.Uint64("seq", seq),
			zap.Uint64("applied", w.appliedSeq))
		return
	}
	w.appliedSeq = seq
	prev := w.status
	w.status = status

	var notify func()
	persist := false
	switch status {
	case api.StateConnected:
		w.authenticated = true
		persist = true
		if prev != api.StateConnected && w.onConnected != nil {
			notify = w.onConnected
		}
	case api.StateDisconnected, api.StateClosed:
		// Unauthenticated, but no QR refetch from the polling path: a
		// flapping backend must not cause a refetch storm. Only an
		// explicit Reset fetches a new code.
		w.authenticated = false
		if fn := w.onDisconnected; fn != nil {
			notify = func() { fn(status) }
		}
	}
	w.mu.Unlock()

	if persist {
		if err := w.store.Set(store.KeyInstanceID, w.instanceID); err != nil {
			w.logger.Error("Failed to persist instance id", zap.Error(err))
		}
	}
	if notify != nil {
		notify()
	}
}

// FetchQR retrieves the pairing QR payload. When the backend reports the
// instance already authenticated there is nothing to pair and no code is
// returned. A server error is retried once after the configured delay:
// backend-side QR generation is eventually consistent.
func (w *Watcher) FetchQR(ctx context.Context) (string, error) {
	qr, err := w.fetchQROnce(ctx)
	if err == nil {
		return qr, nil
	}
	apiErr, ok := client.AsAPIError(err)
	if !ok || apiErr.StatusCode < 500 {
		return "", err
	}

	w.logger.Info("QR fetch failed with server error, retrying",
		zap.Duration("delay", w.cfg.QRRetryDelay()))
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(w.cfg.QRRetryDelay()):
	}
	return w.fetchQROnce(ctx)
}

func (w *Watcher) fetchQROnce(ctx context.Context) (string, error) {
	resp, err := w.client.QRCode(ctx, w.instanceID)
	if err != nil {
		if apiErr, ok := client.AsAPIError(err); ok && apiErr.StatusCode == http.StatusForbidden {
			w.markLoggedOut()
		}
		return "", err
	}

	if resp.IsAuthenticated {
		w.mu.Lock()
		w.authenticated = true
		w.qrCode = ""
		w.mu.Unlock()
		if err := w.store.Set(store.KeyInstanceID, w.instanceID); err != nil {
			w.logger.Error("Failed to persist instance id", zap.Error(err))
		}
		return "", nil
	}

	if resp.QRCode == "" {
		return "", ErrNoQRCode
	}

	w.mu.Lock()
	w.authenticated = false
	w.qrCode = resp.QRCode
	w.mu.Unlock()
	return resp.QRCode, nil
}

// Reset invalidates the current device link and fetches a fresh QR for
// the same instance. This is the only path that refetches a code.
func (w *Watcher) Reset(ctx context.Context) (string, error) {
	if err := w.client.Reset(ctx, w.instanceID); err != nil {
		return "", err
	}
	return w.FetchQR(ctx)
}

func (w *Watcher) markLoggedOut() {
	w.mu.Lock()
	already := w.loggedOut
	w.loggedOut = true
	fn := w.onLoggedOut
	w.mu.Unlock()
	if !already && fn != nil {
		fn()
	}
}
