// Package poller provides the cancellable interval poller shared by the
// session guard and the device-link watcher.
package poller

import "errors"

var (
	ErrPollerAlreadyRunning = errors.New("poller is already running")
	ErrPollerNotRunning     = errors.New("poller is not running")
)
