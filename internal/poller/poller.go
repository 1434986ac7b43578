package poller

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Poller runs a task immediately and then on a fixed interval until
// stopped. Trigger forces an immediate extra run, which covers the
// "re-check right now" events (tab visible, window focus, network back
// online) without a second timer.
type Poller struct {
	logger    *zap.Logger
	name      string
	interval  time.Duration
	taskFunc  func(context.Context) error
	stopCh    chan struct{}
	doneCh    chan struct{}
	triggerCh chan struct{}
	isRunning bool
	mu        sync.RWMutex
}

// New creates a poller. The task's error is logged, never fatal: a
// failed poll must not kill the loop.
func New(logger *zap.Logger, name string, interval time.Duration, taskFunc func(context.Context) error) *Poller {
	return &Poller{
		logger:    logger,
		name:      name,
		interval:  interval,
		taskFunc:  taskFunc,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		triggerCh: make(chan struct{}, 1),
	}
}

// Start begins polling.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.isRunning {
		return ErrPollerAlreadyRunning
	}

	p.isRunning = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})

	go p.run(ctx)

	p.logger.Debug("Poller started",
		zap.String("poller", p.name),
		zap.Duration("interval", p.interval))
	return nil
}

// Stop halts the poller and waits for the loop to exit, so no task runs
// after Stop returns.
func (p *Poller) Stop() error {
	p.mu.Lock()
	if !p.isRunning {
		p.mu.Unlock()
		return ErrPollerNotRunning
	}
	p.mu.Unlock()

	close(p.stopCh)
	<-p.doneCh

	p.mu.Lock()
	p.isRunning = false
	p.mu.Unlock()

	p.logger.Debug("Poller stopped", zap.String("poller", p.name))
	return nil
}

// IsRunning reports whether the poll loop is active.
func (p *Poller) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.isRunning
}

// Trigger requests an immediate run. A trigger while one is already
// pending is coalesced; a trigger on a stopped poller is a no-op.
func (p *Poller) Trigger() {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.isRunning {
		return
	}
	select {
	case p.triggerCh <- struct{}{}:
	default:
	}
}

func (p *Poller) run(ctx context.Context) {
	defer close(p.doneCh)
	defer func() {
		p.mu.Lock()
		p.isRunning = false
		p.mu.Unlock()
	}()

	// Execute immediately on start
	p.executeTask(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Debug("Poller context canceled", zap.String("poller", p.name))
			return
		case <-p.stopCh:
			return
		case <-p.triggerCh:
			p.executeTask(ctx)
		case <-ticker.C:
			p.executeTask(ctx)
		}
	}
}

func (p *Poller) executeTask(ctx context.Context) {
	taskCtx, cancel := context.WithTimeout(ctx, p.interval)
	defer cancel()

	if err := p.taskFunc(taskCtx); err != nil {
		p.logger.Debug("Poll task failed",
			zap.String("poller", p.name),
			zap.Error(err))
	}
}
