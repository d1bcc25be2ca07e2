package election

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/leasing/internal/hooks"
	"github.com/arloliu/leasing/types"
)

const defaultOperationTimeout = 5 * time.Second

// Config holds the election parameters of an Engine.
type Config struct {
	// Key is the election key all contenders race to create.
	Key string

	// Identity is written as the key's value when this replica wins.
	Identity string

	// LeaseTTL is the lifetime of a granted lease without keep-alive. Must be > 0.
	LeaseTTL time.Duration

	// RetryDelay is the pause between attempts and after failures. Must be >= 0.
	RetryDelay time.Duration

	// RenewInterval is the pause between keep-alives. Defaults to LeaseTTL/2.
	RenewInterval time.Duration

	// OperationTimeout bounds every coordination call except the follower watch.
	// Defaults to 5s.
	OperationTimeout time.Duration

	// ReleaseOnStop revokes a held lease when Run returns so another replica
	// can take over without waiting for expiry.
	ReleaseOnStop bool
}

// Validate checks the engine configuration.
func (c *Config) Validate() error {
	if c.LeaseTTL <= 0 {
		return fmt.Errorf("%w: lease TTL must be > 0, got %v", types.ErrInvalidConfig, c.LeaseTTL)
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("%w: retry delay must be >= 0, got %v", types.ErrInvalidConfig, c.RetryDelay)
	}
	if c.RenewInterval < 0 {
		return fmt.Errorf("%w: renew interval must be >= 0, got %v", types.ErrInvalidConfig, c.RenewInterval)
	}
	if c.RenewInterval >= c.LeaseTTL {
		return fmt.Errorf("%w: renew interval (%v) must be less than lease TTL (%v)",
			types.ErrInvalidConfig, c.RenewInterval, c.LeaseTTL)
	}

	return nil
}

// Engine runs the election loop and owns the local LeaseState.
//
// The state transition function is safe for concurrent use; Run must not be
// called concurrently with itself.
type Engine struct {
	cfg      Config
	logger   types.Logger
	metrics  types.MetricsCollector
	hooks    types.Hooks
	notifier *Notifier

	mu    sync.Mutex // serializes transitions and their notifications
	state atomic.Int32

	leaseMu sync.Mutex
	held    types.LeaseID
}

// New creates an engine in the Unknown state.
//
// Parameters:
//   - cfg: Election parameters; zero RenewInterval and OperationTimeout are defaulted
//   - notifier: Subscriber fan-out for transitions
//   - logger: Logger for election events
//   - metrics: Metrics collector
//   - h: Optional hooks (nil callbacks are no-ops)
//
// Returns:
//   - *Engine: Ready engine
//   - error: ErrInvalidConfig when cfg is invalid
func New(cfg Config, notifier *Notifier, logger types.Logger, metrics types.MetricsCollector, h *types.Hooks) (*Engine, error) {
	if cfg.RenewInterval == 0 {
		cfg.RenewInterval = cfg.LeaseTTL / 2
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = defaultOperationTimeout
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		hooks:    hooks.Fill(h),
		notifier: notifier,
	}
	e.state.Store(int32(types.StateUnknown))

	return e, nil
}

// State returns the current lease state.
func (e *Engine) State() types.LeaseState {
	return types.LeaseState(e.state.Load())
}

// SetState moves the engine to state to.
//
// Assigning the current state is a no-op. Otherwise the transition is
// recorded and subscribers are notified before SetState returns.
//
// Returns:
//   - bool: true if the state changed
func (e *Engine) SetState(to types.LeaseState) bool {
	return e.transition(context.Background(), to)
}

func (e *Engine) transition(ctx context.Context, to types.LeaseState) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	from := e.State()
	if from == to {
		return false
	}
	e.state.Store(int32(to)) //nolint:gosec // G115: state is a bounded enum

	e.logger.Info("lease state transition", "key", e.cfg.Key, "identity", e.cfg.Identity, "from", from, "to", to)
	e.metrics.RecordStateTransition(from, to)
	e.notifier.Notify(types.Transition{From: from, To: to})

	go func() {
		if err := e.hooks.OnStateChanged(ctx, from, to); err != nil {
			e.logger.Error("state change hook failed", "error", err)
		}
	}()

	return true
}

// Run contends for leadership until ctx is cancelled.
//
// Coordination failures are logged and retried after RetryDelay; they never
// end the loop. Run returns nil after a clean cancellation, or an error
// wrapping types.ErrEngineFault if the loop panicked.
//
// Parameters:
//   - ctx: Cancelling ctx stops the loop and the renewal of a held lease
//   - client: Coordination client; Run does not close it
//
// Returns:
//   - error: nil on cancellation, ErrEngineFault on abnormal termination
func (e *Engine) Run(ctx context.Context, client types.Client) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("election loop panicked", "key", e.cfg.Key, "panic", r)
			err = fmt.Errorf("%w: %v", types.ErrEngineFault, r)
		}
		e.release(ctx, client)
	}()

	e.logger.Info("election loop started", "key", e.cfg.Key, "identity", e.cfg.Identity, "lease_ttl", e.cfg.LeaseTTL)

	for {
		retryNow := e.attempt(ctx, client)

		if ctx.Err() != nil {
			e.logger.Info("election loop stopped", "key", e.cfg.Key)
			return nil
		}
		if retryNow {
			continue
		}

		if !sleep(ctx, e.cfg.RetryDelay) {
			e.logger.Info("election loop stopped", "key", e.cfg.Key)
			return nil
		}
	}
}

// attempt performs one grant + create round. A winner stays in the renewal
// loop until leadership ends; a follower waits for the key to be released.
// It reports whether the next attempt should start without waiting for RetryDelay.
func (e *Engine) attempt(ctx context.Context, client types.Client) bool {
	lease, err := e.grant(ctx, client)
	if err != nil {
		e.attemptFailed(ctx, "grant lease", err)
		return false
	}

	created, err := e.create(ctx, client, lease)
	if err != nil {
		e.revoke(ctx, client, lease)
		e.attemptFailed(ctx, "create election key", err)

		return false
	}

	if created {
		e.metrics.RecordAttempt("leader")
		e.setHeld(lease)
		e.lead(ctx, client, lease)

		return false
	}

	e.metrics.RecordAttempt("follower")
	e.revoke(ctx, client, lease)
	e.transition(ctx, types.StateFollower)

	return e.waitForRelease(ctx, client)
}

func (e *Engine) attemptFailed(ctx context.Context, op string, err error) {
	if ctx.Err() != nil {
		return
	}

	e.metrics.RecordAttempt("error")
	e.logger.Warn("election attempt failed", "op", op, "key", e.cfg.Key, "error", err, "retry_in", e.cfg.RetryDelay)
	e.reportError(ctx, fmt.Errorf("%s: %w", op, err))
}

// lead announces leadership and blocks until the renewal of lease ends.
//
// Renewal runs on its own goroutine, started before the Leader transition, so
// slow became-leader callbacks never delay keep-alives. The Lost transition is
// made only after the Leader transition has been delivered.
func (e *Engine) lead(ctx context.Context, client types.Client, lease types.LeaseID) {
	announced := make(chan struct{})
	done := make(chan struct{})

	var panicked any
	go func() {
		defer close(done)
		defer func() {
			panicked = recover()
		}()

		e.renew(ctx, client, lease, announced)
	}()

	func() {
		defer close(announced)
		e.transition(ctx, types.StateLeader)
	}()
	<-done

	if panicked != nil {
		e.transition(ctx, types.StateLost)
		panic(panicked)
	}
}

// renew keeps lease alive until a keep-alive fails or ctx is cancelled, then
// moves the engine to Lost once announced is closed.
func (e *Engine) renew(ctx context.Context, client types.Client, lease types.LeaseID, announced <-chan struct{}) {
	lost := func() {
		<-announced
		e.transition(ctx, types.StateLost)
	}

	for {
		if err := e.keepAlive(ctx, client, lease); err != nil {
			if ctx.Err() != nil {
				lost()
				return
			}

			e.logger.Warn("keep-alive failed, leadership lost", "key", e.cfg.Key, "lease", int64(lease), "error", err)
			e.reportError(ctx, fmt.Errorf("keep-alive: %w", err))

			// Subscribers stop leader work before the key is released to others.
			lost()
			if e.clearHeld(lease) {
				e.revoke(ctx, client, lease)
			}

			return
		}

		if !sleep(ctx, e.cfg.RenewInterval) {
			lost()
			return
		}
	}
}

// waitForRelease blocks until the election key is deleted, the watch fails,
// max(RetryDelay, LeaseTTL) elapses or ctx is cancelled. It reports true for a
// delete and for the elapsed bound.
func (e *Engine) waitForRelease(ctx context.Context, client types.Client) bool {
	start := time.Now()
	w, err := client.WatchForDelete(ctx, e.cfg.Key)
	e.metrics.RecordOperationDuration("watch", time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() == nil {
			e.metrics.RecordWatchResult("error")
			e.logger.Warn("failed to watch election key", "key", e.cfg.Key, "error", err)
			e.reportError(ctx, fmt.Errorf("watch: %w", err))
		}

		return false
	}
	defer func() {
		if err := w.Stop(); err != nil {
			e.logger.Debug("failed to stop watch", "key", e.cfg.Key, "error", err)
		}
	}()

	// A watch can miss a delete; re-contend after at most one lease lifetime.
	bound := time.NewTimer(max(e.cfg.RetryDelay, e.cfg.LeaseTTL))
	defer bound.Stop()

	select {
	case <-ctx.Done():
		e.metrics.RecordWatchResult("canceled")
		return false
	case <-bound.C:
		e.metrics.RecordWatchResult("timeout")
		e.logger.Debug("no release observed within one lease TTL, re-contending", "key", e.cfg.Key)

		return true
	case <-w.Done():
	}

	if err := w.Err(); err != nil {
		if ctx.Err() != nil {
			e.metrics.RecordWatchResult("canceled")
			return false
		}

		e.metrics.RecordWatchResult("error")
		e.logger.Warn("election key watch failed", "key", e.cfg.Key, "error", err, "retry_in", e.cfg.RetryDelay)
		e.reportError(ctx, fmt.Errorf("watch: %w", err))

		return false
	}

	e.metrics.RecordWatchResult("deleted")
	e.logger.Debug("election key released, retrying", "key", e.cfg.Key)

	return true
}

// release revokes a still-held lease after the loops have exited.
func (e *Engine) release(ctx context.Context, client types.Client) {
	e.leaseMu.Lock()
	lease := e.held
	e.held = types.NoLease
	e.leaseMu.Unlock()

	if lease == types.NoLease || !e.cfg.ReleaseOnStop {
		return
	}

	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.OperationTimeout)
	defer cancel()

	start := time.Now()
	err := client.Revoke(releaseCtx, lease)
	e.metrics.RecordOperationDuration("revoke", time.Since(start).Seconds())
	if err != nil {
		e.logger.Warn("failed to release lease on stop", "key", e.cfg.Key, "lease", int64(lease), "error", err)
		return
	}

	e.logger.Info("released leadership", "key", e.cfg.Key, "identity", e.cfg.Identity)
}

func (e *Engine) grant(ctx context.Context, client types.Client) (types.LeaseID, error) {
	opCtx, cancel := context.WithTimeout(ctx, e.cfg.OperationTimeout)
	defer cancel()

	start := time.Now()
	lease, err := client.GrantLease(opCtx, e.cfg.LeaseTTL)
	e.metrics.RecordOperationDuration("grant", time.Since(start).Seconds())

	return lease, err
}

func (e *Engine) create(ctx context.Context, client types.Client, lease types.LeaseID) (bool, error) {
	opCtx, cancel := context.WithTimeout(ctx, e.cfg.OperationTimeout)
	defer cancel()

	start := time.Now()
	created, err := client.ConditionalCreate(opCtx, e.cfg.Key, e.cfg.Identity, lease)
	e.metrics.RecordOperationDuration("create", time.Since(start).Seconds())

	return created, err
}

func (e *Engine) keepAlive(ctx context.Context, client types.Client, lease types.LeaseID) error {
	opCtx, cancel := context.WithTimeout(ctx, e.cfg.OperationTimeout)
	defer cancel()

	start := time.Now()
	err := client.KeepAlive(opCtx, lease)
	e.metrics.RecordOperationDuration("keepalive", time.Since(start).Seconds())
	e.metrics.RecordKeepAlive(err == nil)

	return err
}

// revoke releases a lease that is no longer needed. Failures only delay
// cleanup until the lease expires, so they are logged at debug level.
func (e *Engine) revoke(ctx context.Context, client types.Client, lease types.LeaseID) {
	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.OperationTimeout)
	defer cancel()

	start := time.Now()
	err := client.Revoke(opCtx, lease)
	e.metrics.RecordOperationDuration("revoke", time.Since(start).Seconds())
	if err != nil {
		e.logger.Debug("failed to revoke lease", "lease", int64(lease), "error", err)
	}
}

func (e *Engine) reportError(ctx context.Context, err error) {
	go func() {
		if hookErr := e.hooks.OnError(ctx, err); hookErr != nil {
			e.logger.Error("error hook failed", "error", hookErr)
		}
	}()
}

func (e *Engine) setHeld(lease types.LeaseID) {
	e.leaseMu.Lock()
	e.held = lease
	e.leaseMu.Unlock()
}

// clearHeld forgets lease if it is the held one and reports whether it was.
func (e *Engine) clearHeld(lease types.LeaseID) bool {
	e.leaseMu.Lock()
	defer e.leaseMu.Unlock()

	if e.held != lease {
		return false
	}
	e.held = types.NoLease

	return true
}

// sleep waits for d or until ctx is done. It reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
