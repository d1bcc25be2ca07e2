package leasing

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/arloliu/leasing/internal/election"
	"github.com/arloliu/leasing/internal/logging"
	"github.com/arloliu/leasing/internal/metrics"
)

// Manager runs lease-based leader election for one replica.
//
// Manager is the main entry point of the leasing library. It handles:
//   - Connecting to the coordination service (NATS JetStream KV or etcd)
//   - Contending for the election key and renewing the lease while leading
//   - Watching the key while following and retrying when it is released
//   - Notifying subscribers when leadership is gained or lost
//
// Thread Safety:
//   - All public methods are safe for concurrent use
//   - State transitions are atomic and each one notifies subscribers once
//
// Lifecycle:
//   - Create with NewManager()
//   - Register callbacks with Subscribe()
//   - Call Start() to begin contending; it returns immediately
//   - Call Stop() for graceful shutdown; Start may be called again afterwards
type Manager struct {
	cfg     Config
	logger  Logger
	factory ClientFactory

	notifier *election.Notifier
	engine   *election.Engine

	// Lifecycle management
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	runErr  error
	client  Client
}

// NewManager creates a new Manager instance with the provided configuration.
//
// Parameters:
//   - cfg: Election configuration; missing optional values are defaulted in place
//   - opts: Optional configuration (hooks, metrics, logger, client factory)
//
// Returns:
//   - *Manager: Initialized manager in the Unknown state
//   - error: Error wrapping ErrInvalidConfig if the configuration is invalid
//
// Example:
//
//	cfg := leasing.DefaultConfig()
//	cfg.Endpoint = "nats://127.0.0.1:4222"
//	cfg.ElectionKey = "/orders/leader"
//	cfg.Identity = hostname
//	mgr, err := leasing.NewManager(&cfg)
func NewManager(cfg *Config, opts ...Option) (*Manager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is nil", ErrInvalidConfig)
	}

	// Fill in missing configuration values with defaults
	SetDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	options := &managerOptions{}
	for _, opt := range opts {
		opt(options)
	}

	// Provide safe defaults for optional dependencies to avoid nil checks everywhere
	metricsCollector := options.metrics
	if metricsCollector == nil {
		metricsCollector = metrics.NewNop()
	}

	loggerInstance := options.logger
	if loggerInstance == nil {
		loggerInstance = logging.NewNop()
	}

	// Validate with warnings after logger is available
	cfg.ValidateWithWarnings(loggerInstance)

	factory := options.clientFactory
	if factory == nil {
		factory = DialClient
	}

	notifier := election.NewNotifier(loggerInstance, metricsCollector)
	engine, err := election.New(election.Config{
		Key:              cfg.ElectionKey,
		Identity:         cfg.Identity,
		LeaseTTL:         cfg.LeaseTTL,
		RetryDelay:       cfg.RetryDelay,
		RenewInterval:    cfg.RenewInterval,
		OperationTimeout: cfg.OperationTimeout,
		ReleaseOnStop:    cfg.ReleaseOnStop,
	}, notifier, loggerInstance, metricsCollector, options.hooks)
	if err != nil {
		return nil, err
	}

	return &Manager{
		cfg:      *cfg,
		logger:   loggerInstance,
		factory:  factory,
		notifier: notifier,
		engine:   engine,
	}, nil
}

// Start connects to the coordination service and launches the election loop
// in the background.
//
// Start returns as soon as the loop is running; leadership is reported
// through Subscribe, Transitions and State. The loop runs until Stop is
// called or ctx is cancelled.
//
// Parameters:
//   - ctx: Parent context of the election loop; also bounds connection setup
//
// Returns:
//   - error: ErrAlreadyStarted if running, or an error wrapping ErrConnectFailed
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		select {
		case <-m.done:
			// The loop ended because the parent context was cancelled; reclaim it.
			if err := m.finishLocked(); err != nil {
				m.logger.Warn("previous election run ended with error", "error", err)
			}
		default:
			return ErrAlreadyStarted
		}
	}

	client, err := m.factory(ctx, m.cfg, m.logger)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	m.running = true
	m.cancel = cancel
	m.done = done
	m.client = client
	m.runErr = nil

	go func() {
		defer close(done)

		err := m.engine.Run(runCtx, client)

		m.mu.Lock()
		m.runErr = err
		m.mu.Unlock()
	}()

	m.logger.Info("lease manager started",
		"backend", m.cfg.Backend,
		"endpoint", m.cfg.Endpoint,
		"key", m.cfg.ElectionKey,
		"identity", m.cfg.Identity,
	)

	return nil
}

// Stop cancels the election loop, waits for it to exit and closes the client.
//
// A held lease is revoked first when ReleaseOnStop is set. Channels returned
// by Transitions are closed once the loop has exited. Calling Stop on a
// manager that is not running returns nil.
//
// Parameters:
//   - ctx: Bounds the wait for the loop to exit
//
// Returns:
//   - error: ErrShutdownTimeout if ctx expired first; otherwise loop faults
//     (ErrEngineFault) and client close errors joined together, or nil
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.cancel()
	done := m.done
	m.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Error("shutdown timeout exceeded, election loop still running", "key", m.cfg.ElectionKey)
		return fmt.Errorf("%w: %w", ErrShutdownTimeout, ctx.Err())
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// A concurrent Stop may have finished first.
	if !m.running || m.done != done {
		return nil
	}

	err := m.finishLocked()
	m.notifier.Close()
	if err != nil {
		m.logger.Error("lease manager stopped with errors", "error", err)
	} else {
		m.logger.Info("lease manager stopped gracefully", "key", m.cfg.ElectionKey)
	}

	return err
}

// finishLocked releases the resources of a finished run. Caller holds m.mu.
func (m *Manager) finishLocked() error {
	var closeErr error
	if err := m.client.Close(); err != nil {
		closeErr = fmt.Errorf("failed to close coordination client: %w", err)
	}

	runErr := m.runErr

	m.running = false
	m.cancel = nil
	m.client = nil
	m.runErr = nil

	return errors.Join(runErr, closeErr)
}

// State returns the current lease state.
//
// This method is thread-safe and can be called concurrently.
//
// Returns:
//   - LeaseState: Unknown before the first attempt, then Leader, Follower or Lost
func (m *Manager) State() LeaseState {
	return m.engine.State()
}

// IsLeader reports whether this replica currently holds leadership.
func (m *Manager) IsLeader() bool {
	return m.engine.State() == StateLeader
}

// Identity returns the value this replica writes to the election key.
func (m *Manager) Identity() string {
	return m.cfg.Identity
}

// Subscribe registers leadership callbacks.
//
// Callbacks run synchronously on the election goroutine, once per matching
// transition, for every subscriber. Either callback may be nil. The lease is
// renewed on a separate goroutine, so a slow onBecameLeader does not risk the
// lease, but it does delay later notifications. A callback must not call Stop
// synchronously.
//
// Parameters:
//   - onBecameLeader: Called when this replica becomes leader
//   - onLostLeadership: Called when this replica stops being leader
//
// Returns:
//   - func(): Unsubscribe function
//
// Example:
//
//	unsubscribe := mgr.Subscribe(
//	    func() { worker.Resume() },
//	    func() { worker.Pause() },
//	)
//	defer unsubscribe()
func (m *Manager) Subscribe(onBecameLeader, onLostLeadership func()) func() {
	return m.notifier.Subscribe(onBecameLeader, onLostLeadership)
}

// Transitions returns a channel that receives every lease state transition.
//
// The channel is buffered; when the consumer falls behind, transitions are
// dropped rather than blocking the election loop. Stop closes the channel, so
// a range over it ends when the manager stops.
//
// Returns:
//   - <-chan Transition: Channel of transitions
//   - func(): Unsubscribe function that closes the channel
//
// Example:
//
//	ch, unsubscribe := mgr.Transitions()
//	defer unsubscribe()
//	for t := range ch {
//	    log.Printf("lease state %s -> %s", t.From, t.To)
//	}
func (m *Manager) Transitions() (<-chan Transition, func()) {
	return m.notifier.SubscribeTransitions()
}
