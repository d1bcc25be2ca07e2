package leasing

import "context"

// ClientFactory establishes the coordination client for one Start/Stop cycle.
//
// The Manager calls it from Start and closes the returned client in Stop.
type ClientFactory func(ctx context.Context, cfg Config, logger Logger) (Client, error)

// Option configures a Manager with optional dependencies.
type Option func(*managerOptions)

// managerOptions holds optional Manager configuration.
type managerOptions struct {
	hooks         *Hooks
	metrics       MetricsCollector
	logger        Logger
	clientFactory ClientFactory
}

// WithHooks sets lifecycle event hooks.
//
// Hooks run asynchronously and must not be relied on for ordering. Use
// Manager.Subscribe for synchronous leadership callbacks.
//
// Parameters:
//   - hooks: Hooks structure with callback functions
//
// Returns:
//   - Option: Functional option for NewManager
//
// Example:
//
//	hooks := &leasing.Hooks{
//	    OnStateChanged: func(ctx context.Context, from, to leasing.LeaseState) error {
//	        return audit.Record(ctx, from, to)
//	    },
//	}
//	mgr, err := leasing.NewManager(&cfg, leasing.WithHooks(hooks))
func WithHooks(hooks *Hooks) Option {
	return func(o *managerOptions) {
		o.hooks = hooks
	}
}

// WithMetrics sets a metrics collector.
//
// Parameters:
//   - metrics: MetricsCollector implementation
//
// Returns:
//   - Option: Functional option for NewManager
//
// Example:
//
//	collector := metrics.NewPrometheus(prometheus.DefaultRegisterer, "leasing")
//	mgr, err := leasing.NewManager(&cfg, leasing.WithMetrics(collector))
func WithMetrics(metrics MetricsCollector) Option {
	return func(o *managerOptions) {
		o.metrics = metrics
	}
}

// WithLogger sets a logger.
//
// Parameters:
//   - logger: Logger implementation (compatible with zap.SugaredLogger)
//
// Returns:
//   - Option: Functional option for NewManager
//
// Example:
//
//	logger := logging.NewSlog(slog.Default())
//	mgr, err := leasing.NewManager(&cfg, leasing.WithLogger(logger))
func WithLogger(logger Logger) Option {
	return func(o *managerOptions) {
		o.logger = logger
	}
}

// WithClientFactory replaces the backend selected by Config.Backend.
//
// This is mainly useful in tests and for wrapping a client with extra
// instrumentation.
//
// Parameters:
//   - factory: Function creating the coordination client
//
// Returns:
//   - Option: Functional option for NewManager
//
// Example:
//
//	store := leasetest.NewMemoryStore()
//	mgr, err := leasing.NewManager(&cfg, leasing.WithClientFactory(
//	    func(context.Context, leasing.Config, leasing.Logger) (leasing.Client, error) {
//	        return store.Client(), nil
//	    }))
func WithClientFactory(factory ClientFactory) Option {
	return func(o *managerOptions) {
		o.clientFactory = factory
	}
}
