package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v3"

	"github.com/arloliu/leasing"
	"github.com/arloliu/leasing/internal/metrics"
)

type runner struct {
	logger *log.Logger
}

// Run starts a Manager and blocks until SIGINT or SIGTERM.
func (r *runner) Run(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	logger := r.logger.With("key", cfg.ElectionKey, "identity", cfg.Identity)

	mgr, err := leasing.NewManager(&cfg,
		leasing.WithLogger(libraryLogger(logger)),
		leasing.WithMetrics(metrics.NewPrometheus(reg, "leasing")),
		leasing.WithHooks(&leasing.Hooks{
			OnError: func(_ context.Context, err error) error {
				logger.Debug("coordination error absorbed", "error", err)
				return nil
			},
		}),
	)
	if err != nil {
		return err
	}

	unsubscribe := mgr.Subscribe(
		func() { logger.Info("this replica is now the leader") },
		func() { logger.Warn("this replica lost leadership") },
	)
	defer unsubscribe()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var server *http.Server
	if addr := cmd.String("metrics-addr"); addr != "" {
		server = startMetricsServer(addr, reg, mgr, logger)
	}

	if err := mgr.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info("shutting down", "timeout", cfg.ShutdownTimeout)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := mgr.Stop(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop metrics server: %w", err))
		}
	}

	return errors.Join(errs...)
}

// Validate loads the configuration and reports problems without connecting.
func (r *runner) Validate(_ context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg.ValidateWithWarnings(libraryLogger(r.logger))

	r.logger.Info("configuration is valid",
		"backend", cfg.Backend,
		"endpoint", cfg.Endpoint,
		"key", cfg.ElectionKey,
		"identity", cfg.Identity,
		"lease_ttl", cfg.LeaseTTL,
	)

	return nil
}

func startMetricsServer(addr string, reg *prometheus.Registry, mgr *leasing.Manager, logger *log.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/leader", func(w http.ResponseWriter, _ *http.Request) {
		if !mgr.IsLeader() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_, _ = fmt.Fprintln(w, mgr.State())
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("metrics server listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	return server
}

// loadConfig builds a Config from the optional file and the command flags.
// Flags win over file values.
func loadConfig(cmd *cli.Command) (leasing.Config, error) {
	cfg := leasing.DefaultConfig()
	if path := cmd.String("config"); path != "" {
		loaded, err := leasing.LoadConfig(path)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}

	if cmd.IsSet("backend") {
		cfg.Backend = cmd.String("backend")
	}
	if cmd.IsSet("endpoint") {
		cfg.Endpoint = cmd.String("endpoint")
	}
	if cmd.IsSet("key") {
		cfg.ElectionKey = cmd.String("key")
	}
	if cmd.IsSet("identity") {
		cfg.Identity = cmd.String("identity")
	}
	if cmd.IsSet("ttl") {
		cfg.LeaseTTL = cmd.Duration("ttl")
	}
	if cmd.IsSet("retry-delay") {
		cfg.RetryDelay = cmd.Duration("retry-delay")
	}

	if cfg.Identity == "" {
		cfg.Identity = defaultIdentity()
	}
	leasing.SetDefaults(&cfg)

	return cfg, nil
}

// defaultIdentity returns "<hostname>-<uuid>" so restarts of the same host
// never reuse an identity.
func defaultIdentity() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "leasingd"
	}

	return host + "-" + uuid.NewString()
}
