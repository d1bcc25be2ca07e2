package leasing

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Supported coordination backends.
const (
	BackendNATS = "nats"
	BackendEtcd = "etcd"
)

// NATSConfig configures the NATS JetStream KV backend.
type NATSConfig struct {
	// Bucket is the KV bucket holding election keys. Its TTL is set to LeaseTTL
	// when the bucket is created.
	Bucket string `yaml:"bucket" toml:"bucket"`

	// Replicas is the bucket replica count (1 for a single server).
	Replicas int `yaml:"replicas" toml:"replicas"`
}

// EtcdConfig configures the etcd v3 backend.
type EtcdConfig struct {
	// DialTimeout bounds the initial connection to the cluster.
	DialTimeout time.Duration `yaml:"dialTimeout" toml:"dial_timeout"`

	// Username enables etcd authentication when set.
	Username string `yaml:"username" toml:"username"`

	// Password is the etcd password for Username.
	Password string `yaml:"password" toml:"password"`
}

// Config is the configuration for the Manager.
//
// All duration fields accept standard Go duration strings like "15s", "500ms".
type Config struct {
	// Backend selects the coordination service: "nats" (default) or "etcd".
	Backend string `yaml:"backend" toml:"backend"`

	// Endpoint is the coordination service address. Several addresses may be
	// given separated by commas.
	Endpoint string `yaml:"endpoint" toml:"endpoint"`

	// ElectionKey is the key every replica races to create.
	ElectionKey string `yaml:"electionKey" toml:"election_key"`

	// Identity is written as the key's value while this replica leads.
	Identity string `yaml:"identity" toml:"identity"`

	// LeaseTTL is how long leadership survives without a successful keep-alive.
	// It bounds failover time after a leader crash. Must be at least one second
	// because etcd lease TTLs have second granularity.
	LeaseTTL time.Duration `yaml:"leaseTtl" toml:"lease_ttl"`

	// RetryDelay is the pause between election attempts and after failures.
	RetryDelay time.Duration `yaml:"retryDelay" toml:"retry_delay"`

	// RenewInterval is the pause between keep-alives while leading.
	// Default: 0 (LeaseTTL/2)
	RenewInterval time.Duration `yaml:"renewInterval" toml:"renew_interval"`

	// OperationTimeout bounds each coordination call (grant, create, keep-alive, revoke).
	OperationTimeout time.Duration `yaml:"operationTimeout" toml:"operation_timeout"`

	// ShutdownTimeout is the maximum time the daemon waits for Stop.
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" toml:"shutdown_timeout"`

	// ReleaseOnStop revokes a held lease on graceful stop so another replica can
	// take over immediately instead of waiting for LeaseTTL.
	ReleaseOnStop bool `yaml:"releaseOnStop" toml:"release_on_stop"`

	// NATS configures the NATS backend.
	NATS NATSConfig `yaml:"nats" toml:"nats"`

	// Etcd configures the etcd backend.
	Etcd EtcdConfig `yaml:"etcd" toml:"etcd"`
}

// DefaultConfig returns a Config with sensible defaults.
//
// Endpoint, ElectionKey and Identity have no defaults and must be set.
//
// Returns:
//   - Config: Configuration with default values
func DefaultConfig() Config {
	return Config{
		Backend:          BackendNATS,
		LeaseTTL:         15 * time.Second,
		RetryDelay:       time.Second,
		OperationTimeout: 5 * time.Second,
		ShutdownTimeout:  10 * time.Second,
		ReleaseOnStop:    true,
		NATS: NATSConfig{
			Bucket:   "leasing-election",
			Replicas: 1,
		},
		Etcd: EtcdConfig{
			DialTimeout: 5 * time.Second,
		},
	}
}

// SetDefaults fills in missing configuration values with production defaults.
//
// LeaseTTL and RetryDelay are left alone: a zero LeaseTTL is a configuration
// error and a zero RetryDelay is valid. ReleaseOnStop cannot be told apart from
// an explicit false and is not touched either.
//
// Parameters:
//   - cfg: Config to apply defaults to (modified in place)
func SetDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Backend == "" {
		cfg.Backend = defaults.Backend
	}
	if cfg.OperationTimeout == 0 {
		cfg.OperationTimeout = defaults.OperationTimeout
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if cfg.NATS.Bucket == "" {
		cfg.NATS.Bucket = defaults.NATS.Bucket
	}
	if cfg.NATS.Replicas == 0 {
		cfg.NATS.Replicas = defaults.NATS.Replicas
	}
	if cfg.Etcd.DialTimeout == 0 {
		cfg.Etcd.DialTimeout = defaults.Etcd.DialTimeout
	}
}

// Validate checks configuration constraints.
//
// Hard Validation Rules:
//   - Backend is "nats" or "etcd"
//   - Endpoint, ElectionKey and Identity are set
//   - LeaseTTL >= 1s
//   - RetryDelay >= 0
//   - 0 <= RenewInterval < LeaseTTL
//   - OperationTimeout > 0
//
// Returns:
//   - error: Every violated rule joined together, each wrapping ErrInvalidConfig
func (cfg *Config) Validate() error {
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...)))
	}

	switch cfg.Backend {
	case BackendNATS, BackendEtcd:
	default:
		errs = append(errs, fmt.Errorf("%w: %w: %q", ErrInvalidConfig, ErrUnknownBackend, cfg.Backend))
	}

	if strings.TrimSpace(cfg.Endpoint) == "" {
		invalid("endpoint is required")
	}
	if cfg.ElectionKey == "" {
		invalid("election key is required")
	}
	if cfg.Identity == "" {
		invalid("identity is required")
	}
	if cfg.LeaseTTL < time.Second {
		invalid("LeaseTTL (%v) must be >= 1s", cfg.LeaseTTL)
	}
	if cfg.RetryDelay < 0 {
		invalid("RetryDelay (%v) must be >= 0", cfg.RetryDelay)
	}
	if cfg.RenewInterval < 0 || (cfg.LeaseTTL > 0 && cfg.RenewInterval >= cfg.LeaseTTL) {
		invalid("RenewInterval (%v) must be >= 0 and < LeaseTTL (%v)", cfg.RenewInterval, cfg.LeaseTTL)
	}
	if cfg.OperationTimeout <= 0 {
		invalid("OperationTimeout (%v) must be > 0", cfg.OperationTimeout)
	}

	return errors.Join(errs...)
}

// ValidateWithWarnings logs warnings for valid but risky values.
//
// This is called after Validate() in NewManager() to provide operator guidance.
//
// Parameters:
//   - logger: Logger instance for warning output
func (cfg *Config) ValidateWithWarnings(logger Logger) {
	if cfg.RenewInterval > cfg.LeaseTTL/2 {
		logger.Warn(
			"RenewInterval is above half the lease TTL, a single slow keep-alive may lose leadership",
			"renewInterval", cfg.RenewInterval,
			"leaseTTL", cfg.LeaseTTL,
			"recommended", cfg.LeaseTTL/2,
		)
	}

	if cfg.RetryDelay > cfg.LeaseTTL {
		logger.Warn(
			"RetryDelay exceeds lease TTL, failover after a watch error will be slow",
			"retryDelay", cfg.RetryDelay,
			"leaseTTL", cfg.LeaseTTL,
		)
	}

	if cfg.OperationTimeout >= cfg.LeaseTTL {
		logger.Warn(
			"OperationTimeout is not below lease TTL, a hung keep-alive can outlive the lease",
			"operationTimeout", cfg.OperationTimeout,
			"leaseTTL", cfg.LeaseTTL,
		)
	}
}

// TestConfig returns a configuration optimized for fast test execution.
//
// Parameters:
//   - endpoint: Coordination service address (for example an embedded NATS URL)
//   - key: Election key
//   - identity: Replica identity
//
// Returns:
//   - Config: Configuration with fast timings for tests
//
// Example:
//
//	ns, _ := leasetest.StartEmbeddedNATS(t)
//	cfg := leasing.TestConfig(ns.ClientURL(), "/svc/leader", "pod-1")
//	mgr, err := leasing.NewManager(&cfg)
func TestConfig(endpoint, key, identity string) Config {
	cfg := DefaultConfig()
	cfg.Endpoint = endpoint
	cfg.ElectionKey = key
	cfg.Identity = identity

	// Renew five times per TTL so a slow CI runner does not lose leadership.
	cfg.LeaseTTL = time.Second
	cfg.RetryDelay = 50 * time.Millisecond
	cfg.RenewInterval = 200 * time.Millisecond
	cfg.OperationTimeout = 500 * time.Millisecond
	cfg.ShutdownTimeout = 2 * time.Second

	return cfg
}

// LoadConfig reads a YAML (.yaml, .yml) or TOML (.toml) file on top of
// DefaultConfig and applies SetDefaults. The result is not validated.
//
// Parameters:
//   - path: Config file path; the extension selects the format
//
// Returns:
//   - Config: Loaded configuration
//   - error: Read, parse or unsupported-format error
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse YAML config %s: %w", path, err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse TOML config %s: %w", path, err)
		}
	default:
		return cfg, fmt.Errorf("unsupported config format %q (want .yaml, .yml or .toml)", ext)
	}

	SetDefaults(&cfg)

	return cfg, nil
}
