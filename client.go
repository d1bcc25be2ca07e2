package leasing

import (
	"context"
	"fmt"

	"github.com/arloliu/leasing/internal/coordination/etcdv3"
	"github.com/arloliu/leasing/internal/coordination/natskv"
)

// DialClient connects to the coordination service selected by cfg.Backend.
//
// It is the ClientFactory used when WithClientFactory is not given.
//
// Parameters:
//   - ctx: Context bounding connection setup
//   - cfg: Validated configuration
//   - logger: Logger for connection events
//
// Returns:
//   - Client: Connected client; the caller must Close it
//   - error: ErrUnknownBackend or a connection error
func DialClient(ctx context.Context, cfg Config, logger Logger) (Client, error) {
	switch cfg.Backend {
	case BackendNATS:
		c, err := natskv.Dial(ctx, natskv.Config{
			URL:      cfg.Endpoint,
			Bucket:   cfg.NATS.Bucket,
			LeaseTTL: cfg.LeaseTTL,
			Replicas: cfg.NATS.Replicas,
			Name:     "leasing-" + cfg.Identity,
		}, logger)
		if err != nil {
			return nil, err
		}

		return c, nil
	case BackendEtcd:
		c, err := etcdv3.Dial(ctx, etcdv3.Config{
			Endpoints:   cfg.Endpoint,
			DialTimeout: cfg.Etcd.DialTimeout,
			Username:    cfg.Etcd.Username,
			Password:    cfg.Etcd.Password,
		}, logger)
		if err != nil {
			return nil, err
		}

		return c, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}
