package types

import (
	"context"
	"time"
)

// LeaseID is an opaque lease handle issued by the coordination service.
//
// Only equality and the zero value (no lease) are meaningful.
type LeaseID int64

// NoLease is the zero LeaseID.
const NoLease LeaseID = 0

// Client is the coordination service capability surface consumed by the election engine.
//
// Implementations wrap a strongly-consistent key-value store that offers
// time-bounded leases, atomic conditional writes and change watches:
//   - NATS JetStream KV (internal/coordination/natskv)
//   - etcd v3 (internal/coordination/etcdv3)
//   - In-memory store for tests (testing.MemoryStore)
//
// All methods must be safe for concurrent use. The engine owns a Client for
// exactly one Start/Stop cycle and closes it afterwards.
type Client interface {
	// GrantLease creates a new lease with the given TTL.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - ttl: Lease time-to-live (whole seconds are significant)
	//
	// Returns:
	//   - LeaseID: Opaque handle for the new lease
	//   - error: Grant failure
	GrantLease(ctx context.Context, ttl time.Duration) (LeaseID, error)

	// ConditionalCreate atomically creates key with value bound to lease if, and
	// only if, the key does not currently exist.
	//
	// This must be a single server-side compare-and-set operation, never a
	// read followed by a write.
	//
	// Returns:
	//   - bool: true if the key was created, false if it already existed
	//   - error: Transport or server failure
	ConditionalCreate(ctx context.Context, key, value string, lease LeaseID) (bool, error)

	// KeepAlive renews the TTL countdown of lease.
	//
	// Returns:
	//   - error: ErrLeaseNotFound (possibly wrapped) if the lease is unknown or expired
	KeepAlive(ctx context.Context, lease LeaseID) error

	// Revoke releases lease and deletes every key bound to it.
	//
	// Revoking an unknown or expired lease is not an error.
	Revoke(ctx context.Context, lease LeaseID) error

	// WatchForDelete subscribes to deletion of key.
	//
	// The returned Watch resolves when the key is deleted (or found absent),
	// when the subscription fails, or when ctx is cancelled.
	WatchForDelete(ctx context.Context, key string) (Watch, error)

	// Close releases client-side resources and the underlying connection.
	Close() error
}

// Watch is a pending subscription on the election key.
type Watch interface {
	// Done returns a channel that is closed once the watch has resolved.
	Done() <-chan struct{}

	// Err returns nil if the key was deleted, or the failure that ended the watch.
	// Only meaningful after Done is closed.
	Err() error

	// Stop tears down the subscription, including server-side resources.
	// Safe to call more than once.
	Stop() error
}
