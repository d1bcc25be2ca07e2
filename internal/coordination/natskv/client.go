// Package natskv implements types.Client on top of a NATS JetStream KV bucket.
//
// JetStream KV has no first-class lease object, so leases are modelled
// client-side and enforced by the bucket:
//   - GrantLease: allocates a local lease handle (no round trip)
//   - ConditionalCreate: atomic KV Create, which fails with ErrKeyExists when the key is present
//   - KeepAlive: KV Update guarded by the last known revision; the write resets the bucket TTL
//   - Revoke: KV Delete guarded by the last known revision
//   - WatchForDelete: KV Watch on the key, resolving on delete, purge or TTL expiry marker
//
// The bucket TTL is the lease TTL, so a key that stops being renewed disappears
// after one TTL and a limit marker announces the removal to watchers.
package natskv

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/leasing/internal/kvutil"
	"github.com/arloliu/leasing/internal/natsutil"
	"github.com/arloliu/leasing/types"
)

// Config configures a NATS KV lease client.
type Config struct {
	// URL is the NATS server URL (comma separated for several servers).
	URL string

	// Bucket is the KV bucket holding election keys.
	Bucket string

	// LeaseTTL becomes the bucket TTL. Leases granted with a different TTL still
	// expire after LeaseTTL because expiry is enforced per bucket.
	LeaseTTL time.Duration

	// Replicas is the bucket replica count.
	Replicas int

	// Name is the NATS connection name shown in server monitoring.
	Name string
}

// binding tracks the key a lease currently owns.
type binding struct {
	key      string
	value    []byte
	revision uint64
}

// Client is a types.Client backed by a JetStream KV bucket.
type Client struct {
	kv     jetstream.KeyValue
	nc     *nats.Conn // owned connection, nil when the caller supplied the bucket
	ttl    time.Duration
	logger types.Logger

	nextLease atomic.Int64
	mu        sync.Mutex
	leases    map[types.LeaseID]*binding
	closed    bool
}

// Compile-time assertion that Client implements types.Client.
var _ types.Client = (*Client)(nil)

// Dial connects to NATS, ensures the election bucket exists and returns a client
// that owns the connection.
//
// Parameters:
//   - ctx: Context bounding bucket creation
//   - cfg: Connection and bucket settings
//   - logger: Logger for connection events
//
// Returns:
//   - *Client: Ready client; Close releases the NATS connection
//   - error: Connection or bucket error
func Dial(ctx context.Context, cfg Config, logger types.Logger) (*Client, error) {
	if cfg.LeaseTTL <= 0 {
		return nil, fmt.Errorf("lease TTL must be > 0, got %v", cfg.LeaseTTL)
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, natsutil.Classify("connect", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create jetstream context: %w", err)
	}

	const maxRetries = 5
	kv, err := kvutil.EnsureKVBucketWithRetry(ctx, js, kvutil.LeaseBucketConfig(cfg.Bucket, cfg.LeaseTTL, cfg.Replicas), maxRetries)
	if err != nil {
		nc.Close()
		return nil, natsutil.Classify("ensure bucket", err)
	}

	c := New(kv, cfg.LeaseTTL, logger)
	c.nc = nc

	return c, nil
}

// New wraps an existing KV bucket. The caller keeps ownership of the NATS
// connection; Close only releases client state.
//
// The bucket should be created with kvutil.LeaseBucketConfig so that its TTL
// matches ttl.
func New(kv jetstream.KeyValue, ttl time.Duration, logger types.Logger) *Client {
	return &Client{
		kv:     kv,
		ttl:    ttl,
		logger: logger,
		leases: make(map[types.LeaseID]*binding),
	}
}

// GrantLease allocates a new lease handle.
//
// The handle is local until ConditionalCreate binds it to a key; the bucket TTL
// bounds its lifetime from then on.
func (c *Client) GrantLease(_ context.Context, ttl time.Duration) (types.LeaseID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return types.NoLease, types.ErrClientClosed
	}
	if ttl != c.ttl {
		c.logger.Debug("lease TTL differs from bucket TTL, bucket TTL applies",
			"requested", ttl, "bucket_ttl", c.ttl)
	}

	id := types.LeaseID(c.nextLease.Add(1))
	c.leases[id] = nil

	return id, nil
}

// ConditionalCreate creates key bound to lease if the key is absent.
func (c *Client) ConditionalCreate(ctx context.Context, key, value string, lease types.LeaseID) (bool, error) {
	if err := c.checkLease(lease); err != nil {
		return false, err
	}

	kvKey := kvutil.EncodeKey(key)
	revision, err := c.kv.Create(ctx, kvKey, []byte(value))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return false, nil
		}

		return false, natsutil.Classify("create election key", err)
	}

	c.mu.Lock()
	c.leases[lease] = &binding{key: kvKey, value: []byte(value), revision: revision}
	c.mu.Unlock()

	return true, nil
}

// KeepAlive rewrites the bound key at its last revision, resetting the bucket TTL.
//
// A revision mismatch means the key expired or was taken over, which is
// reported as types.ErrLeaseNotFound.
func (c *Client) KeepAlive(ctx context.Context, lease types.LeaseID) error {
	if err := c.checkLease(lease); err != nil {
		return err
	}

	c.mu.Lock()
	b := c.leases[lease]
	c.mu.Unlock()

	if b == nil {
		// Granted but never bound; nothing to renew.
		return nil
	}

	revision, err := c.kv.Update(ctx, b.key, b.value, b.revision)
	if err != nil {
		if isRevisionConflict(err) {
			c.forget(lease)
			return fmt.Errorf("lease %d on key %q: %w", lease, b.key, types.ErrLeaseNotFound)
		}

		return natsutil.Classify("keep-alive", err)
	}

	c.mu.Lock()
	if cur := c.leases[lease]; cur != nil {
		cur.revision = revision
	}
	c.mu.Unlock()

	return nil
}

// Revoke deletes the key bound to lease if it still holds our revision.
func (c *Client) Revoke(ctx context.Context, lease types.LeaseID) error {
	c.mu.Lock()
	b, ok := c.leases[lease]
	delete(c.leases, lease)
	c.mu.Unlock()

	if !ok || b == nil {
		return nil
	}

	err := c.kv.Delete(ctx, b.key, jetstream.LastRevision(b.revision))
	if err != nil && !isRevisionConflict(err) && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return natsutil.Classify("revoke", err)
	}

	return nil
}

// WatchForDelete watches key until it is deleted, purged or expired.
func (c *Client) WatchForDelete(ctx context.Context, key string) (types.Watch, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, types.ErrClientClosed
	}

	watcher, err := c.kv.Watch(ctx, kvutil.EncodeKey(key))
	if err != nil {
		return nil, natsutil.Classify("watch", err)
	}

	return newKeyWatch(watcher), nil
}

// Close forgets all leases and closes the NATS connection if Dial created it.
//
// Leases are not revoked: keys expire with the bucket TTL.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.leases = make(map[types.LeaseID]*binding)
	c.mu.Unlock()

	if c.nc != nil {
		if err := c.nc.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			c.nc.Close()
			return fmt.Errorf("failed to drain nats connection: %w", err)
		}
	}

	return nil
}

func (c *Client) checkLease(lease types.LeaseID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return types.ErrClientClosed
	}
	if _, ok := c.leases[lease]; !ok {
		return fmt.Errorf("lease %d: %w", lease, types.ErrLeaseNotFound)
	}

	return nil
}

func (c *Client) forget(lease types.LeaseID) {
	c.mu.Lock()
	delete(c.leases, lease)
	c.mu.Unlock()
}

// isRevisionConflict reports a "wrong last sequence" failure from Update/Delete,
// or an Update against a key that no longer exists.
func isRevisionConflict(err error) bool {
	var apiErr *jetstream.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence {
		return true
	}

	return errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted)
}
