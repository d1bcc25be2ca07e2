// Package etcdv3 implements types.Client on top of the etcd v3 API.
//
// etcd provides every primitive natively:
//   - GrantLease: Lease.Grant
//   - ConditionalCreate: Txn If(CreateRevision(key) == 0) Then(Put(key, WithLease))
//   - KeepAlive: Lease.KeepAliveOnce
//   - Revoke: Lease.Revoke, which deletes every key attached to the lease
//   - WatchForDelete: Get followed by Watch from the next revision
package etcdv3

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"go.etcd.io/etcd/api/v3/v3rpc/rpctypes"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/arloliu/leasing/types"
)

// Config configures an etcd lease client.
type Config struct {
	// Endpoints is a comma separated list of etcd endpoints.
	Endpoints string

	// DialTimeout bounds the initial connection.
	DialTimeout time.Duration

	// Username and Password enable etcd authentication when Username is set.
	Username string
	Password string
}

// Client is a types.Client backed by an etcd cluster.
type Client struct {
	cli    *clientv3.Client
	owned  bool
	logger types.Logger

	mu     sync.Mutex
	closed bool
}

// Compile-time assertion that Client implements types.Client.
var _ types.Client = (*Client)(nil)

// Dial connects to etcd and returns a client that owns the connection.
//
// Parameters:
//   - ctx: Parent context for the etcd client
//   - cfg: Endpoint and authentication settings
//   - logger: Logger for client events
//
// Returns:
//   - *Client: Ready client; Close releases the connection
//   - error: Configuration or connection error
func Dial(ctx context.Context, cfg Config, logger types.Logger) (*Client, error) {
	endpoints := splitEndpoints(cfg.Endpoints)
	if len(endpoints) == 0 {
		return nil, errors.New("at least one etcd endpoint is required")
	}

	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: cfg.DialTimeout,
		Username:    cfg.Username,
		Password:    cfg.Password,
		Context:     ctx,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrConnectivity, err)
	}

	logger.Debug("etcd client created", "endpoints", endpoints)

	c := New(cli, logger)
	c.owned = true

	return c, nil
}

// New wraps an existing etcd client. The caller keeps ownership of cli.
func New(cli *clientv3.Client, logger types.Logger) *Client {
	return &Client{cli: cli, logger: logger}
}

// GrantLease grants a lease rounded up to whole seconds.
func (c *Client) GrantLease(ctx context.Context, ttl time.Duration) (types.LeaseID, error) {
	if err := c.check(); err != nil {
		return types.NoLease, err
	}

	resp, err := c.cli.Grant(ctx, ttlSeconds(ttl))
	if err != nil {
		return types.NoLease, fmt.Errorf("grant lease: %w", err)
	}

	return types.LeaseID(resp.ID), nil
}

// ConditionalCreate puts key bound to lease in a transaction guarded by
// CreateRevision == 0, so it only succeeds when the key is absent.
func (c *Client) ConditionalCreate(ctx context.Context, key, value string, lease types.LeaseID) (bool, error) {
	if err := c.check(); err != nil {
		return false, err
	}

	resp, err := c.cli.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
		Then(clientv3.OpPut(key, value, clientv3.WithLease(clientv3.LeaseID(lease)))).
		Commit()
	if err != nil {
		return false, mapLeaseError(fmt.Sprintf("create election key %q", key), err)
	}

	return resp.Succeeded, nil
}

// KeepAlive renews lease once.
func (c *Client) KeepAlive(ctx context.Context, lease types.LeaseID) error {
	if err := c.check(); err != nil {
		return err
	}

	resp, err := c.cli.KeepAliveOnce(ctx, clientv3.LeaseID(lease))
	if err != nil {
		return mapLeaseError(fmt.Sprintf("keep-alive lease %x", int64(lease)), err)
	}
	if resp.TTL <= 0 {
		return fmt.Errorf("lease %x: %w", int64(lease), types.ErrLeaseNotFound)
	}

	return nil
}

// Revoke revokes lease. An unknown lease is not an error.
func (c *Client) Revoke(ctx context.Context, lease types.LeaseID) error {
	if err := c.check(); err != nil {
		return err
	}

	_, err := c.cli.Revoke(ctx, clientv3.LeaseID(lease))
	if err != nil && !errors.Is(err, rpctypes.ErrLeaseNotFound) {
		return fmt.Errorf("revoke lease %x: %w", int64(lease), err)
	}

	return nil
}

// WatchForDelete reads key and watches it from the next revision.
//
// Reading first closes the window where the key could be deleted between the
// failed create and the watch being established.
func (c *Client) WatchForDelete(ctx context.Context, key string) (types.Watch, error) {
	if err := c.check(); err != nil {
		return nil, err
	}

	resp, err := c.cli.Get(ctx, key, clientv3.WithCountOnly())
	if err != nil {
		return nil, fmt.Errorf("read election key %q: %w", key, err)
	}
	if resp.Count == 0 {
		return resolvedWatch(), nil
	}

	watchCtx, cancel := context.WithCancel(clientv3.WithRequireLeader(ctx))
	ch := c.cli.Watch(watchCtx, key, clientv3.WithRev(resp.Header.Revision+1))

	return newDeleteWatch(ch, cancel), nil
}

// Close closes the etcd connection if Dial created it.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if !c.owned {
		return nil
	}
	if err := c.cli.Close(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("failed to close etcd client: %w", err)
	}

	return nil
}

func (c *Client) check() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return types.ErrClientClosed
	}

	return nil
}

func mapLeaseError(op string, err error) error {
	if errors.Is(err, rpctypes.ErrLeaseNotFound) {
		return fmt.Errorf("%s: %w", op, types.ErrLeaseNotFound)
	}

	return fmt.Errorf("%s: %w", op, err)
}

// ttlSeconds converts ttl to whole seconds, rounding up and never below 1.
func ttlSeconds(ttl time.Duration) int64 {
	secs := int64(math.Ceil(ttl.Seconds()))
	if secs < 1 {
		return 1
	}

	return secs
}

func splitEndpoints(s string) []string {
	parts := strings.Split(s, ",")
	endpoints := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			endpoints = append(endpoints, p)
		}
	}

	return endpoints
}
