package leasing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	leasetest "github.com/arloliu/leasing/testing"
)

func TestManager_NATSFailover(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping NATS integration test in short mode")
	}

	ns, _ := leasetest.StartEmbeddedNATS(t)

	newManager := func(identity string) *Manager {
		cfg := TestConfig(ns.ClientURL(), "/orders/leader", identity)
		cfg.NATS.Bucket = "failover"

		mgr, err := NewManager(&cfg, WithLogger(leasetest.NewTestLogger(t)))
		require.NoError(t, err)
		t.Cleanup(func() { _ = mgr.Stop(context.Background()) })

		return mgr
	}

	first := newManager("pod-1")
	require.NoError(t, first.Start(t.Context()))
	require.Eventually(t, first.IsLeader, 5*time.Second, 10*time.Millisecond)

	second := newManager("pod-2")
	require.NoError(t, second.Start(t.Context()))
	require.Eventually(t, func() bool { return second.State() == StateFollower }, 5*time.Second, 10*time.Millisecond)

	// Leadership is held across several renewals.
	time.Sleep(3 * first.cfg.RenewInterval)
	require.True(t, first.IsLeader())
	require.False(t, second.IsLeader())

	lost := make(chan struct{})
	first.Subscribe(nil, func() { close(lost) })

	require.NoError(t, first.Stop(t.Context()))
	<-lost

	// The revoked key wakes the follower without waiting for RetryDelay.
	require.Eventually(t, second.IsLeader, 5*time.Second, 10*time.Millisecond)
}

func TestManager_NATSExpiryTakeover(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping TTL expiry test in short mode")
	}

	ns, _ := leasetest.StartEmbeddedNATS(t)

	leaderCfg := TestConfig(ns.ClientURL(), "/orders/leader", "pod-1")
	leaderCfg.NATS.Bucket = "expiry"
	leaderCfg.ReleaseOnStop = false

	leader, err := NewManager(&leaderCfg, WithLogger(leasetest.NewTestLogger(t)))
	require.NoError(t, err)
	require.NoError(t, leader.Start(t.Context()))
	require.Eventually(t, leader.IsLeader, 5*time.Second, 10*time.Millisecond)

	followerCfg := TestConfig(ns.ClientURL(), "/orders/leader", "pod-2")
	followerCfg.NATS.Bucket = "expiry"

	follower, err := NewManager(&followerCfg, WithLogger(leasetest.NewTestLogger(t)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = follower.Stop(context.Background()) })
	require.NoError(t, follower.Start(t.Context()))
	require.Eventually(t, func() bool { return follower.State() == StateFollower }, 5*time.Second, 10*time.Millisecond)

	// Stopping without release leaves the key to expire with the bucket TTL.
	require.NoError(t, leader.Stop(t.Context()))

	require.Eventually(t, follower.IsLeader, 10*time.Second, 20*time.Millisecond)
}
