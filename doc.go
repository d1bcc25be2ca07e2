// Package leasing provides lease-based single-leader election on top of a
// strongly-consistent coordination service.
//
// Every replica of a service runs a Manager with the same election key. At
// most one replica holds the key at a time; the key is bound to a lease that
// the leader keeps alive, so a crashed leader's key disappears after one
// lease TTL and another replica takes over.
//
// Supported coordination services:
//   - NATS JetStream KV (Backend "nats"): the bucket TTL plays the lease
//   - etcd v3 (Backend "etcd"): native leases and transactions
//
// # Basic Usage
//
//	cfg := leasing.DefaultConfig()
//	cfg.Endpoint = "nats://127.0.0.1:4222"
//	cfg.ElectionKey = "/orders/leader"
//	cfg.Identity = "orders-7f9c"
//
//	mgr, err := leasing.NewManager(&cfg, leasing.WithLogger(logging.NewSlogDefault()))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	mgr.Subscribe(
//	    func() { log.Println("became leader") },
//	    func() { log.Println("lost leadership") },
//	)
//
//	if err := mgr.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer mgr.Stop(context.Background())
//
// # Lease States
//
//   - Unknown: no attempt has completed yet
//   - Leader: this replica created the key and keeps its lease alive
//   - Follower: another replica holds the key; this one waits for its release
//   - Lost: this replica was leader and its lease could no longer be renewed
//
// Subscribers are told about the two edges that matter: entering Leader and
// leaving it. Repeated assignment of the same state never notifies.
//
// # Failure Handling
//
// Coordination errors (timeouts, connection loss, watch failures) are logged,
// counted and retried after Config.RetryDelay. They are never returned from
// Start or Stop. Only connection setup in Start and abnormal termination of
// the election loop are reported as errors.
package leasing
