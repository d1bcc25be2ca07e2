// Package election implements lease-based single-leader election.
//
// An Engine contends for one election key on a coordination service
// (types.Client) and tracks the local LeaseState:
//
//	Unknown ──win──▶ Leader ──keep-alive fails / cancel──▶ Lost
//	   │                ▲                                  │
//	   └──key held──▶ Follower ◀──────────key held─────────┘
//
// # Attempt
//
// Each attempt grants a fresh lease and tries one atomic create-if-absent of
// the key bound to that lease:
//   - Created: a renewal goroutine starts calling KeepAlive every
//     RenewInterval (TTL/2 by default), then the engine becomes Leader. The
//     attempt does not return while the renewal runs. The first failed
//     keep-alive, or cancellation, moves the engine to Lost.
//   - Key held: the engine becomes Follower and watches the key. A delete
//     (release or expiry) triggers the next attempt immediately; a watch
//     failure waits RetryDelay. Without either, the engine re-contends after
//     max(RetryDelay, LeaseTTL) in case the watch missed the delete.
//
// Coordination errors are logged, counted and reported through Hooks.OnError;
// they never stop the loop. Only context cancellation ends Run.
//
// # Notifications
//
// Notifier fans transitions out to callback subscribers (synchronously, in
// subscription order) and to channel subscribers (non-blocking). Callbacks
// fire at most once per transition:
//   - onBecameLeader: any non-Leader state to Leader
//   - onLostLeadership: Leader to any other state
//
// Callbacks run while the transition lock is held, so they must not block
// on the engine (for example by stopping it synchronously). Keep-alives do not
// take that lock; a slow callback delays later notifications, not renewal.
package election
