package types

import "context"

// Hooks defines callbacks for election lifecycle events.
//
// All hooks are optional and called asynchronously in background goroutines
// so a slow hook never delays the election loop. Hooks receive the run
// context, which is cancelled when the Manager stops.
//
// Hook execution behavior:
//   - Hooks run concurrently and may not complete before Stop() returns
//   - Ordering between two hook invocations is not guaranteed
//   - Hook errors are logged but don't affect the election
//
// For ordered, at-most-once leadership notifications use Manager.Subscribe instead.
type Hooks struct {
	// OnStateChanged is called after every LeaseState transition.
	OnStateChanged func(ctx context.Context, from, to LeaseState) error

	// OnError is called when a transient coordination error is absorbed by the loop.
	OnError func(ctx context.Context, err error) error
}
