package testing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/arloliu/leasing/types"
)

// StateReader is the subset of Manager used by the wait helpers.
// This allows the helpers to work with both real managers and test doubles.
type StateReader interface {
	State() types.LeaseState
}

// statePollInterval is how often the wait helpers sample State.
const statePollInterval = 5 * time.Millisecond

// WaitState waits until r reports the expected state.
//
// Parameters:
//   - ctx: Context for cancellation
//   - r: Manager (or double) to watch
//   - expected: Target state
//   - timeout: Maximum time to wait
//
// Returns:
//   - error: nil once the state is reached, a timeout error or ctx.Err() otherwise
//
// Example:
//
//	err := leasetest.WaitState(ctx, mgr, types.StateLeader, 5*time.Second)
//	require.NoError(t, err)
func WaitState(ctx context.Context, r StateReader, expected types.LeaseState, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(statePollInterval)
	defer ticker.Stop()

	for {
		if r.State() == expected {
			return nil
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("state is %s, want %s after %v: %w", r.State(), expected, timeout, ctx.Err())
			}

			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// WaitAnyState waits for any reader to reach the expected state and returns
// its index.
//
// The function returns as soon as the first reader reaches the state. If none
// does within the timeout, a combined error is returned.
//
// Example:
//
//	idx, err := leasetest.WaitAnyState(ctx, []leasetest.StateReader{mgr1, mgr2, mgr3}, types.StateLeader, 10*time.Second)
//	require.NoError(t, err, "one replica should become leader")
func WaitAnyState(ctx context.Context, readers []StateReader, expected types.LeaseState, timeout time.Duration) (int, error) {
	if len(readers) == 0 {
		return -1, errors.New("no state readers provided")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		index int
		err   error
	}

	results := make(chan result, len(readers))
	for i, r := range readers {
		go func() {
			results <- result{index: i, err: WaitState(ctx, r, expected, timeout)}
		}()
	}

	errs := make([]error, 0, len(readers))
	for range readers {
		res := <-results
		if res.err == nil {
			return res.index, nil
		}
		errs = append(errs, fmt.Errorf("reader[%d]: %w", res.index, res.err))
	}

	return -1, fmt.Errorf("no reader reached state %s: %w", expected, errors.Join(errs...))
}

// WaitAllStates waits for every reader to reach the expected state, returning
// the first failure and abandoning the other waits.
func WaitAllStates(ctx context.Context, readers []StateReader, expected types.LeaseState, timeout time.Duration) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)

	for i, r := range readers {
		wg.Go(func() {
			if err := WaitState(ctx, r, expected, timeout); err != nil {
				errOnce.Do(func() {
					firstErr = fmt.Errorf("reader[%d] failed to reach state %s: %w", i, expected, err)
					cancel()
				})
			}
		})
	}
	wg.Wait()

	return firstErr
}
