package election

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/leasing/internal/logging"
	"github.com/arloliu/leasing/internal/metrics"
	leasetest "github.com/arloliu/leasing/testing"
	"github.com/arloliu/leasing/types"
)

const testKey = "/svc/leader"

func testConfig(identity string) Config {
	return Config{
		Key:           testKey,
		Identity:      identity,
		LeaseTTL:      500 * time.Millisecond,
		RetryDelay:    50 * time.Millisecond,
		RenewInterval: 25 * time.Millisecond,
		ReleaseOnStop: true,
	}
}

// observer counts leadership callbacks.
type observer struct {
	became atomic.Int32
	lost   atomic.Int32
}

func newEngine(t *testing.T, cfg Config, h *types.Hooks) (*Engine, *observer) {
	t.Helper()

	n := NewNotifier(logging.NewTest(t), metrics.NewNop())
	e, err := New(cfg, n, logging.NewTest(t), metrics.NewNop(), h)
	require.NoError(t, err)

	obs := &observer{}
	n.Subscribe(func() { obs.became.Add(1) }, func() { obs.lost.Add(1) })

	return e, obs
}

// runEngine starts e.Run in the background and returns a stop function that
// cancels it and returns Run's error.
func runEngine(t *testing.T, e *Engine, client types.Client) func() error {
	t.Helper()

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx, client) }()

	var once sync.Once
	var runErr error
	stop := func() error {
		once.Do(func() {
			cancel()
			select {
			case runErr = <-done:
			case <-time.After(5 * time.Second):
				t.Fatal("Run did not return after cancel")
			}
		})

		return runErr
	}
	t.Cleanup(func() { _ = stop() })

	return stop
}

func requireState(t *testing.T, e *Engine, want types.LeaseState) {
	t.Helper()
	require.Eventually(t, func() bool { return e.State() == want }, 3*time.Second, 5*time.Millisecond,
		"expected state %s, got %s", want, e.State())
}

func TestConfig_Validate(t *testing.T) {
	n := NewNotifier(logging.NewNop(), metrics.NewNop())

	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"zero TTL", func(c *Config) { c.LeaseTTL = 0 }},
		{"negative TTL", func(c *Config) { c.LeaseTTL = -time.Second }},
		{"negative retry delay", func(c *Config) { c.RetryDelay = -time.Millisecond }},
		{"renew interval not below TTL", func(c *Config) { c.RenewInterval = c.LeaseTTL }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig("pod-1")
			tt.modify(&cfg)

			_, err := New(cfg, n, logging.NewNop(), metrics.NewNop(), nil)
			require.ErrorIs(t, err, types.ErrInvalidConfig)
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	cfg := testConfig("pod-1")
	cfg.RenewInterval = 0
	cfg.RetryDelay = 0

	e, err := New(cfg, NewNotifier(logging.NewNop(), metrics.NewNop()), logging.NewNop(), metrics.NewNop(), nil)
	require.NoError(t, err)
	require.Equal(t, cfg.LeaseTTL/2, e.cfg.RenewInterval)
	require.Equal(t, defaultOperationTimeout, e.cfg.OperationTimeout)
	require.Equal(t, types.StateUnknown, e.State())
}

func TestEngine_SetState_Notifications(t *testing.T) {
	all := []types.LeaseState{types.StateUnknown, types.StateLeader, types.StateFollower, types.StateLost}

	for _, from := range all {
		for _, to := range all {
			t.Run(from.String()+"->"+to.String(), func(t *testing.T) {
				e, obs := newEngine(t, testConfig("pod-1"), nil)
				e.SetState(from)
				obs.became.Store(0)
				obs.lost.Store(0)

				changed := e.SetState(to)

				require.Equal(t, from != to, changed)
				require.Equal(t, to, e.State())

				wantBecame := from != types.StateLeader && to == types.StateLeader
				wantLost := from == types.StateLeader && to != types.StateLeader
				require.Equal(t, wantBecame, obs.became.Load() == 1)
				require.Equal(t, wantLost, obs.lost.Load() == 1)
			})
		}
	}
}

func TestEngine_SetState_Idempotent(t *testing.T) {
	e, obs := newEngine(t, testConfig("pod-1"), nil)

	require.True(t, e.SetState(types.StateLeader))
	require.False(t, e.SetState(types.StateLeader))
	require.False(t, e.SetState(types.StateLeader))
	require.Equal(t, int32(1), obs.became.Load())

	require.True(t, e.SetState(types.StateLost))
	require.False(t, e.SetState(types.StateLost))
	require.Equal(t, int32(1), obs.lost.Load())
}

func TestEngine_SetState_Concurrent(t *testing.T) {
	e, obs := newEngine(t, testConfig("pod-1"), nil)

	var wg sync.WaitGroup
	for i := range 200 {
		to := types.StateLeader
		if i%2 == 1 {
			to = types.StateFollower
		}
		wg.Go(func() { e.SetState(to) })
	}
	wg.Wait()

	// Every became-leader must be matched by a lost-leadership except possibly the last.
	became, lost := obs.became.Load(), obs.lost.Load()
	if e.State() == types.StateLeader {
		require.Equal(t, lost+1, became)
	} else {
		require.Equal(t, lost, became)
	}
}

func TestEngine_WinsFreeKey(t *testing.T) {
	store := leasetest.NewMemoryStore()
	e, obs := newEngine(t, testConfig("pod-1"), nil)

	stop := runEngine(t, e, store.Client())

	requireState(t, e, types.StateLeader)
	require.Equal(t, int32(1), obs.became.Load())

	value, ok := store.Value(testKey)
	require.True(t, ok)
	require.Equal(t, "pod-1", value)

	// The lease outlives several TTLs while renewed.
	time.Sleep(3 * testConfig("pod-1").LeaseTTL)
	require.Equal(t, types.StateLeader, e.State())
	require.Equal(t, 1, store.CreateCalls(), "a leader does not contend again")

	require.NoError(t, stop())
	require.Equal(t, types.StateLost, e.State())
	require.Equal(t, int32(1), obs.lost.Load())
}

func TestEngine_PreExistingKeyYieldsFollower(t *testing.T) {
	store := leasetest.NewMemoryStore()
	store.Put(testKey, "someone-else")
	e, obs := newEngine(t, testConfig("pod-1"), nil)

	runEngine(t, e, store.Client())

	requireState(t, e, types.StateFollower)
	require.Eventually(t, func() bool { return store.ActiveWatches() == 1 }, time.Second, 5*time.Millisecond)
	require.Zero(t, obs.became.Load())

	value, _ := store.Value(testKey)
	require.Equal(t, "someone-else", value)
}

func TestEngine_ConcurrentContendersNeverBothWin(t *testing.T) {
	store := leasetest.NewMemoryStore()

	var leaders, maxLeaders atomic.Int32
	track := func() {
		n := leaders.Add(1)
		for {
			cur := maxLeaders.Load()
			if n <= cur || maxLeaders.CompareAndSwap(cur, n) {
				return
			}
		}
	}

	engines := make([]*Engine, 0, 3)
	for _, id := range []string{"pod-1", "pod-2", "pod-3"} {
		n := NewNotifier(logging.NewTest(t), metrics.NewNop())
		n.Subscribe(track, func() { leaders.Add(-1) })

		e, err := New(testConfig(id), n, logging.NewTest(t), metrics.NewNop(), nil)
		require.NoError(t, err)
		engines = append(engines, e)
		runEngine(t, e, store.Client())
	}

	require.Eventually(t, func() bool { return leaders.Load() == 1 }, 3*time.Second, 5*time.Millisecond)

	var leaderCount, followerCount int
	for _, e := range engines {
		switch e.State() {
		case types.StateLeader:
			leaderCount++
		case types.StateFollower:
			followerCount++
		}
	}
	require.Equal(t, 1, leaderCount)
	require.Equal(t, 2, followerCount)
	require.Equal(t, int32(1), maxLeaders.Load())
}

func TestEngine_KeepAliveFailureLosesLeadership(t *testing.T) {
	store := leasetest.NewMemoryStore()
	cfg := testConfig("pod-1")

	var lostAt atomic.Int64
	var heldAtLost atomic.Bool
	n := NewNotifier(logging.NewTest(t), metrics.NewNop())
	e, err := New(cfg, n, logging.NewTest(t), metrics.NewNop(), nil)
	require.NoError(t, err)

	obs := &observer{}
	n.Subscribe(func() { obs.became.Add(1) }, func() {
		obs.lost.Add(1)
		lostAt.Store(time.Now().UnixNano())
		_, held := store.Value(cfg.Key)
		heldAtLost.Store(held)
		store.FailKeepAlive(nil)
	})

	runEngine(t, e, store.Client())
	requireState(t, e, types.StateLeader)

	store.FailKeepAlive(errors.New("connection reset"))

	require.Eventually(t, func() bool { return obs.lost.Load() == 1 }, 2*time.Second, time.Millisecond)
	require.True(t, heldAtLost.Load(), "subscribers hear about the loss before the key is released")

	// The next attempt runs within one retry delay of losing leadership.
	require.Eventually(t, func() bool { return obs.became.Load() == 2 }, 2*time.Second, time.Millisecond)
	elapsed := time.Since(time.Unix(0, lostAt.Load()))
	require.Less(t, elapsed, cfg.RetryDelay+500*time.Millisecond)
	require.Equal(t, int32(1), obs.lost.Load())
	require.Equal(t, types.StateLeader, e.State())
}

func TestEngine_LeaseExpiryLosesLeadership(t *testing.T) {
	store := leasetest.NewMemoryStore()
	e, obs := newEngine(t, testConfig("pod-1"), nil)

	runEngine(t, e, store.Client())
	requireState(t, e, types.StateLeader)

	store.ExpireLeases()

	require.Eventually(t, func() bool { return obs.lost.Load() >= 1 }, 2*time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return obs.became.Load() >= 2 }, 2*time.Second, time.Millisecond)
}

func TestEngine_DeleteWhileFollowerRetriesImmediately(t *testing.T) {
	store := leasetest.NewMemoryStore()
	store.Put(testKey, "someone-else")

	cfg := testConfig("pod-1")
	cfg.RetryDelay = time.Hour
	e, obs := newEngine(t, cfg, nil)

	runEngine(t, e, store.Client())
	requireState(t, e, types.StateFollower)
	require.Eventually(t, func() bool { return store.ActiveWatches() == 1 }, time.Second, 5*time.Millisecond)

	require.True(t, store.DeleteKey(testKey))

	requireState(t, e, types.StateLeader)
	require.Equal(t, int32(1), obs.became.Load())
	require.Equal(t, 2, store.CreateCalls())
}

func TestEngine_MissedDeleteRecontendsWithinLeaseTTL(t *testing.T) {
	store := leasetest.NewMemoryStore()
	store.Put(testKey, "someone-else")

	cfg := testConfig("pod-1")
	e, obs := newEngine(t, cfg, nil)

	runEngine(t, e, store.Client())
	requireState(t, e, types.StateFollower)
	require.Eventually(t, func() bool { return store.ActiveWatches() == 1 }, time.Second, 5*time.Millisecond)

	// The key vanishes without a delete event reaching the watch.
	droppedAt := time.Now()
	require.True(t, store.DropKey(testKey))

	requireState(t, e, types.StateLeader)
	require.Less(t, time.Since(droppedAt), cfg.LeaseTTL+500*time.Millisecond)
	require.Equal(t, int32(1), obs.became.Load())
}

func TestEngine_WatchErrorWaitsRetryDelay(t *testing.T) {
	store := leasetest.NewMemoryStore()
	store.Put(testKey, "someone-else")

	var hookErrs atomic.Int32
	h := &types.Hooks{OnError: func(_ context.Context, _ error) error {
		hookErrs.Add(1)
		return nil
	}}

	cfg := testConfig("pod-1")
	cfg.RetryDelay = 200 * time.Millisecond
	cfg.LeaseTTL = time.Minute
	e, _ := newEngine(t, cfg, h)

	runEngine(t, e, store.Client())
	require.Eventually(t, func() bool { return store.ActiveWatches() == 1 }, time.Second, 5*time.Millisecond)

	brokenAt := time.Now()
	store.BreakWatches(errors.New("stream reset"))

	require.Eventually(t, func() bool { return store.CreateCalls() == 2 }, 2*time.Second, time.Millisecond)
	require.GreaterOrEqual(t, time.Since(brokenAt), cfg.RetryDelay)
	require.Eventually(t, func() bool { return hookErrs.Load() >= 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, types.StateFollower, e.State())
}

func TestEngine_ErrorsAreAbsorbed(t *testing.T) {
	store := leasetest.NewMemoryStore()
	store.FailGrant(errors.New("etcdserver: request timed out"))

	var hookErrs atomic.Int32
	h := &types.Hooks{OnError: func(_ context.Context, _ error) error {
		hookErrs.Add(1)
		return nil
	}}
	e, _ := newEngine(t, testConfig("pod-1"), h)

	stop := runEngine(t, e, store.Client())

	require.Eventually(t, func() bool { return hookErrs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, types.StateUnknown, e.State())

	store.FailGrant(nil)
	store.FailCreate(errors.New("no leader"))
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, types.StateUnknown, e.State())
	require.Eventually(t, func() bool { return store.ActiveLeases() == 0 }, time.Second, time.Millisecond,
		"leases of failed attempts are revoked")

	store.FailCreate(nil)
	requireState(t, e, types.StateLeader)
	require.NoError(t, stop())
}

func TestEngine_CancelDuringFollowerWait(t *testing.T) {
	store := leasetest.NewMemoryStore()
	store.Put(testKey, "someone-else")

	cfg := testConfig("pod-1")
	cfg.RetryDelay = time.Hour
	e, _ := newEngine(t, cfg, nil)

	stop := runEngine(t, e, store.Client())
	require.Eventually(t, func() bool { return store.ActiveWatches() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, stop())
	require.Zero(t, store.ActiveWatches())
	require.Zero(t, store.ActiveLeases())
	require.Equal(t, types.StateFollower, e.State())
}

func TestEngine_ReleaseOnStop(t *testing.T) {
	t.Run("enabled", func(t *testing.T) {
		store := leasetest.NewMemoryStore()
		e, _ := newEngine(t, testConfig("pod-1"), nil)

		stop := runEngine(t, e, store.Client())
		requireState(t, e, types.StateLeader)

		require.NoError(t, stop())
		_, held := store.Value(testKey)
		require.False(t, held)
		require.Zero(t, store.ActiveLeases())
	})

	t.Run("disabled", func(t *testing.T) {
		store := leasetest.NewMemoryStore()
		cfg := testConfig("pod-1")
		cfg.ReleaseOnStop = false
		cfg.LeaseTTL = time.Minute
		e, _ := newEngine(t, cfg, nil)

		stop := runEngine(t, e, store.Client())
		requireState(t, e, types.StateLeader)

		require.NoError(t, stop())
		value, held := store.Value(testKey)
		require.True(t, held, "key stays until the lease expires")
		require.Equal(t, "pod-1", value)
	})
}

func TestEngine_FailoverBetweenReplicas(t *testing.T) {
	store := leasetest.NewMemoryStore()
	e1, _ := newEngine(t, testConfig("pod-1"), nil)
	e2, obs2 := newEngine(t, testConfig("pod-2"), nil)

	stop1 := runEngine(t, e1, store.Client())
	requireState(t, e1, types.StateLeader)

	runEngine(t, e2, store.Client())
	requireState(t, e2, types.StateFollower)

	require.NoError(t, stop1())

	requireState(t, e2, types.StateLeader)
	require.Equal(t, int32(1), obs2.became.Load())
	value, _ := store.Value(testKey)
	require.Equal(t, "pod-2", value)
}

func TestEngine_StateHook(t *testing.T) {
	store := leasetest.NewMemoryStore()

	transitions := make(chan types.Transition, 8)
	h := &types.Hooks{OnStateChanged: func(_ context.Context, from, to types.LeaseState) error {
		transitions <- types.Transition{From: from, To: to}
		return nil
	}}
	e, _ := newEngine(t, testConfig("pod-1"), h)

	runEngine(t, e, store.Client())

	select {
	case tr := <-transitions:
		require.Equal(t, types.Transition{From: types.StateUnknown, To: types.StateLeader}, tr)
	case <-time.After(2 * time.Second):
		t.Fatal("state hook not called")
	}
}

type panickingClient struct {
	types.Client
}

func (panickingClient) GrantLease(context.Context, time.Duration) (types.LeaseID, error) {
	panic("corrupted client state")
}

func TestEngine_PanicIsReportedAsFault(t *testing.T) {
	store := leasetest.NewMemoryStore()
	e, _ := newEngine(t, testConfig("pod-1"), nil)

	err := e.Run(t.Context(), panickingClient{Client: store.Client()})
	require.ErrorIs(t, err, types.ErrEngineFault)
}

func TestEngine_SlowLeaderCallbackKeepsLeaseAlive(t *testing.T) {
	store := leasetest.NewMemoryStore()
	cfg := testConfig("pod-a")
	callbackDuration := 3 * cfg.LeaseTTL

	var callbackDone atomic.Bool
	n := NewNotifier(logging.NewTest(t), metrics.NewNop())
	n.Subscribe(func() {
		time.Sleep(callbackDuration)
		callbackDone.Store(true)
	}, nil)

	a, err := New(cfg, n, logging.NewTest(t), metrics.NewNop(), nil)
	require.NoError(t, err)
	runEngine(t, a, store.Client())
	requireState(t, a, types.StateLeader)

	b, obsB := newEngine(t, testConfig("pod-b"), nil)
	runEngine(t, b, store.Client())
	requireState(t, b, types.StateFollower)

	// Keep-alives continue while the callback is still running.
	deadline := time.Now().Add(callbackDuration + 200*time.Millisecond)
	for time.Now().Before(deadline) {
		require.NotEqual(t, types.StateLeader, b.State(), "two replicas reported Leader at once")
		time.Sleep(5 * time.Millisecond)
	}

	require.True(t, callbackDone.Load())
	require.Equal(t, types.StateLeader, a.State())
	require.Zero(t, obsB.became.Load())

	value, _ := store.Value(testKey)
	require.Equal(t, "pod-a", value)
}

type keepAlivePanicClient struct {
	types.Client
}

func (keepAlivePanicClient) KeepAlive(context.Context, types.LeaseID) error {
	panic("nil keep-alive response")
}

func TestEngine_RenewalPanicIsReportedAsFault(t *testing.T) {
	store := leasetest.NewMemoryStore()
	e, obs := newEngine(t, testConfig("pod-1"), nil)

	err := e.Run(t.Context(), keepAlivePanicClient{Client: store.Client()})
	require.ErrorIs(t, err, types.ErrEngineFault)

	require.Equal(t, types.StateLost, e.State())
	require.Equal(t, int32(1), obs.became.Load())
	require.Equal(t, int32(1), obs.lost.Load())

	_, held := store.Value(testKey)
	require.False(t, held, "the held lease is released on the way out")
}
