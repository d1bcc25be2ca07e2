package testing

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/leasing/types"
)

type fakeReader struct {
	state atomic.Int32
}

func (f *fakeReader) State() types.LeaseState { return types.LeaseState(f.state.Load()) }

func (f *fakeReader) set(s types.LeaseState) { f.state.Store(int32(s)) }

type fakeSubscriber struct {
	onBecame, onLost func()
}

func (f *fakeSubscriber) Subscribe(onBecameLeader, onLostLeadership func()) func() {
	f.onBecame, f.onLost = onBecameLeader, onLostLeadership
	return func() {}
}

func TestWaitState(t *testing.T) {
	r := &fakeReader{}

	time.AfterFunc(20*time.Millisecond, func() { r.set(types.StateLeader) })
	require.NoError(t, WaitState(t.Context(), r, types.StateLeader, time.Second))

	err := WaitState(t.Context(), r, types.StateFollower, 30*time.Millisecond)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Contains(t, err.Error(), "want Follower")

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	require.ErrorIs(t, WaitState(ctx, r, types.StateFollower, time.Second), context.Canceled)
}

func TestWaitAnyState(t *testing.T) {
	readers := []*fakeReader{{}, {}, {}}
	time.AfterFunc(20*time.Millisecond, func() { readers[2].set(types.StateLeader) })

	idx, err := WaitAnyState(t.Context(), []StateReader{readers[0], readers[1], readers[2]}, types.StateLeader, time.Second)
	require.NoError(t, err)
	require.Equal(t, 2, idx)

	idx, err = WaitAnyState(t.Context(), []StateReader{readers[0], readers[1]}, types.StateLeader, 30*time.Millisecond)
	require.Error(t, err)
	require.Equal(t, -1, idx)

	_, err = WaitAnyState(t.Context(), nil, types.StateLeader, time.Second)
	require.Error(t, err)
}

func TestWaitAllStates(t *testing.T) {
	a, b := &fakeReader{}, &fakeReader{}
	a.set(types.StateFollower)
	time.AfterFunc(20*time.Millisecond, func() { b.set(types.StateFollower) })

	require.NoError(t, WaitAllStates(t.Context(), []StateReader{a, b}, types.StateFollower, time.Second))

	err := WaitAllStates(t.Context(), []StateReader{a, b}, types.StateLeader, 30*time.Millisecond)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, WaitAllStates(t.Context(), nil, types.StateLeader, time.Second))
}

func TestLeadershipRecorder(t *testing.T) {
	rec := NewLeadershipRecorder()
	pod1, pod2 := &fakeSubscriber{}, &fakeSubscriber{}
	rec.Track("pod-1", pod1)
	rec.Track("pod-2", pod2)

	pod1.onBecame()
	require.Equal(t, []string{"pod-1"}, rec.Leaders())

	pod1.onLost()
	pod2.onBecame()
	require.Equal(t, []string{"pod-2"}, rec.Leaders())
	require.Equal(t, 1, rec.MaxConcurrent())

	pod1.onBecame()
	require.Equal(t, []string{"pod-1", "pod-2"}, rec.Leaders())
	require.Equal(t, 2, rec.MaxConcurrent())
	require.Equal(t, []string{"pod-1", "pod-2", "pod-1"}, rec.Elections())
}
