package testing

import (
	"slices"
	"sync"
)

// LeadershipSubscriber is the subset of Manager used by LeadershipRecorder.
type LeadershipSubscriber interface {
	Subscribe(onBecameLeader, onLostLeadership func()) func()
}

// LeadershipRecorder follows the leadership callbacks of several replicas and
// records how many of them considered themselves leader at the same time.
//
// Leadership callbacks fire before a replica stops renewing and before its key
// is released, so for graceful handovers and renewal failures MaxConcurrent
// never exceeds one. A leader cut off from the coordination service keeps
// believing it leads until its next renewal fails; tests of that case should
// not assert on MaxConcurrent.
type LeadershipRecorder struct {
	mu        sync.Mutex
	leaders   map[string]struct{}
	max       int
	elections []string
}

// NewLeadershipRecorder creates an empty recorder.
func NewLeadershipRecorder() *LeadershipRecorder {
	return &LeadershipRecorder{leaders: make(map[string]struct{})}
}

// Track subscribes to s under name and returns the unsubscribe function.
func (r *LeadershipRecorder) Track(name string, s LeadershipSubscriber) func() {
	return s.Subscribe(
		func() {
			r.mu.Lock()
			defer r.mu.Unlock()

			r.leaders[name] = struct{}{}
			r.max = max(r.max, len(r.leaders))
			r.elections = append(r.elections, name)
		},
		func() {
			r.mu.Lock()
			delete(r.leaders, name)
			r.mu.Unlock()
		},
	)
}

// Leaders returns the names currently holding leadership, sorted.
func (r *LeadershipRecorder) Leaders() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.leaders))
	for name := range r.leaders {
		names = append(names, name)
	}
	slices.Sort(names)

	return names
}

// MaxConcurrent returns the largest number of simultaneous leaders observed.
func (r *LeadershipRecorder) MaxConcurrent() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.max
}

// Elections returns the names that became leader, in order.
func (r *LeadershipRecorder) Elections() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return slices.Clone(r.elections)
}
