package election

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/arloliu/leasing/types"
)

// transitionBufferSize lets a channel subscriber fall a few transitions behind
// (for example Leader -> Lost -> Follower -> Leader) before updates are dropped.
const transitionBufferSize = 8

// callbackSubscriber holds one observer pair registered with Subscribe.
type callbackSubscriber struct {
	onBecameLeader   func()
	onLostLeadership func()
}

// channelSubscriber is a helper for managing transition channel subscriptions.
type channelSubscriber struct {
	ch     chan types.Transition
	mu     sync.Mutex
	closed bool
}

// trySend delivers t without blocking. It reports false when the buffer is full.
func (s *channelSubscriber) trySend(t types.Transition) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}

	select {
	case s.ch <- t:
		return true
	default:
		return false
	}
}

func (s *channelSubscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// Notifier fans leadership transitions out to subscribers.
//
// It is safe for concurrent use. Notify itself is expected to be serialized by
// the caller (the Engine holds its transition lock while notifying).
type Notifier struct {
	logger  types.Logger
	metrics types.ElectionMetrics

	callbacks *xsync.Map[uint64, *callbackSubscriber]
	channels  *xsync.Map[uint64, *channelSubscriber]
	nextID    atomic.Uint64
}

// NewNotifier creates a notifier with no subscribers.
//
// Parameters:
//   - logger: Logger for callback panics
//   - metrics: Metrics collector for dropped channel deliveries
//
// Returns:
//   - *Notifier: Ready notifier
func NewNotifier(logger types.Logger, metrics types.ElectionMetrics) *Notifier {
	return &Notifier{
		logger:    logger,
		metrics:   metrics,
		callbacks: xsync.NewMap[uint64, *callbackSubscriber](),
		channels:  xsync.NewMap[uint64, *channelSubscriber](),
	}
}

// Subscribe registers a pair of leadership callbacks.
//
// Either callback may be nil. Callbacks are invoked synchronously on the
// goroutine performing the transition, in subscription order, and only for
// transitions that happen after Subscribe returns.
//
// Parameters:
//   - onBecameLeader: Called when the state changes to Leader
//   - onLostLeadership: Called when the state changes away from Leader
//
// Returns:
//   - func(): Unsubscribe function; safe to call more than once
func (n *Notifier) Subscribe(onBecameLeader, onLostLeadership func()) func() {
	id := n.nextID.Add(1)
	n.callbacks.Store(id, &callbackSubscriber{
		onBecameLeader:   onBecameLeader,
		onLostLeadership: onLostLeadership,
	})

	return func() {
		n.callbacks.Delete(id)
	}
}

// SubscribeTransitions returns a channel receiving every state transition.
//
// Sends never block: when the buffer is full the transition is dropped for
// that subscriber and counted in metrics.
//
// Returns:
//   - <-chan types.Transition: Channel that receives transitions
//   - func(): Unsubscribe function that also closes the channel
//
// Example:
//
//	ch, unsubscribe := n.SubscribeTransitions()
//	defer unsubscribe()
//	for t := range ch {
//	    fmt.Printf("%s -> %s\n", t.From, t.To)
//	}
func (n *Notifier) SubscribeTransitions() (<-chan types.Transition, func()) {
	id := n.nextID.Add(1)
	sub := &channelSubscriber{ch: make(chan types.Transition, transitionBufferSize)}
	n.channels.Store(id, sub)

	return sub.ch, func() {
		if s, ok := n.channels.LoadAndDelete(id); ok {
			s.close()
		}
	}
}

// Notify delivers t to every subscriber.
func (n *Notifier) Notify(t types.Transition) {
	n.channels.Range(func(_ uint64, sub *channelSubscriber) bool {
		if !sub.trySend(t) {
			n.metrics.RecordTransitionDropped()
			n.logger.Warn("transition dropped for slow subscriber", "from", t.From, "to", t.To)
		}

		return true
	})

	becameLeader, lostLeadership := t.BecameLeader(), t.LostLeadership()
	if !becameLeader && !lostLeadership {
		return
	}

	for _, sub := range n.orderedCallbacks() {
		if becameLeader {
			n.invoke("became_leader", sub.onBecameLeader)
		} else {
			n.invoke("lost_leadership", sub.onLostLeadership)
		}
	}
}

// Close closes every channel subscription. Callback subscribers are kept, and
// channels subscribed afterwards receive later transitions.
func (n *Notifier) Close() {
	n.channels.Range(func(id uint64, _ *channelSubscriber) bool {
		if s, ok := n.channels.LoadAndDelete(id); ok {
			s.close()
		}

		return true
	})
}

func (n *Notifier) orderedCallbacks() []*callbackSubscriber {
	ids := make([]uint64, 0, n.callbacks.Size())
	n.callbacks.Range(func(id uint64, _ *callbackSubscriber) bool {
		ids = append(ids, id)
		return true
	})
	slices.Sort(ids)

	subs := make([]*callbackSubscriber, 0, len(ids))
	for _, id := range ids {
		if sub, ok := n.callbacks.Load(id); ok {
			subs = append(subs, sub)
		}
	}

	return subs
}

// invoke runs fn, turning a panic into an error log so one observer cannot
// break delivery to the others.
func (n *Notifier) invoke(event string, fn func()) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("leadership callback panicked", "event", event, "panic", r)
		}
	}()

	fn()
}
