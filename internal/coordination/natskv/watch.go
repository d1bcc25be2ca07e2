package natskv

import (
	"sync"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/leasing/types"
)

// keyWatch adapts a jetstream.KeyWatcher to types.Watch.
//
// The watcher delivers the current value first, then a nil entry marking the
// end of initial values, then live updates. A nil entry with no live value
// before it means the key is already absent, which resolves the watch at once
// and closes the gap between a failed Create and the watch subscription.
type keyWatch struct {
	watcher jetstream.KeyWatcher

	done    chan struct{}
	err     error
	resolve sync.Once

	stopCh   chan struct{}
	stopOnce sync.Once
	stopErr  error
	exited   chan struct{}
}

var _ types.Watch = (*keyWatch)(nil)

func newKeyWatch(watcher jetstream.KeyWatcher) *keyWatch {
	w := &keyWatch{
		watcher: watcher,
		done:    make(chan struct{}),
		stopCh:  make(chan struct{}),
		exited:  make(chan struct{}),
	}
	go w.run()

	return w
}

func (w *keyWatch) run() {
	defer close(w.exited)

	live := false
	for {
		select {
		case <-w.stopCh:
			w.finish(types.ErrWatchClosed)
			return
		case entry, ok := <-w.watcher.Updates():
			if !ok {
				w.finish(types.ErrWatchClosed)
				return
			}
			if entry == nil {
				if !live {
					w.finish(nil)
					return
				}

				continue
			}

			switch entry.Operation() {
			case jetstream.KeyValueDelete, jetstream.KeyValuePurge:
				w.finish(nil)
				return
			default:
				live = true
			}
		}
	}
}

func (w *keyWatch) finish(err error) {
	w.resolve.Do(func() {
		w.err = err
		close(w.done)
	})
}

// Done returns a channel closed once the key is gone or the watch failed.
func (w *keyWatch) Done() <-chan struct{} {
	return w.done
}

// Err returns nil after a delete, or the reason the watch ended.
func (w *keyWatch) Err() error {
	select {
	case <-w.done:
		return w.err
	default:
		return nil
	}
}

// Stop unsubscribes the watcher and waits for the reader goroutine to exit.
func (w *keyWatch) Stop() error {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.stopErr = w.watcher.Stop()
		<-w.exited
	})

	return w.stopErr
}
