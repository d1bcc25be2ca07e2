package etcdv3

import (
	"context"
	"fmt"
	"sync"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/arloliu/leasing/types"
)

// deleteWatch resolves on the first delete event of an etcd watch channel.
type deleteWatch struct {
	cancel context.CancelFunc

	done    chan struct{}
	err     error
	resolve sync.Once
	exited  chan struct{}
}

func resolvedWatch() *deleteWatch {
	w := &deleteWatch{
		cancel: func() {},
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	w.finish(nil)
	close(w.exited)

	return w
}

func newDeleteWatch(ch clientv3.WatchChan, cancel context.CancelFunc) *deleteWatch {
	w := &deleteWatch{
		cancel: cancel,
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go w.run(ch)

	return w
}

func (w *deleteWatch) run(ch clientv3.WatchChan) {
	defer close(w.exited)

	for resp := range ch {
		if err := resp.Err(); err != nil {
			w.finish(fmt.Errorf("watch election key: %w", err))
			return
		}
		for _, ev := range resp.Events {
			if ev.Type == clientv3.EventTypeDelete {
				w.finish(nil)
				return
			}
		}
	}

	// Channel closed by cancel or client shutdown.
	w.finish(types.ErrWatchClosed)
}

func (w *deleteWatch) finish(err error) {
	w.resolve.Do(func() {
		w.err = err
		close(w.done)
	})
}

func (w *deleteWatch) Done() <-chan struct{} { return w.done }

func (w *deleteWatch) Err() error {
	select {
	case <-w.done:
		return w.err
	default:
		return nil
	}
}

// Stop cancels the server-side watch and waits for the reader goroutine.
func (w *deleteWatch) Stop() error {
	w.cancel()
	<-w.exited

	return nil
}
