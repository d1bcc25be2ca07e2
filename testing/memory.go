package testing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/arloliu/leasing/types"
)

// MemoryStore is an in-memory coordination service for tests.
//
// It offers the same guarantees the election engine relies on from etcd or
// NATS KV: atomic create-if-absent, lease expiry after TTL without keep-alive,
// and delete notifications to watchers. Failures can be injected per operation.
//
// All methods are safe for concurrent use.
type MemoryStore struct {
	mu        sync.Mutex
	nextLease int64
	leases    map[types.LeaseID]*memLease
	keys      map[string]*memKey
	watches   map[*memWatch]struct{}

	failGrant     error
	failCreate    error
	failKeepAlive error
	failWatch     error

	createCalls  int
	openClients  int
	totalClients int
}

type memLease struct {
	ttl   time.Duration
	timer *time.Timer
	keys  map[string]struct{}
}

type memKey struct {
	value string
	lease types.LeaseID
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		leases:  make(map[types.LeaseID]*memLease),
		keys:    make(map[string]*memKey),
		watches: make(map[*memWatch]struct{}),
	}
}

// Client returns a new client connected to the store.
func (s *MemoryStore) Client() types.Client {
	s.mu.Lock()
	s.openClients++
	s.totalClients++
	s.mu.Unlock()

	return &memClient{store: s}
}

// FailGrant makes every GrantLease return err. A nil err clears the failure.
func (s *MemoryStore) FailGrant(err error) {
	s.mu.Lock()
	s.failGrant = err
	s.mu.Unlock()
}

// FailCreate makes every ConditionalCreate return err. A nil err clears the failure.
func (s *MemoryStore) FailCreate(err error) {
	s.mu.Lock()
	s.failCreate = err
	s.mu.Unlock()
}

// FailKeepAlive makes every KeepAlive return err without renewing the lease.
// A nil err clears the failure.
func (s *MemoryStore) FailKeepAlive(err error) {
	s.mu.Lock()
	s.failKeepAlive = err
	s.mu.Unlock()
}

// FailWatch makes every WatchForDelete return err. A nil err clears the failure.
func (s *MemoryStore) FailWatch(err error) {
	s.mu.Lock()
	s.failWatch = err
	s.mu.Unlock()
}

// BreakWatches resolves every active watch with err, as if the subscription
// had failed on the server side.
func (s *MemoryStore) BreakWatches(err error) {
	s.mu.Lock()
	broken := make([]*memWatch, 0, len(s.watches))
	for w := range s.watches {
		broken = append(broken, w)
		delete(s.watches, w)
	}
	s.mu.Unlock()

	for _, w := range broken {
		w.finish(err)
	}
}

// Put writes key without a lease, so it never expires. Existing values are overwritten.
func (s *MemoryStore) Put(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.keys[key]; ok && cur.lease != types.NoLease {
		if l := s.leases[cur.lease]; l != nil {
			delete(l.keys, key)
		}
	}
	s.keys[key] = &memKey{value: value}
}

// DeleteKey removes key and notifies its watchers. It reports whether the key existed.
func (s *MemoryStore) DeleteKey(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.keys[key]
	if !ok {
		return false
	}
	if l := s.leases[cur.lease]; l != nil {
		delete(l.keys, key)
	}
	s.deleteKeyLocked(key)

	return true
}

// DropKey removes key without notifying its watchers, as if the delete event
// was lost in transit. It reports whether the key existed.
func (s *MemoryStore) DropKey(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.keys[key]
	if !ok {
		return false
	}
	if l := s.leases[cur.lease]; l != nil {
		delete(l.keys, key)
	}
	delete(s.keys, key)

	return true
}

// ExpireLeases expires every lease immediately, deleting all bound keys.
func (s *MemoryStore) ExpireLeases() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range s.leases {
		s.dropLeaseLocked(id)
	}
}

// Value returns the current value of key.
func (s *MemoryStore) Value(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.keys[key]
	if !ok {
		return "", false
	}

	return k.value, true
}

// ActiveWatches returns the number of watches that are neither resolved nor stopped.
func (s *MemoryStore) ActiveWatches() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.watches)
}

// ActiveLeases returns the number of granted leases that have not expired or been revoked.
func (s *MemoryStore) ActiveLeases() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.leases)
}

// CreateCalls returns how many ConditionalCreate calls reached the store.
func (s *MemoryStore) CreateCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.createCalls
}

// OpenClients returns the number of clients that have not been closed.
func (s *MemoryStore) OpenClients() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.openClients
}

// TotalClients returns the number of clients ever created.
func (s *MemoryStore) TotalClients() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.totalClients
}

func (s *MemoryStore) grant(ttl time.Duration) (types.LeaseID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failGrant != nil {
		return types.NoLease, s.failGrant
	}
	if ttl <= 0 {
		return types.NoLease, fmt.Errorf("lease TTL must be > 0, got %v", ttl)
	}

	s.nextLease++
	id := types.LeaseID(s.nextLease)
	l := &memLease{ttl: ttl, keys: make(map[string]struct{})}
	l.timer = time.AfterFunc(ttl, func() { s.expire(id, l) })
	s.leases[id] = l

	return id, nil
}

func (s *MemoryStore) expire(id types.LeaseID, l *memLease) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// A stale timer must not drop a lease that was revoked and re-granted.
	if s.leases[id] != l {
		return
	}
	s.dropLeaseLocked(id)
}

func (s *MemoryStore) create(key, value string, lease types.LeaseID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.createCalls++
	if s.failCreate != nil {
		return false, s.failCreate
	}

	l, ok := s.leases[lease]
	if !ok {
		return false, fmt.Errorf("lease %d: %w", lease, types.ErrLeaseNotFound)
	}
	if _, exists := s.keys[key]; exists {
		return false, nil
	}

	s.keys[key] = &memKey{value: value, lease: lease}
	l.keys[key] = struct{}{}

	return true, nil
}

func (s *MemoryStore) keepAlive(lease types.LeaseID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failKeepAlive != nil {
		return s.failKeepAlive
	}

	l, ok := s.leases[lease]
	if !ok {
		return fmt.Errorf("lease %d: %w", lease, types.ErrLeaseNotFound)
	}
	l.timer.Reset(l.ttl)

	return nil
}

func (s *MemoryStore) revoke(lease types.LeaseID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dropLeaseLocked(lease)
}

func (s *MemoryStore) watch(ctx context.Context, key string) (types.Watch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failWatch != nil {
		return nil, s.failWatch
	}

	w := &memWatch{store: s, done: make(chan struct{})}
	if _, exists := s.keys[key]; !exists {
		w.finish(nil)
		return w, nil
	}

	w.key = key
	s.watches[w] = struct{}{}
	w.stopCtx = context.AfterFunc(ctx, func() {
		if s.removeWatch(w) {
			w.finish(ctx.Err())
		}
	})

	return w, nil
}

func (s *MemoryStore) removeWatch(w *memWatch) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.watches[w]; !ok {
		return false
	}
	delete(s.watches, w)

	return true
}

func (s *MemoryStore) dropLeaseLocked(id types.LeaseID) {
	l, ok := s.leases[id]
	if !ok {
		return
	}
	l.timer.Stop()
	delete(s.leases, id)

	for key := range l.keys {
		s.deleteKeyLocked(key)
	}
}

func (s *MemoryStore) deleteKeyLocked(key string) {
	delete(s.keys, key)

	for w := range s.watches {
		if w.key == key {
			delete(s.watches, w)
			w.finish(nil)
		}
	}
}

func (s *MemoryStore) closeClient() {
	s.mu.Lock()
	s.openClients--
	s.mu.Unlock()
}

// memClient is a types.Client view of a MemoryStore.
type memClient struct {
	store *MemoryStore

	mu     sync.Mutex
	closed bool
}

var _ types.Client = (*memClient)(nil)

func (c *memClient) GrantLease(ctx context.Context, ttl time.Duration) (types.LeaseID, error) {
	if err := c.check(ctx); err != nil {
		return types.NoLease, err
	}

	return c.store.grant(ttl)
}

func (c *memClient) ConditionalCreate(ctx context.Context, key, value string, lease types.LeaseID) (bool, error) {
	if err := c.check(ctx); err != nil {
		return false, err
	}

	return c.store.create(key, value, lease)
}

func (c *memClient) KeepAlive(ctx context.Context, lease types.LeaseID) error {
	if err := c.check(ctx); err != nil {
		return err
	}

	return c.store.keepAlive(lease)
}

func (c *memClient) Revoke(ctx context.Context, lease types.LeaseID) error {
	if err := c.check(ctx); err != nil {
		return err
	}
	c.store.revoke(lease)

	return nil
}

func (c *memClient) WatchForDelete(ctx context.Context, key string) (types.Watch, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}

	return c.store.watch(ctx, key)
}

func (c *memClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.store.closeClient()

	return nil
}

func (c *memClient) check(ctx context.Context) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return types.ErrClientClosed
	}

	return ctx.Err()
}

// memWatch is a pending delete subscription on a MemoryStore key.
type memWatch struct {
	store   *MemoryStore
	key     string
	stopCtx func() bool

	once sync.Once
	done chan struct{}
	err  error
}

func (w *memWatch) Done() <-chan struct{} { return w.done }

func (w *memWatch) Err() error {
	select {
	case <-w.done:
		return w.err
	default:
		return nil
	}
}

func (w *memWatch) Stop() error {
	if w.stopCtx != nil {
		w.stopCtx()
	}
	if w.store.removeWatch(w) {
		w.finish(types.ErrWatchClosed)
	}

	return nil
}

func (w *memWatch) finish(err error) {
	w.once.Do(func() {
		w.err = err
		close(w.done)
	})
}
