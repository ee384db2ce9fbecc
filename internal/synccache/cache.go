// Package synccache keeps a locally readable copy of one pair's shared
// collection, fed by the store's change feed.
package synccache

import (
	"context"
	"slices"
	"sync"

	"github.com/rs/zerolog/log"
)

// State is the binding state of a cache
type State int

const (
	// Unbound holds no subscription and no data
	Unbound State = iota
	// Loading is bound and waiting for the first snapshot
	Loading
	// Live has received at least one snapshot for the current binding
	Live
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Live:
		return "live"
	default:
		return "unbound"
	}
}

// Source is a pair-scoped collection the cache can bind to
type Source[T any] interface {
	// Fetch reads the current result set once
	Fetch(ctx context.Context) ([]T, error)

	// Subscribe delivers the full result set to onChange after every change
	// until ctx is cancelled or the returned function is called.
	Subscribe(ctx context.Context, onChange func([]T), onError func(error)) (func(), error)
}

// Status is a point-in-time view of the cache
type Status[T any] struct {
	Data         []T
	State        State
	IsLoading    bool
	IsRefetching bool
	Err          error
}

// Cache holds the last snapshot of one (collection, pair) binding.
// Watch callbacks must not call Bind or Close.
type Cache[T any] struct {
	name string

	mu         sync.Mutex
	pairID     string
	src        Source[T]
	ctx        context.Context
	cancel     context.CancelFunc
	unsub      func()
	gen        uint64
	seq        uint64
	data       []T
	state      State
	refetching int
	err        error
	closed     bool

	notifyMu  sync.Mutex
	watchers  map[int]func(Status[T])
	nextWatch int
}

// New creates an unbound cache. name appears in log lines.
func New[T any](name string) *Cache[T] {
	return &Cache[T]{
		name:     name,
		watchers: make(map[int]func(Status[T])),
	}
}

// Bind points the cache at pairID. An empty pairID or nil source unbinds.
// Binding the current pairID again is a no-op. The previous subscription is
// cancelled before the new one starts.
func (c *Cache[T]) Bind(pairID string, src Source[T]) {
	if pairID == "" || src == nil {
		c.unbind(false)
		return
	}

	c.mu.Lock()
	if c.closed || (pairID == c.pairID && c.state != Unbound) {
		c.mu.Unlock()
		return
	}

	oldCancel, oldUnsub, gen := c.resetLocked(pairID, src)
	ctx, cancel := context.WithCancel(context.Background())
	c.ctx = ctx
	c.cancel = cancel
	c.state = Loading
	c.mu.Unlock()

	stop(oldCancel, oldUnsub)
	c.notify()

	unsub, err := src.Subscribe(ctx,
		func(items []T) { c.applyFeed(gen, items) },
		func(err error) { c.applyError(gen, err) },
	)

	c.mu.Lock()
	if c.gen != gen || c.closed {
		c.mu.Unlock()
		if unsub != nil {
			unsub()
		}
		return
	}
	if err != nil {
		c.err = err
	} else {
		c.unsub = unsub
	}
	c.mu.Unlock()

	if err != nil {
		log.Error().Err(err).Str("cache", c.name).Str("pair_id", pairID).Msg("Failed to subscribe to change feed")
		c.notify()
	}

	go func() {
		if err := c.fetch(ctx, gen, false); err != nil {
			log.Warn().Err(err).Str("cache", c.name).Str("pair_id", pairID).Msg("Initial fetch failed")
		}
	}()
}

// Read returns the last snapshot without waiting. It may be empty.
func (c *Cache[T]) Read() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.data)
}

// PairID returns the pair the cache is bound to, or an empty string
func (c *Cache[T]) PairID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pairID
}

// Status returns the current status
func (c *Cache[T]) Status() Status[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

// Refresh fetches once and replaces the snapshot unless a feed snapshot
// arrives first. It does nothing on an unbound cache.
func (c *Cache[T]) Refresh() error {
	c.mu.Lock()
	if c.state == Unbound {
		c.mu.Unlock()
		return nil
	}
	ctx, gen := c.ctx, c.gen
	c.mu.Unlock()

	return c.fetch(ctx, gen, true)
}

// Watch calls fn with the new status after every change. The returned
// function removes the watcher.
func (c *Cache[T]) Watch(fn func(Status[T])) func() {
	c.notifyMu.Lock()
	id := c.nextWatch
	c.nextWatch++
	c.watchers[id] = fn
	c.notifyMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.notifyMu.Lock()
			delete(c.watchers, id)
			c.notifyMu.Unlock()
		})
	}
}

// Close unbinds the cache and rejects later binds
func (c *Cache[T]) Close() {
	c.unbind(true)
}

// unbind drops the binding and, with markClosed, closes the cache in the
// same critical section so no Bind can slip in between.
func (c *Cache[T]) unbind(markClosed bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	oldCancel, oldUnsub, _ := c.resetLocked("", nil)
	c.state = Unbound
	c.closed = markClosed
	c.mu.Unlock()

	stop(oldCancel, oldUnsub)
	c.notify()
}

// resetLocked starts a new generation for pairID and returns what must be
// stopped from the previous one.
func (c *Cache[T]) resetLocked(pairID string, src Source[T]) (context.CancelFunc, func(), uint64) {
	oldCancel, oldUnsub := c.cancel, c.unsub
	c.gen++
	c.pairID = pairID
	c.src = src
	c.data = nil
	c.seq = 0
	c.refetching = 0
	c.err = nil
	c.unsub = nil
	c.cancel = nil
	c.ctx = nil
	return oldCancel, oldUnsub, c.gen
}

func (c *Cache[T]) fetch(ctx context.Context, gen uint64, refresh bool) error {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return nil
	}
	src := c.src
	startSeq := c.seq
	if refresh {
		c.refetching++
	}
	c.mu.Unlock()
	if refresh {
		c.notify()
	}

	items, err := src.Fetch(ctx)

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return nil
	}
	if refresh {
		c.refetching--
	}
	switch {
	case err != nil:
		c.err = err
	case c.seq == startSeq:
		c.data = items
		c.seq++
		c.state = Live
		c.err = nil
	}
	c.mu.Unlock()

	c.notify()
	return err
}

func (c *Cache[T]) applyFeed(gen uint64, items []T) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.data = items
	c.seq++
	c.state = Live
	c.err = nil
	c.mu.Unlock()

	c.notify()
}

func (c *Cache[T]) applyError(gen uint64, err error) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.err = err
	pairID := c.pairID
	c.mu.Unlock()

	log.Error().Err(err).Str("cache", c.name).Str("pair_id", pairID).Msg("Change feed error")
	c.notify()
}

func (c *Cache[T]) statusLocked() Status[T] {
	return Status[T]{
		Data:         slices.Clone(c.data),
		State:        c.state,
		IsLoading:    c.state == Loading,
		IsRefetching: c.refetching > 0,
		Err:          c.err,
	}
}

// notify reads the status under notifyMu so watchers never observe an older
// status after a newer one.
func (c *Cache[T]) notify() {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	if len(c.watchers) == 0 {
		return
	}
	st := c.Status()
	for _, fn := range c.watchers {
		fn(st)
	}
}

func stop(cancel context.CancelFunc, unsub func()) {
	if unsub != nil {
		unsub()
	}
	if cancel != nil {
		cancel()
	}
}
