package synccache

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"
)

type fakeSource struct {
	mu           sync.Mutex
	fetch        func(ctx context.Context) ([]string, error)
	subscribeErr error
	onChange     func([]string)
	onError      func(error)
	subCtx       context.Context
	subGate      chan struct{}
	subCalls     int
	unsubCalls   int
	current      []string
}

func (f *fakeSource) Fetch(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	fetch := f.fetch
	current := slices.Clone(f.current)
	f.mu.Unlock()
	if fetch == nil {
		return current, nil
	}
	return fetch(ctx)
}

func (f *fakeSource) Subscribe(ctx context.Context, onChange func([]string), onError func(error)) (func(), error) {
	if f.subGate != nil {
		<-f.subGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subCalls++
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	f.onChange = onChange
	f.onError = onError
	f.subCtx = ctx
	return func() {
		f.mu.Lock()
		f.unsubCalls++
		f.mu.Unlock()
	}, nil
}

func (f *fakeSource) emit(items ...string) {
	f.mu.Lock()
	f.current = items
	fn := f.onChange
	f.mu.Unlock()
	fn(items)
}

func (f *fakeSource) fail(err error) {
	f.mu.Lock()
	fn := f.onError
	f.mu.Unlock()
	fn(err)
}

// open returns the number of subscriptions not yet cancelled
func (f *fakeSource) open() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subCalls - f.unsubCalls
}

func (f *fakeSource) unsubscribed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unsubCalls
}

// blockingFetch returns a fetch func that waits for a value on release
func blockingFetch(started chan<- struct{}, release <-chan []string) func(context.Context) ([]string, error) {
	return func(ctx context.Context) ([]string, error) {
		started <- struct{}{}
		select {
		case items := <-release:
			return items, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestCache_StartsUnbound(t *testing.T) {
	c := New[string]("todos")

	if st := c.Status(); st.State != Unbound || st.IsLoading || len(st.Data) != 0 {
		t.Fatalf("unexpected initial status: %+v", st)
	}

	c.Bind("", &fakeSource{})
	if st := c.Status(); st.State != Unbound {
		t.Fatalf("binding an empty pair id should stay unbound, got %s", st.State)
	}
}

func TestCache_FirstSnapshotMakesLive(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan []string)
	src := &fakeSource{fetch: blockingFetch(started, release)}
	c := New[string]("todos")

	c.Bind("p1", src)
	<-started

	st := c.Status()
	if st.State != Loading || !st.IsLoading {
		t.Fatalf("expected loading, got %+v", st)
	}
	if len(c.Read()) != 0 {
		t.Fatal("read should return an empty snapshot while loading")
	}

	src.emit("a", "b")
	st = c.Status()
	if st.State != Live || st.IsLoading {
		t.Fatalf("expected live, got %+v", st)
	}
	if got := c.Read(); !slices.Equal(got, []string{"a", "b"}) {
		t.Fatalf("read = %v", got)
	}

	close(release)
}

func TestCache_FetchDoesNotOverwriteNewerFeedSnapshot(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan []string, 1)
	src := &fakeSource{fetch: blockingFetch(started, release)}
	c := New[string]("todos")

	c.Bind("p1", src)
	<-started

	src.emit("from-feed")
	release <- []string{"from-fetch"}

	// The fetch result is discarded; wait until the fetch goroutine is done
	time.Sleep(20 * time.Millisecond)
	if got := c.Read(); !slices.Equal(got, []string{"from-feed"}) {
		t.Fatalf("read = %v, want the feed snapshot", got)
	}
}

func TestCache_FetchPopulatesWhenFeedIsQuiet(t *testing.T) {
	src := &fakeSource{fetch: func(context.Context) ([]string, error) { return []string{"x"}, nil }}
	c := New[string]("todos")

	c.Bind("p1", src)
	waitFor(t, "live", func() bool { return c.Status().State == Live })

	if got := c.Read(); !slices.Equal(got, []string{"x"}) {
		t.Fatalf("read = %v", got)
	}
}

func TestCache_RebindCancelsPreviousSubscription(t *testing.T) {
	first := &fakeSource{}
	second := &fakeSource{}
	c := New[string]("todos")

	c.Bind("p1", first)
	first.emit("old")
	firstCtx := first.subCtx

	c.Bind("p2", second)

	if first.unsubscribed() != 1 {
		t.Fatalf("expected first subscription cancelled once, got %d", first.unsubscribed())
	}
	if firstCtx.Err() == nil {
		t.Fatal("expected first subscription context cancelled")
	}
	if c.PairID() != "p2" {
		t.Fatalf("pair id = %q", c.PairID())
	}

	// Late deliveries from the old binding are ignored
	first.emit("stale")
	if got := c.Read(); slices.Contains(got, "stale") || slices.Contains(got, "old") {
		t.Fatalf("read leaked old binding data: %v", got)
	}

	second.emit("new")
	if got := c.Read(); !slices.Equal(got, []string{"new"}) {
		t.Fatalf("read = %v", got)
	}
}

func TestCache_BindSamePairIsNoop(t *testing.T) {
	src := &fakeSource{}
	c := New[string]("todos")

	c.Bind("p1", src)
	src.emit("a")
	c.Bind("p1", src)

	if src.unsubscribed() != 0 {
		t.Fatal("rebinding the same pair should keep the subscription")
	}
	if got := c.Read(); !slices.Equal(got, []string{"a"}) {
		t.Fatalf("read = %v", got)
	}
}

func TestCache_UnbindClearsData(t *testing.T) {
	src := &fakeSource{}
	c := New[string]("todos")

	c.Bind("p1", src)
	src.emit("a")
	c.Bind("", nil)

	st := c.Status()
	if st.State != Unbound || len(st.Data) != 0 {
		t.Fatalf("expected empty unbound cache, got %+v", st)
	}
	if src.unsubscribed() != 1 {
		t.Fatalf("expected unsubscribe, got %d", src.unsubscribed())
	}
}

func TestCache_FeedErrorKeepsSubscription(t *testing.T) {
	src := &fakeSource{}
	c := New[string]("todos")

	c.Bind("p1", src)
	src.emit("a")
	src.fail(errors.New("connection reset"))

	st := c.Status()
	if st.Err == nil {
		t.Fatal("expected error to be recorded")
	}
	if !slices.Equal(st.Data, []string{"a"}) || st.State != Live {
		t.Fatalf("error should not drop data or state: %+v", st)
	}
	if src.unsubscribed() != 0 {
		t.Fatal("error should not cancel the subscription")
	}

	src.emit("b")
	if st := c.Status(); st.Err != nil || !slices.Equal(st.Data, []string{"b"}) {
		t.Fatalf("next snapshot should clear the error: %+v", st)
	}
}

func TestCache_SubscribeFailureIsRecorded(t *testing.T) {
	src := &fakeSource{subscribeErr: errors.New("store down")}
	c := New[string]("todos")

	c.Bind("p1", src)

	if st := c.Status(); st.Err == nil {
		t.Fatal("expected subscribe error to be recorded")
	}
}

func TestCache_RefreshMarksRefetching(t *testing.T) {
	src := &fakeSource{}
	c := New[string]("todos")
	c.Bind("p1", src)
	src.emit("a")
	// Let the initial fetch finish before swapping the fetch func
	time.Sleep(20 * time.Millisecond)

	started := make(chan struct{}, 1)
	release := make(chan []string)
	src.mu.Lock()
	src.fetch = blockingFetch(started, release)
	src.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- c.Refresh() }()
	<-started

	if st := c.Status(); !st.IsRefetching {
		t.Fatalf("expected refetching, got %+v", st)
	}

	release <- []string{"a", "b"}
	if err := <-done; err != nil {
		t.Fatalf("refresh failed: %v", err)
	}

	st := c.Status()
	if st.IsRefetching {
		t.Fatal("refetching should be cleared")
	}
	if !slices.Equal(st.Data, []string{"a", "b"}) {
		t.Fatalf("data = %v", st.Data)
	}
}

func TestCache_RefreshUnboundIsNoop(t *testing.T) {
	c := New[string]("todos")
	if err := c.Refresh(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCache_CloseCancelsAndRejectsBind(t *testing.T) {
	src := &fakeSource{}
	c := New[string]("todos")
	c.Bind("p1", src)

	c.Close()
	if src.unsubscribed() != 1 {
		t.Fatalf("expected unsubscribe on close, got %d", src.unsubscribed())
	}

	other := &fakeSource{}
	c.Bind("p2", other)
	if c.Status().State != Unbound {
		t.Fatal("closed cache should not bind")
	}
}

func TestCache_BindDuringCloseDoesNotSubscribe(t *testing.T) {
	first := &fakeSource{}
	second := &fakeSource{}
	c := New[string]("todos")

	c.Bind("p1", first)
	first.emit("a")

	var once sync.Once
	done := make(chan struct{})
	c.Watch(func(st Status[string]) {
		if st.State != Unbound {
			return
		}
		once.Do(func() {
			go func() {
				defer close(done)
				c.Bind("p2", second)
			}()
			// Give the concurrent Bind time to run while Close is notifying
			time.Sleep(20 * time.Millisecond)
		})
	})

	c.Close()
	<-done

	if n := second.open(); n != 0 {
		t.Fatalf("expected no live subscription after close, got %d", n)
	}
	if st := c.Status(); st.State != Unbound || c.PairID() != "" {
		t.Fatalf("expected closed cache to stay unbound, got state=%s pair=%q", st.State, c.PairID())
	}
}

func TestCache_CloseDuringSubscribeCancelsIt(t *testing.T) {
	src := &fakeSource{subGate: make(chan struct{})}
	c := New[string]("todos")

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Bind("p1", src)
	}()
	waitFor(t, "loading", func() bool { return c.Status().State == Loading })

	c.Close()
	close(src.subGate)
	<-done

	if n := src.open(); n != 0 {
		t.Fatalf("expected subscription cancelled, got %d open", n)
	}
	if c.Status().State != Unbound {
		t.Fatal("closed cache should be unbound")
	}
}

func TestCache_WatchReceivesStatuses(t *testing.T) {
	src := &fakeSource{}
	c := New[string]("todos")

	var mu sync.Mutex
	var states []State
	stop := c.Watch(func(st Status[string]) {
		mu.Lock()
		states = append(states, st.State)
		mu.Unlock()
	})

	c.Bind("p1", src)
	src.emit("a")
	stop()
	src.emit("b")

	mu.Lock()
	defer mu.Unlock()
	if len(states) < 2 || states[0] != Loading || states[len(states)-1] != Live {
		t.Fatalf("unexpected watched states: %v", states)
	}
	for _, s := range states {
		if s == Unbound {
			t.Fatalf("unexpected unbound status: %v", states)
		}
	}
}
