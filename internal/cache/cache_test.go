package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

// fakeFetcher returns a new slice per call so tests can check identity
type fakeFetcher struct {
	mu      sync.Mutex
	calls   int
	err     error
	block   chan struct{}
	started chan struct{}
}

func (f *fakeFetcher) Fetch(ctx context.Context, key string) ([]int, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	err := f.err
	block := f.block
	started := f.started
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return []int{n}, nil
}

func (f *fakeFetcher) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingObserver struct {
	mu      sync.Mutex
	results []Result
	revals  int
	errs    int
}

func (o *recordingObserver) ObserveGet(r Result) {
	o.mu.Lock()
	o.results = append(o.results, r)
	o.mu.Unlock()
}

func (o *recordingObserver) ObserveRevalidation(error) {
	o.mu.Lock()
	o.revals++
	o.mu.Unlock()
}

func (o *recordingObserver) ObserveFetchError() {
	o.mu.Lock()
	o.errs++
	o.mu.Unlock()
}

const ttl = 30 * time.Second

func newTestCache(f *fakeFetcher, opts ...Option) (*Cache[[]int], *clockwork.FakeClock) {
	clock := clockwork.NewFakeClock()
	opts = append([]Option{WithClock(clock)}, opts...)
	return New[[]int](f, opts...), clock
}

func TestGetMissThenHit(t *testing.T) {
	f := &fakeFetcher{}
	c, clock := newTestCache(f)
	ctx := context.Background()

	first, res, err := c.Get(ctx, "stop", ttl)
	if err != nil || res != Miss {
		t.Fatalf("first Get = %v, %v; want Miss", res, err)
	}

	clock.Advance(ttl - time.Second)
	second, res, err := c.Get(ctx, "stop", ttl)
	if err != nil || res != Hit {
		t.Fatalf("second Get = %v, %v; want Hit", res, err)
	}
	if &first[0] != &second[0] {
		t.Error("hit should return the exact value from the last fetch")
	}
	if f.Calls() != 1 {
		t.Errorf("calls = %d, want 1", f.Calls())
	}
}

func TestStaleServesImmediatelyWithOneRevalidation(t *testing.T) {
	f := &fakeFetcher{}
	c, clock := newTestCache(f)
	ctx := context.Background()

	original, _, _ := c.Get(ctx, "stop", ttl)
	clock.Advance(ttl + 10*time.Second)

	f.mu.Lock()
	f.block = make(chan struct{})
	f.mu.Unlock()

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, res, err := c.Get(ctx, "stop", ttl)
			if err != nil || res != Stale {
				t.Errorf("Get = %v, %v; want Stale", res, err)
				return
			}
			if &got[0] != &original[0] {
				t.Error("stale read should return the cached value")
			}
		}()
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stale reads blocked on the revalidation")
	}

	if s := c.Stats(); s.Revalidating != 1 {
		t.Errorf("Revalidating = %d, want 1", s.Revalidating)
	}

	f.mu.Lock()
	close(f.block)
	f.block = nil
	f.mu.Unlock()
	c.Wait()

	if f.Calls() != 2 {
		t.Errorf("calls = %d, want exactly one background fetch", f.Calls())
	}
	if s := c.Stats(); s.Revalidating != 0 {
		t.Errorf("in-flight marker not released: %d", s.Revalidating)
	}

	fresh, res, _ := c.Get(ctx, "stop", ttl)
	if res != Hit || fresh[0] != 2 {
		t.Errorf("after revalidation Get = %v %v, want Hit [2]", res, fresh)
	}
}

func TestSlowRevalidationDoesNotOverwriteNewerEntry(t *testing.T) {
	f := &fakeFetcher{}
	c, clock := newTestCache(f)
	ctx := context.Background()

	c.Get(ctx, "stop", ttl)
	clock.Advance(ttl + time.Second)

	slow := make(chan struct{})
	f.mu.Lock()
	f.block = slow
	f.started = make(chan struct{}, 1)
	f.mu.Unlock()

	if _, res, _ := c.Get(ctx, "stop", ttl); res != Stale {
		t.Fatalf("Get = %v, want Stale", res)
	}
	<-f.started

	// only the background fetch stays blocked
	f.mu.Lock()
	f.block = nil
	f.started = nil
	f.mu.Unlock()

	clock.Advance(time.Second)
	c.Delete("stop")
	newer, res, err := c.Get(ctx, "stop", ttl)
	if err != nil || res != Miss || newer[0] != 3 {
		t.Fatalf("sync Get = %v %v %v, want Miss [3]", newer, res, err)
	}

	close(slow)
	c.Wait()

	e, ok := c.Peek("stop")
	if !ok || e.Value[0] != 3 {
		t.Errorf("entry = %+v, want the newer [3]", e)
	}
}

func TestFailedRevalidationForcesSyncFetch(t *testing.T) {
	f := &fakeFetcher{}
	c, clock := newTestCache(f)
	ctx := context.Background()

	c.Get(ctx, "stop", ttl)
	clock.Advance(ttl + time.Second)

	f.setErr(errors.New("upstream down"))
	if _, res, err := c.Get(ctx, "stop", ttl); res != Stale || err != nil {
		t.Fatalf("Get = %v, %v; want Stale", res, err)
	}
	c.Wait()

	e, ok := c.Peek("stop")
	if !ok || !e.Stale || e.Failures != 1 {
		t.Fatalf("entry after failed revalidation = %+v, %v", e, ok)
	}

	f.setErr(nil)
	got, res, err := c.Get(ctx, "stop", ttl)
	if err != nil || res != Miss {
		t.Fatalf("Get after failure = %v, %v; want synchronous Miss", res, err)
	}
	if got[0] != 3 {
		t.Errorf("value = %v, want [3]", got)
	}
	if e, _ := c.Peek("stop"); e.Stale || e.Failures != 0 {
		t.Errorf("successful fetch should clear flags: %+v", e)
	}
}

func TestExpiredEntryFetchesSynchronously(t *testing.T) {
	f := &fakeFetcher{}
	c, clock := newTestCache(f, WithStaleTTL(2*time.Minute))
	ctx := context.Background()

	c.Get(ctx, "stop", ttl)
	clock.Advance(2 * time.Minute)

	got, res, err := c.Get(ctx, "stop", ttl)
	if err != nil || res != Miss || got[0] != 2 {
		t.Fatalf("Get = %v %v %v; want Miss [2]", got, res, err)
	}
}

func TestFallbackAndEviction(t *testing.T) {
	f := &fakeFetcher{}
	c, clock := newTestCache(f, WithMaxFailures(2))
	ctx := context.Background()

	c.Get(ctx, "stop", ttl)
	clock.Advance(3 * time.Minute)
	f.setErr(errors.New("timeout"))

	got, res, err := c.Get(ctx, "stop", ttl)
	if res != Fallback || got[0] != 1 {
		t.Fatalf("Get = %v %v; want Fallback [1]", got, res)
	}
	var ferr *FetchError
	if !errors.As(err, &ferr) || ferr.Key != "stop" {
		t.Errorf("err = %v, want FetchError for stop", err)
	}

	_, _, err = c.Get(ctx, "stop", ttl)
	if !errors.Is(err, ErrNoEntry) {
		t.Fatalf("err = %v, want ErrNoEntry after eviction", err)
	}
	if _, ok := c.Peek("stop"); ok {
		t.Error("entry should be evicted after max failures")
	}
}

func TestMissWithoutEntryReturnsError(t *testing.T) {
	f := &fakeFetcher{err: errors.New("boom")}
	c, _ := newTestCache(f)

	_, _, err := c.Get(context.Background(), "stop", ttl)
	if !errors.Is(err, ErrNoEntry) {
		t.Errorf("err = %v, want ErrNoEntry", err)
	}
	if c.Stats().Size != 0 {
		t.Error("failed fetch must not create an entry")
	}
}

func TestConcurrentMissesShareOneFetch(t *testing.T) {
	f := &fakeFetcher{block: make(chan struct{}), started: make(chan struct{}, 4)}
	c, _ := newTestCache(f)
	ctx := context.Background()

	results := make(chan []int, 2)
	go func() {
		v, _, _ := c.Get(ctx, "stop", ttl)
		results <- v
	}()
	<-f.started

	go func() {
		v, _, _ := c.Get(ctx, "stop", ttl)
		results <- v
	}()
	time.Sleep(20 * time.Millisecond)
	close(f.block)

	a, b := <-results, <-results
	if f.Calls() != 1 {
		t.Errorf("calls = %d, want 1", f.Calls())
	}
	if a[0] != 1 || b[0] != 1 {
		t.Errorf("values = %v %v, want both [1]", a, b)
	}
}

func TestCallerCancellation(t *testing.T) {
	f := &fakeFetcher{block: make(chan struct{})}
	defer close(f.block)
	c, _ := newTestCache(f)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := c.Get(ctx, "stop", ttl)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestObserverAndClear(t *testing.T) {
	obs := &recordingObserver{}
	f := &fakeFetcher{}
	c, clock := newTestCache(f, WithObserver(obs))
	ctx := context.Background()

	c.Get(ctx, "a", ttl)
	c.Get(ctx, "a", ttl)
	clock.Advance(ttl)
	c.Get(ctx, "a", ttl)
	c.Wait()

	obs.mu.Lock()
	want := []Result{Miss, Hit, Stale}
	if len(obs.results) != len(want) {
		t.Fatalf("results = %v, want %v", obs.results, want)
	}
	for i := range want {
		if obs.results[i] != want[i] {
			t.Errorf("results[%d] = %s, want %s", i, obs.results[i], want[i])
		}
	}
	if obs.revals != 1 {
		t.Errorf("revalidations = %d, want 1", obs.revals)
	}
	obs.mu.Unlock()

	c.Set("b", []int{9})
	if c.Stats().Size != 2 {
		t.Errorf("Size = %d, want 2", c.Stats().Size)
	}
	c.Clear()
	if c.Stats().Size != 0 {
		t.Error("Clear should drop every entry")
	}
}
