// Package cache provides a generic stale-while-revalidate cache.
//
// Reads never wait on a refresh while the cached value is still within the
// stale window. Only a missing, flagged or expired entry makes the caller wait
// on a synchronous fetch, and concurrent waiters for the same key share one
// fetch.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultStaleTTL     = 120 * time.Second
	DefaultFetchTimeout = 3 * time.Second
	DefaultMaxFailures  = 3
)

// Fetcher loads the value for a key from the source of truth
type Fetcher[T any] interface {
	Fetch(ctx context.Context, key string) (T, error)
}

// FetcherFunc adapts a function to Fetcher
type FetcherFunc[T any] func(ctx context.Context, key string) (T, error)

// Fetch implements Fetcher
func (f FetcherFunc[T]) Fetch(ctx context.Context, key string) (T, error) {
	return f(ctx, key)
}

// Result tells the caller which read path served a Get
type Result int

const (
	// Hit is a fresh entry
	Hit Result = iota
	// Stale is an entry past its TTL served while a refresh runs
	Stale
	// Miss is a value that was fetched synchronously
	Miss
	// Fallback is an old value returned because the synchronous fetch failed
	Fallback
)

func (r Result) String() string {
	switch r {
	case Hit:
		return "hit"
	case Stale:
		return "stale"
	case Miss:
		return "miss"
	case Fallback:
		return "fallback"
	default:
		return fmt.Sprintf("Result(%d)", int(r))
	}
}

// ErrNoEntry is returned when the fetch failed and nothing was cached
var ErrNoEntry = errors.New("no cached entry")

// FetchError reports a failed synchronous fetch
type FetchError struct {
	Key string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching %q: %v", e.Key, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Entry is one cached value
type Entry[T any] struct {
	Key        string
	Value      T
	CapturedAt time.Time
	// Stale is set when a refresh failed; the next Get fetches synchronously
	Stale bool
	// Failures counts consecutive failed fetches since the last success
	Failures int
}

// Observer receives cache events, typically for metrics
type Observer interface {
	ObserveGet(r Result)
	ObserveRevalidation(err error)
	ObserveFetchError()
}

// Stats is a point-in-time view of the cache
type Stats struct {
	Size         int `json:"size"`
	Revalidating int `json:"revalidating"`
}

// Cache is a stale-while-revalidate cache keyed by string
type Cache[T any] struct {
	fetcher      Fetcher[T]
	clock        clockwork.Clock
	logger       *slog.Logger
	observer     Observer
	staleTTL     time.Duration
	fetchTimeout time.Duration
	maxFailures  int

	mu       sync.Mutex
	entries  map[string]*Entry[T]
	inFlight map[string]struct{}

	group singleflight.Group
	wg    sync.WaitGroup
}

// Option configures a Cache
type Option func(*options)

type options struct {
	clock        clockwork.Clock
	logger       *slog.Logger
	observer     Observer
	staleTTL     time.Duration
	fetchTimeout time.Duration
	maxFailures  int
}

// WithClock sets the clock used to age entries
func WithClock(c clockwork.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithObserver registers an observer for cache events
func WithObserver(obs Observer) Option {
	return func(o *options) { o.observer = obs }
}

// WithStaleTTL bounds how old an entry may be and still be served
func WithStaleTTL(d time.Duration) Option {
	return func(o *options) { o.staleTTL = d }
}

// WithFetchTimeout bounds each call to the fetcher
func WithFetchTimeout(d time.Duration) Option {
	return func(o *options) { o.fetchTimeout = d }
}

// WithMaxFailures sets how many consecutive failed fetches evict an entry.
// Zero or less keeps entries forever.
func WithMaxFailures(n int) Option {
	return func(o *options) { o.maxFailures = n }
}

// New creates a cache backed by fetcher
func New[T any](fetcher Fetcher[T], opts ...Option) *Cache[T] {
	o := options{
		staleTTL:     DefaultStaleTTL,
		fetchTimeout: DefaultFetchTimeout,
		maxFailures:  DefaultMaxFailures,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = clockwork.NewRealClock()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	return &Cache[T]{
		fetcher:      fetcher,
		clock:        o.clock,
		logger:       o.logger,
		observer:     o.observer,
		staleTTL:     o.staleTTL,
		fetchTimeout: o.fetchTimeout,
		maxFailures:  o.maxFailures,
		entries:      make(map[string]*Entry[T]),
		inFlight:     make(map[string]struct{}),
	}
}

// StaleTTL returns the hard expiry for entries
func (c *Cache[T]) StaleTTL() time.Duration {
	return c.staleTTL
}

// Get returns the value for key. An unflagged entry younger than ttl is a
// Hit. An unflagged entry younger than the stale TTL is returned at once as
// Stale and refreshed in the background. Anything else is fetched
// synchronously; if that fails the old value, when there is one, comes back
// as Fallback alongside the error.
func (c *Cache[T]) Get(ctx context.Context, key string, ttl time.Duration) (T, Result, error) {
	now := c.clock.Now()

	c.mu.Lock()
	e, ok := c.entries[key]
	var snapshot Entry[T]
	if ok {
		snapshot = *e
	}
	c.mu.Unlock()

	if ok && !snapshot.Stale {
		age := now.Sub(snapshot.CapturedAt)
		if age < ttl && age < c.staleTTL {
			c.observe(Hit)
			return snapshot.Value, Hit, nil
		}
		if age < c.staleTTL {
			c.revalidate(key)
			c.observe(Stale)
			return snapshot.Value, Stale, nil
		}
	}

	value, err := c.fetchSync(ctx, key)
	if err == nil {
		c.observe(Miss)
		return value, Miss, nil
	}

	ferr := &FetchError{Key: key, Err: err}
	c.mu.Lock()
	e, ok = c.entries[key]
	if ok {
		snapshot = *e
	}
	c.mu.Unlock()

	if ok {
		c.observe(Fallback)
		return snapshot.Value, Fallback, ferr
	}
	var zero T
	return zero, Miss, errors.Join(ErrNoEntry, ferr)
}

// fetchSync collapses concurrent synchronous fetches for a key. The shared
// fetch is detached from any single caller so one cancelled waiter does not
// fail the others.
func (c *Cache[T]) fetchSync(ctx context.Context, key string) (T, error) {
	ch := c.group.DoChan(key, func() (any, error) {
		return c.fetchAndStore(context.WithoutCancel(ctx), key)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			var zero T
			return zero, res.Err
		}
		return res.Val.(T), nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// revalidate starts a background refresh unless one is already running
func (c *Cache[T]) revalidate(key string) {
	c.mu.Lock()
	if _, busy := c.inFlight[key]; busy {
		c.mu.Unlock()
		return
	}
	c.inFlight[key] = struct{}{}
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			c.mu.Lock()
			delete(c.inFlight, key)
			c.mu.Unlock()
		}()

		_, err := c.fetchAndStore(context.Background(), key)
		if c.observer != nil {
			c.observer.ObserveRevalidation(err)
		}
		if err != nil {
			c.logger.Warn("background revalidation failed", "key", key, "error", err)
			return
		}
		c.logger.Debug("revalidated", "key", key)
	}()
}

// fetchAndStore fetches key and stores the result. An entry written after
// this fetch started is newer and wins: the fetched value is dropped and a
// failure is not counted against it.
func (c *Cache[T]) fetchAndStore(ctx context.Context, key string) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	started := c.clock.Now()
	value, err := c.fetcher.Fetch(ctx, key)
	if err != nil {
		c.recordFailure(key, started)
		if c.observer != nil {
			c.observer.ObserveFetchError()
		}
		var zero T
		return zero, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok && e.CapturedAt.After(started) {
		c.logger.Debug("discarding fetch older than cached entry", "key", key)
		return e.Value, nil
	}
	c.entries[key] = &Entry[T]{Key: key, Value: value, CapturedAt: c.clock.Now()}
	return value, nil
}

func (c *Cache[T]) recordFailure(key string, started time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || e.CapturedAt.After(started) {
		return
	}
	e.Stale = true
	e.Failures++
	if c.maxFailures > 0 && e.Failures >= c.maxFailures {
		delete(c.entries, key)
		c.logger.Info("evicted entry after repeated failures", "key", key, "failures", e.Failures)
	}
}

func (c *Cache[T]) observe(r Result) {
	if c.observer != nil {
		c.observer.ObserveGet(r)
	}
}

// Peek returns a copy of the entry for key without triggering any fetch
func (c *Cache[T]) Peek(key string) (Entry[T], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return Entry[T]{}, false
	}
	return *e, true
}

// Set stores a value as freshly fetched
func (c *Cache[T]) Set(key string, value T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &Entry[T]{Key: key, Value: value, CapturedAt: c.clock.Now()}
}

// Delete removes a key from the cache
func (c *Cache[T]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear removes every entry. Revalidations already running still complete.
func (c *Cache[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*Entry[T])
}

// Stats returns the number of entries and running revalidations
func (c *Cache[T]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Size: len(c.entries), Revalidating: len(c.inFlight)}
}

// Wait blocks until background revalidations started so far have finished
func (c *Cache[T]) Wait() {
	c.wg.Wait()
}
