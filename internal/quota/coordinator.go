package quota

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/quartz"
)

// ErrInFlight is returned by Run when a fetch for the same key is already running.
var ErrInFlight = errors.New("quota fetch already in flight")

// StatusCoder is implemented by errors that carry an HTTP-like status code.
type StatusCoder interface {
	HTTPStatus() int
}

// Observer receives fetch lifecycle callbacks, typically for metrics.
type Observer interface {
	FetchStarted(family Family)
	FetchFinished(family Family, elapsed time.Duration, err error, applied bool)
}

// Ticket identifies one issued fetch.
type Ticket struct {
	Family Family
	Key    string
	Seq    uint64
}

// FetchFunc performs the network call for one account.
type FetchFunc[P any] func(ctx context.Context) (P, error)

// Coordinator guarantees at most one in-flight fetch per (family, key) and
// discards responses that were superseded by a newer fetch for the same key.
type Coordinator[P any] struct {
	store    *Store[P]
	clock    quartz.Clock
	observer Observer
	seqs     map[Ticket]uint64
	mu       sync.Mutex
}

// NewCoordinator wraps store. A nil clock uses the real clock.
func NewCoordinator[P any](store *Store[P], clock quartz.Clock, observer Observer) *Coordinator[P] {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Coordinator[P]{
		store:    store,
		clock:    clock,
		observer: observer,
		seqs:     make(map[Ticket]uint64),
	}
}

// Store returns the wrapped store.
func (c *Coordinator[P]) Store() *Store[P] {
	return c.store
}

// Begin marks key as loading and returns a ticket for the fetch.
// When the key is already loading and force is false, no ticket is issued.
// A forced begin supersedes the running fetch.
func (c *Coordinator[P]) Begin(family Family, key string, force bool) (Ticket, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !force && c.store.Get(family, key).IsLoading() {
		return Ticket{}, false
	}

	// Sequence numbers survive ClearAll so a late response can never match a new record.
	id := Ticket{Family: family, Key: key}
	c.seqs[id]++
	t := Ticket{Family: family, Key: key, Seq: c.seqs[id]}

	now := c.clock.Now()
	c.store.writeIf(family, func(prev Table[P]) (Table[P], bool) {
		prev[key] = Loading(prev.Get(key), t.Seq, now)
		return prev, true
	})
	return t, true
}

// Complete stores the outcome of the fetch identified by t. It reports false
// when the record no longer belongs to t (superseded, cleared or overwritten).
func (c *Coordinator[P]) Complete(t Ticket, payload P, err error) bool {
	now := c.clock.Now()
	_, applied := c.store.writeIf(t.Family, func(prev Table[P]) (Table[P], bool) {
		cur, ok := prev[t.Key]
		if !ok || cur.Seq != t.Seq || cur.State != StateLoading {
			return prev, false
		}
		if err != nil {
			prev[t.Key] = Failure[P](err.Error(), statusCode(err), t.Seq, now)
		} else {
			prev[t.Key] = Success(payload, t.Seq, now)
		}
		return prev, true
	})
	return applied
}

// Run issues fetch for key unless one is already in flight (ErrInFlight).
// Fetch failures are recorded as an error status and also returned.
func (c *Coordinator[P]) Run(ctx context.Context, family Family, key string, force bool, fetch FetchFunc[P]) (Status[P], error) {
	t, ok := c.Begin(family, key, force)
	if !ok {
		return c.store.Get(family, key), ErrInFlight
	}

	if c.observer != nil {
		c.observer.FetchStarted(family)
	}
	start := c.clock.Now()

	payload, err := safeFetch(ctx, fetch)
	applied := c.Complete(t, payload, err)

	if c.observer != nil {
		c.observer.FetchFinished(family, c.clock.Since(start), err, applied)
	}
	return c.store.Get(family, key), err
}

func safeFetch[P any](ctx context.Context, fetch FetchFunc[P]) (p P, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("quota fetch panicked: %v", r)
		}
	}()
	return fetch(ctx)
}

func statusCode(err error) int {
	var sc StatusCoder
	if errors.As(err, &sc) {
		return sc.HTTPStatus()
	}
	return 0
}
