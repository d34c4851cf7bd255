// Package eventbus is a small synchronous publish/subscribe hub that lets
// independently constructed components react to each other's events.
package eventbus

import (
	"fmt"
	"slices"
	"sync"

	"github.com/j-veylop/cpamc/internal/logger"
)

// Event names published inside the application.
const (
	QuotaChanged        = "quota.changed"
	QuotaCleared        = "quota.cleared"
	AccountsChanged     = "accounts.changed"
	NotificationShown   = "notification.shown"
	NotificationRemoved = "notification.removed"
)

// Handler receives the payload of an emitted event.
type Handler func(payload any)

// Subscription identifies one registered handler.
type Subscription struct {
	name string
	id   uint64
}

// Name returns the event name the subscription listens to.
func (s Subscription) Name() string { return s.name }

type entry struct {
	fn Handler
	id uint64
}

// Bus maps event names to ordered handler lists.
type Bus struct {
	handlers map[string][]entry
	nextID   uint64
	mu       sync.RWMutex
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{handlers: make(map[string][]entry)}
}

// Subscribe registers fn for name. Handlers run in registration order.
func (b *Bus) Subscribe(name string, fn Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	b.handlers[name] = append(b.handlers[name], entry{id: b.nextID, fn: fn})
	return Subscription{name: name, id: b.nextID}
}

// Unsubscribe removes a handler. Unknown subscriptions are ignored.
func (b *Bus) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.handlers[sub.name]
	i := slices.IndexFunc(list, func(e entry) bool { return e.id == sub.id })
	if i < 0 {
		return
	}
	list = slices.Delete(slices.Clone(list), i, i+1)
	if len(list) == 0 {
		delete(b.handlers, sub.name)
		return
	}
	b.handlers[sub.name] = list
}

// Emit calls every handler registered for name on the calling goroutine.
// A panicking handler is logged and skipped; the count of failed handlers is returned.
func (b *Bus) Emit(name string, payload any) int {
	b.mu.RLock()
	list := b.handlers[name]
	b.mu.RUnlock()

	failed := 0
	for _, e := range list {
		if err := invoke(e.fn, payload); err != nil {
			failed++
			logger.Error("event handler failed", "event", name, "error", err)
		}
	}
	return failed
}

// Count returns the number of handlers registered for name.
func (b *Bus) Count(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[name])
}

func invoke(fn Handler, payload any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	fn(payload)
	return nil
}
