// Package notify holds the short-lived user-facing messages shown as toasts.
package notify

import (
	"slices"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"

	"github.com/j-veylop/cpamc/internal/eventbus"
	"github.com/j-veylop/cpamc/internal/logger"
)

// Kind classifies a notification.
type Kind int

const (
	KindInfo Kind = iota
	KindSuccess
	KindWarning
	KindError
)

// DefaultDuration is used by the kind helpers when no duration is configured.
const DefaultDuration = 5 * time.Second

// MaxNotifications is the number of notifications kept; older ones are dropped.
const MaxNotifications = 10

// String returns the string representation of a Kind.
func (k Kind) String() string {
	switch k {
	case KindInfo:
		return "info"
	case KindSuccess:
		return "success"
	case KindWarning:
		return "warning"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText renders the kind by name in JSON.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Notification is a single toast. A zero Duration never expires.
type Notification struct {
	CreatedAt time.Time     `json:"created_at"`
	ID        string        `json:"id"`
	Message   string        `json:"message"`
	Kind      Kind          `json:"kind"`
	Duration  time.Duration `json:"duration"`
}

// Sink receives warning and error notifications, e.g. to raise a desktop alert.
type Sink interface {
	Deliver(n Notification) error
}

// Emitter publishes channel events. *eventbus.Bus satisfies it.
type Emitter interface {
	Emit(name string, payload any) int
}

// Option configures a Channel.
type Option func(*Channel)

// WithDefaultDuration sets the duration used by Info, Success, Warning and Error.
func WithDefaultDuration(d time.Duration) Option {
	return func(c *Channel) {
		if d >= 0 {
			c.defaultDuration = d
		}
	}
}

// WithSink forwards warnings and errors to s.
func WithSink(s Sink) Option {
	return func(c *Channel) { c.sink = s }
}

// WithEmitter publishes shown and removed events.
func WithEmitter(e Emitter) Option {
	return func(c *Channel) { c.emitter = e }
}

// Channel is the ordered list of active notifications.
type Channel struct {
	clock           quartz.Clock
	sink            Sink
	emitter         Emitter
	timers          map[string]*quartz.Timer
	items           []Notification
	defaultDuration time.Duration
	mu              sync.Mutex
}

// New creates a Channel. A nil clock uses the real clock.
func New(clock quartz.Clock, opts ...Option) *Channel {
	if clock == nil {
		clock = quartz.NewReal()
	}
	c := &Channel{
		clock:           clock,
		timers:          make(map[string]*quartz.Timer),
		defaultDuration: DefaultDuration,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Show appends a notification and returns its id. When duration is positive
// the notification removes itself once it elapses.
func (c *Channel) Show(message string, kind Kind, duration time.Duration) string {
	if duration < 0 {
		duration = 0
	}
	n := Notification{
		ID:        uuid.NewString(),
		Message:   message,
		Kind:      kind,
		Duration:  duration,
		CreatedAt: c.clock.Now(),
	}

	c.mu.Lock()
	c.items = append(c.items, n)
	if duration > 0 {
		id := n.ID
		c.timers[id] = c.clock.AfterFunc(duration, func() { c.Remove(id) }, "notify", "expire")
	}
	var evicted []Notification
	var stale []*quartz.Timer
	if over := len(c.items) - MaxNotifications; over > 0 {
		evicted = slices.Clone(c.items[:over])
		c.items = slices.Delete(c.items, 0, over)
		for _, e := range evicted {
			if t, ok := c.timers[e.ID]; ok {
				stale = append(stale, t)
				delete(c.timers, e.ID)
			}
		}
	}
	c.mu.Unlock()

	for _, t := range stale {
		t.Stop()
	}
	for _, e := range evicted {
		c.emit(eventbus.NotificationRemoved, e)
	}
	c.emit(eventbus.NotificationShown, n)
	c.deliver(n)
	return n.ID
}

// Info shows an info notification with the default duration.
func (c *Channel) Info(message string) string {
	return c.Show(message, KindInfo, c.defaultDuration)
}

// Success shows a success notification with the default duration.
func (c *Channel) Success(message string) string {
	return c.Show(message, KindSuccess, c.defaultDuration)
}

// Warning shows a warning notification with the default duration.
func (c *Channel) Warning(message string) string {
	return c.Show(message, KindWarning, c.defaultDuration)
}

// Error shows an error notification with the default duration.
func (c *Channel) Error(message string) string {
	return c.Show(message, KindError, c.defaultDuration)
}

// Remove deletes a notification. Unknown ids are ignored.
func (c *Channel) Remove(id string) {
	c.mu.Lock()
	i := slices.IndexFunc(c.items, func(n Notification) bool { return n.ID == id })
	if i < 0 {
		c.mu.Unlock()
		return
	}
	n := c.items[i]
	c.items = slices.Delete(c.items, i, i+1)
	t := c.timers[id]
	delete(c.timers, id)
	c.mu.Unlock()

	if t != nil {
		t.Stop()
	}
	c.emit(eventbus.NotificationRemoved, n)
}

// ClearAll removes every notification and cancels pending expiries.
func (c *Channel) ClearAll() {
	c.mu.Lock()
	removed := c.items
	timers := c.timers
	c.items = nil
	c.timers = make(map[string]*quartz.Timer)
	c.mu.Unlock()

	for _, t := range timers {
		t.Stop()
	}
	for _, n := range removed {
		c.emit(eventbus.NotificationRemoved, n)
	}
}

// List returns the active notifications, oldest first.
func (c *Channel) List() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.items)
}

// Len returns the number of active notifications.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *Channel) emit(name string, n Notification) {
	if c.emitter != nil {
		c.emitter.Emit(name, n)
	}
}

func (c *Channel) deliver(n Notification) {
	if c.sink == nil || n.Kind < KindWarning {
		return
	}
	if err := c.sink.Deliver(n); err != nil {
		logger.Debug("notification sink failed", "id", n.ID, "error", err)
	}
}
