package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meridianhq/tenancy/pkg/observability"
)

// Event identifies a lifecycle event type
type Event string

const (
	EventOrganizationCreated  Event = "organization_created"
	EventMemberInvited        Event = "member_invited"
	EventMemberJoined         Event = "member_joined"
	EventMemberAdded          Event = "member_added"
	EventMemberRemoved        Event = "member_removed"
	EventMemberLeft           Event = "member_left"
	EventRoleChanged          Event = "role_changed"
	EventOwnershipTransferred Event = "ownership_transferred"
)

// Mode selects how listener failures are handled
type Mode int

const (
	// ModeIsolated swallows listener errors and panics; dispatch never fails.
	ModeIsolated Mode = iota
	// ModeStrict propagates listener errors so the caller can abort.
	ModeStrict
)

func (m Mode) String() string {
	if m == ModeStrict {
		return "strict"
	}
	return "isolated"
}

// Context is the immutable payload handed to a listener. Fields are optional
// per event type; absent entity fields are nil. Listeners must treat the
// payload as read-only.
type Context struct {
	ID           string
	Event        Event
	Time         time.Time
	Organization any
	User         any
	Membership   any
	Invitation   any
	Role         string
	Metadata     map[string]any
}

// Listener handles one dispatched event
type Listener func(ctx context.Context, ec *Context) error

// Dispatcher routes events to registered listeners. Safe for concurrent use.
type Dispatcher struct {
	mu        sync.RWMutex
	listeners map[Event]Listener
	logger    *observability.Logger
	metrics   *observability.Metrics
}

// NewDispatcher creates a dispatcher. A nil logger falls back to the default
// stdout logger.
func NewDispatcher(logger *observability.Logger) *Dispatcher {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Dispatcher{
		listeners: make(map[Event]Listener),
		logger:    logger,
	}
}

// SetMetrics attaches listener-failure counters. Call during wiring, before
// any dispatches.
func (d *Dispatcher) SetMetrics(metrics *observability.Metrics) {
	d.metrics = metrics
}

// Register installs the listener for the event, replacing any previous one.
func (d *Dispatcher) Register(event Event, listener Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners[event] = listener
}

// Unregister removes the listener for the event, if any.
func (d *Dispatcher) Unregister(event Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.listeners, event)
}

// Dispatch invokes the listener registered for ec.Event. With no listener it
// is a no-op. In ModeIsolated any listener error or panic is logged and nil
// is returned. In ModeStrict listener errors (and panics, converted to
// errors) are returned to the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, mode Mode, ec *Context) error {
	d.mu.RLock()
	listener, ok := d.listeners[ec.Event]
	d.mu.RUnlock()
	if !ok {
		return nil
	}

	if ec.ID == "" {
		ec.ID = uuid.NewString()
	}
	if ec.Time.IsZero() {
		ec.Time = time.Now().UTC()
	}

	err := d.invoke(ctx, listener, ec)
	if err == nil {
		return nil
	}
	if d.metrics != nil {
		d.metrics.EventListenerFailures.WithLabelValues(string(ec.Event)).Inc()
	}
	if mode == ModeStrict {
		return fmt.Errorf("listener for %s rejected event: %w", ec.Event, err)
	}
	d.logger.WithError(err).
		WithField("event", string(ec.Event)).
		WithField("event_id", ec.ID).
		Error("event listener failed")
	return nil
}

// invoke runs the listener with panic recovery so a panicking listener is
// indistinguishable from one returning an error.
func (d *Dispatcher) invoke(ctx context.Context, listener Listener, ec *Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panic: %v", r)
		}
	}()
	return listener(ctx, ec)
}
