// Package input provides key sources, such as a Linux keyboard, a terminal or an HTTP endpoint,
// behind one controller interface.
package input

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// Controller is a logical "container" more than an actual device. It could be a keyboard, a
// terminal, or a browser page posting key events.
type Controller interface {
	// Controls returns the key labels the controller can report.
	Controls(ctx context.Context) ([]Control, error)

	// Events returns the most recent Event for each control (which should be the current state).
	Events(ctx context.Context) (map[Control]Event, error)

	// RegisterControlCallback registers a callback that will fire on given EventTypes for a given Control.
	RegisterControlCallback(ctx context.Context, control Control, triggers []EventType, ctrlFunc ControlFunction) error
}

// ControlFunction is a callback passed to RegisterControlCallback.
type ControlFunction func(ctx context.Context, ev Event)

// EventType represents the type of input event.
type EventType string

// EventType list.
const (
	// Callbacks registered for this event will be called in ADDITION to other registered event callbacks.
	AllEvents EventType = "AllEvents"
	// Sent at controller initialization, and on reconnects.
	Connect EventType = "Connect"
	// If unplugged, or the source goes away.
	Disconnect EventType = "Disconnect"
	// Typical key press. Key autorepeat is reported as further presses.
	ButtonPress EventType = "ButtonPress"
	// Key release.
	ButtonRelease EventType = "ButtonRelease"
	// Both up and down for convenience during registration, not typically emitted.
	ButtonChange EventType = "ButtonChange"
)

// Control identifies a key by its label, e.g. "z" or "space".
type Control string

// Event is passed to the registered ControlFunction or returned by Events().
type Event struct {
	Time    time.Time `json:"time"`
	Event   EventType `json:"event"`
	Control Control   `json:"control"`
	Value   float64   `json:"value"` // 1 for presses, 0 for releases
}

// Triggerable is implemented by controllers that accept events from external code.
type Triggerable interface {
	// TriggerEvent allows directly sending an Event (such as a button press) from external code
	TriggerEvent(ctx context.Context, event Event) error
}

// ParseEventType validates a button event type name.
func ParseEventType(s string) (EventType, error) {
	et := EventType(s)
	switch et {
	case ButtonPress, ButtonRelease, Connect, Disconnect:
		return et, nil
	case AllEvents, ButtonChange:
		return "", errors.Errorf("event type %q is only valid for registration", s)
	default:
		return "", errors.Errorf("unknown event type %q", s)
	}
}

type callbackKey struct {
	control Control
	trigger EventType
}

// Dispatcher holds registered callbacks and last events. Controllers embed it and call Dispatch
// from their single event goroutine, so callbacks for one controller never run concurrently.
type Dispatcher struct {
	mu         sync.RWMutex
	callbacks  map[callbackKey]ControlFunction
	lastEvents map[Control]Event
}

// NewDispatcher returns an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		callbacks:  map[callbackKey]ControlFunction{},
		lastEvents: map[Control]Event{},
	}
}

// Register implements RegisterControlCallback. ButtonChange expands to press and release. A nil
// function removes the callback.
func (d *Dispatcher) Register(control Control, triggers []EventType, ctrlFunc ControlFunction) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, trigger := range triggers {
		if trigger == ButtonChange {
			d.set(callbackKey{control, ButtonPress}, ctrlFunc)
			d.set(callbackKey{control, ButtonRelease}, ctrlFunc)
			continue
		}
		d.set(callbackKey{control, trigger}, ctrlFunc)
	}
}

func (d *Dispatcher) set(key callbackKey, ctrlFunc ControlFunction) {
	if ctrlFunc == nil {
		delete(d.callbacks, key)
		return
	}
	d.callbacks[key] = ctrlFunc
}

// Dispatch records the event and runs the matching callbacks, then any AllEvents callback.
func (d *Dispatcher) Dispatch(ctx context.Context, event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	d.mu.Lock()
	d.lastEvents[event.Control] = event
	cb := d.callbacks[callbackKey{event.Control, event.Event}]
	allCb := d.callbacks[callbackKey{event.Control, AllEvents}]
	d.mu.Unlock()

	if cb != nil {
		cb(ctx, event)
	}
	if allCb != nil {
		allCb(ctx, event)
	}
}

// Events returns a copy of the last event per control.
func (d *Dispatcher) Events() map[Control]Event {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return lo.Assign(d.lastEvents)
}

// Registered returns the controls that have at least one callback.
func (d *Dispatcher) Registered() []Control {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return lo.Uniq(lo.Map(lo.Keys(d.callbacks), func(k callbackKey, _ int) Control {
		return k.control
	}))
}
