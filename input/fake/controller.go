// Package fake implements an in-memory input controller that dispatches triggered events
// synchronously.
package fake

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/robotmemory/keydrive/input"
)

var (
	_ = input.Controller(&Controller{})
	_ = input.Triggerable(&Controller{})
)

// Controller is a fake input controller. TriggerEvent runs callbacks before returning.
type Controller struct {
	mu       sync.Mutex
	controls []input.Control
	closed   bool
	*input.Dispatcher
}

// NewController returns a fake controller reporting the given controls. With no controls it
// reports whatever has a registered callback.
func NewController(controls ...input.Control) *Controller {
	return &Controller{controls: controls, Dispatcher: input.NewDispatcher()}
}

// Controls lists the controller's controls.
func (c *Controller) Controls(ctx context.Context) ([]input.Control, error) {
	if len(c.controls) == 0 {
		return c.Dispatcher.Registered(), nil
	}
	return append([]input.Control{}, c.controls...), nil
}

// Events returns the last event for each control.
func (c *Controller) Events(ctx context.Context) (map[input.Control]input.Event, error) {
	return c.Dispatcher.Events(), nil
}

// RegisterControlCallback registers a callback.
func (c *Controller) RegisterControlCallback(
	ctx context.Context,
	control input.Control,
	triggers []input.EventType,
	ctrlFunc input.ControlFunction,
) error {
	c.Dispatcher.Register(control, triggers, ctrlFunc)
	return nil
}

// TriggerEvent dispatches the event on the caller's goroutine. Events are serialized so that
// callbacks never overlap.
func (c *Controller) TriggerEvent(ctx context.Context, event input.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("controller is closed")
	}
	c.Dispatcher.Dispatch(ctx, event)
	return nil
}

// Press is shorthand for triggering a ButtonPress.
func (c *Controller) Press(ctx context.Context, key string) error {
	return c.TriggerEvent(ctx, input.Event{Event: input.ButtonPress, Control: input.Control(key), Value: 1})
}

// Release is shorthand for triggering a ButtonRelease.
func (c *Controller) Release(ctx context.Context, key string) error {
	return c.TriggerEvent(ctx, input.Event{Event: input.ButtonRelease, Control: input.Control(key)})
}

// Close stops accepting events.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
