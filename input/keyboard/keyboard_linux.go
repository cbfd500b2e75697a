//go:build linux

package keyboard

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/viamrobotics/evdev"

	"github.com/robotmemory/keydrive/input"
	"github.com/robotmemory/keydrive/logging"
	"github.com/robotmemory/keydrive/utils"
)

var _ = input.Controller(&Keyboard{})

// Keyboard is an input controller reading a Linux event device.
type Keyboard struct {
	*input.Dispatcher
	dev     *evdev.Evdev
	layout  Layout
	name    string
	logger  logging.Logger
	workers utils.StoppableWorkers

	closeOnce sync.Once
}

// NewKeyboard opens the device and starts dispatching its key events.
func NewKeyboard(ctx context.Context, cfg Config, logger logging.Logger) (*Keyboard, error) {
	layout, err := ParseLayout(cfg.Layout)
	if err != nil {
		return nil, err
	}

	path := cfg.Device
	if path == "" {
		matches, err := filepath.Glob(DefaultDeviceGlob)
		if err != nil {
			return nil, err
		}
		if len(matches) == 0 {
			return nil, errors.Errorf("no keyboard found matching %q", DefaultDeviceGlob)
		}
		path = matches[0]
	}

	dev, err := evdev.OpenFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open keyboard %q", path)
	}

	kb := &Keyboard{
		Dispatcher: input.NewDispatcher(),
		dev:        dev,
		layout:     layout,
		name:       strings.TrimSpace(dev.Name()),
		logger:     logger,
	}
	logger.Infow("keyboard opened", "device", path, "name", kb.name, "layout", layout)

	kb.workers = utils.NewStoppableWorkers(kb.eventDispatcher)
	return kb, nil
}

func (kb *Keyboard) eventDispatcher(ctx context.Context) {
	kb.Dispatch(ctx, input.Event{Time: time.Now(), Event: input.Connect})

	evChan := kb.dev.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case eventIn, ok := <-evChan:
			if !ok || eventIn == nil {
				kb.logger.Warnw("keyboard disconnected", "name", kb.name)
				kb.Dispatch(ctx, input.Event{Time: time.Now(), Event: input.Disconnect})
				return
			}
			if eventIn.Event.Type != evdev.EventKey {
				continue
			}
			eventOut, ok := translate(kb.layout, eventIn.Event.Code, eventIn.Event.Value)
			if !ok {
				continue
			}
			eventOut.Time = time.Now()
			kb.Dispatch(ctx, eventOut)
		}
	}
}

// Controls lists every label the layout produces.
func (kb *Keyboard) Controls(ctx context.Context) ([]input.Control, error) {
	return kb.layout.Labels(), nil
}

// Events returns the last event for each key.
func (kb *Keyboard) Events(ctx context.Context) (map[input.Control]input.Event, error) {
	return kb.Dispatcher.Events(), nil
}

// RegisterControlCallback registers a callback.
func (kb *Keyboard) RegisterControlCallback(
	ctx context.Context,
	control input.Control,
	triggers []input.EventType,
	ctrlFunc input.ControlFunction,
) error {
	kb.Register(control, triggers, ctrlFunc)
	return nil
}

// Close stops dispatching and closes the device.
func (kb *Keyboard) Close(ctx context.Context) error {
	var err error
	kb.closeOnce.Do(func() {
		// closing the device unblocks the poller
		err = kb.dev.Close()
		kb.workers.Stop()
	})
	return err
}
