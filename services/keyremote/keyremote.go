// Package keyremote implements the keyboard remote control: it turns key presses and releases
// into motor requests.
//
// Drive keys (forward/backward) are debounced: a start is only sent once the key has been held
// for the debounce delay, and releasing a started key sends a stop. Steer keys (left, right and
// the stop reset) send a move immediately.
package keyremote

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/robotmemory/keydrive/direction"
	"github.com/robotmemory/keydrive/input"
	"github.com/robotmemory/keydrive/logging"
	"github.com/robotmemory/keydrive/motorclient"
)

// DefaultDebounce is how long a drive key must be held before the motor starts.
const DefaultDebounce = 200 * time.Millisecond

// Config describes how to configure the service.
type Config struct {
	KeyMap   direction.KeyMap
	Debounce time.Duration
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.Debounce < 0 {
		return errors.Errorf("%s: debounce must not be negative", path)
	}
	return nil
}

// State is a snapshot of the adapter.
type State struct {
	Active  direction.Direction
	Pending direction.Direction
}

// Service is the key-to-motor adapter. Key callbacks and debounce timers may arrive on different
// goroutines; mu serializes them.
type Service struct {
	keyMap   direction.KeyMap
	debounce time.Duration
	notifier motorclient.Notifier
	clock    clock.Clock
	logger   logging.Logger

	mu      sync.Mutex
	active  direction.Direction
	pending direction.Direction
	timer   *clock.Timer
	// generation invalidates timers that fire after being replaced or cancelled.
	generation uint64
	closed     bool

	attached []attachment
}

type attachment struct {
	controller input.Controller
	labels     []string
}

// Option customizes a Service.
type Option func(*Service)

// WithClock replaces the wall clock, for tests.
func WithClock(clk clock.Clock) Option {
	return func(s *Service) {
		s.clock = clk
	}
}

// New returns a new adapter sending to notifier. A zero KeyMap uses the default bindings and a zero
// Debounce uses DefaultDebounce.
func New(cfg Config, notifier motorclient.Notifier, logger logging.Logger, opts ...Option) (*Service, error) {
	if err := cfg.Validate("keyremote"); err != nil {
		return nil, err
	}
	if notifier == nil {
		return nil, errors.New("keyremote needs a notifier")
	}
	keyMap := cfg.KeyMap
	if keyMap.Len() == 0 {
		keyMap = direction.DefaultKeyMap()
	}
	debounce := cfg.Debounce
	if debounce == 0 {
		debounce = DefaultDebounce
	}

	s := &Service{
		keyMap:   keyMap,
		debounce: debounce,
		notifier: notifier,
		clock:    clock.New(),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// OnPress handles a key press. Unmapped keys are ignored.
func (s *Service) OnPress(key string) {
	dir, ok := s.keyMap.Lookup(key)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	switch {
	case dir.IsDrive():
		// held keys repeat their press; neither an active nor an arming direction re-arms
		if dir == s.active || dir == s.pending {
			return
		}
		s.stopTimerLocked()
		s.pending = dir
		generation := s.generation
		s.timer = s.clock.AfterFunc(s.debounce, func() {
			s.confirm(dir, generation)
		})
	case dir.IsSteer():
		s.logger.Debugw("move", "key", key, "direction", dir)
		s.notifier.Move(dir)
	}
}

// confirm runs when a debounce timer fires.
func (s *Service) confirm(dir direction.Direction, generation uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || generation != s.generation {
		return
	}
	s.timer = nil
	s.pending = direction.None
	s.active = dir
	s.logger.Debugw("start", "direction", dir)
	s.notifier.Start(dir)
}

// OnRelease handles a key release. Unmapped keys and steer keys are ignored.
func (s *Service) OnRelease(key string) {
	dir, ok := s.keyMap.Lookup(key)
	if !ok || !dir.IsDrive() {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	s.stopTimerLocked()
	if s.active != direction.None {
		s.logger.Debugw("stop", "key", key, "was", s.active)
		s.active = direction.None
		s.notifier.Stop()
	}
}

// stopTimerLocked cancels the pending start, if any.
func (s *Service) stopTimerLocked() {
	s.generation++
	s.pending = direction.None
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// State returns the active and pending directions.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{Active: s.active, Pending: s.pending}
}

// KeyMap returns the bindings in use.
func (s *Service) KeyMap() direction.KeyMap {
	return s.keyMap
}

// Attach registers press and release callbacks on the controller for every mapped key.
func (s *Service) Attach(ctx context.Context, controller input.Controller) error {
	labels := s.keyMap.Labels()
	for _, label := range labels {
		err := controller.RegisterControlCallback(
			ctx,
			input.Control(label),
			[]input.EventType{input.ButtonChange},
			s.handleEvent,
		)
		if err != nil {
			return errors.Wrapf(err, "cannot register key %q", label)
		}
	}

	s.mu.Lock()
	s.attached = append(s.attached, attachment{controller: controller, labels: labels})
	s.mu.Unlock()
	return nil
}

func (s *Service) handleEvent(ctx context.Context, ev input.Event) {
	switch ev.Event {
	case input.ButtonPress:
		s.OnPress(string(ev.Control))
	case input.ButtonRelease:
		s.OnRelease(string(ev.Control))
	default:
	}
}

// Close cancels any pending start and detaches from controllers. The motor is not stopped:
// callers that own the notifier decide whether to send a final stop.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	s.stopTimerLocked()
	s.closed = true
	attached := s.attached
	s.attached = nil
	s.mu.Unlock()

	var errs error
	for _, a := range attached {
		for _, label := range a.labels {
			errs = multierr.Append(errs, a.controller.RegisterControlCallback(
				ctx,
				input.Control(label),
				[]input.EventType{input.ButtonChange},
				nil,
			))
		}
	}
	return errs
}

// WasActive reports whether a drive direction was confirmed, for callers deciding on a final stop.
func (st State) WasActive() bool {
	return st.Active != direction.None
}
