// Package terminal reads keys from a raw-mode terminal. Escape sequences are decoded by a headless
// bubbletea program. Terminals only report presses, so a release is synthesized once a key has
// been quiet for longer than the autorepeat delay.
package terminal

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"
	"golang.org/x/term"

	"github.com/robotmemory/keydrive/input"
	"github.com/robotmemory/keydrive/logging"
	"github.com/robotmemory/keydrive/utils"
)

// DefaultReleaseAfter is longer than common autorepeat delays (250-500ms).
const DefaultReleaseAfter = 600 * time.Millisecond

// Config is the attribute set of the terminal controller.
type Config struct {
	ReleaseAfter time.Duration `json:"release_after" mapstructure:"release_after"`
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.ReleaseAfter < 0 {
		return errors.Errorf("%s: release_after must not be negative", path)
	}
	return nil
}

var _ = input.Controller(&Terminal{})

// Terminal is an input controller fed by a terminal in raw mode.
type Terminal struct {
	*input.Dispatcher
	clock        clock.Clock
	releaseAfter time.Duration
	onInterrupt  func()
	logger       logging.Logger

	// dispatchMu serializes decoded keys and the release timers.
	dispatchMu sync.Mutex
	timers     map[input.Control]*clock.Timer

	restore   func() error
	workers   utils.StoppableWorkers
	closeOnce sync.Once
}

// NewTerminal puts stdin in raw mode and starts reading keys. onInterrupt is called on Ctrl-C,
// since raw mode no longer turns it into a signal.
func NewTerminal(ctx context.Context, cfg Config, onInterrupt func(), logger logging.Logger) (*Terminal, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, errors.New("stdin is not a terminal")
	}
	// without a renderer bubbletea leaves the terminal mode alone
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil, errors.Wrap(err, "cannot put terminal in raw mode")
	}
	t := newTerminal(os.Stdin, clock.New(), cfg, onInterrupt, logger)
	t.restore = func() error {
		return term.Restore(fd, oldState)
	}
	return t, nil
}

func newTerminal(r io.Reader, clk clock.Clock, cfg Config, onInterrupt func(), logger logging.Logger) *Terminal {
	releaseAfter := cfg.ReleaseAfter
	if releaseAfter == 0 {
		releaseAfter = DefaultReleaseAfter
	}
	t := &Terminal{
		Dispatcher:   input.NewDispatcher(),
		clock:        clk,
		releaseAfter: releaseAfter,
		onInterrupt:  onInterrupt,
		logger:       logger,
		timers:       map[input.Control]*clock.Timer{},
	}

	t.workers = utils.NewStoppableWorkers()
	program := tea.NewProgram(keyModel{t: t},
		tea.WithContext(t.workers.Context()),
		tea.WithInput(r),
		tea.WithOutput(io.Discard),
		tea.WithoutRenderer(),
		tea.WithoutSignalHandler(),
	)
	t.workers.AddWorkers(func(ctx context.Context) {
		if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			logger.Debugw("terminal input stopped", "error", err)
		}
	})
	return t
}

// keyModel hands every decoded key to the terminal and renders nothing.
type keyModel struct {
	t *Terminal
}

func (m keyModel) Init() tea.Cmd {
	return nil
}

func (m keyModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		m.t.handleKey(key)
	}
	return m, nil
}

func (m keyModel) View() string {
	return ""
}

func (t *Terminal) handleKey(key tea.KeyMsg) {
	if key.Type == tea.KeyCtrlC {
		if t.onInterrupt != nil {
			t.onInterrupt()
		}
		return
	}
	ctx := t.workers.Context()
	for _, label := range keyLabels(key) {
		t.press(ctx, label)
	}
}

func (t *Terminal) press(ctx context.Context, key input.Control) {
	t.dispatchMu.Lock()
	defer t.dispatchMu.Unlock()

	if timer, ok := t.timers[key]; ok {
		timer.Stop()
	}
	var timer *clock.Timer
	timer = t.clock.AfterFunc(t.releaseAfter, func() {
		t.dispatchMu.Lock()
		defer t.dispatchMu.Unlock()
		// a later press replaced this timer
		if t.timers[key] != timer {
			return
		}
		delete(t.timers, key)
		t.Dispatch(ctx, input.Event{Time: t.clock.Now(), Event: input.ButtonRelease, Control: key})
	})
	t.timers[key] = timer
	t.Dispatch(ctx, input.Event{Time: t.clock.Now(), Event: input.ButtonPress, Control: key, Value: 1})
}

// Controls lists the keys that have callbacks; any key may be pressed.
func (t *Terminal) Controls(ctx context.Context) ([]input.Control, error) {
	return t.Registered(), nil
}

// Events returns the last event for each key.
func (t *Terminal) Events(ctx context.Context) (map[input.Control]input.Event, error) {
	return t.Dispatcher.Events(), nil
}

// RegisterControlCallback registers a callback.
func (t *Terminal) RegisterControlCallback(
	ctx context.Context,
	control input.Control,
	triggers []input.EventType,
	ctrlFunc input.ControlFunction,
) error {
	t.Register(control, triggers, ctrlFunc)
	return nil
}

// Close stops reading, drops pending releases and restores the terminal.
func (t *Terminal) Close(ctx context.Context) error {
	var err error
	t.closeOnce.Do(func() {
		t.workers.Stop()
		t.dispatchMu.Lock()
		for key, timer := range t.timers {
			timer.Stop()
			delete(t.timers, key)
		}
		t.dispatchMu.Unlock()
		if t.restore != nil {
			err = t.restore()
		}
	})
	return err
}

var namedKeys = map[tea.KeyType]input.Control{
	tea.KeySpace:     "space",
	tea.KeyEnter:     "enter",
	tea.KeyBackspace: "backspace",
	tea.KeyEsc:       "escape",
	tea.KeyTab:       "tab",
	tea.KeyUp:        "up",
	tea.KeyDown:      "down",
	tea.KeyLeft:      "left",
	tea.KeyRight:     "right",
}

// keyLabels turns a decoded key into key labels. Runes read together arrive as one message and
// become one press each. Letters are lowercased so that caps lock or shift do not change the
// binding. Modified keys keep bubbletea's name, e.g. "ctrl+left" or "alt+z", so they never
// match a plain binding.
func keyLabels(key tea.KeyMsg) []input.Control {
	if key.Alt || key.Paste {
		return []input.Control{input.Control(key.String())}
	}
	if key.Type == tea.KeyRunes {
		labels := make([]input.Control, 0, len(key.Runes))
		for _, r := range key.Runes {
			labels = append(labels, input.Control(strings.ToLower(string(r))))
		}
		return labels
	}
	if label, ok := namedKeys[key.Type]; ok {
		return []input.Control{label}
	}
	return []input.Control{input.Control(key.String())}
}
