// Package webkeys accepts key events over HTTP, so a browser page or a script can drive the
// adapter with the same press/release semantics as a local keyboard.
package webkeys

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/cors"
	"goji.io"
	"goji.io/pat"
	"golang.org/x/time/rate"

	"github.com/robotmemory/keydrive/input"
	"github.com/robotmemory/keydrive/logging"
	"github.com/robotmemory/keydrive/utils"
)

// Defaults used when the config leaves them empty.
const (
	DefaultListenAddress      = "localhost:8090"
	DefaultMaxEventsPerSecond = 50
)

// Config is the attribute set of the web key controller.
type Config struct {
	ListenAddress string `json:"listen_address" mapstructure:"listen_address"`
	// MaxEventsPerSecond caps HTTP injected presses; extra requests get 429. Releases are never
	// limited, so a held key always gets its stop.
	MaxEventsPerSecond float64 `json:"max_events_per_second" mapstructure:"max_events_per_second"`
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.MaxEventsPerSecond < 0 {
		return errors.Errorf("%s: max_events_per_second must not be negative", path)
	}
	if cfg.ListenAddress == "" {
		return nil
	}
	if _, _, err := net.SplitHostPort(cfg.ListenAddress); err != nil {
		return errors.Wrapf(err, "%s: invalid listen_address", path)
	}
	return nil
}

func newLimiter(perSecond float64) *rate.Limiter {
	if perSecond == 0 {
		perSecond = DefaultMaxEventsPerSecond
	}
	// a burst covers a quick press and release pair on several keys
	return rate.NewLimiter(rate.Limit(perSecond), 10)
}

var (
	_ = input.Controller(&Controller{})
	_ = input.Triggerable(&Controller{})
)

// Controller is an input controller fed by HTTP requests. Injected events are queued and
// dispatched in arrival order from a single goroutine.
type Controller struct {
	*input.Dispatcher
	logger  logging.Logger
	events  chan input.Event
	limiter *rate.Limiter

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	workers  utils.StoppableWorkers
}

// NewController creates the controller without starting a listener; Handler can be mounted on any
// server.
func NewController(logger logging.Logger) *Controller {
	c := &Controller{
		Dispatcher: input.NewDispatcher(),
		logger:     logger,
		events:     make(chan input.Event, 64),
		limiter:    newLimiter(0),
	}
	c.workers = utils.NewStoppableWorkers(c.eventDispatcher)
	return c
}

// NewServer creates the controller and serves its handler on cfg.ListenAddress.
func NewServer(ctx context.Context, cfg Config, logger logging.Logger) (*Controller, error) {
	addr := cfg.ListenAddress
	if addr == "" {
		addr = DefaultListenAddress
	}
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot listen on %q", addr)
	}

	c := NewController(logger)
	c.limiter = newLimiter(cfg.MaxEventsPerSecond)
	c.listener = listener
	c.server = &http.Server{
		Handler:           c.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	c.workers.AddWorkers(func(ctx context.Context) {
		if err := c.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorw("key server stopped", "error", err)
		}
	})
	logger.Infow("accepting key events", "address", listener.Addr().String())
	return c, nil
}

// Addr returns the listening address, or nil when not serving.
func (c *Controller) Addr() net.Addr {
	if c.listener == nil {
		return nil
	}
	return c.listener.Addr()
}

func (c *Controller) eventDispatcher(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-c.events:
			c.Dispatch(ctx, ev)
		}
	}
}

// Handler returns the HTTP API:
//
//	POST /keys/press    form: key=<label>
//	POST /keys/release  form: key=<label>
//	POST /events        JSON input.Event
//	GET  /state         JSON map of last events
func (c *Controller) Handler() http.Handler {
	mux := goji.NewMux()
	mux.HandleFunc(pat.Post("/keys/:action"), c.handleKey)
	mux.HandleFunc(pat.Post("/events"), c.handleEvent)
	mux.HandleFunc(pat.Get("/state"), c.handleState)
	return cors.AllowAll().Handler(mux)
}

func (c *Controller) handleKey(w http.ResponseWriter, r *http.Request) {
	var et input.EventType
	switch pat.Param(r, "action") {
	case "press":
		et = input.ButtonPress
	case "release":
		et = input.ButtonRelease
	default:
		http.NotFound(w, r)
		return
	}
	key := r.FormValue("key")
	if key == "" {
		http.Error(w, "missing key", http.StatusBadRequest)
		return
	}
	ev := input.Event{Event: et, Control: input.Control(key)}
	if et == input.ButtonPress {
		ev.Value = 1
	}
	c.enqueue(w, r, ev)
}

func (c *Controller) handleEvent(w http.ResponseWriter, r *http.Request) {
	var ev input.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, "invalid event: "+err.Error(), http.StatusBadRequest)
		return
	}
	if _, err := input.ParseEventType(string(ev.Event)); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	c.enqueue(w, r, ev)
}

func (c *Controller) enqueue(w http.ResponseWriter, r *http.Request, ev input.Event) {
	if ev.Event != input.ButtonRelease && !c.limiter.Allow() {
		http.Error(w, "too many key events", http.StatusTooManyRequests)
		return
	}
	if err := c.TriggerEvent(r.Context(), ev); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (c *Controller) handleState(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(c.Dispatcher.Events()); err != nil {
		c.logger.Debugw("cannot write state", "error", err)
	}
}

// TriggerEvent queues an event for dispatch.
func (c *Controller) TriggerEvent(ctx context.Context, event input.Event) error {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}
	if c.workers.Context().Err() != nil {
		return errors.New("controller is closed")
	}
	select {
	case c.events <- event:
		return nil
	case <-c.workers.Context().Done():
		return errors.New("controller is closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Controls lists the keys that have callbacks.
func (c *Controller) Controls(ctx context.Context) ([]input.Control, error) {
	return c.Registered(), nil
}

// Events returns the last event for each key.
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
	c.Register(control, triggers, ctrlFunc)
	return nil
}

// Close shuts down the server, if any, and stops dispatching.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var err error
	if c.server != nil {
		err = c.server.Shutdown(ctx)
		c.server = nil
	}
	c.workers.Stop()
	return err
}
