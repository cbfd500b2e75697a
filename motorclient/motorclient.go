// Package motorclient sends start, stop and move requests to the motor server. Sends are
// best-effort: callers never wait for or observe the outcome.
package motorclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	goutils "go.viam.com/utils"

	"github.com/robotmemory/keydrive/direction"
	"github.com/robotmemory/keydrive/logging"
	"github.com/robotmemory/keydrive/utils"
)

// Notifier issues motor requests without blocking the caller.
type Notifier interface {
	// Start starts the drive motor in a forward or backward direction.
	Start(dir direction.Direction)
	// Stop stops the drive motor.
	Stop()
	// Move sends an immediate steer (left, right) or reset (stop).
	Move(dir direction.Direction)
}

// Action names a motor request.
type Action string

// The motor actions.
const (
	ActionStart = Action("start")
	ActionStop  = Action("stop")
	ActionMove  = Action("move")
)

// ParseAction validates an action name.
func ParseAction(s string) (Action, error) {
	a := Action(strings.ToLower(s))
	switch a {
	case ActionStart, ActionStop, ActionMove:
		return a, nil
	default:
		return "", errors.Errorf("unknown action %q", s)
	}
}

// Request is a single motor request. Direction is None for stop.
type Request struct {
	Action    Action
	Direction direction.Direction
}

// Validate checks that the direction fits the action.
func (r Request) Validate() error {
	switch r.Action {
	case ActionStart:
		if !r.Direction.IsDrive() {
			return errors.Errorf("start needs forward or backward, got %s", r.Direction)
		}
	case ActionStop:
		if r.Direction != direction.None {
			return errors.Errorf("stop takes no direction, got %s", r.Direction)
		}
	case ActionMove:
		if r.Direction == direction.None {
			return errors.New("move needs a direction")
		}
	default:
		return errors.Errorf("unknown action %q", r.Action)
	}
	return nil
}

func (r Request) String() string {
	if r.Direction == direction.None {
		return string(r.Action)
	}
	return fmt.Sprintf("%s %s", r.Action, r.Direction)
}

// Default endpoint paths and limits.
const (
	DefaultStartPath = "/moteur/start"
	DefaultStopPath  = "/moteur/stop"
	DefaultMovePath  = "/moove"
	DefaultTimeout   = 2 * time.Second
	DefaultQueueSize = 32
)

// Config describes where and how requests are sent.
type Config struct {
	BaseURL   string
	StartPath string
	StopPath  string
	MovePath  string
	Timeout   time.Duration
	QueueSize int
	WireNames direction.WireNames
}

func (cfg Config) withDefaults() Config {
	if cfg.StartPath == "" {
		cfg.StartPath = DefaultStartPath
	}
	if cfg.StopPath == "" {
		cfg.StopPath = DefaultStopPath
	}
	if cfg.MovePath == "" {
		cfg.MovePath = DefaultMovePath
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	return cfg
}

// Stats counts what happened to notified requests.
type Stats struct {
	Sent    int64
	Failed  int64
	Dropped int64
}

var _ = Notifier(&Client{})

// Client is the HTTP Notifier. Notified requests go through one queue and one sender, so the
// server sees them in the order the keys produced them.
type Client struct {
	cfg        Config
	base       *url.URL
	httpClient *http.Client
	logger     logging.Logger

	// mu orders enqueueing against Close so nothing is queued after the final drain.
	mu      sync.Mutex
	closed  bool
	queue   chan Request
	workers utils.StoppableWorkers

	sent, failed, dropped atomic.Int64
	// pending counts requests queued or in flight.
	pending atomic.Int64
}

// NewClient validates the config and starts the sender.
func NewClient(cfg Config, logger logging.Logger) (*Client, error) {
	cfg = cfg.withDefaults()
	if cfg.BaseURL == "" {
		return nil, errors.New("motor base URL is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "invalid motor base URL")
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, errors.Errorf("motor base URL must be http or https, got %q", cfg.BaseURL)
	}

	c := &Client{
		cfg:  cfg,
		base: base,
		httpClient: &http.Client{
			// the server answers form posts with a redirect to its page; that is success
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: logger,
		queue:  make(chan Request, cfg.QueueSize),
	}
	c.workers = utils.NewStoppableWorkers(c.sender)
	return c, nil
}

// Start notifies a drive start.
func (c *Client) Start(dir direction.Direction) {
	c.notify(Request{Action: ActionStart, Direction: dir})
}

// Stop notifies a drive stop.
func (c *Client) Stop() {
	c.notify(Request{Action: ActionStop})
}

// Move notifies an immediate move.
func (c *Client) Move(dir direction.Direction) {
	c.notify(Request{Action: ActionMove, Direction: dir})
}

func (c *Client) notify(req Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		c.dropped.Inc()
		return
	}
	c.pending.Inc()
	select {
	case c.queue <- req:
	default:
		c.pending.Dec()
		c.dropped.Inc()
		c.logger.Debugw("motor request queue full, dropping", "request", req.String())
	}
}

func (c *Client) sender(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-c.queue:
			if !c.send(ctx, req) {
				return
			}
		}
	}
}

// send performs one queued request and returns false once the client is closing.
func (c *Client) send(ctx context.Context, req Request) bool {
	// counters are updated before pending so Flush sees final stats
	defer c.pending.Dec()
	if ctx.Err() != nil {
		c.dropped.Inc()
		return false
	}
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	err := c.Do(reqCtx, req)
	cancel()
	switch {
	case err == nil:
		c.sent.Inc()
	case ctx.Err() != nil:
		// cancelled by Close
		c.dropped.Inc()
		return false
	default:
		c.failed.Inc()
		c.logger.Debugw("motor request failed", "request", req.String(), "error", err)
	}
	return true
}

// Endpoint returns the absolute URL for an action.
func (c *Client) Endpoint(action Action) string {
	var path string
	switch action {
	case ActionStart:
		path = c.cfg.StartPath
	case ActionStop:
		path = c.cfg.StopPath
	case ActionMove:
		path = c.cfg.MovePath
	}
	return c.base.JoinPath(path).String()
}

// Body returns the form body for a request. Stop has an empty body.
func (c *Client) Body(req Request) string {
	if req.Direction == direction.None {
		return ""
	}
	return url.Values{"direction": {c.cfg.WireNames.Name(req.Direction)}}.Encode()
}

// Do sends one request and waits for the response. 2xx and 3xx responses are success.
func (c *Client) Do(ctx context.Context, req Request) error {
	if err := req.Validate(); err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint(req.Action), strings.NewReader(c.Body(req)))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer goutils.UncheckedErrorFunc(resp.Body.Close)
	//nolint:errcheck
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusBadRequest {
		return errors.Errorf("%s: unexpected status %s", req, resp.Status)
	}
	return nil
}

// Timeout returns the per-request timeout.
func (c *Client) Timeout() time.Duration {
	return c.cfg.Timeout
}

// Flush waits until every notified request has been sent or has failed.
func (c *Client) Flush(ctx context.Context) error {
	for c.pending.Load() > 0 {
		if !goutils.SelectContextOrWait(ctx, 10*time.Millisecond) {
			return errors.Wrapf(ctx.Err(), "%d requests still pending", c.pending.Load())
		}
	}
	return nil
}

// Stats returns the send counters.
func (c *Client) Stats() Stats {
	return Stats{Sent: c.sent.Load(), Failed: c.failed.Load(), Dropped: c.dropped.Load()}
}

// Close stops the sender. Queued requests that were not sent yet are dropped and in-flight
// requests are cancelled.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.workers.Stop()
	for {
		select {
		case <-c.queue:
			c.dropped.Inc()
			c.pending.Dec()
		default:
			c.httpClient.CloseIdleConnections()
			return nil
		}
	}
}
