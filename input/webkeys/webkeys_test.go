package webkeys

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/samber/lo"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"
	"golang.org/x/time/rate"

	"github.com/robotmemory/keydrive/input"
	"github.com/robotmemory/keydrive/logging"
)

type recorder struct {
	mu     sync.Mutex
	events []input.Event
}

func (r *recorder) record(ctx context.Context, ev input.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) snapshot() []input.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]input.Event{}, r.events...)
}

func TestHandler(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewTestLogger(t)
	c := NewController(logger)
	defer func() {
		test.That(t, c.Close(ctx), test.ShouldBeNil)
	}()

	rec := &recorder{}
	test.That(t, c.RegisterControlCallback(ctx, "z", []input.EventType{input.ButtonChange}, rec.record), test.ShouldBeNil)

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.PostForm(srv.URL+"/keys/press", url.Values{"key": {"z"}})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, resp.Body.Close(), test.ShouldBeNil)
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusAccepted)

	resp, err = http.Post(srv.URL+"/events", "application/json",
		strings.NewReader(`{"event":"ButtonRelease","control":"z"}`))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, resp.Body.Close(), test.ShouldBeNil)
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusAccepted)

	testutils.WaitForAssertion(t, func(tb testing.TB) {
		test.That(tb, rec.snapshot(), test.ShouldHaveLength, 2)
	})
	events := rec.snapshot()
	test.That(t, events[0].Event, test.ShouldEqual, input.ButtonPress)
	test.That(t, events[0].Value, test.ShouldEqual, 1)
	test.That(t, events[1].Event, test.ShouldEqual, input.ButtonRelease)

	resp, err = http.Get(srv.URL + "/state")
	test.That(t, err, test.ShouldBeNil)
	var state map[input.Control]input.Event
	test.That(t, json.NewDecoder(resp.Body).Decode(&state), test.ShouldBeNil)
	test.That(t, resp.Body.Close(), test.ShouldBeNil)
	test.That(t, state["z"].Event, test.ShouldEqual, input.ButtonRelease)

	controls, err := c.Controls(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, controls, test.ShouldResemble, []input.Control{"z"})
}

func TestHandlerRejects(t *testing.T) {
	ctx := context.Background()
	c := NewController(logging.NewTestLogger(t))
	defer func() {
		test.That(t, c.Close(ctx), test.ShouldBeNil)
	}()
	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	for _, tc := range []struct {
		path, contentType, body string
		status                  int
	}{
		{"/keys/press", "application/x-www-form-urlencoded", "", http.StatusBadRequest},
		{"/keys/hold", "application/x-www-form-urlencoded", "key=z", http.StatusNotFound},
		{"/events", "application/json", "{", http.StatusBadRequest},
		{"/events", "application/json", `{"event":"ButtonChange","control":"z"}`, http.StatusBadRequest},
	} {
		resp, err := http.Post(srv.URL+tc.path, tc.contentType, strings.NewReader(tc.body))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, resp.Body.Close(), test.ShouldBeNil)
		test.That(t, resp.StatusCode, test.ShouldEqual, tc.status)
	}
}

func TestCORS(t *testing.T) {
	ctx := context.Background()
	c := NewController(logging.NewTestLogger(t))
	defer func() {
		test.That(t, c.Close(ctx), test.ShouldBeNil)
	}()
	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/keys/press", strings.NewReader("key=q"))
	test.That(t, err, test.ShouldBeNil)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Origin", "http://robot.local")
	resp, err := http.DefaultClient.Do(req)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, resp.Body.Close(), test.ShouldBeNil)
	test.That(t, resp.Header.Get("Access-Control-Allow-Origin"), test.ShouldEqual, "*")
}

func TestServerAndClose(t *testing.T) {
	ctx := context.Background()
	c, err := NewServer(ctx, Config{ListenAddress: "127.0.0.1:0"}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, c.Addr(), test.ShouldNotBeNil)

	resp, err := http.PostForm("http://"+c.Addr().String()+"/keys/press", url.Values{"key": {"r"}})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, resp.Body.Close(), test.ShouldBeNil)
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusAccepted)

	test.That(t, c.Close(ctx), test.ShouldBeNil)
	err = c.TriggerEvent(ctx, input.Event{Event: input.ButtonPress, Control: "r"})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestConfigValidate(t *testing.T) {
	test.That(t, (&Config{}).Validate("input"), test.ShouldBeNil)
	test.That(t, (&Config{ListenAddress: ":8090"}).Validate("input"), test.ShouldBeNil)
	test.That(t, (&Config{ListenAddress: "nope"}).Validate("input"), test.ShouldNotBeNil)
	test.That(t, (&Config{MaxEventsPerSecond: -1}).Validate("input"), test.ShouldNotBeNil)
}

func TestRateLimit(t *testing.T) {
	ctx := context.Background()
	c := NewController(logging.NewTestLogger(t))
	defer func() {
		test.That(t, c.Close(ctx), test.ShouldBeNil)
	}()
	c.limiter = rate.NewLimiter(rate.Every(time.Hour), 2)
	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	statuses := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		resp, err := http.PostForm(srv.URL+"/keys/press", url.Values{"key": {"z"}})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, resp.Body.Close(), test.ShouldBeNil)
		statuses = append(statuses, resp.StatusCode)
	}
	test.That(t, statuses, test.ShouldResemble, []int{http.StatusAccepted, http.StatusAccepted, http.StatusTooManyRequests})

	// releases still get through once presses are exhausted
	rec := &recorder{}
	test.That(t, c.RegisterControlCallback(ctx, "z", []input.EventType{input.ButtonRelease}, rec.record), test.ShouldBeNil)
	resp, err := http.PostForm(srv.URL+"/keys/release", url.Values{"key": {"z"}})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, resp.Body.Close(), test.ShouldBeNil)
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusAccepted)

	resp, err = http.Post(srv.URL+"/events", "application/json",
		strings.NewReader(`{"event":"ButtonRelease","control":"z"}`))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, resp.Body.Close(), test.ShouldBeNil)
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusAccepted)

	testutils.WaitForAssertion(t, func(tb testing.TB) {
		test.That(tb, lo.Map(rec.snapshot(), func(ev input.Event, _ int) input.EventType { return ev.Event }),
			test.ShouldResemble, []input.EventType{input.ButtonRelease, input.ButtonRelease})
	})

	// local injection is not limited
	test.That(t, c.TriggerEvent(ctx, input.Event{Event: input.ButtonRelease, Control: "z"}), test.ShouldBeNil)
}
