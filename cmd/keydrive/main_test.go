package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	"github.com/robotmemory/keydrive/config"
	"github.com/robotmemory/keydrive/direction"
	"github.com/robotmemory/keydrive/input"
	"github.com/robotmemory/keydrive/input/fake"
	"github.com/robotmemory/keydrive/logging"
	"github.com/robotmemory/keydrive/motorclient"
)

type motorServer struct {
	mu       sync.Mutex
	requests []string
}

func (s *motorServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	s.mu.Lock()
	s.requests = append(s.requests, strings.TrimSpace(r.URL.Path+" "+string(body)))
	s.mu.Unlock()
	// the motor server redirects back to its page
	http.Redirect(w, r, "/", http.StatusFound)
}

func (s *motorServer) received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.requests...)
}

func writeFile(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	test.That(t, os.WriteFile(path, []byte(contents), 0o600), test.ShouldBeNil)
	return path
}

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &out
	err := app.RunContext(context.Background(), append([]string{"keydrive"}, args...))
	return out.String(), err
}

func TestKeysCommand(t *testing.T) {
	out, err := runApp(t, "keys")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "KEY")
	for _, key := range []string{"z", "s", "q", "d", "r"} {
		test.That(t, out, test.ShouldContainSubstring, key)
	}
	test.That(t, out, test.ShouldContainSubstring, "forward")
	test.That(t, out, test.ShouldContainSubstring, "start")

	cfgPath := writeFile(t, "keydrive.json5", `{
		motor: {base_url: "http://localhost:5000", direction_names: {forward: "haut"}},
		keymap: {w: "forward"},
		input: {type: "web"},
	}`)
	out, err = runApp(t, "--config", cfgPath, "keys")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "haut")
	test.That(t, out, test.ShouldNotContainSubstring, "backward")

	table := keysTable(direction.DefaultKeyMap(), direction.WireNames{})
	test.That(t, strings.Index(table, "forward"), test.ShouldBeLessThan, strings.Index(table, "backward"))
}

func TestParseRequest(t *testing.T) {
	req, err := parseRequest([]string{"start", "Forward"})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, req, test.ShouldResemble, motorclient.Request{Action: motorclient.ActionStart, Direction: direction.Forward})

	req, err = parseRequest([]string{"stop"})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, req, test.ShouldResemble, motorclient.Request{Action: motorclient.ActionStop})

	for _, args := range [][]string{
		nil,
		{"start"},
		{"start", "left"},
		{"stop", "forward"},
		{"move", "up"},
		{"jump", "left"},
		{"move", "left", "now"},
	} {
		_, err := parseRequest(args)
		test.That(t, err, test.ShouldNotBeNil)
	}
}

func TestSendCommand(t *testing.T) {
	ms := &motorServer{}
	srv := httptest.NewServer(ms)
	defer srv.Close()

	out, err := runApp(t, "send", "--base-url", srv.URL, "start", "backward")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "POST "+srv.URL+"/moteur/start direction=backward")
	test.That(t, out, test.ShouldContainSubstring, "ok")

	cfgPath := writeFile(t, "keydrive.json5", `{
		motor: {base_url: "`+srv.URL+`", direction_names: {left: "gauche"}},
		input: {type: "web"},
	}`)
	_, err = runApp(t, "-c", cfgPath, "send", "move", "left")
	test.That(t, err, test.ShouldBeNil)
	_, err = runApp(t, "-c", cfgPath, "send", "stop")
	test.That(t, err, test.ShouldBeNil)

	test.That(t, ms.received(), test.ShouldResemble, []string{
		"/moteur/start direction=backward",
		"/moove direction=gauche",
		"/moteur/stop",
	})

	_, err = runApp(t, "send", "stop")
	test.That(t, err, test.ShouldNotBeNil)

	srv.Close()
	_, err = runApp(t, "send", "--base-url", srv.URL, "stop")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "did not accept")
}

func TestReadReplay(t *testing.T) {
	path := writeFile(t, "drive.jsonl", `
// forward for a while, then turn
{"key": "z", "event": "ButtonPress"}
{"key": "z", "event": "ButtonRelease", "after": "1.5s"}

{key: "q", event: "ButtonPress", after: "10ms"}
`)
	steps, err := readReplay(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, steps, test.ShouldResemble, []replayStep{
		{Key: "z", Event: input.ButtonPress},
		{Key: "z", Event: input.ButtonRelease, After: 1500 * time.Millisecond},
		{Key: "q", Event: input.ButtonPress, After: 10 * time.Millisecond},
	})

	for _, tc := range []struct {
		line     string
		expected string
	}{
		{`{"key": "z", "event": "ButtonChange"}`, "registration"},
		{`{"key": "z", "event": "Pressed"}`, "Pressed"},
		{`{"event": "ButtonPress"}`, "key"},
		{`{"key": "z", "event": "ButtonPress", "after": "soon"}`, "soon"},
		{`{"key": "z", "event": "ButtonPress", "after": "-1s"}`, "negative"},
		{`{"key": "z"`, ""},
	} {
		_, err := readReplay(writeFile(t, "bad.jsonl", "\n"+tc.line))
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "bad.jsonl:2")
		test.That(t, err.Error(), test.ShouldContainSubstring, tc.expected)
	}

	_, err = readReplay(filepath.Join(t.TempDir(), "missing.jsonl"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestReplayDryRun(t *testing.T) {
	cfgPath := writeFile(t, "keydrive.json5", `{
		motor: {base_url: "http://localhost:5000"},
		debounce: "100ms",
		input: {type: "web"},
	}`)
	script := writeFile(t, "drive.jsonl", strings.Join([]string{
		`{"key": "z", "event": "ButtonPress"}`,
		`{"key": "z", "event": "ButtonPress", "after": "50ms"}`,
		`{"key": "z", "event": "ButtonRelease", "after": "250ms"}`,
		`{"key": "x", "event": "ButtonPress"}`,
		`{"key": "q", "event": "ButtonPress"}`,
		`{"key": "s", "event": "ButtonPress"}`,
		`{"key": "s", "event": "ButtonRelease", "after": "10ms"}`,
	}, "\n"))

	out, err := runApp(t, "-c", cfgPath, "replay", "--dry-run", script)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, strings.TrimSpace(out), test.ShouldEqual, "start forward\nstop\nmove left")
}

func TestReplaySends(t *testing.T) {
	ms := &motorServer{}
	srv := httptest.NewServer(ms)
	defer srv.Close()

	cfgPath := writeFile(t, "keydrive.json5", `{
		motor: {base_url: "http://localhost:1"},
		debounce: "20ms",
		input: {type: "web"},
	}`)
	script := writeFile(t, "drive.jsonl", `{"key": "d", "event": "ButtonPress"}`+"\n"+`{"key": "r", "event": "ButtonPress"}`)

	out, err := runApp(t, "-c", cfgPath, "replay", "--base-url", srv.URL, script)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "sent 2, failed 0, dropped 0")
	test.That(t, ms.received(), test.ShouldResemble, []string{"/moove direction=right", "/moove direction=stop"})
}

func newTestRunner(t *testing.T, controller *fake.Controller) *runner {
	t.Helper()
	return &runner{
		logger:      logging.NewTestLogger(t),
		onInterrupt: func() {},
		makeController: func(context.Context, config.InputConfig, func(), logging.Logger) (closableController, error) {
			return controller, nil
		},
	}
}

func readConfig(t *testing.T, contents string) *config.Config {
	t.Helper()
	cfg, err := config.FromReader("keydrive.json5", strings.NewReader(contents), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	return cfg
}

func TestRunnerReconfigure(t *testing.T) {
	ctx := context.Background()
	ms := &motorServer{}
	srv := httptest.NewServer(ms)
	defer srv.Close()

	controller := fake.NewController()
	r := newTestRunner(t, controller)
	cfg := readConfig(t, `{motor: {base_url: "`+srv.URL+`"}, debounce: "10ms", input: {type: "web"}}`)
	test.That(t, r.build(ctx, cfg), test.ShouldBeNil)

	test.That(t, controller.Press(ctx, "z"), test.ShouldBeNil)
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, ms.received(), test.ShouldResemble, []string{"/moteur/start direction=forward"})
	})

	// rebinding while driving stops the motor and rebuilds the bindings on the same controller
	r.reconfigure(ctx, readConfig(t, `{
		motor: {base_url: "`+srv.URL+`"},
		debounce: "10ms",
		keymap: {w: "forward"},
		input: {type: "web"},
	}`))
	test.That(t, ms.received()[1], test.ShouldEqual, "/moteur/stop")

	test.That(t, controller.Press(ctx, "z"), test.ShouldBeNil)
	test.That(t, controller.Press(ctx, "w"), test.ShouldBeNil)
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, ms.received(), test.ShouldResemble, []string{
			"/moteur/start direction=forward",
			"/moteur/stop",
			"/moteur/start direction=forward",
		})
	})

	// log-only changes keep everything running
	adapter := r.adapter
	r.reconfigure(ctx, readConfig(t, `{
		motor: {base_url: "`+srv.URL+`"},
		debounce: "10ms",
		keymap: {w: "forward"},
		input: {type: "web"},
		log: {level: "warn"},
	}`))
	test.That(t, r.adapter, test.ShouldEqual, adapter)
	test.That(t, r.logger.GetLevel(), test.ShouldEqual, logging.WARN)

	test.That(t, r.close(ctx), test.ShouldBeNil)
	test.That(t, ms.received(), test.ShouldHaveLength, 4)
	test.That(t, ms.received()[3], test.ShouldEqual, "/moteur/stop")
	test.That(t, controller.Press(ctx, "w"), test.ShouldNotBeNil)
	test.That(t, r.notifier, test.ShouldBeNil)
}

func TestRunRequiresConfig(t *testing.T) {
	_, err := runApp(t, "run")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "--config")
}
