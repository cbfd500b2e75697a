package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"

	"github.com/robotmemory/keydrive/config"
	"github.com/robotmemory/keydrive/direction"
	"github.com/robotmemory/keydrive/logging"
	"github.com/robotmemory/keydrive/motorclient"
)

func printf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	fmt.Fprintf(w, format+"\n", a...)
}

func keysAction(c *cli.Context) error {
	cfg, err := loadConfig(c, false)
	if err != nil {
		return err
	}
	var raw, names map[string]string
	if cfg != nil {
		raw = cfg.KeyMap
		names = cfg.Motor.DirectionNames
	}
	keyMap, err := direction.NewKeyMap(raw)
	if err != nil {
		return err
	}
	wireNames, err := direction.NewWireNames(names)
	if err != nil {
		return err
	}
	printf(c.App.Writer, "%s", keysTable(keyMap, wireNames))
	return nil
}

// keysTable lists bindings grouped by direction, in direction order.
func keysTable(keyMap direction.KeyMap, wireNames direction.WireNames) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Key", "Direction", "Sent As", "Request"})
	for _, dir := range direction.All {
		request := motorclient.ActionMove
		if dir.IsDrive() {
			request = motorclient.ActionStart
		}
		for _, label := range keyMap.LabelsFor(dir) {
			t.AppendRow(table.Row{label, dir, wireNames.Name(dir), request})
		}
	}
	return t.Render()
}

// parseRequest converts send arguments into a request.
func parseRequest(args []string) (motorclient.Request, error) {
	if len(args) == 0 || len(args) > 2 {
		return motorclient.Request{}, errors.New("expected ACTION [DIRECTION]")
	}
	action, err := motorclient.ParseAction(args[0])
	if err != nil {
		return motorclient.Request{}, err
	}
	req := motorclient.Request{Action: action}
	if len(args) == 2 {
		if req.Direction, err = direction.Parse(args[1]); err != nil {
			return motorclient.Request{}, err
		}
	}
	return req, req.Validate()
}

// motorConfig combines the config file and the --base-url flag.
func motorConfig(c *cli.Context, cfg *config.Config) (motorclient.Config, error) {
	var motor config.MotorConfig
	if cfg != nil {
		motor = cfg.Motor
	}
	if baseURL := c.String(flagBaseURL); baseURL != "" {
		motor.BaseURL = baseURL
	}
	if motor.BaseURL == "" {
		return motorclient.Config{}, errors.New("a motor server is required: use --config or --base-url")
	}
	return motor.ClientConfig()
}

func sendAction(c *cli.Context) error {
	req, err := parseRequest(c.Args().Slice())
	if err != nil {
		return err
	}
	cfg, err := loadConfig(c, false)
	if err != nil {
		return err
	}
	logger, err := newLogger(c, cfg)
	if err != nil {
		return err
	}
	clientCfg, err := motorConfig(c, cfg)
	if err != nil {
		return err
	}
	client, err := motorclient.NewClient(clientCfg, logger.Sublogger("motor"))
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(c.Context, client.Timeout())
	defer cancel()
	printf(c.App.Writer, "POST %s %s", client.Endpoint(req.Action), client.Body(req))
	if err := client.Do(ctx, req); err != nil {
		return errors.Wrap(err, "motor server did not accept the request")
	}
	//nolint:errcheck
	color.New(color.FgGreen).Fprintln(c.App.Writer, "ok")
	return nil
}

func replayAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("expected FILE")
	}
	steps, err := readReplay(c.Args().First())
	if err != nil {
		return err
	}
	cfg, err := loadConfig(c, false)
	if err != nil {
		return err
	}
	logger, err := newLogger(c, cfg)
	if err != nil {
		return err
	}
	if cfg == nil {
		cfg = &config.Config{}
	}
	adapterCfg, err := cfg.AdapterConfig()
	if err != nil {
		return err
	}

	if c.Bool(flagDryRun) {
		recorder := &motorclient.Recorder{}
		if err := replay(c.Context, steps, adapterCfg, recorder, logger); err != nil {
			return err
		}
		printf(c.App.Writer, "%s", strings.Join(lo.Map(recorder.Requests(), func(req motorclient.Request, _ int) string {
			return req.String()
		}), "\n"))
		return nil
	}

	clientCfg, err := motorConfig(c, cfg)
	if err != nil {
		return err
	}
	client, err := motorclient.NewClient(clientCfg, logger.Sublogger("motor"))
	if err != nil {
		return err
	}
	if err := replay(c.Context, steps, adapterCfg, client, logger); err != nil {
		return err
	}
	// let queued sends finish before closing drops them
	waitForQueue(c.Context, client, logger)
	stats := client.Stats()
	summary := color.New(color.FgGreen)
	if stats.Failed > 0 || stats.Dropped > 0 {
		summary = color.New(color.FgYellow)
	}
	//nolint:errcheck
	summary.Fprintf(c.App.Writer, "sent %d, failed %d, dropped %d\n", stats.Sent, stats.Failed, stats.Dropped)
	return client.Close()
}

func waitForQueue(ctx context.Context, client *motorclient.Client, logger logging.Logger) {
	ctx, cancel := context.WithTimeout(ctx, client.Timeout())
	defer cancel()
	if err := client.Flush(ctx); err != nil {
		logger.Warnw("not every request was sent", "error", err)
	}
}
