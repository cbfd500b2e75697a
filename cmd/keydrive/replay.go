package main

import (
	"bufio"
	"context"
	"os"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/yosuke-furukawa/json5/encoding/json5"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"github.com/robotmemory/keydrive/input"
	"github.com/robotmemory/keydrive/input/fake"
	"github.com/robotmemory/keydrive/logging"
	"github.com/robotmemory/keydrive/motorclient"
	"github.com/robotmemory/keydrive/services/keyremote"
)

// replayStep is one line of a replay script:
//
//	{"key": "z", "event": "ButtonPress", "after": "250ms"}
type replayStep struct {
	Key   string
	Event input.EventType
	After time.Duration
}

type replayRecord struct {
	Key   string `json:"key"`
	Event string `json:"event"`
	After string `json:"after"`
}

// readReplay reads a replay script. Blank lines and lines starting with // are skipped.
func readReplay(path string) ([]replayStep, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer goutils.UncheckedErrorFunc(f.Close)

	var steps []replayStep
	scanner := bufio.NewScanner(f)
	for lineNum := 1; scanner.Scan(); lineNum++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "//") {
			continue
		}
		step, err := parseReplayLine(line)
		if err != nil {
			return nil, errors.Wrapf(err, "%s:%d", path, lineNum)
		}
		steps = append(steps, step)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return steps, nil
}

func parseReplayLine(line string) (replayStep, error) {
	var record replayRecord
	if err := json5.Unmarshal([]byte(line), &record); err != nil {
		return replayStep{}, err
	}
	if record.Key == "" {
		return replayStep{}, errors.New("key is required")
	}
	eventType, err := input.ParseEventType(record.Event)
	if err != nil {
		return replayStep{}, err
	}
	step := replayStep{Key: record.Key, Event: eventType}
	if record.After != "" {
		if step.After, err = time.ParseDuration(record.After); err != nil {
			return replayStep{}, err
		}
		if step.After < 0 {
			return replayStep{}, errors.Errorf("negative delay %s", record.After)
		}
	}
	return step, nil
}

// replay feeds steps through a fake controller into a key remote, in real time. It returns once
// the last step has had time to take effect.
func replay(
	ctx context.Context,
	steps []replayStep,
	adapterCfg keyremote.Config,
	notifier motorclient.Notifier,
	logger logging.Logger,
) error {
	return replayWithClock(ctx, clock.New(), steps, adapterCfg, notifier, logger)
}

func replayWithClock(
	ctx context.Context,
	clk clock.Clock,
	steps []replayStep,
	adapterCfg keyremote.Config,
	notifier motorclient.Notifier,
	logger logging.Logger,
) (err error) {
	adapter, err := keyremote.New(adapterCfg, notifier, logger.Sublogger("keys"), keyremote.WithClock(clk))
	if err != nil {
		return err
	}
	controller := fake.NewController()
	defer func() {
		err = multierr.Combine(err, adapter.Close(ctx), controller.Close(ctx))
	}()
	if err := adapter.Attach(ctx, controller); err != nil {
		return err
	}

	wait := func(d time.Duration) error {
		if d <= 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clk.After(d):
			return nil
		}
	}

	for _, step := range steps {
		if err := wait(step.After); err != nil {
			return err
		}
		logger.Debugw("replay", "key", step.Key, "event", step.Event)
		if err := controller.TriggerEvent(ctx, input.Event{
			Time:    clk.Now(),
			Event:   step.Event,
			Control: input.Control(step.Key),
			Value:   replayValue(step.Event),
		}); err != nil {
			return err
		}
	}

	debounce := adapterCfg.Debounce
	if debounce == 0 {
		debounce = keyremote.DefaultDebounce
	}
	return wait(debounce + debounce/2)
}

func replayValue(et input.EventType) float64 {
	if et == input.ButtonPress {
		return 1
	}
	return 0
}
