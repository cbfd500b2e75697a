package main

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"github.com/robotmemory/keydrive/config"
	"github.com/robotmemory/keydrive/input"
	"github.com/robotmemory/keydrive/input/keyboard"
	"github.com/robotmemory/keydrive/input/terminal"
	"github.com/robotmemory/keydrive/input/webkeys"
	"github.com/robotmemory/keydrive/logging"
	"github.com/robotmemory/keydrive/motorclient"
	"github.com/robotmemory/keydrive/services/keyremote"
	"github.com/robotmemory/keydrive/utils"
)

// closableController is an input controller owned by the runner.
type closableController interface {
	input.Controller
	Close(ctx context.Context) error
}

// controllerFactory builds the configured input controller.
type controllerFactory func(ctx context.Context, cfg config.InputConfig, onInterrupt func(), logger logging.Logger) (
	closableController, error)

func newController(ctx context.Context, cfg config.InputConfig, onInterrupt func(), logger logging.Logger) (
	closableController, error,
) {
	switch attrs := cfg.ConvertedAttributes.(type) {
	case *keyboard.Config:
		kb, err := keyboard.NewKeyboard(ctx, *attrs, logger)
		if err != nil {
			return nil, err
		}
		return kb, nil
	case *terminal.Config:
		t, err := terminal.NewTerminal(ctx, *attrs, onInterrupt, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("reading keys from the terminal, ctrl-c to quit")
		return t, nil
	case *webkeys.Config:
		c, err := webkeys.NewServer(ctx, *attrs, logger)
		if err != nil {
			return nil, err
		}
		logger.Infow("accepting keys over http", "address", c.Addr().String())
		return c, nil
	default:
		return nil, errors.Errorf("input %q has no converted attributes", cfg.Type)
	}
}

// runner owns the live notifier, input controller and key remote, and rebuilds them when the
// config changes.
type runner struct {
	logger         logging.Logger
	onInterrupt    func()
	makeController controllerFactory

	mu         sync.Mutex
	cfg        *config.Config
	notifier   *motorclient.Client
	controller closableController
	adapter    *keyremote.Service
}

func runAction(c *cli.Context) error {
	cfg, err := loadConfig(c, true)
	if err != nil {
		return err
	}
	logger, err := newLogger(c, cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	r := &runner{logger: logger, onInterrupt: cancel, makeController: newController}
	if err := r.build(ctx, cfg); err != nil {
		return multierr.Combine(err, r.close(context.Background()))
	}

	workers := utils.NewStoppableWorkersWithContext(ctx, func(ctx context.Context) {
		err := config.Watch(ctx, cfg.ConfigFilePath, func(newCfg *config.Config) {
			r.reconfigure(ctx, newCfg)
		}, logger.Sublogger("config"))
		if err != nil {
			logger.Warnw("not watching config for changes", "error", err)
		}
	})

	logger.Infow("driving", "motor", cfg.Motor.BaseURL, "input", cfg.Input.Type)
	<-ctx.Done()
	workers.Stop()
	logger.Info("shutting down")
	return r.close(context.Background())
}

// build creates whatever is missing for cfg. The adapter is always rebuilt.
func (r *runner) build(ctx context.Context, cfg *config.Config) error {
	if r.notifier == nil {
		clientCfg, err := cfg.Motor.ClientConfig()
		if err != nil {
			return err
		}
		if r.notifier, err = motorclient.NewClient(clientCfg, r.logger.Sublogger("motor")); err != nil {
			return err
		}
	}
	if r.controller == nil {
		controller, err := r.makeController(ctx, cfg.Input, r.onInterrupt, r.logger.Sublogger("input"))
		if err != nil {
			return errors.Wrapf(err, "cannot open %s input", cfg.Input.Type)
		}
		r.controller = controller
	}

	adapterCfg, err := cfg.AdapterConfig()
	if err != nil {
		return err
	}
	adapter, err := keyremote.New(adapterCfg, r.notifier, r.logger.Sublogger("keys"))
	if err != nil {
		return err
	}
	if err := adapter.Attach(ctx, r.controller); err != nil {
		return multierr.Combine(err, adapter.Close(ctx))
	}
	r.adapter = adapter
	r.cfg = cfg
	r.logger.Debugw("key bindings", "keys", adapter.KeyMap().Labels())
	return nil
}

// teardown closes the adapter, and the controller or notifier when they are being replaced. A
// drive that was running is stopped first so the motor never outlives its key.
func (r *runner) teardown(ctx context.Context, closeController, closeNotifier bool) error {
	var errs error
	if r.adapter != nil {
		state := r.adapter.State()
		r.logger.Debugw("key state", "active", state.Active, "pending", state.Pending)
		errs = multierr.Append(errs, r.adapter.Close(ctx))
		r.adapter = nil
		if state.WasActive() && r.notifier != nil {
			r.stopMotor()
		}
	}
	if closeController && r.controller != nil {
		errs = multierr.Append(errs, r.controller.Close(ctx))
		r.controller = nil
	}
	if closeNotifier && r.notifier != nil {
		stats := r.notifier.Stats()
		r.logger.Debugw("motor requests", "sent", stats.Sent, "failed", stats.Failed, "dropped", stats.Dropped)
		errs = multierr.Append(errs, r.notifier.Close())
		r.notifier = nil
	}
	return errs
}

func (r *runner) stopMotor() {
	// the run context may already be cancelled
	ctx, cancel := context.WithTimeout(context.Background(), r.notifier.Timeout())
	defer cancel()
	if err := r.notifier.Do(ctx, motorclient.Request{Action: motorclient.ActionStop}); err != nil {
		r.logger.Warnw("could not stop the motor", "error", err)
	}
}

func (r *runner) reconfigure(ctx context.Context, newCfg *config.Config) {
	r.mu.Lock()
	defer r.mu.Unlock()

	diff := config.DiffConfigs(*r.cfg, *newCfg)
	if diff.Equal() {
		r.logger.Debug("config unchanged")
		return
	}
	r.logger.Infow("reconfiguring", "changes", diff.String())

	if !diff.LogEqual {
		r.applyLog(newCfg.Log)
	}
	if diff.MotorEqual && diff.AdapterEqual && diff.InputEqual {
		r.cfg = newCfg
		return
	}

	if err := r.teardown(ctx, !diff.InputEqual, !diff.MotorEqual); err != nil {
		r.logger.Warnw("error closing previous setup", "error", err)
	}
	if err := r.build(ctx, newCfg); err != nil {
		// what was built stays up; the next change fills in the rest
		r.logger.Errorw("cannot apply new config", "error", err)
	}
}

// applyLog updates levels in place. A new log file needs a restart.
func (r *runner) applyLog(cfg config.LogConfig) {
	level := logging.INFO
	if cfg.Level != "" {
		if parsed, err := logging.LevelFromString(cfg.Level); err == nil {
			level = parsed
		}
	}
	r.logger.SetLevel(level)
	if err := logging.UpdateLoggerPatterns(cfg.Patterns, r.logger); err != nil {
		r.logger.Warnw("invalid log patterns", "error", err)
	}
	if r.cfg.Log.File != cfg.File {
		r.logger.Warn("log file changes take effect on restart")
	}
}

func (r *runner) close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.teardown(ctx, true, true)
}
