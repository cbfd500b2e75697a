// Package main is the keydrive command: it drives a motor server from a keyboard.
package main

import (
	"context"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.viam.com/utils"

	"github.com/robotmemory/keydrive/config"
	"github.com/robotmemory/keydrive/logging"
)

const (
	flagConfig  = "config"
	flagDebug   = "debug"
	flagBaseURL = "base-url"
	flagDryRun  = "dry-run"
)

var logger = logging.NewLogger("keydrive")

func main() {
	utils.ContextualMain(mainWithArgs, logger.AsZap())
}

func mainWithArgs(ctx context.Context, args []string, _ *zap.SugaredLogger) error {
	return newApp().RunContext(ctx, args)
}

func newApp() *cli.App {
	return &cli.App{
		Name:            "keydrive",
		Usage:           "drive a motor server from the keyboard",
		HideHelpCommand: true,
		Flags: []cli.Flag{
			&cli.PathFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				EnvVars: []string{"KEYDRIVE_CONFIG"},
				Usage:   "load configuration from `FILE`",
			},
			&cli.BoolFlag{
				Name:  flagDebug,
				Usage: "enable debug logging",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "drive the motor from the configured input until interrupted",
				Action: runAction,
			},
			{
				Name:   "keys",
				Usage:  "print the effective key bindings",
				Action: keysAction,
			},
			{
				Name:      "send",
				Usage:     "send one request to the motor server and report the result",
				ArgsUsage: "ACTION [DIRECTION]",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  flagBaseURL,
						Usage: "motor server URL, overriding the config",
					},
				},
				Action: sendAction,
			},
			{
				Name:      "replay",
				Usage:     "feed a scripted sequence of key events through the key bindings",
				ArgsUsage: "FILE",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  flagBaseURL,
						Usage: "motor server URL, overriding the config",
					},
					&cli.BoolFlag{
						Name:  flagDryRun,
						Usage: "print the requests instead of sending them",
					},
				},
				Action: replayAction,
			},
		},
	}
}

// loadConfig reads the --config file. Without one, required fails and otherwise nil is returned.
func loadConfig(c *cli.Context, required bool) (*config.Config, error) {
	path := c.Path(flagConfig)
	if path == "" {
		if required {
			return nil, errors.New("--config is required")
		}
		return nil, nil
	}
	return config.Read(path, logger)
}

// newLogger builds the command's logger from the config, if any.
func newLogger(c *cli.Context, cfg *config.Config) (logging.Logger, error) {
	if cfg == nil {
		if c.Bool(flagDebug) {
			return logging.NewDebugLogger("keydrive"), nil
		}
		return logging.NewLogger("keydrive"), nil
	}
	return cfg.Log.Logger("keydrive", c.Bool(flagDebug))
}
