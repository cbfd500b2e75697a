// Package config defines the structures to configure keydrive: where the motor server lives, how
// keys map to directions and which input device feeds them.
package config

import (
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.viam.com/utils"

	"github.com/robotmemory/keydrive/direction"
	"github.com/robotmemory/keydrive/input/keyboard"
	"github.com/robotmemory/keydrive/input/terminal"
	"github.com/robotmemory/keydrive/input/webkeys"
	"github.com/robotmemory/keydrive/logging"
	"github.com/robotmemory/keydrive/motorclient"
	"github.com/robotmemory/keydrive/services/keyremote"
)

// A Config describes the configuration of keydrive.
type Config struct {
	Motor    MotorConfig       `json:"motor" mapstructure:"motor"`
	Debounce time.Duration     `json:"debounce,omitempty" mapstructure:"debounce"`
	KeyMap   map[string]string `json:"keymap,omitempty" mapstructure:"keymap"`
	Input    InputConfig       `json:"input" mapstructure:"input"`
	Log      LogConfig         `json:"log" mapstructure:"log"`

	ConfigFilePath string `json:"-" mapstructure:"-"`
}

// Ensure ensures all parts of the config are valid and converts input attributes.
func (c *Config) Ensure() error {
	if err := c.Motor.Validate("motor"); err != nil {
		return err
	}
	if c.Debounce < 0 {
		return utils.NewConfigValidationError("debounce", errors.New("must not be negative"))
	}
	if _, err := direction.NewKeyMap(c.KeyMap); err != nil {
		return utils.NewConfigValidationError("keymap", err)
	}
	if err := c.Input.Validate("input"); err != nil {
		return err
	}
	return c.Log.Validate("log")
}

// Validate is Ensure with the path prefixed to errors, for configs embedded elsewhere.
func (c *Config) Validate(path string) error {
	if err := c.Ensure(); err != nil {
		return errors.Wrap(err, path)
	}
	return nil
}

// AdapterConfig returns the key remote configuration. The config must have been ensured.
func (c *Config) AdapterConfig() (keyremote.Config, error) {
	keyMap, err := direction.NewKeyMap(c.KeyMap)
	if err != nil {
		return keyremote.Config{}, err
	}
	return keyremote.Config{KeyMap: keyMap, Debounce: c.Debounce}, nil
}

// MotorConfig describes the motor server.
type MotorConfig struct {
	BaseURL        string            `json:"base_url" mapstructure:"base_url"`
	Timeout        time.Duration     `json:"timeout,omitempty" mapstructure:"timeout"`
	StartPath      string            `json:"start_path,omitempty" mapstructure:"start_path"`
	StopPath       string            `json:"stop_path,omitempty" mapstructure:"stop_path"`
	MovePath       string            `json:"move_path,omitempty" mapstructure:"move_path"`
	QueueSize      int               `json:"queue_size,omitempty" mapstructure:"queue_size"`
	DirectionNames map[string]string `json:"direction_names,omitempty" mapstructure:"direction_names"`
}

// Validate ensures all parts of the config are valid.
func (config *MotorConfig) Validate(path string) error {
	if config.BaseURL == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "base_url")
	}
	if config.Timeout < 0 {
		return utils.NewConfigValidationError(path, errors.New("timeout must not be negative"))
	}
	if config.QueueSize < 0 {
		return utils.NewConfigValidationError(path, errors.New("queue_size must not be negative"))
	}
	if _, err := direction.NewWireNames(config.DirectionNames); err != nil {
		return utils.NewConfigValidationError(path+".direction_names", err)
	}
	return nil
}

// ClientConfig converts to the notifier configuration.
func (config *MotorConfig) ClientConfig() (motorclient.Config, error) {
	names, err := direction.NewWireNames(config.DirectionNames)
	if err != nil {
		return motorclient.Config{}, err
	}
	return motorclient.Config{
		BaseURL:   config.BaseURL,
		StartPath: config.StartPath,
		StopPath:  config.StopPath,
		MovePath:  config.MovePath,
		Timeout:   config.Timeout,
		QueueSize: config.QueueSize,
		WireNames: names,
	}, nil
}

// InputType names an input controller implementation.
type InputType string

// The known input types.
const (
	InputEvdev    InputType = "evdev"
	InputTerminal InputType = "terminal"
	InputWeb      InputType = "web"
)

// InputTypes lists every known input type.
var InputTypes = []InputType{InputEvdev, InputTerminal, InputWeb}

// InputConfig selects and configures the input controller.
type InputConfig struct {
	Type       InputType    `json:"type" mapstructure:"type"`
	Attributes AttributeMap `json:"attributes,omitempty" mapstructure:"attributes"`

	// ConvertedAttributes holds the typed attributes once validated. It is one of
	// *keyboard.Config, *terminal.Config or *webkeys.Config.
	ConvertedAttributes ConvertedAttributes `json:"-" mapstructure:"-"`
}

// ConvertedAttributes are typed input attributes.
type ConvertedAttributes interface {
	Validate(path string) error
}

// Validate ensures all parts of the config are valid and converts the attributes.
func (config *InputConfig) Validate(path string) error {
	if config.Type == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "type")
	}
	if !lo.Contains(InputTypes, config.Type) {
		return utils.NewConfigValidationError(path, errors.Errorf("unknown input type %q", config.Type))
	}
	converted, err := convertAttributes(config.Type, config.Attributes)
	if err != nil {
		return utils.NewConfigValidationError(path+".attributes", err)
	}
	if err := converted.Validate(path + ".attributes"); err != nil {
		return err
	}
	config.ConvertedAttributes = converted
	return nil
}

func convertAttributes(typ InputType, attributes AttributeMap) (ConvertedAttributes, error) {
	var target ConvertedAttributes
	switch typ {
	case InputEvdev:
		target = &keyboard.Config{}
	case InputTerminal:
		target = &terminal.Config{}
	case InputWeb:
		target = &webkeys.Config{}
	default:
		return nil, errors.Errorf("unknown input type %q", typ)
	}
	if err := attributes.Decode(target); err != nil {
		return nil, err
	}
	return target, nil
}

// LogConfig configures logging.
type LogConfig struct {
	Level      string                        `json:"level,omitempty" mapstructure:"level"`
	File       string                        `json:"file,omitempty" mapstructure:"file"`
	MaxSizeMB  int                           `json:"max_size_mb,omitempty" mapstructure:"max_size_mb"`
	MaxBackups int                           `json:"max_backups,omitempty" mapstructure:"max_backups"`
	Patterns   []logging.LoggerPatternConfig `json:"patterns,omitempty" mapstructure:"patterns"`
}

// Validate ensures all parts of the config are valid.
func (config *LogConfig) Validate(path string) error {
	if config.Level != "" {
		if _, err := logging.LevelFromString(config.Level); err != nil {
			return utils.NewConfigValidationError(path+".level", err)
		}
	}
	if config.MaxSizeMB < 0 || config.MaxBackups < 0 {
		return utils.NewConfigValidationError(path, errors.New("file rotation limits must not be negative"))
	}
	for idx, pattern := range config.Patterns {
		if !logging.ValidatePattern(pattern.Pattern) {
			return utils.NewConfigValidationError(path, errors.Errorf("patterns.%d: invalid pattern %q", idx, pattern.Pattern))
		}
		if _, err := logging.LevelFromString(pattern.Level); err != nil {
			return utils.NewConfigValidationError(path, errors.Wrapf(err, "patterns.%d", idx))
		}
	}
	return nil
}

// Logger builds the root logger described by the config. debug forces DEBUG regardless of the
// configured level.
func (config *LogConfig) Logger(name string, debug bool) (logging.Logger, error) {
	level := logging.INFO
	if config.Level != "" {
		parsed, err := logging.LevelFromString(config.Level)
		if err != nil {
			return nil, err
		}
		level = parsed
	}
	if debug {
		level = logging.DEBUG
	}

	var logger logging.Logger
	if config.File == "" {
		logger = logging.NewLogger(name)
		logger.SetLevel(level)
	} else {
		logger = logging.NewFileLogger(name, level, logging.FileConfig{
			Path:       config.File,
			MaxSizeMB:  config.MaxSizeMB,
			MaxBackups: config.MaxBackups,
		})
	}
	if len(config.Patterns) > 0 {
		if err := logging.UpdateLoggerPatterns(config.Patterns, logger); err != nil {
			return nil, err
		}
	}
	return logger, nil
}
