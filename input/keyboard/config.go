package keyboard

import (
	"github.com/pkg/errors"
)

// DefaultDeviceGlob finds keyboards by their stable by-path names.
const DefaultDeviceGlob = "/dev/input/by-path/*-event-kbd"

// Config is the attribute set of the evdev keyboard.
type Config struct {
	// Device is the event device path. When empty, the first match of DefaultDeviceGlob is used.
	Device string `json:"device" mapstructure:"device"`
	// Layout is "qwerty" (default) or "azerty".
	Layout string `json:"layout" mapstructure:"layout"`
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if _, err := ParseLayout(cfg.Layout); err != nil {
		return errors.Wrap(err, path)
	}
	return nil
}
