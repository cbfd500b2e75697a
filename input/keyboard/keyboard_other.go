//go:build !linux

package keyboard

import (
	"context"
	"errors"

	"github.com/robotmemory/keydrive/input"
	"github.com/robotmemory/keydrive/logging"
)

// Keyboard is only available on Linux.
type Keyboard struct {
	input.Controller
}

// NewKeyboard always fails off Linux.
func NewKeyboard(ctx context.Context, cfg Config, logger logging.Logger) (*Keyboard, error) {
	return nil, errors.New("evdev keyboards are only supported on linux")
}

// Close is a no-op.
func (kb *Keyboard) Close(ctx context.Context) error {
	return nil
}
