// Package keyboard reads key presses and releases from a Linux input device and reports them by
// key label.
package keyboard

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/robotmemory/keydrive/input"
)

// Layout translates physical key codes into the label printed on the key.
type Layout string

// The supported layouts.
const (
	QWERTY = Layout("qwerty")
	AZERTY = Layout("azerty")
)

// Linux input-event-codes for the keys we label. evdev reports physical positions, so these are
// the US positions regardless of the layout in use.
const (
	codeEsc       = 1
	codeQ         = 16
	codeW         = 17
	codeE         = 18
	codeR         = 19
	codeT         = 20
	codeY         = 21
	codeU         = 22
	codeI         = 23
	codeO         = 24
	codeP         = 25
	codeEnter     = 28
	codeA         = 30
	codeS         = 31
	codeD         = 32
	codeF         = 33
	codeG         = 34
	codeH         = 35
	codeJ         = 36
	codeK         = 37
	codeL         = 38
	codeSemicolon = 39
	codeZ         = 44
	codeX         = 45
	codeC         = 46
	codeV         = 47
	codeB         = 48
	codeN         = 49
	codeM         = 50
	codeSpace     = 57
	codeUp        = 103
	codeLeft      = 105
	codeRight     = 106
	codeDown      = 108
)

var qwertyLabels = map[uint16]input.Control{
	codeEsc: "escape", codeEnter: "enter", codeSpace: "space",
	codeUp: "up", codeDown: "down", codeLeft: "left", codeRight: "right",
	codeQ: "q", codeW: "w", codeE: "e", codeR: "r", codeT: "t", codeY: "y", codeU: "u", codeI: "i", codeO: "o", codeP: "p",
	codeA: "a", codeS: "s", codeD: "d", codeF: "f", codeG: "g", codeH: "h", codeJ: "j", codeK: "k", codeL: "l",
	codeSemicolon: ";",
	codeZ: "z", codeX: "x", codeC: "c", codeV: "v", codeB: "b", codeN: "n", codeM: "m",
}

// azertyOverrides lists the positions whose label differs from QWERTY.
var azertyOverrides = map[uint16]input.Control{
	codeQ:         "a",
	codeW:         "z",
	codeA:         "q",
	codeZ:         "w",
	codeSemicolon: "m",
	codeM:         ",",
}

// ParseLayout validates a layout name. Empty means QWERTY.
func ParseLayout(s string) (Layout, error) {
	switch Layout(strings.ToLower(s)) {
	case "", QWERTY:
		return QWERTY, nil
	case AZERTY:
		return AZERTY, nil
	default:
		return "", errors.Errorf("unknown keyboard layout %q", s)
	}
}

// Label returns the label of the key at the given code.
func (l Layout) Label(code uint16) (input.Control, bool) {
	if l == AZERTY {
		if label, ok := azertyOverrides[code]; ok {
			return label, true
		}
	}
	label, ok := qwertyLabels[code]
	return label, ok
}

// Labels returns every label the layout can produce.
func (l Layout) Labels() []input.Control {
	labels := make([]input.Control, 0, len(qwertyLabels))
	for code := range qwertyLabels {
		label, _ := l.Label(code)
		labels = append(labels, label)
	}
	return labels
}

// Key values reported by evdev for EV_KEY events.
const (
	valueRelease = 0
	valuePress   = 1
	valueRepeat  = 2
)

// eventTypeFor maps an EV_KEY value to an input event type. Autorepeat is a press.
func eventTypeFor(value int32) (input.EventType, bool) {
	switch value {
	case valuePress, valueRepeat:
		return input.ButtonPress, true
	case valueRelease:
		return input.ButtonRelease, true
	default:
		return "", false
	}
}

// translate converts a raw key event into an input.Event.
func translate(layout Layout, code uint16, value int32) (input.Event, bool) {
	label, ok := layout.Label(code)
	if !ok {
		return input.Event{}, false
	}
	et, ok := eventTypeFor(value)
	if !ok {
		return input.Event{}, false
	}
	ev := input.Event{Event: et, Control: label}
	if et == input.ButtonPress {
		ev.Value = 1
	}
	return ev, true
}
