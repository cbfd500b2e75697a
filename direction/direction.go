// Package direction defines the direction tokens sent to the motor server and the key map that
// translates key labels into them.
package direction

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// Direction is a logical movement token.
type Direction string

// The set of known directions.
const (
	None     = Direction("")
	Forward  = Direction("forward")
	Backward = Direction("backward")
	Left     = Direction("left")
	Right    = Direction("right")
	Stop     = Direction("stop")
)

// All lists every known direction.
var All = []Direction{Forward, Backward, Left, Right, Stop}

// IsDrive returns whether the direction is on the forward/backward axis. Drive directions are
// debounced and held; the rest are sent immediately.
func (d Direction) IsDrive() bool {
	return d == Forward || d == Backward
}

// IsSteer returns whether the direction is sent as an immediate move.
func (d Direction) IsSteer() bool {
	return d == Left || d == Right || d == Stop
}

func (d Direction) String() string {
	if d == None {
		return "none"
	}
	return string(d)
}

// Parse converts a token into a Direction.
func Parse(s string) (Direction, error) {
	d := Direction(strings.ToLower(strings.TrimSpace(s)))
	if !lo.Contains(All, d) {
		return None, errors.Errorf("unknown direction %q", s)
	}
	return d, nil
}

// KeyMap maps key labels to directions. It is never mutated once built.
type KeyMap struct {
	keys map[string]Direction
}

// DefaultKeys is the AZERTY layout: z/s drive, q/d steer, r resets.
var DefaultKeys = map[string]Direction{
	"z": Forward,
	"s": Backward,
	"q": Left,
	"d": Right,
	"r": Stop,
}

// NewKeyMap builds a KeyMap from label/token pairs. An empty input yields the default map.
func NewKeyMap(raw map[string]string) (KeyMap, error) {
	if len(raw) == 0 {
		return DefaultKeyMap(), nil
	}
	keys := make(map[string]Direction, len(raw))
	for label, token := range raw {
		if label == "" {
			return KeyMap{}, errors.New("key label must not be empty")
		}
		d, err := Parse(token)
		if err != nil {
			return KeyMap{}, errors.Wrapf(err, "key %q", label)
		}
		keys[label] = d
	}
	return KeyMap{keys: keys}, nil
}

// DefaultKeyMap returns the map from DefaultKeys.
func DefaultKeyMap() KeyMap {
	return KeyMap{keys: lo.Assign(DefaultKeys)}
}

// Lookup returns the direction bound to a label.
func (km KeyMap) Lookup(label string) (Direction, bool) {
	d, ok := km.keys[label]
	return d, ok
}

// Labels returns the mapped labels in sorted order.
func (km KeyMap) Labels() []string {
	labels := lo.Keys(km.keys)
	sort.Strings(labels)
	return labels
}

// LabelsFor returns the labels bound to a direction, sorted.
func (km KeyMap) LabelsFor(d Direction) []string {
	labels := lo.Keys(lo.PickByValues(km.keys, []Direction{d}))
	sort.Strings(labels)
	return labels
}

// Len returns the number of mapped labels.
func (km KeyMap) Len() int {
	return len(km.keys)
}

// WireNames maps each direction to the value sent in the direction form field.
type WireNames struct {
	names map[Direction]string
}

// NewWireNames builds wire names from token/name overrides. Directions without an override use
// their own token.
func NewWireNames(overrides map[string]string) (WireNames, error) {
	names := lo.SliceToMap(All, func(d Direction) (Direction, string) {
		return d, string(d)
	})
	for token, name := range overrides {
		d, err := Parse(token)
		if err != nil {
			return WireNames{}, errors.Wrap(err, "direction_names")
		}
		if name == "" {
			return WireNames{}, errors.Errorf("direction_names: empty name for %q", token)
		}
		names[d] = name
	}
	return WireNames{names: names}, nil
}

// Name returns the wire value for a direction.
func (wn WireNames) Name(d Direction) string {
	if name, ok := wn.names[d]; ok {
		return name
	}
	return string(d)
}
