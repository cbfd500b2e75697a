package config

import (
	"reflect"
	"strings"
)

// A Diff is the difference between two configs, left and right
// where left is usually old and right is new. So the diff is the
// changes from left to right.
type Diff struct {
	Left, Right  *Config
	MotorEqual   bool
	AdapterEqual bool
	InputEqual   bool
	LogEqual     bool
}

// DiffConfigs returns the difference between the two given configs
// from left to right.
func DiffConfigs(left, right Config) *Diff {
	return &Diff{
		Left:         &left,
		Right:        &right,
		MotorEqual:   reflect.DeepEqual(left.Motor, right.Motor),
		AdapterEqual: left.Debounce == right.Debounce && reflect.DeepEqual(left.KeyMap, right.KeyMap),
		// converted attributes follow from these two
		InputEqual: left.Input.Type == right.Input.Type && reflect.DeepEqual(left.Input.Attributes, right.Input.Attributes),
		LogEqual:   reflect.DeepEqual(left.Log, right.Log),
	}
}

// Equal returns whether nothing changed.
func (diff *Diff) Equal() bool {
	return diff.MotorEqual && diff.AdapterEqual && diff.InputEqual && diff.LogEqual
}

// String names the sections that changed.
func (diff *Diff) String() string {
	var changed []string
	if !diff.MotorEqual {
		changed = append(changed, "motor")
	}
	if !diff.AdapterEqual {
		changed = append(changed, "keymap")
	}
	if !diff.InputEqual {
		changed = append(changed, "input")
	}
	if !diff.LogEqual {
		changed = append(changed, "log")
	}
	if len(changed) == 0 {
		return "no changes"
	}
	return strings.Join(changed, ", ") + " changed"
}
