package config

import (
	"reflect"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
)

// AttributeMap is a convenience wrapper for pulling out typed information from a map.
type AttributeMap map[string]interface{}

// Decode converts the attributes into target, a pointer to a struct with mapstructure tags.
// Duration strings such as "600ms" decode into time.Duration fields and unknown keys are
// rejected.
func (am AttributeMap) Decode(target interface{}) error {
	return decode(map[string]interface{}(am), target)
}

var durationType = reflect.TypeOf(time.Duration(0))

// durationStringsOnly rejects bare numbers for durations, which would otherwise decode as
// nanoseconds.
func durationStringsOnly(from, to reflect.Type, data interface{}) (interface{}, error) {
	if to != durationType || from.Kind() == reflect.String || from == durationType {
		return data, nil
	}
	return nil, errors.Errorf("duration must be a string with a unit such as \"200ms\", got %v", data)
}

func decode(from, target interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			durationStringsOnly,
			mapstructure.StringToTimeDurationHookFunc(),
		),
		ErrorUnused: true,
		Result:      target,
	})
	if err != nil {
		return errors.Wrap(err, "error creating decoder")
	}
	if err := decoder.Decode(from); err != nil {
		return errors.Wrap(err, "error decoding")
	}
	return nil
}
