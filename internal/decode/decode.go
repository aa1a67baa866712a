// Package decode turns the loosely-typed JSON payload of an inbound
// gateway envelope into a concrete Go struct per event kind. Ported from
// the reference server's tools/decode.DecodeStruct, dropping its
// structpb.Struct input (this module has no protobuf dependency) in
// favor of decoding straight from map[string]any, which is what
// encoding/json produces for an envelope's "payload" field.
package decode

import (
	"reflect"
	"time"

	"github.com/mitchellh/mapstructure"
)

// Struct decodes src (typically a map[string]any from an unmarshaled
// envelope) into a new T, applying the same hook chain the reference
// server uses for its protobuf-sourced payloads: JSON numbers come back
// as float64 and need coercing to int where T expects one, and RFC3339
// timestamp strings need coercing to time.Time.
func Struct[T any](src any) (T, error) {
	var out T
	cfg := &mapstructure.DecoderConfig{
		Result:           &out,
		TagName:          "json",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			stringToTimeHook,
		),
	}
	dec, err := mapstructure.NewDecoder(cfg)
	if err != nil {
		return out, err
	}
	if err := dec.Decode(src); err != nil {
		return out, err
	}
	return out, nil
}

var timeType = reflect.TypeOf(time.Time{})

// stringToTimeHook coerces RFC3339 strings into time.Time fields, the
// form every timestamp takes in a JSON envelope.
func stringToTimeHook(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if from.Kind() != reflect.String || to != timeType {
		return data, nil
	}
	s := data.(string)
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}
