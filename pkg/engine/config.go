package engine

import (
	"bytes"
	"encoding/json"
	"fmt"

	gojson "github.com/goccy/go-json"
)

// ParseConfig normalizes a persisted node configuration into a JSON object.
//
// Stores hand configs back either serialized (string, []byte, json.RawMessage) or
// structured. Both forms go through a JSON round trip so that two configs with
// the same content compare equal regardless of how they were stored. A nil or
// empty config is an empty object.
func ParseConfig(raw interface{}) (map[string]interface{}, error) {
	var data []byte

	switch v := raw.(type) {
	case nil:
		return map[string]interface{}{}, nil
	case string:
		data = []byte(v)
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		encoded, err := gojson.Marshal(v)
		if err != nil {
			return nil, NewError(ErrCodeInvalidConfig, fmt.Sprintf("config of type %T is not serializable", raw), err)
		}
		data = encoded
	}

	if len(data) == 0 {
		return map[string]interface{}{}, nil
	}

	var out map[string]interface{}
	if err := DecodeJSON(data, &out); err != nil {
		return nil, NewError(ErrCodeInvalidConfig, "config is not a JSON object", err)
	}
	if out == nil {
		out = map[string]interface{}{}
	}
	return out, nil
}

// NormalizeValue round-trips any value through JSON, producing plain maps, slices,
// strings, json.Number numbers and bools.
func NormalizeValue(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	data, err := gojson.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err := DecodeJSON(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DecodeJSON decodes data into v. Numbers landing in interface{} values are kept
// as json.Number so integers above 2^53 are not rounded.
func DecodeJSON(data []byte, v interface{}) error {
	dec := gojson.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}
