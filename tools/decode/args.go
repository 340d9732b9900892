package decode

import (
	"encoding/json"
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// String decodes one positional raw argument expected to be a JSON
// string.
func String(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("argument is not a string: %w", err)
	}
	return s, nil
}

// Struct decodes a JSON-object argument into T. Field names follow the
// `json` tag; input is weakly typed so "123" still lands in an int
// field.
func Struct[T any](raw json.RawMessage) (*T, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("argument is not an object: %w", err)
	}

	var out T
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           &out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(m); err != nil {
		return nil, err
	}
	return &out, nil
}
