package repository

import (
	"encoding/json"
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// Decode maps an entity's field document onto a typed model. Timestamps
// round-trip through JSON as RFC 3339 strings, so a string-to-time hook is
// required.
func Decode(e *Entity, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeHookFunc("2006-01-02T15:04:05.999999999Z07:00"),
	})
	if err != nil {
		return fmt.Errorf("failed to build decoder: %w", err)
	}
	if err := decoder.Decode(e.Fields); err != nil {
		return fmt.Errorf("failed to decode %s %s: %w", e.Type, e.ID, err)
	}
	return nil
}

// Encode turns a typed model into the field document stored for it.
func Encode(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode fields: %w", err)
	}
	fields := map[string]any{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("failed to encode fields: %w", err)
	}
	return fields, nil
}
