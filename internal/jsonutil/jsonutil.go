// Package jsonutil wraps github.com/go-json-experiment/json for the record
// and sample encoding used by the prober and the output sinks.
package jsonutil

import (
	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
)

// Marshal encodes v as compact JSON. Map keys are sorted so that identical
// values always produce identical bytes.
func Marshal(v any) ([]byte, error) {
	return json.Marshal(v, json.Deterministic(true))
}

// Unmarshal decodes data into v.
func Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// Valid reports whether data is a single well-formed JSON value.
func Valid(data []byte) bool {
	return jsontext.Value(data).IsValid()
}
