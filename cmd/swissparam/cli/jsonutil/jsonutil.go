// Package jsonutil contains small JSON helpers shared by the state and settings files.
package jsonutil

import (
	"encoding/json"
	"fmt"
)

// MarshalIndentWithNewline marshals v with indentation and appends a trailing
// newline so files written with it end cleanly.
func MarshalIndentWithNewline(v any, prefix, indent string) ([]byte, error) {
	data, err := json.MarshalIndent(v, prefix, indent)
	if err != nil {
		return nil, fmt.Errorf("marshal json: %w", err)
	}
	return append(data, '\n'), nil
}
