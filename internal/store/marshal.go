package store

import (
	"fmt"

	"github.com/roach88/traceledger/internal/canon"
)

// marshalObject converts an Object to canonical JSON TEXT for storage.
// Stored text is byte-identical to what the checksum was computed over.
func marshalObject(obj canon.Object) (string, error) {
	if obj == nil {
		obj = canon.Object{}
	}
	data, err := canon.Marshal(obj)
	if err != nil {
		return "", fmt.Errorf("marshal object: %w", err)
	}
	return string(data), nil
}

// unmarshalObject parses canonical JSON TEXT. Integers keep full int64
// precision because canon decodes through json.Number.
func unmarshalObject(data string) (canon.Object, error) {
	if data == "" || data == "{}" {
		return canon.Object{}, nil
	}
	obj, err := canon.ParseObject([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal object: %w", err)
	}
	return obj, nil
}
