package util

import (
	"encoding/json"
	"fmt"
	"os"
)

// LoadJsonInto decodes the JSON object in filename over the value pointed to by
// into. Fields missing from the file keep whatever into already held, so callers
// can pass a struct pre-filled with defaults. Unknown fields are rejected.
func LoadJsonInto[T any](filename string, into *T) error {
	file, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer func(file *os.File) {
		_ = file.Close()
	}(file)

	decoder := json.NewDecoder(file)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("decode %s: %w", filename, err)
	}

	// Anything after the object is a mistake in the file.
	if decoder.More() {
		return fmt.Errorf("decode %s: trailing data after object", filename)
	}

	return nil
}

// JsonDumps encodes data as a JSON string, indented with two spaces when pretty.
func JsonDumps(data any, pretty bool) (string, error) {
	var (
		out []byte
		err error
	)
	if pretty {
		out, err = json.MarshalIndent(data, "", "  ")
	} else {
		out, err = json.Marshal(data)
	}
	if err != nil {
		return "", fmt.Errorf("encode json: %w", err)
	}

	return string(out), nil
}
