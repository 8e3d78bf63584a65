// Package config reads the JSON configuration documents the daemon and its
// subsystems consume at startup.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Validator is implemented by config structs that check and default their
// fields after decoding.
type Validator interface {
	Validate() error
}

// LoadFile decodes the JSON document at path into dst.
func LoadFile(path string, dst interface{}) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	if err := json.NewDecoder(f).Decode(dst); err != nil {
		return fmt.Errorf("decode config %s: %w", path, err)
	}

	return nil
}

// ValidateConfig runs dst's Validate hook when it implements Validator.
// Configs without one pass unchecked.
func ValidateConfig(dst interface{}) error {
	if v, ok := dst.(Validator); ok {
		return v.Validate()
	}

	return nil
}

// LoadAndValidate is LoadFile followed by ValidateConfig.
func LoadAndValidate(path string, dst interface{}) error {
	if err := LoadFile(path, dst); err != nil {
		return err
	}

	return ValidateConfig(dst)
}
