package models

import (
	"errors"
	"fmt"
)

// ErrInvalidConfiguration is returned (wrapped) whenever a caller supplies a
// threshold, voting rule or window outside its sane range.
var ErrInvalidConfiguration = errors.New("invalid configuration")

// ConfigError describes one rejected configuration field.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration for %s: %s", e.Field, e.Message)
}

// Unwrap lets errors.Is match ErrInvalidConfiguration.
func (e *ConfigError) Unwrap() error { return ErrInvalidConfiguration }
