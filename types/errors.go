package types

import (
	"errors"
	"fmt"
)

// ConfigError is raised while building the task tree. It is never retried.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("configuration error: %s", e.Reason)
	}
	return fmt.Sprintf("configuration error: the %q parameter %s", e.Field, e.Reason)
}

// NewConfigError creates a ConfigError for field.
func NewConfigError(field string, reason string) *ConfigError {
	return &ConfigError{Field: field, Reason: reason}
}

// ConfigErrorf creates a ConfigError that is not tied to a single field.
func ConfigErrorf(format string, args ...any) *ConfigError {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}

// IsConfigError checks if the error is or wraps a ConfigError
func IsConfigError(err error) bool {
	var cfgErr *ConfigError
	return err != nil && errors.As(err, &cfgErr)
}
