// Package errkind holds the error classes shared across packages so callers can
// branch with errors.Is without importing the package that produced the error.
package errkind

import (
	"errors"
	"fmt"
)

// ErrConfiguration marks malformed mapping templates, FQL queries and config
// files. These are fatal at load time and never retried.
var ErrConfiguration = errors.New("configuration error")

// ConfigError annotates a configuration problem with where it was found.
type ConfigError struct {
	Where string
	Msg   string
}

func (e *ConfigError) Error() string {
	if e.Where == "" {
		return e.Msg
	}
	return e.Where + ": " + e.Msg
}

func (e *ConfigError) Unwrap() error { return ErrConfiguration }

// Configf builds a ConfigError located at where.
func Configf(where, format string, args ...any) error {
	return &ConfigError{Where: where, Msg: fmt.Sprintf(format, args...)}
}
