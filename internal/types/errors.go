package types

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks a rejected corruption specification or construction argument.
	ErrConfiguration = errors.New("configuration error")

	// ErrBootstrapIncomplete is reported while a filesystem context is still partial.
	ErrBootstrapIncomplete = errors.New("filesystem context is partial")

	// ErrResolutionMiss marks a rule whose target does not exist on the volume.
	ErrResolutionMiss = errors.New("rule target could not be resolved")

	// ErrInjectedIO is the status surfaced to callers when a rule fails a request.
	ErrInjectedIO = errors.New("injected I/O error")

	// ErrReadAhead is returned for read-ahead requests, which are never serviced.
	ErrReadAhead = errors.New("read-ahead request rejected")

	// ErrDevice wraps failures of the backing device.
	ErrDevice = errors.New("backing device error")
)

// ConfigError describes one rejected construction token.
type ConfigError struct {
	Token  string
	Reason string
}

// Error implements error.
func (e *ConfigError) Error() string {
	if e.Token == "" {
		return fmt.Sprintf("%s: %s", ErrConfiguration, e.Reason)
	}
	return fmt.Sprintf("%s: %q: %s", ErrConfiguration, e.Token, e.Reason)
}

// Unwrap lets errors.Is match ErrConfiguration.
func (e *ConfigError) Unwrap() error {
	return ErrConfiguration
}

// NewConfigError builds a ConfigError with a formatted reason.
func NewConfigError(token, format string, args ...any) error {
	return &ConfigError{Token: token, Reason: fmt.Sprintf(format, args...)}
}

// ResolutionError records why a rule went inert.
type ResolutionError struct {
	Rule   string
	Reason string
}

// Error implements error.
func (e *ResolutionError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrResolutionMiss, e.Rule, e.Reason)
}

// Unwrap lets errors.Is match ErrResolutionMiss.
func (e *ResolutionError) Unwrap() error {
	return ErrResolutionMiss
}
