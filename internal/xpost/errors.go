package xpost

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultErrorMessage is used when a failure carries no message of its own.
const DefaultErrorMessage = "Unknown error occurred"

// MissingConfigError is returned when a configured network lacks required settings.
type MissingConfigError struct {
	Network Network
	Fields  []string
}

func (e MissingConfigError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("%s credentials not configured", e.Network)
	}
	return fmt.Sprintf("%s credentials not configured (missing %s)", e.Network, strings.Join(e.Fields, ", "))
}

// ValidationError captures provider-specific validation issues.
type ValidationError struct {
	Provider string
	Reason   string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s validation failed: %s", e.Provider, e.Reason)
}

// NotConfiguredError reports a request for a network that has no client.
type NotConfiguredError struct {
	Network Network
}

func (e *NotConfiguredError) Error() string {
	return fmt.Sprintf("%s credentials not configured", e.Network)
}

// InitializationError reports a client that could not establish its session.
type InitializationError struct {
	Network Network
	Err     error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("failed to initialize %s client: %s", e.Network, messageOf(e.Err))
}

func (e *InitializationError) Unwrap() error { return e.Err }

// NotInitializedError is returned when a client is used before Initialize succeeded.
type NotInitializedError struct {
	Network Network
}

func (e *NotInitializedError) Error() string {
	return fmt.Sprintf("%s client not initialized: call Initialize first", e.Network)
}

// PlatformError wraps a failure raised by a network call.
type PlatformError struct {
	Network Network
	Op      string
	Err     error
}

func (e *PlatformError) Error() string {
	msg := messageOf(e.Err)
	if e.Op == "" {
		return msg
	}
	return e.Op + ": " + msg
}

func (e *PlatformError) Unwrap() error { return e.Err }

// CleanupError reports a failure releasing a client's resources.
type CleanupError struct {
	Network Network
	Err     error
}

func (e *CleanupError) Error() string {
	return fmt.Sprintf("cleanup %s: %s", e.Network, messageOf(e.Err))
}

func (e *CleanupError) Unwrap() error { return e.Err }

// Wrap converts err into a PlatformError for network, keeping errors that
// already belong to the taxonomy as they are.
func Wrap(network Network, op string, err error) error {
	if err == nil {
		return nil
	}
	var (
		pe  *PlatformError
		ve  ValidationError
		nie *NotInitializedError
	)
	if errors.As(err, &pe) || errors.As(err, &ve) || errors.As(err, &nie) {
		return err
	}
	return &PlatformError{Network: network, Op: op, Err: err}
}

func messageOf(err error) string {
	if err == nil {
		return DefaultErrorMessage
	}
	if msg := strings.TrimSpace(err.Error()); msg != "" {
		return msg
	}
	return DefaultErrorMessage
}
