package models

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind classifies pipeline failures.
type ErrorKind string

const (
	KindNetwork       ErrorKind = "network"
	KindBlocked       ErrorKind = "blocked"
	KindPersistence   ErrorKind = "persistence"
	KindConfiguration ErrorKind = "configuration"
)

// PipelineError is a structured error carrying its kind and the underlying cause.
type PipelineError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *PipelineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// NewNetworkError wraps a navigation or connection failure.
func NewNetworkError(msg string, err error) *PipelineError {
	return &PipelineError{Kind: KindNetwork, Message: msg, Err: err}
}

// NewBlockedError reports a page that stayed challenged after evasion.
func NewBlockedError(msg string) *PipelineError {
	return &PipelineError{Kind: KindBlocked, Message: msg}
}

// NewPersistenceError wraps a storage failure that rolled back a batch.
func NewPersistenceError(msg string, err error) *PipelineError {
	return &PipelineError{Kind: KindPersistence, Message: msg, Err: err}
}

// NewConfigurationError reports invalid input or settings.
func NewConfigurationError(msg string) *PipelineError {
	return &PipelineError{Kind: KindConfiguration, Message: msg}
}

// IsKind reports whether err is a PipelineError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind == kind
	}
	return false
}

// CategorizeError wraps a raw navigation failure into a network PipelineError,
// naming timeouts explicitly. Errors that already carry a kind pass through.
func CategorizeError(err error, msg string) error {
	if err == nil {
		return nil
	}
	var pe *PipelineError
	if errors.As(err, &pe) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewNetworkError(msg+": navigation timed out", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewNetworkError(msg+": connection timed out", err)
	}
	return NewNetworkError(msg, err)
}
