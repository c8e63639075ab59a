package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRequest  = errors.New("invalid request")
	ErrProviderFailure = errors.New("provider failure")
	ErrConnectionGone  = errors.New("connection gone")
	ErrStorageFailure  = errors.New("storage failure")
	ErrInvalidStage    = errors.New("invalid stage transition")
)

// ValidationError describes why an inbound request was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid request: " + e.Reason
	}
	return fmt.Sprintf("invalid request: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidRequest }

// NewValidationError is a shorthand used by the router.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// ErrorKind tells the workflow whether an adapter failure may be retried.
type ErrorKind int

const (
	Fatal ErrorKind = iota
	Transient
)

func (k ErrorKind) String() string {
	if k == Transient {
		return "transient"
	}
	return "fatal"
}

// AdapterError wraps a failure reported by a generation provider.
type AdapterError struct {
	Provider string
	Kind     ErrorKind
	Err      error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("%s: %s provider error: %v", e.Provider, e.Kind, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

func (e *AdapterError) Is(target error) bool { return target == ErrProviderFailure }

// NewTransientError marks err as retryable.
func NewTransientError(provider string, err error) *AdapterError {
	return &AdapterError{Provider: provider, Kind: Transient, Err: err}
}

// NewFatalError marks err as non-retryable.
func NewFatalError(provider string, err error) *AdapterError {
	return &AdapterError{Provider: provider, Kind: Fatal, Err: err}
}

// IsTransient reports whether err carries a retryable AdapterError.
func IsTransient(err error) bool {
	var ae *AdapterError
	if errors.As(err, &ae) {
		return ae.Kind == Transient
	}
	return false
}

// DeliveryReason classifies a failed push to a client.
type DeliveryReason string

const (
	ReasonConnectionGone DeliveryReason = "connection_gone"
	ReasonTimeout        DeliveryReason = "timeout"
	ReasonTransport      DeliveryReason = "transport"
)

// DeliveryError is returned by the relay when a message could not reach its connection.
type DeliveryError struct {
	ConnectionID string
	Reason       DeliveryReason
	Err          error
}

func (e *DeliveryError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("deliver to %s: %s", e.ConnectionID, e.Reason)
	}
	return fmt.Sprintf("deliver to %s: %s: %v", e.ConnectionID, e.Reason, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

func (e *DeliveryError) Is(target error) bool {
	return target == ErrConnectionGone && e.Reason == ReasonConnectionGone
}

// StorageError wraps a content store failure for a given object key.
type StorageError struct {
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorageFailure }
