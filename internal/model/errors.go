package model

import (
	"errors"
	"fmt"
)

// ErrValidation marks a sample that is not usable as data, e.g. a
// non-positive primary reading from a malfunctioning sensor.
var ErrValidation = errors.New("invalid reading")

// NetworkError wraps a failure to reach the sensor or the collection
// service. These are transient: the next poll or reconciliation cycle
// tries again.
type NetworkError struct {
	Endpoint string
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error from %s: %v", e.Endpoint, e.Err)
}

func (e *NetworkError) Unwrap() error     { return e.Err }
func (e *NetworkError) IsRetryable() bool { return true }

// NewNetworkError creates a new NetworkError.
func NewNetworkError(endpoint string, err error) *NetworkError {
	return &NetworkError{Endpoint: endpoint, Err: err}
}

// AuthError is returned when the collection service rejects a token request.
type AuthError struct {
	Status  int32
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("token request rejected (status %d): %s", e.Status, e.Message)
}

// DeliveryError is returned when the collection service rejects a reading.
type DeliveryError struct {
	Status  int32
	Message string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("reading rejected (status %d): %s", e.Status, e.Message)
}

// StorageError wraps a failure of the local store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsStatusOK reports whether a collection service status is in the
// success range.
func IsStatusOK(status int32) bool {
	return status >= 200 && status <= 299
}
