package remote

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidSDKKey = errors.New("invalid sdk key")

	ErrInvalidUserID = errors.New("invalid user id")

	ErrNotInitialized = errors.New("sdk has not been initialized, call Initialize first")

	ErrInitializationInProgress = errors.New("initialization already in progress for another identity")

	ErrSessionReset = errors.New("session was reset while the call was in flight")

	ErrEmptyResponse = errors.New("empty response body")
)

// APIError is a business error reported by the backend in a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (status %d): %s", e.StatusCode, e.Message)
}

// NetworkError covers transport failures, timeouts and undecodable responses.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// BillingError wraps failures of the transaction/receipt pipeline. It is only ever logged.
type BillingError struct {
	Op  string
	Err error
}

func (e *BillingError) Error() string {
	return fmt.Sprintf("billing error during %s: %v", e.Op, e.Err)
}

func (e *BillingError) Unwrap() error {
	return e.Err
}
