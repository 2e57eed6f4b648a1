package client

import (
	"errors"
	"fmt"
	"net/http"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")
)

// ErrorClass represents a classification of page fetch failures.
type ErrorClass string

const (
	// ErrorClassNetwork represents transport errors and timeouts.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassStatus represents non-2xx HTTP responses.
	ErrorClassStatus ErrorClass = "status"

	// ErrorClassDecode represents bodies that are not valid JSON.
	ErrorClassDecode ErrorClass = "decode"

	// ErrorClassEnvelope represents JSON bodies without data.eventListings.
	ErrorClassEnvelope ErrorClass = "envelope"
)

// APIError describes why a single page could not be fetched.
type APIError struct {
	StatusCode int
	ErrorClass ErrorClass
	Page       int
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("listing %s error (page %d, status %d): %s: %v",
			e.ErrorClass, e.Page, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("listing %s error (page %d, status %d): %s",
		e.ErrorClass, e.Page, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// classOf returns the class of err, or "" if err is not an APIError.
func classOf(err error) ErrorClass {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorClass
	}
	return ""
}

// shouldRetry determines if an error is worth another attempt.
func shouldRetry(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorClass {
	case ErrorClassNetwork:
		return true
	case ErrorClassStatus:
		// 4xx other than 429 will not change on retry
		return apiErr.StatusCode >= 500 || apiErr.StatusCode == http.StatusTooManyRequests
	default:
		// A malformed body is treated as final
		return false
	}
}
