package thread

import (
	"errors"
	"fmt"
	"net/http"
)

// ValidationError is returned before any mutation when input is rejected
// locally, e.g. an empty comment body.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// APIError is a structured rejection from the server. Detail is the
// human-readable message meant for display.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return fmt.Sprintf("request failed with status %d", e.Status)
}

// NetworkError wraps a transport failure that never produced a server answer.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// FetchError is attached to a cache snapshot when loading a thread failed.
// The snapshot still carries the last known good comments.
type FetchError struct {
	Key Key
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch comments for %s: %v", e.Key, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsForbidden reports whether err is a 403 APIError.
func IsForbidden(err error) bool {
	return hasStatus(err, http.StatusForbidden)
}

// IsNotFound reports whether err is a 404 APIError.
func IsNotFound(err error) bool {
	return hasStatus(err, http.StatusNotFound)
}

// Detail extracts the display message from err. APIErrors yield their
// detail; anything else yields err.Error().
func Detail(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Error()
	}
	return err.Error()
}

func hasStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}
