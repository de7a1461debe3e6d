package scanning

import (
	"errors"
	"fmt"
)

// CredentialsMissingError means no API key was available for the provider.
// Callers route the user to settings instead of reporting a generic failure.
type CredentialsMissingError struct {
	Provider string
}

func (e *CredentialsMissingError) Error() string {
	return fmt.Sprintf("%s api key is not configured", e.Provider)
}

// TransportError indicates the vision service answered with a non-success status
// or an envelope that carried no text.
type TransportError struct {
	Provider   string
	StatusCode int    // 0 when the failure happened before a response arrived
	Message    string // upstream message, when the service sent one
	Err        error
}

func (e *TransportError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s extraction failed (status %d): %s", e.Provider, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s extraction failed: %s", e.Provider, msg)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ResponseShapeError indicates the model text could not be read as the expected JSON.
type ResponseShapeError struct {
	Raw string
	Err error
}

func (e *ResponseShapeError) Error() string {
	return fmt.Sprintf("unexpected response shape: %v (raw: %s)", e.Err, truncate(e.Raw, 200))
}

func (e *ResponseShapeError) Unwrap() error {
	return e.Err
}

// IsCredentialsMissing reports whether err carries a CredentialsMissingError
func IsCredentialsMissing(err error) bool {
	var credErr *CredentialsMissingError
	return errors.As(err, &credErr)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
