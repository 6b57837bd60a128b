package domain

import "errors"

// Common domain errors.
var (
	// ErrNotFound is returned when a record is not present in the registry.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotConnected is returned when an operation needs a live connection.
	ErrNotConnected = errors.New("not connected")

	// ErrDisconnected is delivered to requests still pending when the
	// connection is closed.
	ErrDisconnected = errors.New("connection closed before response")

	// ErrMalformedFrame is returned when an inbound frame cannot be decoded.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrDenied is returned when the server refused a request.
	ErrDenied = errors.New("request denied")

	// ErrServerFault is returned when the server failed to process a request.
	ErrServerFault = errors.New("server fault")

	// ErrRequestFailed is returned for any other non-ok response.
	ErrRequestFailed = errors.New("request failed")
)

// NotFoundError wraps ErrNotFound with additional context.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e NotFoundError) Error() string {
	return e.Resource + " not found: " + e.ID
}

func (e NotFoundError) Unwrap() error {
	return ErrNotFound
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resource, id string) NotFoundError {
	return NotFoundError{Resource: resource, ID: id}
}

// RequestError describes a non-ok response to a correlated request.
type RequestError struct {
	// Op is the name of the operation that was sent.
	Op string
	// Status is the response op, e.g. "denied" or "internal_error".
	Status  string
	Message string
}

func (e RequestError) Error() string {
	if e.Message == "" {
		return e.Op + ": " + e.Status
	}
	return e.Op + ": " + e.Status + ": " + e.Message
}

func (e RequestError) Unwrap() error {
	switch e.Status {
	case "denied":
		return ErrDenied
	case "internal_error", "error":
		return ErrServerFault
	default:
		return ErrRequestFailed
	}
}
