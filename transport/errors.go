package transport

import (
	"errors"
	"fmt"
	"net/http"
)

// NetworkError means the backend could not be reached or the exchange broke
// before a response arrived.
type NetworkError struct {
	Op  string
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: network error: %v", e.Op, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ServerError is a non-2xx response.
type ServerError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("%s %s: server returned %d: %s", e.Method, e.Path, e.StatusCode, msg)
}

// ClientFault reports a 4xx status class.
func (e *ServerError) ClientFault() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// InitializationError means neither fetching nor creating a session worked.
type InitializationError struct {
	FetchErr  error
	CreateErr error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("session bootstrap failed: fetch: %v; create: %v", e.FetchErr, e.CreateErr)
}

func (e *InitializationError) Unwrap() []error {
	return []error{e.FetchErr, e.CreateErr}
}

// IsNotFound reports whether err is a 404 from the backend.
func IsNotFound(err error) bool {
	var serr *ServerError
	return errors.As(err, &serr) && serr.StatusCode == http.StatusNotFound
}

// IsNetwork reports whether err is a transport failure.
func IsNetwork(err error) bool {
	var nerr *NetworkError
	return errors.As(err, &nerr)
}
