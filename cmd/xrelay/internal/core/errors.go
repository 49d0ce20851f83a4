package core

import (
	"errors"
	"net/http"
)

var (
	// ErrClientProtocol marks a malformed or absent client request.
	ErrClientProtocol = errors.New("malformed client request")
	// ErrPathPolicy marks a request path that tries to leave the file root.
	ErrPathPolicy = errors.New("path traversal rejected")
	// ErrNotFound marks a request for a resource that does not exist.
	ErrNotFound = errors.New("resource not found")
	// ErrUpstreamUnavailable marks a proxy target that could not be resolved or reached.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrExecutionContextExhausted marks a failure to create a process or
	// worker for a connection. It is fatal for the server.
	ErrExecutionContextExhausted = errors.New("execution context exhausted")
)

// StatusCode maps an error from the taxonomy above to the HTTP status sent
// to the client. Unknown errors map to 500.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrClientProtocol):
		return http.StatusBadRequest
	case errors.Is(err, ErrPathPolicy):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUpstreamUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
