// Package syncerr classifies sync failures into the taxonomy the
// orchestrator and retry policy act on. Reason strings are used verbatim in
// the queue and cycle results.
package syncerr

import "fmt"

// Class identifies a failure class.
type Class string

const (
	ClassNetwork       Class = "network"       // transport failure, retryable
	ClassServer        Class = "server"        // 5xx, retryable
	ClassClient        Class = "client"        // 4xx except 409, permanent
	ClassConflict      Class = "conflict"      // 409 whose resolution could not be applied, retryable
	ClassConfiguration Class = "configuration" // unknown table/operation, permanent
)

// Error is a classified per-item sync failure.
type Error struct {
	Class  Class
	Reason string
}

func (e *Error) Error() string { return e.Reason }

// Permanent reports whether the failure is excluded from automatic retry.
func (e *Error) Permanent() bool {
	return e.Class == ClassClient || e.Class == ClassConfiguration
}

// Network wraps a transport failure where no response was received.
func Network(err error) *Error {
	return &Error{Class: ClassNetwork, Reason: fmt.Sprintf("Network error: %v", err)}
}

// Server wraps a 5xx response.
func Server(status int, statusText string) *Error {
	return &Error{Class: ClassServer, Reason: fmt.Sprintf("Server error: HTTP %d: %s", status, statusText)}
}

// Client wraps a non-409 4xx response.
func Client(status int, statusText string) *Error {
	return &Error{Class: ClassClient, Reason: fmt.Sprintf("Client error: HTTP %d: %s", status, statusText)}
}

// Conflict marks a 409 whose resolved document could not be applied to the
// local store. The conflict itself is not a failure; only the apply step is.
func Conflict(err error) *Error {
	return &Error{Class: ClassConflict, Reason: fmt.Sprintf("Conflict resolution failed: %v", err)}
}

// Configuration marks an unknown entity type or operation; no network call
// is made for these.
func Configuration(format string, args ...any) *Error {
	return &Error{Class: ClassConfiguration, Reason: fmt.Sprintf("Configuration error: "+format, args...)}
}
