package unifi

import (
	"errors"
	"fmt"
	"strings"
)

// Caller-side validation errors, returned before any request is made.
var (
	ErrDoorNameRequired = errors.New("door name is required")
	ErrDoorIDRequired   = errors.New("door id is required")
	ErrActorPair        = errors.New("actor id and actor name must be provided together")
)

// ErrDoorNotFound is wrapped when no door matches a name query.
var ErrDoorNotFound = errors.New("no door matched name")

// AmbiguousDoorError is returned when more than one door matches a name
// query in the same tier.
type AmbiguousDoorError struct {
	Query   string
	Matches []string
}

func (e *AmbiguousDoorError) Error() string {
	return fmt.Sprintf("door name '%s' is ambiguous. Matches: %s", e.Query, strings.Join(e.Matches, ", "))
}

// APIError is any failure talking to the Access controller: HTTP status,
// network, timeout or an unusable response body. Error returns a
// human-readable cause suitable for logs and the activity ledger.
type APIError struct {
	// StatusCode is set for non-2xx responses.
	StatusCode int
	// Timeout is set when the request ran out of time.
	Timeout bool

	msg string
	err error
}

func (e *APIError) Error() string { return e.msg }

func (e *APIError) Unwrap() error { return e.err }

func statusError(code int, body, status string) *APIError {
	detail := strings.TrimSpace(body)
	if detail == "" {
		detail = status
	}
	return &APIError{StatusCode: code, msg: fmt.Sprintf("Access API HTTP %d: %s", code, detail)}
}

func networkError(reason string, err error) *APIError {
	return &APIError{msg: "Access API network error: " + reason, err: err}
}

func timeoutError(err error) *APIError {
	return &APIError{Timeout: true, msg: "Access API timeout", err: err}
}

func invalidJSONError(err error) *APIError {
	return &APIError{msg: "Access API returned invalid JSON", err: err}
}

func responseError(msg string) *APIError {
	return &APIError{msg: msg}
}
