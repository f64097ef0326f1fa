package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Error codes assigned by the client. Server-supplied codes are passed
// through unchanged for every other failure.
const (
	CodeTimeout      = "TIMEOUT"
	CodeTokenExpired = "TOKEN_EXPIRED"
	CodeForbidden    = "FORBIDDEN"
	CodeNetworkError = "NETWORK_ERROR"
	CodeCanceled     = "CANCELED"
)

// ErrInvalidBaseURL is returned when the backend origin is missing or not an
// absolute http(s) URL.
var ErrInvalidBaseURL = errors.New("apiclient: invalid base URL")

// Error is the normalized shape of every failed call.
//
// Status is 0 when no HTTP response was received. Details carries the raw
// JSON error body, if the server sent one.
type Error struct {
	Status  int             `json:"status"`
	Code    string          `json:"code,omitempty"`
	Message string          `json:"message"`
	Details json.RawMessage `json:"details,omitempty"`
	URL     string          `json:"url"`
	Method  string          `json:"method"`

	// Err is the transport error, if any.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("apiclient: %s %s: %s (%s)", e.Method, e.URL, e.Message, e.Code)
	}
	return fmt.Sprintf("apiclient: %s %s: %s", e.Method, e.URL, e.Message)
}

// Unwrap returns the underlying transport error.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether the request ran out of time.
func (e *Error) IsTimeout() bool { return e.Code == CodeTimeout }

// IsNetwork reports whether the backend could not be reached.
func (e *Error) IsNetwork() bool { return e.Code == CodeNetworkError }

// IsUnauthorized reports whether the session has expired.
func (e *Error) IsUnauthorized() bool { return e.Status == http.StatusUnauthorized }

// IsForbidden reports whether the caller lacks permission.
func (e *Error) IsForbidden() bool { return e.Status == http.StatusForbidden }

// Temporary reports whether the status belongs to the transient class.
func (e *Error) Temporary() bool { return transientStatus(e.Status) }

// AsError extracts a normalized error from err.
func AsError(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// Failure is the raw outcome of a failed attempt.
type Failure struct {
	Method string
	URL    string
	Status int
	Body   []byte
	Err    error
}

// serverError is the subset of backend error bodies the client understands.
type serverError struct {
	Code    any `json:"code"`
	Message any `json:"message"`
	Error   any `json:"error"`
}

// Normalize turns a raw failure into the normalized error. It has no side
// effects; the same Failure always yields an equal *Error.
func Normalize(f Failure) *Error {
	e := &Error{
		Status: f.Status,
		URL:    f.URL,
		Method: f.Method,
		Err:    f.Err,
	}

	if f.Status == 0 {
		switch {
		case isCanceled(f.Err):
			e.Code = CodeCanceled
			e.Message = "request canceled"
		case isTimeout(f.Err):
			e.Code = CodeTimeout
			e.Message = "request timed out"
		default:
			e.Code = CodeNetworkError
			e.Message = "network error"
		}
		if f.Err != nil {
			e.Message = e.Message + ": " + f.Err.Error()
		}
		return e
	}

	code, msg, details := parseServerError(f.Body)
	e.Code = code
	e.Message = msg
	e.Details = details

	switch f.Status {
	case http.StatusUnauthorized:
		e.Code = CodeTokenExpired
	case http.StatusForbidden:
		e.Code = CodeForbidden
	}

	switch {
	case e.Message != "":
	case f.Err != nil:
		e.Message = f.Err.Error()
	default:
		e.Message = fmt.Sprintf("HTTP %d", f.Status)
	}
	return e
}

func parseServerError(body []byte) (code, message string, details json.RawMessage) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || !json.Valid(body) {
		return "", "", nil
	}
	details = append(json.RawMessage(nil), body...)

	var se serverError
	if err := json.Unmarshal(body, &se); err != nil {
		// Valid JSON that is not an object (array, string, number).
		return "", "", details
	}
	if s, ok := se.Code.(string); ok {
		code = s
	}
	if s, ok := se.Message.(string); ok && s != "" {
		message = s
	} else if s, ok := se.Error.(string); ok {
		message = s
	}
	return code, message, details
}

func isCanceled(err error) bool {
	return err != nil && errors.Is(err, context.Canceled)
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
