// Package errors defines the platform's error sentinels and how they are
// presented to HTTP and RPC clients.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInvalidQuery     = errors.New("invalid query")
	ErrInvalidInput     = errors.New("invalid input")
	ErrIndexAccess      = errors.New("index access failed")
	ErrDocumentNotFound = errors.New("document not found")
	ErrQueryCancelled   = errors.New("query cancelled")
	ErrJobNotFound      = errors.New("job not found")
	ErrPoolExhausted    = errors.New("job pool exhausted")
	ErrInternal         = errors.New("internal error")
	ErrTimeout          = errors.New("operation timed out")
)

// StatusClientClosedRequest is the nginx convention for a caller that went
// away before the query finished.
const StatusClientClosedRequest = 499

// kind describes how a sentinel surfaces. An empty public message means the
// full error text is safe to show, because it only describes the caller's
// own input.
type kind struct {
	sentinel error
	status   int
	public   string
}

// kinds is checked in order; the first sentinel err wraps wins.
var kinds = []kind{
	{ErrInvalidQuery, http.StatusBadRequest, ""},
	{ErrInvalidInput, http.StatusBadRequest, ""},
	{ErrDocumentNotFound, http.StatusNotFound, ""},
	{ErrJobNotFound, http.StatusNotFound, ""},
	{ErrPoolExhausted, http.StatusTooManyRequests, ""},
	{ErrTimeout, http.StatusGatewayTimeout, "query timed out"},
	{ErrQueryCancelled, StatusClientClosedRequest, "query cancelled"},
	{ErrIndexAccess, http.StatusServiceUnavailable, "corpus unavailable"},
}

// AppError pins an explicit status and client message on a sentinel.
type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{Err: sentinel, Message: message, StatusCode: statusCode}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return New(sentinel, statusCode, fmt.Sprintf(format, args...))
}

// Cancellation maps a context error onto the platform sentinels so callers
// can tell a cancelled query from a deadline.
func Cancellation(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %w", ErrQueryCancelled, err)
	default:
		return err
	}
}

func classify(err error) (kind, bool) {
	for _, k := range kinds {
		if errors.Is(err, k.sentinel) {
			return k, true
		}
	}
	return kind{}, false
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	if k, ok := classify(err); ok {
		return k.status
	}
	return http.StatusInternalServerError
}

// PublicMessage is the client-facing text for err. Failures of the
// platform itself get a fixed message; the details stay in the logs.
func PublicMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	k, ok := classify(err)
	switch {
	case !ok:
		return "query failed"
	case k.public == "":
		return err.Error()
	default:
		return k.public
	}
}
