package common

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/jmgilman/go/errors"
)

// TransportFailure is one failed attempt: the call could not complete, it
// returned a non-2xx status, or it was aborted by the per-attempt timeout.
// Err is a PlatformError coded TIMEOUT or NETWORK_ERROR.
type TransportFailure struct {
	Attempt    int
	StatusCode int
	Err        error
}

func (e *TransportFailure) Error() string {
	return fmt.Sprintf("attempt %d: %v", e.Attempt, e.Err)
}

func (e *TransportFailure) Unwrap() error {
	return e.Err
}

// Timeout reports whether the attempt was aborted by its deadline.
func (e *TransportFailure) Timeout() bool {
	return errors.GetCode(e.Err) == errors.CodeTimeout
}

// NewTransportFailure classifies cause for the given attempt.
// A non-nil *HTTPError cause records its status code.
func NewTransportFailure(attempt int, cause error) *TransportFailure {
	f := &TransportFailure{Attempt: attempt}

	var httpErr *HTTPError
	switch {
	case stderrors.As(cause, &httpErr):
		f.StatusCode = httpErr.StatusCode
		f.Err = errors.Wrapf(cause, errors.CodeNetwork, "request returned status %d", httpErr.StatusCode)
	case stderrors.Is(cause, context.DeadlineExceeded):
		f.Err = errors.Wrap(cause, errors.CodeTimeout, "request timed out")
	default:
		f.Err = errors.Wrap(cause, errors.CodeNetwork, "request failed")
	}
	return f
}

// RequestExhausted is returned once every allowed attempt has failed.
// Last is the failure of the final attempt.
type RequestExhausted struct {
	Method   string
	Endpoint string
	Attempts int
	Last     *TransportFailure
}

func (e *RequestExhausted) Error() string {
	return fmt.Sprintf("%s %s: giving up after %d attempts: %v", e.Method, e.Endpoint, e.Attempts, e.Last)
}

func (e *RequestExhausted) Unwrap() error {
	return e.Last
}

// IsExhausted reports whether err carries a RequestExhausted.
func IsExhausted(err error) bool {
	var exhausted *RequestExhausted
	return stderrors.As(err, &exhausted)
}
