package comfy

import (
	"errors"
	"fmt"
)

// Sentinel failure kinds callers branch on with errors.Is.
var (
	// ErrTimeout reports that no terminal event arrived within budget.
	ErrTimeout = errors.New("timed out waiting for execution")
	// ErrInterrupted reports that the server interrupted execution.
	ErrInterrupted = errors.New("execution interrupted by server")
)

// APIError is the normalized form of every protocol fault: a non-2xx status,
// a malformed response body, or an execution error pushed over the event
// stream. Status is zero when no HTTP status applies.
type APIError struct {
	Op     string
	Status int
	Detail string
	Err    error
}

func (e *APIError) Error() string {
	msg := e.Op
	if e.Status != 0 {
		msg = fmt.Sprintf("%s: status %d", e.Op, e.Status)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Detail != "" {
		msg = fmt.Sprintf("%s | details: %s", msg, e.Detail)
	}
	return msg
}

func (e *APIError) Unwrap() error { return e.Err }

func protocolErr(op string, format string, args ...any) *APIError {
	return &APIError{Op: op, Err: fmt.Errorf(format, args...)}
}
