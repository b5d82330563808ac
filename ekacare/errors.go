package ekacare

import (
	"errors"
	"fmt"
	"time"
)

// ErrProcessingFailed is returned when the remote service reports a terminal
// failure status for a submitted document.
var ErrProcessingFailed = errors.New("document processing failed")

// AuthError indicates that the login call failed or returned a malformed
// response. It is fatal at client construction and never retried.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return "authentication failed: " + e.Err.Error()
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// InvalidTaskError indicates a task value outside smart/pii/both. It is
// raised before any network call.
type InvalidTaskError struct {
	Task string
}

func (e *InvalidTaskError) Error() string {
	return fmt.Sprintf("invalid task %q: must be one of %s, %s, %s", e.Task, TaskSmart, TaskPII, TaskBoth)
}

// FileNotFoundError indicates the input file does not exist or is not
// readable. It is raised before any network call.
type FileNotFoundError struct {
	Path string
	Err  error
}

func (e *FileNotFoundError) Error() string {
	return "file not found: " + e.Path
}

func (e *FileNotFoundError) Unwrap() error {
	return e.Err
}

// TransportError wraps any network or HTTP-level failure from the submit and
// result endpoints. StatusCode is zero when the request never produced a
// response.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s request failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// InvalidResponseError indicates the service answered but the body could not
// be used: undecodable JSON, or a submit response without a document_id.
type InvalidResponseError struct {
	Op  string
	Err error
}

func (e *InvalidResponseError) Error() string {
	return fmt.Sprintf("invalid %s response: %v", e.Op, e.Err)
}

func (e *InvalidResponseError) Unwrap() error {
	return e.Err
}

// TimeoutError indicates the wait exceeded the configured budget. Timeout
// carries the budget that was exceeded, not the actual elapsed time.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("document processing timed out after %s", e.Timeout)
}

// CanceledError indicates the caller cancelled the context during a request
// or the inter-poll wait. It unwraps to the context error.
type CanceledError struct {
	Err error
}

func (e *CanceledError) Error() string {
	return fmt.Sprintf("document processing canceled: %v", e.Err)
}

func (e *CanceledError) Unwrap() error {
	return e.Err
}
