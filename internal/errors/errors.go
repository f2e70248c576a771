package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a bereel error code.
type ErrorCode string

const (
	ErrInvalidRequest   ErrorCode = "INVALID_REQUEST"   // 400
	ErrNotFound         ErrorCode = "NOT_FOUND"         // 404
	ErrConflict         ErrorCode = "CONFLICT"          // 409
	ErrParse            ErrorCode = "PARSE_ERROR"       // 422, record skipped
	ErrDecode           ErrorCode = "DECODE_ERROR"      // 422, artifact skipped
	ErrInteractiveAbort ErrorCode = "INTERACTIVE_ABORT" // 499, heuristic fallback
	ErrTagWrite         ErrorCode = "TAG_WRITE_ERROR"   // 502, artifact skipped
	ErrEncode           ErrorCode = "ENCODE_ERROR"      // 500, artifact skipped
	ErrInternal         ErrorCode = "INTERNAL"          // 500
	ErrFatal            ErrorCode = "FATAL"             // 507, run aborted
)

// ExportError represents a structured error with code, status, and details.
type ExportError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
	Err     error
}

// Error implements the error interface.
func (e *ExportError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *ExportError) Unwrap() error {
	return e.Err
}

// NewInvalidRequest creates a 400 error for invalid input or configuration.
func NewInvalidRequest(msg string) *ExportError {
	return &ExportError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for a missing file or export folder.
func NewNotFound(identifier string) *ExportError {
	return &ExportError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("not found: %s", identifier),
		Details: map[string]any{"identifier": identifier},
	}
}

// NewConflict creates a 409 error, e.g. a stale picker token.
func NewConflict(msg string) *ExportError {
	return &ExportError{
		Code:    ErrConflict,
		Status:  409,
		Message: msg,
	}
}

// NewParse creates a 422 error for a malformed timestamp or JSON record.
func NewParse(input string, err error) *ExportError {
	msg := fmt.Sprintf("cannot parse %q", input)
	if err != nil {
		msg = fmt.Sprintf("%s: %v", msg, err)
	}
	return &ExportError{
		Code:    ErrParse,
		Status:  422,
		Message: msg,
		Details: map[string]any{"input": input},
		Err:     err,
	}
}

// NewDecode creates a 422 error when an image cannot be decoded.
func NewDecode(path string, err error) *ExportError {
	return &ExportError{
		Code:    ErrDecode,
		Status:  422,
		Message: fmt.Sprintf("cannot decode image %s: %v", path, err),
		Details: map[string]any{"path": path},
		Err:     err,
	}
}

// NewInteractiveAbort signals that the operator closed a prompt without choosing.
func NewInteractiveAbort(reason string) *ExportError {
	return &ExportError{
		Code:    ErrInteractiveAbort,
		Status:  499,
		Message: fmt.Sprintf("interactive choice aborted: %s", reason),
	}
}

// NewTagWrite creates a 502 error when the tag writer rejects a file.
func NewTagWrite(path string, err error) *ExportError {
	return &ExportError{
		Code:    ErrTagWrite,
		Status:  502,
		Message: fmt.Sprintf("cannot write metadata to %s: %v", path, err),
		Details: map[string]any{"path": path},
		Err:     err,
	}
}

// NewEncode creates a 500 error when an image cannot be encoded or saved.
func NewEncode(path string, err error) *ExportError {
	return &ExportError{
		Code:    ErrEncode,
		Status:  500,
		Message: fmt.Sprintf("cannot encode image %s: %v", path, err),
		Details: map[string]any{"path": path},
		Err:     err,
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *ExportError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &ExportError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
		Err:     err,
	}
}

// NewFatal creates an error that terminates the whole run,
// e.g. the output directory cannot be created.
func NewFatal(msg string, err error) *ExportError {
	if err != nil {
		msg = fmt.Sprintf("%s: %v", msg, err)
	}
	return &ExportError{
		Code:    ErrFatal,
		Status:  507,
		Message: msg,
		Err:     err,
	}
}

// Is checks if err (or anything it wraps) is an ExportError with the given code.
func Is(err error, code ErrorCode) bool {
	var eErr *ExportError
	if stderrors.As(err, &eErr) {
		return eErr.Code == code
	}
	return false
}

// CodeOf returns the code of the first ExportError in err's chain,
// or ErrInternal for foreign errors.
func CodeOf(err error) ErrorCode {
	var eErr *ExportError
	if stderrors.As(err, &eErr) {
		return eErr.Code
	}
	return ErrInternal
}

// IsFatal reports whether err must stop the run.
func IsFatal(err error) bool {
	return Is(err, ErrFatal)
}
