// Package apperrors provides structured application errors with HTTP status mapping.
package apperrors

import (
	"errors"
	"fmt"
)

// Sentinel classes used for HTTP status mapping via errors.Is().
var (
	ErrValidation       = errors.New("validation error")
	ErrUnsupportedMedia = errors.New("unsupported media type")
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrNotConfigured    = errors.New("not configured")
	ErrUpstream         = errors.New("scheduler command failed")
	ErrTimeout          = errors.New("timeout")
	ErrInternal         = errors.New("internal error")
)

// Error kinds raised by the submission and query paths.
// Every kind also matches its class sentinel.
var (
	BadContentType               = errors.New("bad content type")
	MissingStagingRoot           = errors.New("missing staging root")
	InvalidArchive               = errors.New("invalid archive")
	ZeroSubmitFiles              = errors.New("zero submit files")
	MultipleSubmitFiles          = errors.New("multiple submit files")
	ExternalCommandLaunchFailure = errors.New("external command launch failure")
	CommandTimedOut              = errors.New("command timed out")
	SubmissionRejected           = errors.New("submission rejected")
	UnparsableSubmission         = errors.New("unparsable submission")
	HistoryNotConfigured         = errors.New("history not configured")
	HistoryConfigEmpty           = errors.New("history config empty")
	QueryFailed                  = errors.New("query failed")
)

// Error provides structured error with context.
type Error struct {
	Kind     error  // Specific failure kind (e.g. ZeroSubmitFiles), may be nil
	Sentinel error  // Class sentinel for HTTP mapping
	Message  string // Human-readable message
	Field    string // For validation errors (e.g., "queue", "completedSince")
	Resource string // For not found/conflict (e.g., "record")
	Op       string // Operation that failed (e.g., "condor_submit")
	Cause    error  // Underlying error
}

// Error returns the human-readable error message.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap exposes the kind, the class sentinel and the cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 3)
	for _, err := range []error{e.Kind, e.Sentinel, e.Cause} {
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// Validation creates a validation error for a specific field.
func Validation(field, message string) error {
	return &Error{
		Sentinel: ErrValidation,
		Message:  message,
		Field:    field,
	}
}

// NotFound creates a not found error for a resource.
func NotFound(resource, id string) error {
	return &Error{
		Sentinel: ErrNotFound,
		Message:  fmt.Sprintf("%s %s not found", resource, id),
		Resource: resource,
	}
}

// Conflict creates a conflict error for a resource.
func Conflict(resource, id, reason string) error {
	return &Error{
		Sentinel: ErrConflict,
		Message:  reason,
		Resource: resource,
	}
}

// Internal creates an internal error wrapping an underlying cause.
func Internal(op string, cause error) error {
	return &Error{
		Sentinel: ErrInternal,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}

// New creates an error of the given kind. The class sentinel is derived from the kind.
func New(kind error, message string) error {
	return &Error{
		Kind:     kind,
		Sentinel: classOf(kind),
		Message:  message,
	}
}

// Newf is New with a format string.
func Newf(kind error, format string, args ...any) error {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap creates an error of the given kind for a failed operation.
func Wrap(kind error, op string, cause error) error {
	return &Error{
		Kind:     kind,
		Sentinel: classOf(kind),
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}

func classOf(kind error) error {
	switch kind {
	case BadContentType:
		return ErrUnsupportedMedia
	case InvalidArchive, ZeroSubmitFiles, MultipleSubmitFiles:
		return ErrValidation
	case SubmissionRejected, UnparsableSubmission, QueryFailed:
		return ErrUpstream
	case CommandTimedOut:
		return ErrTimeout
	case HistoryNotConfigured, HistoryConfigEmpty:
		return ErrNotConfigured
	default:
		return ErrInternal
	}
}

// KindOf returns the name of the error's kind, the class name when it has
// none, or "" for a nil error. Used as a low-cardinality metric label.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		if appErr.Kind != nil {
			return appErr.Kind.Error()
		}
		if appErr.Sentinel != nil {
			return appErr.Sentinel.Error()
		}
	}
	return ErrInternal.Error()
}
