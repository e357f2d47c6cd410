package apperrors

import (
	"errors"
	"fmt"
)

// ValidationError marks bad or missing caller input. Handlers map it to 400.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// DuplicateError marks a create that conflicts with an existing record.
// Handlers map it to 409.
type DuplicateError struct {
	Msg string
}

func (e *DuplicateError) Error() string { return e.Msg }

func NewDuplicateError(format string, args ...any) *DuplicateError {
	return &DuplicateError{Msg: fmt.Sprintf(format, args...)}
}

// NotFoundError marks a lookup miss. Handlers map it to 404.
type NotFoundError struct {
	Msg string
}

func (e *NotFoundError) Error() string { return e.Msg }

func NewNotFoundError(format string, args ...any) *NotFoundError {
	return &NotFoundError{Msg: fmt.Sprintf(format, args...)}
}

// DownloadCancelledError tells the queue a failure was a deliberate cancel,
// not a fault. Cleanup paths short-circuit on it.
type DownloadCancelledError struct {
	ID string
}

func (e *DownloadCancelledError) Error() string {
	if e.ID == "" {
		return "download cancelled"
	}
	return fmt.Sprintf("download cancelled: %s", e.ID)
}

func NewCancelledError(id string) *DownloadCancelledError {
	return &DownloadCancelledError{ID: id}
}

func IsCancelled(err error) bool {
	var ce *DownloadCancelledError
	return errors.As(err, &ce)
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsDuplicate(err error) bool {
	var de *DuplicateError
	return errors.As(err, &de)
}

func IsNotFound(err error) bool {
	var ne *NotFoundError
	return errors.As(err, &ne)
}
