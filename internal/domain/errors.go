package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by stores when a record does not exist and the
// absence is not itself an error condition worth typing.
var ErrNotFound = errors.New("record not found")

// InvalidSearchError indicates a search request that can never succeed:
// an unknown search hash with no accompanying specification, or a
// specification with an empty project-family selection.
type InvalidSearchError struct {
	Message string
}

func (e *InvalidSearchError) Error() string {
	return fmt.Sprintf("invalid search: %s", e.Message)
}

// NewInvalidSearchError creates an InvalidSearchError.
func NewInvalidSearchError(format string, args ...interface{}) *InvalidSearchError {
	return &InvalidSearchError{Message: fmt.Sprintf(format, args...)}
}

// IsInvalidSearch reports whether err is an InvalidSearchError.
func IsInvalidSearch(err error) bool {
	var target *InvalidSearchError
	return errors.As(err, &target)
}

// InvalidIndexError indicates the variant index backing a search is
// missing or incompatible. It surfaces to callers unchanged so they can
// distinguish a bad index from a transient failure.
type InvalidIndexError struct {
	Index   string
	Message string
}

func (e *InvalidIndexError) Error() string {
	if e.Index == "" {
		return fmt.Sprintf("invalid index: %s", e.Message)
	}
	return fmt.Sprintf("invalid index %q: %s", e.Index, e.Message)
}

// IsInvalidIndex reports whether err is an InvalidIndexError.
func IsInvalidIndex(err error) bool {
	var target *InvalidIndexError
	return errors.As(err, &target)
}

// PermissionDeniedError indicates the user lacks access to at least one
// project in the requested scope. Access is all-or-nothing: one denied
// project fails the whole request.
type PermissionDeniedError struct {
	UserID      string
	ProjectGUID string
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("user %s does not have access to project %s", e.UserID, e.ProjectGUID)
}

// IsPermissionDenied reports whether err is a PermissionDeniedError.
func IsPermissionDenied(err error) bool {
	var target *PermissionDeniedError
	return errors.As(err, &target)
}
