package shopcore

import "errors"

const (
	// INVALID_ARGUMENT_ERROR_CODE represents an error for invalid input arguments.
	INVALID_ARGUMENT_ERROR_CODE = 3
	// NOT_FOUND_ERROR_CODE represents an error for a resource not being found.
	NOT_FOUND_ERROR_CODE = 5
	// ALREADY_EXISTS_ERROR_CODE represents an error for a resource which already exists.
	ALREADY_EXISTS_ERROR_CODE = 6
	// PERMISSION_DENIED_ERROR_CODE represents an error for insufficient permissions.
	PERMISSION_DENIED_ERROR_CODE = 7
	// FAILED_PRECONDITION_ERROR_CODE represents an error for a failed precondition.
	FAILED_PRECONDITION_ERROR_CODE = 9
	// ABORTED_ERROR_CODE represents an error for an operation aborted before execution.
	ABORTED_ERROR_CODE = 10
	// UNIMPLEMENTED_ERROR_CODE represents an error for an unimplemented feature.
	UNIMPLEMENTED_ERROR_CODE = 12
	// INTERNAL_ERROR_CODE represents an internal server error.
	INTERNAL_ERROR_CODE = 13
	// UNAVAILABLE_ERROR_CODE represents a transient error where a retry may succeed.
	UNAVAILABLE_ERROR_CODE = 14
)

type shopError struct {
	message string
	code    int
}

func (e *shopError) Error() string {
	return e.message
}

// NewError returns an error tagged with one of the numeric error codes above.
func NewError(message string, code int) error {
	return &shopError{message: message, code: code}
}

// ErrorCode extracts the numeric code from an error produced by NewError.
// Errors from other sources report INTERNAL_ERROR_CODE.
func ErrorCode(err error) int {
	var se *shopError
	if errors.As(err, &se) {
		return se.code
	}
	return INTERNAL_ERROR_CODE
}
