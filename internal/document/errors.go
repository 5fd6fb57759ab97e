package document

import "errors"

// Domain errors. Handlers map them to HTTP status codes with errors.Is.
var (
	ErrUnauthenticated = errors.New("not authenticated")
	ErrForbidden       = errors.New("not authorized to access document")
	ErrNotFound        = errors.New("document not found")
	ErrConflict        = errors.New("conflict")
	ErrValidation      = errors.New("validation failed")
)
