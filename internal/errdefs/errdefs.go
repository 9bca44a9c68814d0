// Package errdefs holds the error kinds shared by the fitting and application
// packages. Callers wrap them with fmt.Errorf("%w: ...") and match with errors.Is.
package errdefs

import "errors"

var (
	// ErrConfiguration covers invalid or missing parameters, unknown kernel
	// families and dimension mismatches.
	ErrConfiguration = errors.New("configuration error")

	// ErrMissingParameter is returned when a required parameter map key is absent.
	ErrMissingParameter = errors.New("missing parameter")

	// ErrLandmarkFile is returned for unreadable or malformed landmark input.
	ErrLandmarkFile = errors.New("landmark file error")

	// ErrSingularSystem is returned when the kernel matrix cannot be inverted.
	ErrSingularSystem = errors.New("singular kernel system")

	ErrDirectoryNotFound  = errors.New("output directory does not exist")
	ErrEmptyRequest       = errors.New("nothing requested")
	ErrConflictingRequest = errors.New("conflicting request")

	// ErrApplication wraps any failure raised while evaluating a transform.
	ErrApplication = errors.New("application error")
)
