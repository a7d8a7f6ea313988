// Package errs declares the error kinds shared by the workspace stores and the
// HTTP layer. Callers wrap them with github.com/pkg/errors and test with errors.Is.
package errs

import "github.com/pkg/errors"

var (
	// ErrValidation marks user input of the wrong kind, e.g. a non-image upload.
	ErrValidation = errors.New("validation error")

	// ErrFormat marks a payload that does not parse into the expected shape.
	ErrFormat = errors.New("format error")

	// ErrNotFound marks a lookup of an id that is not present.
	ErrNotFound = errors.New("not found")

	// ErrServer marks a failed call to the upstream deshine service.
	ErrServer = errors.New("server error")

	// ErrPrecondition marks an operation invoked in a state that does not allow it.
	ErrPrecondition = errors.New("precondition failed")

	// ErrIndex marks an out-of-range position in an ordered collection.
	ErrIndex = errors.New("index out of range")

	// ErrInvalidArgument marks a malformed argument.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Is reports whether err is of the given kind.
func Is(err, kind error) bool {
	return errors.Is(err, kind)
}
