// Package apperr defines the error taxonomy shared by all backends and the
// content graph store.
package apperr

import "errors"

var (
	// ErrNotFound means the path or id does not resolve to a live node.
	ErrNotFound = errors.New("not found")
	// ErrConflict means the target of a create/move is already occupied,
	// or a checksum precondition failed.
	ErrConflict = errors.New("conflict")
	// ErrUnavailable means the backend could not be reached.
	ErrUnavailable = errors.New("backend unavailable")
	// ErrMalformed is reserved for documents the codec could not even
	// degrade safely. The codec's fallback makes this unreachable today.
	ErrMalformed = errors.New("malformed document")
	// ErrValidation means the input was rejected before touching the backend.
	ErrValidation = errors.New("validation failed")
)
