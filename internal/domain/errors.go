package domain

import "errors"

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation error")
	ErrConflict   = errors.New("conflict")

	// ErrSequenceConflict marks a lock timeout, deadlock or serialization
	// failure while assigning a daily sequence. The append is safe to retry.
	ErrSequenceConflict = errors.New("sequence conflict")

	// ErrMirrorRejected is returned when the mirror did not confirm every
	// record of a shipped batch.
	ErrMirrorRejected = errors.New("mirror rejected batch")
)
